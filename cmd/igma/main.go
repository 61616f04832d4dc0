// Package main is the igma command: the diagnostic service and offline
// scoring tools.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "igma",
	Short:   "IGMA diagnostic scoring engine",
	Long:    "igma scores tourism governance diagnostics across the RA, OE and AO pillars, applies the governance rules, tracks evolution between cycles and ranks learning content.",
	Version: version,
}

var configPath string

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML or JSON config (defaults to $IGMA_CONFIG, then built-in defaults)")
}

func main() {
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
