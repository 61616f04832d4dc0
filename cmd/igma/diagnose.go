package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"igma/internal/alerts"
	"igma/internal/engine"
	"igma/internal/ingest"
	"igma/internal/logging"
	"igma/internal/metrics"
	"igma/internal/storage"
)

var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Score cycle submissions from a JSON file",
	Long:  "Reads one cycle submission or an array of them, computes the diagnostics and writes them as JSON. Cycles of the same subject in one file are compared in sequence order.",
	RunE:  runDiagnose,
}

var (
	diagnoseInput  string
	diagnoseOutput string
)

func init() {
	diagnoseCmd.Flags().StringVarP(&diagnoseInput, "in", "i", "", "Path to input cycle JSON file (required)")
	diagnoseCmd.Flags().StringVarP(&diagnoseOutput, "out", "o", "", "Path to output JSON file (defaults to stdout)")

	if err := diagnoseCmd.MarkFlagRequired("in"); err != nil {
		panic(fmt.Sprintf("failed to mark in flag as required: %v", err))
	}

	rootCmd.AddCommand(diagnoseCmd)
}

func runDiagnose(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(diagnoseInput)
	if err != nil {
		return fmt.Errorf("failed to read input file %s: %w", diagnoseInput, err)
	}
	inputs, err := ingest.DecodeCycles(content)
	if err != nil {
		return fmt.Errorf("failed to decode cycles: %w", err)
	}

	ctx := context.Background()
	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	if store != nil {
		if err := store.Init(ctx); err != nil {
			_ = store.Close()
			return fmt.Errorf("failed to init storage: %w", err)
		}
		defer store.Close()
	}

	logger := logging.New(cmd.ErrOrStderr(), cfg.LogLevel)
	eng := engine.NewEngine(cfg, logger, metrics.NewStore(len(inputs)+1), alerts.NewStore(cfg.Alerts.StoreLimit), store, nil)

	batch := strings.HasPrefix(strings.TrimSpace(string(content)), "[")
	var payload any
	failed := 0
	if batch {
		results, err := eng.DiagnoseBatch(ctx, inputs)
		if err != nil {
			return fmt.Errorf("failed to diagnose cycles: %w", err)
		}
		for _, r := range results {
			if r.Err != nil {
				failed++
			}
		}
		payload = results
	} else {
		d, err := eng.Diagnose(ctx, inputs[0])
		if err != nil {
			return fmt.Errorf("failed to diagnose cycle: %w", err)
		}
		payload = d
	}

	if err := writeOutput(cmd, diagnoseOutput, payload); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d cycles could not be diagnosed", failed, len(inputs))
	}
	return nil
}

func writeOutput(cmd *cobra.Command, path string, payload any) error {
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	if path == "" {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write output file %s: %w", path, err)
	}
	return nil
}
