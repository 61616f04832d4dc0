package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"igma/internal/relevance"
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Rank learning content for a profile or an indicator selection",
	Long:  "Reads a recommendation request (candidates plus a profile or a list of indicator codes) and writes the ranked, explained results as JSON.",
	RunE:  runRecommend,
}

var (
	recommendRequest string
	recommendOutput  string
	recommendLimit   int
)

func init() {
	recommendCmd.Flags().StringVarP(&recommendRequest, "request", "r", "", "Path to recommendation request JSON file (required)")
	recommendCmd.Flags().StringVarP(&recommendOutput, "out", "o", "", "Path to output JSON file (defaults to stdout)")
	recommendCmd.Flags().IntVarP(&recommendLimit, "limit", "n", 0, "Maximum results, overrides the request limit")

	if err := recommendCmd.MarkFlagRequired("request"); err != nil {
		panic(fmt.Sprintf("failed to mark request flag as required: %v", err))
	}

	rootCmd.AddCommand(recommendCmd)
}

func runRecommend(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(recommendRequest)
	if err != nil {
		return fmt.Errorf("failed to read request file %s: %w", recommendRequest, err)
	}
	var req relevance.Request
	if err := json.Unmarshal(content, &req); err != nil {
		return fmt.Errorf("failed to unmarshal request JSON: %w", err)
	}
	if recommendLimit > 0 {
		req.Limit = recommendLimit
	}
	resp := relevance.NewScorer(cfg.Relevance).Recommend(req)
	return writeOutput(cmd, recommendOutput, resp)
}
