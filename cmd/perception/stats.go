package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ethpandaops/perception/pkg/report"
	"github.com/ethpandaops/perception/pkg/runindex"
	"github.com/spf13/cobra"
)

var statsPlatform string

var statsCmd = &cobra.Command{
	Use:   "stats <test-id>",
	Short: "Print the statistics report of a test",
	Args:  cobra.ExactArgs(1),
	RunE:  runStats,
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().StringVar(&statsPlatform, "platform", "all",
		"platform selection (all, android, etc, ios, unknown)")
}

func runStats(cmd *cobra.Command, args []string) error {
	pr, err := runindex.ParsePlatformRange(statsPlatform)
	if err != nil {
		return err
	}

	cfg, err := loadAPIConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	docs, stop, err := openDocStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer stop()

	test, err := docs.GetTest(ctx, args[0])
	if err != nil {
		return fmt.Errorf("loading test: %w", err)
	}

	builder := report.NewBuilder(log, runindex.NewIndexer(log, docs), cfg.API.Stats.Histogram())

	rep, err := builder.Build(ctx, *test, pr)
	if err != nil {
		return fmt.Errorf("building report: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(rep)
}
