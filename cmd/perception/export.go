package main

import (
	"fmt"

	"github.com/ethpandaops/perception/pkg/report"
	"github.com/ethpandaops/perception/pkg/runindex"
	"github.com/ethpandaops/perception/pkg/upload"
	"github.com/spf13/cobra"
)

var exportConcurrency int

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export test reports to local or S3 storage",
	Long: `Build the statistics report of every test and write them, together
with an index.json summary, to each enabled export target.`,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().IntVar(&exportConcurrency, "concurrency", report.DefaultConcurrency,
		"number of reports built in parallel")
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadAPIConfig(cmd)
	if err != nil {
		return err
	}

	if err := cfg.ValidateExport(); err != nil {
		return fmt.Errorf("validating export config: %w", err)
	}

	ctx := cmd.Context()

	uploaders, err := upload.FromConfig(log, &cfg.Export)
	if err != nil {
		return fmt.Errorf("creating uploaders: %w", err)
	}

	docs, stop, err := openDocStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer stop()

	builder := report.NewBuilder(log, runindex.NewIndexer(log, docs), cfg.API.Stats.Histogram())
	exporter := report.NewExporter(log, docs, builder, uploaders, exportConcurrency)

	index, err := exporter.Export(ctx)
	if err != nil {
		return fmt.Errorf("exporting reports: %w", err)
	}

	log.WithField("tests", len(index.Tests)).Info("Export completed successfully")

	return nil
}
