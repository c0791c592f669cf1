package main

import (
	"fmt"
	"os"

	"github.com/ethpandaops/perception/pkg/legacy"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <dump.json>",
	Short: "Import tests and runs from a legacy document dump",
	Long: `Import a JSON dump of the legacy document database (a plain array,
{"docs": [...]} or an _all_docs {"rows": [...]} response). Document ids
are kept, so importing the same dump twice is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func init() {
	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadAPIConfig(cmd)
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening dump: %w", err)
	}
	defer f.Close()

	dump, err := legacy.Parse(f)
	if err != nil {
		return fmt.Errorf("parsing dump: %w", err)
	}

	ctx := cmd.Context()

	docs, stop, err := openDocStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer stop()

	res, err := legacy.NewImporter(log, docs).Import(ctx, dump)
	if err != nil {
		return fmt.Errorf("importing dump: %w", err)
	}

	log.WithFields(logrus.Fields{
		"tests_created":  res.TestsCreated,
		"tests_existing": res.TestsExisting,
		"runs_created":   res.RunsCreated,
		"runs_existing":  res.RunsExisting,
		"runs_rejected":  res.RunsRejected,
		"skipped":        dump.Skipped,
	}).Info("Import completed")

	return nil
}
