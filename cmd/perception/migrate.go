package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create database tables and backfill test sources",
	Long: `Run schema migrations and persist the source field of tests that
only carry the legacy url field.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
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

	n, err := docs.MigrateLegacyTests(ctx)
	if err != nil {
		return fmt.Errorf("migrating tests: %w", err)
	}

	log.WithField("tests", n).Info("Migration completed")

	return nil
}
