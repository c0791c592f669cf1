package main

import (
	"os"

	"github.com/ethpandaops/perception/pkg/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "<redacted>"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the resolved configuration as YAML",
	Long: `Print the configuration after merging every --config file, applying
PERCEPTION_* environment overrides and defaults. Secrets are redacted.`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	redact(cfg)

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)

	if err := enc.Encode(cfg); err != nil {
		return err
	}

	return enc.Close()
}

func redact(cfg *config.Config) {
	if cfg.API != nil {
		for i := range cfg.API.Auth.Basic.Users {
			cfg.API.Auth.Basic.Users[i].Password = redacted
		}

		if cfg.API.Database.Postgres.Password != "" {
			cfg.API.Database.Postgres.Password = redacted
		}
	}

	if cfg.Export.S3 != nil && cfg.Export.S3.SecretAccessKey != "" {
		cfg.Export.S3.SecretAccessKey = redacted
	}
}
