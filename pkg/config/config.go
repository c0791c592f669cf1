package config

import (
	"bytes"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultListen is the default API listen address.
	DefaultListen = ":8080"

	// DefaultSessionTTL is the default login session lifetime.
	DefaultSessionTTL = "24h"

	// DefaultSQLitePath is the default SQLite database file.
	DefaultSQLitePath = "perception.db"

	// DefaultSessionMode is the default measurement mode of new sessions.
	DefaultSessionMode = "user"

	// DefaultSessionIdleTTL is how long an untouched measurement session
	// is kept before it is closed.
	DefaultSessionIdleTTL = "1h"

	// EnvPrefix prefixes every environment variable override.
	EnvPrefix = "PERCEPTION"
)

// Config is the root configuration for perception.
type Config struct {
	Global GlobalConfig `yaml:"global" mapstructure:"global"`
	API    *APIConfig   `yaml:"api,omitempty" mapstructure:"api"`
	Export ExportConfig `yaml:"export,omitempty" mapstructure:"export"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// Load reads one or more YAML files, merging them in order, then applies
// PERCEPTION_* environment overrides (nested keys joined by "_", e.g.
// PERCEPTION_API_SERVER_LISTEN) and defaults.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	for _, path := range paths {
		data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}

		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := bindEnvs(v, reflect.TypeOf(Config{}), ""); err != nil {
		return nil, fmt.Errorf("binding environment overrides: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// bindEnvs registers every leaf key of t with viper so environment
// variables apply even when the key is absent from the config files.
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) error {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)

		name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			continue
		}

		key := name
		if prefix != "" {
			key = prefix + "." + name
		}

		ft := field.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}

		if ft.Kind() == reflect.Struct && ft != reflect.TypeOf(time.Time{}) {
			if err := bindEnvs(v, ft, key); err != nil {
				return err
			}

			continue
		}

		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("binding %s: %w", key, err)
		}
	}

	return nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.API != nil {
		c.API.applyDefaults()
	}

	if c.Export.S3 != nil && c.Export.S3.Region == "" {
		c.Export.S3.Region = "us-east-1"
	}
}

// ValidateAPI checks the API section for errors.
func (c *Config) ValidateAPI() error {
	if c.API == nil {
		return fmt.Errorf("api section is required")
	}

	return c.API.Validate()
}

// ValidateExport checks that at least one export target is usable.
func (c *Config) ValidateExport() error {
	local := c.Export.Local != nil && c.Export.Local.Enabled
	s3 := c.Export.S3 != nil && c.Export.S3.Enabled

	if !local && !s3 {
		return fmt.Errorf("no export target enabled (export.local or export.s3)")
	}

	if local && c.Export.Local.Dir == "" {
		return fmt.Errorf("export.local.dir is required")
	}

	if s3 && c.Export.S3.Bucket == "" {
		return fmt.Errorf("export.s3.bucket is required")
	}

	return nil
}
