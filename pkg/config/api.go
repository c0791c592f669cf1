package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethpandaops/perception/pkg/stats"
)

// APIConfig contains all API server configuration.
type APIConfig struct {
	Server   APIServerConfig   `yaml:"server" mapstructure:"server"`
	Auth     APIAuthConfig     `yaml:"auth" mapstructure:"auth"`
	Database APIDatabaseConfig `yaml:"database" mapstructure:"database"`
	Stats    APIStatsConfig    `yaml:"stats,omitempty" mapstructure:"stats"`
	Sessions APISessionsConfig `yaml:"sessions,omitempty" mapstructure:"sessions"`
}

// APIServerConfig contains HTTP server settings.
type APIServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	Auth          RateLimitTier `yaml:"auth,omitempty" mapstructure:"auth"`
	Public        RateLimitTier `yaml:"public,omitempty" mapstructure:"public"`
	Authenticated RateLimitTier `yaml:"authenticated,omitempty" mapstructure:"authenticated"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// APIAuthConfig contains authentication settings.
type APIAuthConfig struct {
	SessionTTL    string          `yaml:"session_ttl" mapstructure:"session_ttl"`
	AnonymousRead bool            `yaml:"anonymous_read" mapstructure:"anonymous_read"`
	Basic         BasicAuthConfig `yaml:"basic,omitempty" mapstructure:"basic"`
}

// BasicAuthConfig configures username/password authentication.
type BasicAuthConfig struct {
	Enabled bool            `yaml:"enabled" mapstructure:"enabled"`
	Users   []BasicAuthUser `yaml:"users,omitempty" mapstructure:"users"`
}

// BasicAuthUser defines a basic auth user from config.
type BasicAuthUser struct {
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Role     string `yaml:"role" mapstructure:"role"`
}

// APIDatabaseConfig contains database connection settings.
type APIDatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// sqliteBusyTimeout lets the auth and document stores share one file.
const sqliteBusyTimeout = "_pragma=busy_timeout(5000)"

// DSN returns the path with a busy timeout applied. In-memory databases
// and paths that already carry parameters are returned unchanged.
func (c SQLiteDatabaseConfig) DSN() string {
	if c.Path == ":memory:" || strings.Contains(c.Path, "?") {
		return c.Path
	}

	return c.Path + "?" + sqliteBusyTimeout
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// APIStatsConfig tunes the histogram shown next to run statistics.
type APIStatsConfig struct {
	HistogramBins     int     `yaml:"histogram_bins,omitempty" mapstructure:"histogram_bins"`
	HistogramHeadroom float64 `yaml:"histogram_headroom,omitempty" mapstructure:"histogram_headroom"`
}

// Histogram converts the settings into a stats.HistogramConfig.
func (c APIStatsConfig) Histogram() stats.HistogramConfig {
	return stats.HistogramConfig{
		Bins:     c.HistogramBins,
		Headroom: c.HistogramHeadroom,
	}
}

// APISessionsConfig configures measurement sessions.
type APISessionsConfig struct {
	DefaultMode string `yaml:"default_mode,omitempty" mapstructure:"default_mode"`
	IdleTTL     string `yaml:"idle_ttl,omitempty" mapstructure:"idle_ttl"`
}

// IdleTimeout returns the parsed idle TTL, falling back to the default
// when unset or invalid.
func (c APISessionsConfig) IdleTimeout() time.Duration {
	if d, err := time.ParseDuration(c.IdleTTL); err == nil && d > 0 {
		return d
	}

	d, _ := time.ParseDuration(DefaultSessionIdleTTL)

	return d
}

func (c *APIConfig) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Auth.SessionTTL == "" {
		c.Auth.SessionTTL = DefaultSessionTTL
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}

	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = DefaultSQLitePath
	}

	if c.Database.Postgres.SSLMode == "" {
		c.Database.Postgres.SSLMode = "disable"
	}

	if c.Stats.HistogramBins == 0 {
		c.Stats.HistogramBins = stats.DefaultBins
	}

	if c.Stats.HistogramHeadroom == 0 {
		c.Stats.HistogramHeadroom = stats.DefaultHeadroom
	}

	if c.Sessions.DefaultMode == "" {
		c.Sessions.DefaultMode = DefaultSessionMode
	}

	if c.Sessions.IdleTTL == "" {
		c.Sessions.IdleTTL = DefaultSessionIdleTTL
	}
}

// Validate checks the API configuration for errors.
func (c *APIConfig) Validate() error {
	if _, err := time.ParseDuration(c.Auth.SessionTTL); err != nil {
		return fmt.Errorf("invalid auth.session_ttl %q: %w", c.Auth.SessionTTL, err)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Stats.HistogramBins < 1 {
		return fmt.Errorf("stats.histogram_bins must be positive")
	}

	if c.Stats.HistogramHeadroom < 1 {
		return fmt.Errorf("stats.histogram_headroom must be at least 1")
	}

	switch c.Sessions.DefaultMode {
	case "user", "content":
	default:
		return fmt.Errorf("invalid sessions.default_mode %q", c.Sessions.DefaultMode)
	}

	if d, err := time.ParseDuration(c.Sessions.IdleTTL); err != nil || d <= 0 {
		return fmt.Errorf("invalid sessions.idle_ttl %q: must be a positive duration", c.Sessions.IdleTTL)
	}

	if c.Auth.Basic.Enabled {
		seen := make(map[string]struct{}, len(c.Auth.Basic.Users))

		for i, u := range c.Auth.Basic.Users {
			if u.Username == "" || u.Password == "" {
				return fmt.Errorf("auth.basic.users[%d]: username and password are required", i)
			}

			if _, ok := seen[u.Username]; ok {
				return fmt.Errorf("auth.basic.users[%d]: duplicate username %q", i, u.Username)
			}

			seen[u.Username] = struct{}{}

			if u.Role != "admin" && u.Role != "user" {
				return fmt.Errorf("auth.basic.users[%d]: role must be admin or user", i)
			}
		}
	}

	if c.Server.RateLimit.Enabled {
		for name, tier := range map[string]RateLimitTier{
			"auth":          c.Server.RateLimit.Auth,
			"public":        c.Server.RateLimit.Public,
			"authenticated": c.Server.RateLimit.Authenticated,
		} {
			if tier.RequestsPerMinute <= 0 {
				return fmt.Errorf("server.rate_limit.%s.requests_per_minute must be positive", name)
			}
		}
	}

	return nil
}
