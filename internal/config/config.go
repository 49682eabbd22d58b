// Package config loads orq settings from defaults, an optional file and
// ORQ_ environment variables.
package config

import (
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"github.com/roach88/orq/internal/qerr"
)

// Config is the top-level orq configuration.
type Config struct {
	Database DatabaseConfig `mapstructure:"database"`
	Query    QueryConfig    `mapstructure:"query"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Log      LogConfig      `mapstructure:"log"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// QueryConfig controls compilation and execution.
type QueryConfig struct {
	PlanCache        PlanCacheConfig `mapstructure:"plan_cache"`
	StrictParameters bool            `mapstructure:"strict_parameters"`
	MaxFetchDepth    int             `mapstructure:"max_fetch_depth"`
	FetchBatchSize   int             `mapstructure:"fetch_batch_size"`
}

// PlanCacheConfig toggles the plan cache.
type PlanCacheConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// CacheConfig selects the second-level cache region.
type CacheConfig struct {
	Region    string `mapstructure:"region"`
	BadgerDir string `mapstructure:"badger_dir"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix ORQ_).
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("database.path", ":memory:")
	v.SetDefault("query.plan_cache.enabled", true)
	v.SetDefault("query.strict_parameters", false)
	v.SetDefault("query.max_fetch_depth", 8)
	v.SetDefault("query.fetch_batch_size", 100)
	v.SetDefault("cache.region", "none")
	v.SetDefault("cache.badger_dir", "")
	v.SetDefault("log.level", "warn")
	v.SetDefault("log.format", "text")

	v.SetEnvPrefix("ORQ")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, qerr.Errorf(qerr.CodeConfigInvalid, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, qerr.Errorf(qerr.CodeConfigInvalid, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, qerr.Errorf(qerr.CodeConfigInvalid, "validating config: %w", errors.Join(errs...))
	}
	return &cfg, nil
}

// Validate checks the configuration, collecting every problem found.
func (c *Config) Validate() []error {
	var errs []error

	if c.Database.Path == "" {
		errs = append(errs, qerr.Errorf(qerr.CodeConfigInvalid, "config: database.path must not be empty"))
	}
	if c.Query.MaxFetchDepth < 0 {
		errs = append(errs, qerr.Errorf(qerr.CodeConfigInvalid,
			"config: query.max_fetch_depth must not be negative, got %d", c.Query.MaxFetchDepth))
	}
	if c.Query.FetchBatchSize <= 0 {
		errs = append(errs, qerr.Errorf(qerr.CodeConfigInvalid,
			"config: query.fetch_batch_size must be greater than 0, got %d", c.Query.FetchBatchSize))
	}

	switch c.Cache.Region {
	case "none", "memory":
	case "badger":
		// An empty directory runs badger in memory.
	default:
		errs = append(errs, qerr.Errorf(qerr.CodeConfigInvalid,
			"config: cache.region must be one of [none, memory, badger], got %q", c.Cache.Region))
	}

	if _, ok := levels[strings.ToLower(c.Log.Level)]; !ok {
		errs = append(errs, qerr.Errorf(qerr.CodeConfigInvalid,
			"config: log.level must be one of [debug, info, warn, error], got %q", c.Log.Level))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, qerr.Errorf(qerr.CodeConfigInvalid,
			"config: log.format must be one of [text, json], got %q", c.Log.Format))
	}
	return errs
}

var levels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// NewLogger builds a logger writing to w with the configured handler and
// level. Unknown levels fall back to warn.
func NewLogger(c LogConfig, w io.Writer) *slog.Logger {
	level, ok := levels[strings.ToLower(c.Level)]
	if !ok {
		level = slog.LevelWarn
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
