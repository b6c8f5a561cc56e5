package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for a kiln invocation.
// Values are populated from .kiln.yaml, KILN_* env vars, and CLI flags.
type Config struct {
	StateDir      string        `mapstructure:"state_dir"`
	Workers       int           `mapstructure:"workers"`
	LogLevel      string        `mapstructure:"log_level"`
	LogFormat     string        `mapstructure:"log_format"`
	Journal       string        `mapstructure:"journal"`
	MetricsFile   string        `mapstructure:"metrics_file"`
	WatchDebounce time.Duration `mapstructure:"watch_debounce"`
	Verbose       bool          `mapstructure:"verbose"`
}

// journalDefault marks an unset journal path so Load can place it inside
// the state directory. An explicit empty string disables the journal.
const journalDefault = "\x00default"

// Load reads configuration from viper, applying built-in defaults for any
// values not set by config file, environment, or flags.
func Load() (Config, error) {
	viper.SetDefault("state_dir", ".kiln")
	viper.SetDefault("workers", 1)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "text")
	viper.SetDefault("journal", journalDefault)
	viper.SetDefault("metrics_file", "")
	viper.SetDefault("watch_debounce", 200*time.Millisecond)
	viper.SetDefault("verbose", false)

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.Journal == journalDefault {
		cfg.Journal = filepath.Join(cfg.StateDir, "journal.db")
	}
	if cfg.Verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no component can work with.
func (c Config) Validate() error {
	if c.StateDir == "" {
		return fmt.Errorf("config: state_dir must not be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("config: workers must be at least 1, got %d", c.Workers)
	}
	if _, err := c.Level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: log_format must be text or json, got %q", c.LogFormat)
	}
	if c.WatchDebounce < 0 {
		return fmt.Errorf("config: watch_debounce must not be negative")
	}
	return nil
}

// Level parses LogLevel.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(c.LogLevel))); err != nil {
		return 0, fmt.Errorf("config: log_level: %w", err)
	}
	return lvl, nil
}
