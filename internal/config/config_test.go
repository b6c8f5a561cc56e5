package config

import (
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetViper clears all viper state between tests to avoid cross-contamination.
func resetViper() {
	viper.Reset()
}

func TestLoad_Defaults(t *testing.T) {
	resetViper()

	cfg, err := Load()
	require.NoError(t, err)

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"StateDir", cfg.StateDir, ".kiln"},
		{"Workers", cfg.Workers, 1},
		{"LogLevel", cfg.LogLevel, "info"},
		{"LogFormat", cfg.LogFormat, "text"},
		{"Journal", cfg.Journal, filepath.Join(".kiln", "journal.db")},
		{"MetricsFile", cfg.MetricsFile, ""},
		{"WatchDebounce", cfg.WatchDebounce, 200 * time.Millisecond},
		{"Verbose", cfg.Verbose, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	tests := []struct {
		name   string
		envKey string
		envVal string
		field  func(Config) any
		want   any
	}{
		{
			name:   "state_dir",
			envKey: "KILN_STATE_DIR",
			envVal: "/tmp/kiln-state",
			field:  func(c Config) any { return c.StateDir },
			want:   "/tmp/kiln-state",
		},
		{
			name:   "journal follows state_dir",
			envKey: "KILN_STATE_DIR",
			envVal: "/tmp/kiln-state",
			field:  func(c Config) any { return c.Journal },
			want:   filepath.Join("/tmp/kiln-state", "journal.db"),
		},
		{
			name:   "workers",
			envKey: "KILN_WORKERS",
			envVal: "8",
			field:  func(c Config) any { return c.Workers },
			want:   8,
		},
		{
			name:   "log_format",
			envKey: "KILN_LOG_FORMAT",
			envVal: "json",
			field:  func(c Config) any { return c.LogFormat },
			want:   "json",
		},
		{
			name:   "watch_debounce",
			envKey: "KILN_WATCH_DEBOUNCE",
			envVal: "1s",
			field:  func(c Config) any { return c.WatchDebounce },
			want:   time.Second,
		},
		{
			name:   "verbose raises log level",
			envKey: "KILN_VERBOSE",
			envVal: "true",
			field:  func(c Config) any { return c.LogLevel },
			want:   "debug",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper()
			viper.SetEnvPrefix("KILN")
			viper.AutomaticEnv()
			t.Setenv(tt.envKey, tt.envVal)

			cfg, err := Load()
			require.NoError(t, err)
			assert.Equal(t, tt.want, tt.field(cfg))
		})
	}
}

func TestLoad_EmptyJournalDisables(t *testing.T) {
	resetViper()
	viper.Set("journal", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Empty(t, cfg.Journal)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
		msg  string
	}{
		{"zero workers", "workers", 0, "workers must be at least 1"},
		{"bad level", "log_level", "loud", "log_level"},
		{"bad format", "log_format", "xml", "log_format must be text or json"},
		{"empty state dir", "state_dir", "", "state_dir must not be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetViper()
			viper.Set(tt.key, tt.val)

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestLevel(t *testing.T) {
	t.Parallel()
	lvl, err := Config{LogLevel: "WARN"}.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)
}
