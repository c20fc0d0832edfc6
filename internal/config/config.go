// Package config loads Inkwell configuration from file, environment, and
// defaults, in that order of increasing precedence via viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full configuration for the data layer and its daemon.
type Config struct {
	// DBPath is the local store database file.
	DBPath string `mapstructure:"db_path"`

	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Daemon    DaemonConfig    `mapstructure:"daemon"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
}

// RemoteConfig describes the sync backend.
type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Token   string        `mapstructure:"token"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SyncConfig tunes the engine and connectivity monitor.
type SyncConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
}

// DaemonConfig tunes the long-running daemon mode.
type DaemonConfig struct {
	// WatchDir is the drop directory scanned for snapshot files to
	// auto-import. Empty disables watching.
	WatchDir string `mapstructure:"watch_dir"`

	// DrainInterval is how often the daemon nudges the engine even
	// without a connectivity transition.
	DrainInterval time.Duration `mapstructure:"drain_interval"`

	// LogFile is the rotating log destination. Empty logs to stderr.
	LogFile string `mapstructure:"log_file"`
}

// DashboardConfig tunes the local status dashboard.
type DashboardConfig struct {
	Port int `mapstructure:"port"`
}

// Load reads configuration from the given file (optional), INKWELL_*
// environment variables, and built-in defaults.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("db_path", ".inkwell/inkwell.db")
	v.SetDefault("remote.base_url", "http://localhost:8600")
	v.SetDefault("remote.token", "")
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("sync.max_attempts", 5)
	v.SetDefault("sync.probe_interval", 15*time.Second)
	v.SetDefault("daemon.watch_dir", "")
	v.SetDefault("daemon.drain_interval", time.Minute)
	v.SetDefault("daemon.log_file", "")
	v.SetDefault("dashboard.port", 8617)

	v.SetEnvPrefix("INKWELL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks for values the data layer cannot run with.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db_path is required")
	}
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url is required")
	}
	if c.Sync.MaxAttempts <= 0 {
		return fmt.Errorf("sync.max_attempts must be positive (got %d)", c.Sync.MaxAttempts)
	}
	if c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535 {
		return fmt.Errorf("dashboard.port must be in 1-65535 (got %d)", c.Dashboard.Port)
	}
	return nil
}
