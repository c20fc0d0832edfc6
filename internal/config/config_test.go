package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.DBPath != ".inkwell/inkwell.db" {
		t.Errorf("db_path = %q", cfg.DBPath)
	}
	if cfg.Remote.BaseURL != "http://localhost:8600" {
		t.Errorf("base_url = %q", cfg.Remote.BaseURL)
	}
	if cfg.Sync.MaxAttempts != 5 {
		t.Errorf("max_attempts = %d, want 5", cfg.Sync.MaxAttempts)
	}
	if cfg.Sync.ProbeInterval != 15*time.Second {
		t.Errorf("probe_interval = %v, want 15s", cfg.Sync.ProbeInterval)
	}
	if cfg.Daemon.DrainInterval != time.Minute {
		t.Errorf("drain_interval = %v, want 1m", cfg.Daemon.DrainInterval)
	}
	if cfg.Dashboard.Port != 8617 {
		t.Errorf("dashboard.port = %d, want 8617", cfg.Dashboard.Port)
	}
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inkwell.yaml")
	content := `
db_path: /tmp/custom.db
remote:
  base_url: https://sync.example.com
  token: tok-123
  timeout: 10s
sync:
  max_attempts: 7
daemon:
  watch_dir: /tmp/drop
dashboard:
  port: 9000
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.DBPath != "/tmp/custom.db" {
		t.Errorf("db_path = %q", cfg.DBPath)
	}
	if cfg.Remote.BaseURL != "https://sync.example.com" {
		t.Errorf("base_url = %q", cfg.Remote.BaseURL)
	}
	if cfg.Remote.Token != "tok-123" {
		t.Errorf("token = %q", cfg.Remote.Token)
	}
	if cfg.Remote.Timeout != 10*time.Second {
		t.Errorf("timeout = %v, want 10s", cfg.Remote.Timeout)
	}
	if cfg.Sync.MaxAttempts != 7 {
		t.Errorf("max_attempts = %d, want 7", cfg.Sync.MaxAttempts)
	}
	if cfg.Daemon.WatchDir != "/tmp/drop" {
		t.Errorf("watch_dir = %q", cfg.Daemon.WatchDir)
	}
	if cfg.Dashboard.Port != 9000 {
		t.Errorf("dashboard.port = %d, want 9000", cfg.Dashboard.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("INKWELL_REMOTE_TOKEN", "env-token")
	t.Setenv("INKWELL_SYNC_MAX_ATTEMPTS", "9")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Remote.Token != "env-token" {
		t.Errorf("token = %q, want env-token", cfg.Remote.Token)
	}
	if cfg.Sync.MaxAttempts != 9 {
		t.Errorf("max_attempts = %d, want 9", cfg.Sync.MaxAttempts)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty db_path", func(c *Config) { c.DBPath = "" }},
		{"empty base_url", func(c *Config) { c.Remote.BaseURL = "" }},
		{"zero max_attempts", func(c *Config) { c.Sync.MaxAttempts = 0 }},
		{"bad port", func(c *Config) { c.Dashboard.Port = 70000 }},
	}
	for _, tc := range cases {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		tc.mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}
