// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 7353 {
		t.Errorf("Server.Port = %d, want 7353", cfg.Server.Port)
	}
	if cfg.Sync.BaseDelay != 2*time.Second {
		t.Errorf("Sync.BaseDelay = %v, want 2s", cfg.Sync.BaseDelay)
	}
	if cfg.Sync.MaxAttempts != 8 {
		t.Errorf("Sync.MaxAttempts = %d, want 8", cfg.Sync.MaxAttempts)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daykeep.yaml")
	yaml := `
server:
  port: 9000
sync:
  max_attempts: 3
  calendar_ids:
    - work
    - personal
remote:
  base_url: https://calendar.example.com/v1
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Sync.MaxAttempts != 3 {
		t.Errorf("Sync.MaxAttempts = %d, want 3", cfg.Sync.MaxAttempts)
	}
	if len(cfg.Sync.CalendarIDs) != 2 || cfg.Sync.CalendarIDs[0] != "work" {
		t.Errorf("Sync.CalendarIDs = %v", cfg.Sync.CalendarIDs)
	}
	// Unset values keep their defaults.
	if cfg.Sync.BaseDelay != 2*time.Second {
		t.Errorf("Sync.BaseDelay = %v, want default 2s", cfg.Sync.BaseDelay)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daykeep.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9000\n"), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("DAYKEEP_SERVER_PORT", "9001")
	t.Setenv("DAYKEEP_REMOTE_BASE_URL", "https://calendar.example.com/v1")
	t.Setenv("DAYKEEP_SYNC_CALENDAR_IDS", "work, personal")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Errorf("Server.Port = %d, env must win over file", cfg.Server.Port)
	}
	if cfg.Remote.BaseURL != "https://calendar.example.com/v1" {
		t.Errorf("Remote.BaseURL = %q", cfg.Remote.BaseURL)
	}
	if len(cfg.Sync.CalendarIDs) != 2 || cfg.Sync.CalendarIDs[1] != "personal" {
		t.Errorf("Sync.CalendarIDs = %v, comma list not split", cfg.Sync.CalendarIDs)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults pass", func(*Config) {}, false},
		{"port out of range", func(c *Config) { c.Server.Port = 0 }, true},
		{"empty store path", func(c *Config) { c.Store.Path = "" }, true},
		{"zero max attempts", func(c *Config) { c.Sync.MaxAttempts = 0 }, true},
		{"negative base delay", func(c *Config) { c.Sync.BaseDelay = -time.Second }, true},
		{"max delay below base", func(c *Config) { c.Sync.MaxDelay = time.Second; c.Sync.BaseDelay = time.Minute }, true},
		{"zero rate limit", func(c *Config) { c.Remote.RequestsPerSecond = 0 }, true},
		{"calendars without base url", func(c *Config) { c.Sync.CalendarIDs = []string{"work"} }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"console log format", func(c *Config) { c.Logging.Format = "console" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"DAYKEEP_SERVER_PORT", "server.port"},
		{"DAYKEEP_REMOTE_BASE_URL", "remote.base_url"},
		{"DAYKEEP_SYNC_RECONCILE_INTERVAL", "sync.reconcile_interval"},
		{"DAYKEEP_LOGGING_LEVEL", "logging.level"},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
