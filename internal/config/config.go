// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

// Package config loads the daemon configuration from layered sources with
// clear precedence: environment variables over an optional YAML file over
// built-in defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order. The
// first file found wins.
var DefaultConfigPaths = []string{
	"daykeep.yaml",
	"daykeep.yml",
	"/etc/daykeep/config.yaml",
	"/etc/daykeep/config.yml",
}

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "DAYKEEP_CONFIG"

// envPrefix namespaces every recognized environment variable:
// DAYKEEP_SERVER_PORT -> server.port, DAYKEEP_REMOTE_TOKEN -> remote.token.
const envPrefix = "DAYKEEP_"

// Config is the full daemon configuration tree.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Store   StoreConfig   `koanf:"store"`
	Remote  RemoteConfig  `koanf:"remote"`
	Sync    SyncConfig    `koanf:"sync"`
	Logging LoggingConfig `koanf:"logging"`
}

// ServerConfig configures the local HTTP surface.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
}

// StoreConfig configures the durable record store.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// RemoteConfig configures the calendar service client.
type RemoteConfig struct {
	BaseURL           string        `koanf:"base_url"`
	Token             string        `koanf:"token"`
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	BreakerEnabled    bool          `koanf:"breaker_enabled"`
}

// SyncConfig configures the dispatcher's retry and scheduling behavior.
type SyncConfig struct {
	BaseDelay         time.Duration `koanf:"base_delay"`
	MaxDelay          time.Duration `koanf:"max_delay"`
	MaxAttempts       int           `koanf:"max_attempts"`
	Interval          time.Duration `koanf:"interval"`
	ReconcileInterval time.Duration `koanf:"reconcile_interval"`
	CalendarIDs       []string      `koanf:"calendar_ids"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns the built-in defaults, applied before file and env
// layers.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            7353,
			Timeout:         30 * time.Second,
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   100,
			RateLimitWindow: time.Minute,
		},
		Store: StoreConfig{
			Path: "/data/daykeep",
		},
		Remote: RemoteConfig{
			BaseURL:           "",
			Token:             "",
			Timeout:           30 * time.Second,
			RequestsPerSecond: 5,
			BreakerEnabled:    true,
		},
		Sync: SyncConfig{
			BaseDelay:         2 * time.Second,
			MaxDelay:          5 * time.Minute,
			MaxAttempts:       8,
			Interval:          30 * time.Second,
			ReconcileInterval: 5 * time.Minute,
			CalendarIDs:       []string{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// DAYKEEP_-prefixed environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path must not be empty")
	}
	if c.Sync.MaxAttempts < 1 {
		return fmt.Errorf("sync.max_attempts must be at least 1")
	}
	if c.Sync.BaseDelay <= 0 {
		return fmt.Errorf("sync.base_delay must be positive")
	}
	if c.Sync.MaxDelay < c.Sync.BaseDelay {
		return fmt.Errorf("sync.max_delay must be at least sync.base_delay")
	}
	if c.Remote.RequestsPerSecond <= 0 {
		return fmt.Errorf("remote.requests_per_second must be positive")
	}
	if len(c.Sync.CalendarIDs) > 0 && c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url required when sync.calendar_ids is set")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q must be json or console", c.Logging.Format)
	}
	return nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps DAYKEEP_SECTION_KEY_NAME to section.key_name. Only the
// first underscore separates the section; the rest of the key keeps its
// underscores.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
	parts := strings.SplitN(key, "_", 2)
	if len(parts) != 2 {
		return key
	}
	return parts[0] + "." + parts[1]
}

// sliceConfigPaths lists paths parsed as comma-separated slices when they
// arrive as strings from the environment.
var sliceConfigPaths = []string{
	"server.cors_origins",
	"sync.calendar_ids",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		strVal, ok := val.(string)
		if !ok {
			continue
		}
		if strVal == "" {
			if err := k.Set(path, []string{}); err != nil {
				return fmt.Errorf("setting %s: %w", path, err)
			}
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("setting %s: %w", path, err)
		}
	}
	return nil
}
