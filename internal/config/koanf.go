// VeloSync - Cycling Activity Sync and Metrics for Home Automation
// Copyright 2026 VeloSync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/velohome/velosync

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

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/velosync/config.yaml",
	"/etc/velosync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all built-in defaults. Defaults are
// applied first, then overridden by config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Geovelo: GeoveloConfig{
			BaseURL:        "https://backend.geovelo.fr",
			Username:       "",
			Password:       "",
			UserID:         0,
			PageSize:       50,
			Timeout:        120 * time.Second,
			BreakerEnabled: true,
		},
		Sync: SyncConfig{
			Interval:      time.Hour,
			Lookback:      7 * 24 * time.Hour,
			BootstrapDays: 3600, // ~10 years of history on first run
			FastBootstrap: false,
			ForceFailure:  false,
		},
		Cache: CacheConfig{
			Path:       "/data/velosync",
			GCInterval: 10 * time.Minute,
		},
		Events: EventsConfig{
			Enabled: true,
			Backend: "channel",
			NATS: NATSConfig{
				URL:            "nats://127.0.0.1:4222",
				EmbeddedServer: false,
				StoreDir:       "/data/nats/jetstream",
			},
		},
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8942,
			Timeout:           30 * time.Second,
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: built-in sensible defaults
//  2. Config file: optional YAML file (if it exists)
//  3. Environment variables: override any setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the first file found, or empty string if none exists.
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

// envTransformFunc maps environment variable names to koanf config paths.
// Unknown variables return empty string and are skipped, which keeps random
// environment noise out of the configuration.
//
// The GEOVELO_FAST and GEOVELO_APIFAIL names are carried over from earlier
// deployments of this integration and keep existing setups working.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Geovelo account mappings
		"geovelo_base_url":           "geovelo.base_url",
		"geovelo_username":           "geovelo.username",
		"geovelo_password":           "geovelo.password",
		"geovelo_encrypted_password": "geovelo.encrypted_password",
		"geovelo_secret":             "geovelo.secret",
		"geovelo_user_id":            "geovelo.user_id",
		"geovelo_page_size":          "geovelo.page_size",
		"geovelo_timeout":            "geovelo.timeout",
		"geovelo_breaker_enabled":    "geovelo.breaker_enabled",

		// Sync mappings
		"sync_interval":       "sync.interval",
		"sync_lookback":       "sync.lookback",
		"sync_bootstrap_days": "sync.bootstrap_days",
		"sync_fast_bootstrap": "sync.fast_bootstrap",
		"sync_force_failure":  "sync.force_failure",

		// Legacy override names
		"geovelo_fast":    "sync.fast_bootstrap",
		"geovelo_apifail": "sync.force_failure",

		// Cache mappings
		"cache_path":        "cache.path",
		"cache_gc_interval": "cache.gc_interval",

		// Events mappings
		"events_enabled":  "events.enabled",
		"events_backend":  "events.backend",
		"nats_url":        "events.nats.url",
		"nats_embedded":   "events.nats.embedded_server",
		"nats_store_dir":  "events.nats.store_dir",

		// Server mappings
		"http_host":        "server.host",
		"http_port":        "server.port",
		"http_timeout":     "server.timeout",
		"rate_limit_requests": "server.rate_limit_requests",
		"rate_limit_window":   "server.rate_limit_window",

		// Logging mappings
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
