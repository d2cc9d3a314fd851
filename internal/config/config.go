// VeloSync - Cycling Activity Sync and Metrics for Home Automation
// Copyright 2026 VeloSync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/velohome/velosync

// Package config provides layered configuration management for VeloSync.
// Configuration is assembled from built-in defaults, an optional YAML file,
// and environment variables, in that order of precedence (env wins).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the VeloSync server.
type Config struct {
	Geovelo GeoveloConfig `koanf:"geovelo"`
	Sync    SyncConfig    `koanf:"sync"`
	Cache   CacheConfig   `koanf:"cache"`
	Events  EventsConfig  `koanf:"events"`
	Server  ServerConfig  `koanf:"server"`
	Logging LoggingConfig `koanf:"logging"`
}

// GeoveloConfig holds credentials and connection settings for the Geovelo API.
type GeoveloConfig struct {
	// BaseURL is the Geovelo backend endpoint.
	BaseURL string `koanf:"base_url"`

	// Username and Password are the account credentials. Password may instead
	// be supplied as EncryptedPassword (AES-256-GCM, see encryption.go) when a
	// Secret is configured.
	Username          string `koanf:"username"`
	Password          string `koanf:"password"`
	EncryptedPassword string `koanf:"encrypted_password"`

	// Secret is the key material used to decrypt EncryptedPassword.
	Secret string `koanf:"secret"`

	// UserID is the numeric Geovelo account identifier.
	UserID int64 `koanf:"user_id"`

	// PageSize is the traces page size requested from the API.
	PageSize int `koanf:"page_size"`

	// Timeout bounds each HTTP request. The Geovelo backend is slow on wide
	// date ranges, so the default is deliberately generous.
	Timeout time.Duration `koanf:"timeout"`

	// BreakerEnabled wraps the API client in a circuit breaker.
	BreakerEnabled bool `koanf:"breaker_enabled"`
}

// SyncConfig controls the periodic synchronization cycle.
type SyncConfig struct {
	// Interval between sync cycles.
	Interval time.Duration `koanf:"interval"`

	// Lookback is subtracted from the newest cached end time to absorb
	// upstream edits of recent trips.
	Lookback time.Duration `koanf:"lookback"`

	// BootstrapDays is the historical window fetched when no cache exists.
	BootstrapDays int `koanf:"bootstrap_days"`

	// FastBootstrap shrinks the bootstrap window to 30 days. Intended for
	// tests and cheap refreshes of fresh installs.
	FastBootstrap bool `koanf:"fast_bootstrap"`

	// ForceFailure makes every cycle fail before any network call. Used to
	// exercise stale-data behavior in consumers.
	ForceFailure bool `koanf:"force_failure"`
}

// CacheConfig controls the durable trace snapshot store.
type CacheConfig struct {
	// Path is the BadgerDB directory.
	Path string `koanf:"path"`

	// GCInterval is how often the Badger value log garbage collector runs.
	GCInterval time.Duration `koanf:"gc_interval"`
}

// EventsConfig controls sync-event publishing.
type EventsConfig struct {
	Enabled bool `koanf:"enabled"`

	// Backend selects the publisher: "channel" (in-process) or "nats".
	Backend string `koanf:"backend"`

	NATS NATSConfig `koanf:"nats"`
}

// NATSConfig configures the optional NATS JetStream backend.
type NATSConfig struct {
	URL            string `koanf:"url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
}

// ServerConfig configures the HTTP API server.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`

	// RateLimitRequests caps requests per RateLimitWindow per client IP
	// (0 disables limiting).
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`

	// CORSAllowedOrigins lists origins allowed to call the API from a
	// browser. Empty means no cross-origin access.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

// LoggingConfig configures the zerolog logger.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for inconsistencies. It is called by
// LoadWithKoanf after all layers are merged.
func (c *Config) Validate() error {
	if err := c.validateGeovelo(); err != nil {
		return err
	}
	if err := c.validateSync(); err != nil {
		return err
	}
	if err := c.validateEvents(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateGeovelo() error {
	if c.Geovelo.BaseURL == "" {
		return fmt.Errorf("geovelo.base_url is required")
	}
	if c.Geovelo.Username == "" {
		return fmt.Errorf("geovelo.username is required")
	}
	if c.Geovelo.Password == "" && c.Geovelo.EncryptedPassword == "" {
		return fmt.Errorf("geovelo.password or geovelo.encrypted_password is required")
	}
	if c.Geovelo.EncryptedPassword != "" && c.Geovelo.Secret == "" {
		return fmt.Errorf("geovelo.secret is required to decrypt geovelo.encrypted_password")
	}
	if c.Geovelo.UserID <= 0 {
		return fmt.Errorf("geovelo.user_id must be a positive account identifier")
	}
	if c.Geovelo.PageSize <= 0 {
		return fmt.Errorf("geovelo.page_size must be positive, got %d", c.Geovelo.PageSize)
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.Interval < time.Minute {
		return fmt.Errorf("sync.interval must be at least 1m, got %s", c.Sync.Interval)
	}
	if c.Sync.Lookback <= 0 {
		return fmt.Errorf("sync.lookback must be positive, got %s", c.Sync.Lookback)
	}
	if c.Sync.BootstrapDays <= 0 {
		return fmt.Errorf("sync.bootstrap_days must be positive, got %d", c.Sync.BootstrapDays)
	}
	return nil
}

func (c *Config) validateEvents() error {
	if !c.Events.Enabled {
		return nil
	}
	switch c.Events.Backend {
	case "channel", "nats":
	default:
		return fmt.Errorf("events.backend must be \"channel\" or \"nats\", got %q", c.Events.Backend)
	}
	if c.Events.Backend == "nats" && !c.Events.NATS.EmbeddedServer && c.Events.NATS.URL == "" {
		return fmt.Errorf("events.nats.url is required when the embedded server is disabled")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Server.RateLimitRequests < 0 {
		return fmt.Errorf("server.rate_limit_requests must not be negative")
	}
	if c.Server.RateLimitRequests > 0 && c.Server.RateLimitWindow <= 0 {
		return fmt.Errorf("server.rate_limit_window must be positive when rate limiting is enabled")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "", "trace", "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return fmt.Errorf("logging.level %q is not a known level", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be \"json\" or \"console\", got %q", c.Logging.Format)
	}
	return nil
}

// ResolvePassword returns the plaintext Geovelo password, decrypting
// EncryptedPassword when configured. A plaintext Password takes precedence.
func (c *Config) ResolvePassword() (string, error) {
	if c.Geovelo.Password != "" {
		return c.Geovelo.Password, nil
	}
	enc, err := NewCredentialEncryptor(c.Geovelo.Secret)
	if err != nil {
		return "", fmt.Errorf("init credential encryptor: %w", err)
	}
	plaintext, err := enc.Decrypt(c.Geovelo.EncryptedPassword)
	if err != nil {
		return "", fmt.Errorf("decrypt geovelo password: %w", err)
	}
	return plaintext, nil
}
