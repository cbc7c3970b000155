// Package config provides configuration management for the event
// distributor. All settings load from environment variables via Viper, with
// validated defaults; the adapter fleet is enumerated through ADAPTER_NAMES
// plus per-adapter variables.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Runtime environments.
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
)

// Config represents the complete configuration for the distributor.
//
// Everything comes from environment variables:
//
//	PORT, IED_BASE_URL, NODE_ENV (or ENV)
//	REDIS_HOST, REDIS_PORT, REDIS_PASSWORD, REDIS_DB
//	ADAPTER_TIMEOUT_MS, NOTIFICATION_TIMEOUT_MS
//	MAX_RETRY_ATTEMPTS, RETRY_DELAY_MS, REPLICATION_DELAY_MS
//	INTERNAL_SUBSCRIPTION_EVENT_TYPES, INTERNAL_SUBSCRIPTION_METADATA
//	ADAPTER_NAMES plus <NAME>_ADAPTER_URL, <NAME>_ADAPTER_NAME, <NAME>_CHAIN_ID
//	LOG_LEVEL, LOG_FORMAT
type Config struct {
	// Port is the HTTP listen port.
	Port int

	// Env is the runtime environment ("production" or "development").
	Env string

	// BaseURL is the externally reachable base URL of this instance; adapters
	// deliver notifications to callback URLs built from it.
	BaseURL string

	// Redis holds cache backend settings.
	Redis RedisConfig

	// AdapterTimeout is the per-attempt timeout for adapter calls.
	AdapterTimeout time.Duration

	// NotificationTimeout is the timeout for consumer callback POSTs.
	NotificationTimeout time.Duration

	// MaxRetryAttempts is the total attempts per adapter call.
	MaxRetryAttempts int

	// RetryDelay is the base backoff between adapter call attempts.
	RetryDelay time.Duration

	// ReplicationDelay is the wait before checking which ledgers still miss
	// an incoming event. Zero disables the wait.
	ReplicationDelay time.Duration

	// InternalSubscriptionEventTypes are the event types the distributor
	// subscribes itself to on every adapter. Defaults to the wildcard.
	InternalSubscriptionEventTypes []string

	// InternalSubscriptionMetadata is attached to the internal subscriptions.
	InternalSubscriptionMetadata []string

	// Adapters is the configured adapter fleet, in ADAPTER_NAMES order.
	Adapters []AdapterConfig

	// Log holds logging settings.
	Log LogConfig

	// ShutdownTimeout is the maximum duration for graceful shutdown.
	ShutdownTimeout time.Duration
}

// RedisConfig contains Redis client configuration.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Addr returns the host:port address for the Redis client.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// AdapterConfig describes one configured ledger adapter.
type AdapterConfig struct {
	// Name is the unique adapter name, as listed in ADAPTER_NAMES.
	Name string

	// URL is the adapter's base URL.
	URL string

	// ChainID is the stable ledger identifier. Optional; the adapter name is
	// used for cache keying when empty.
	ChainID string
}

// LogConfig contains structured logging configuration.
type LogConfig struct {
	// Level sets the log level ("debug", "info", "warn", "error").
	Level string

	// Format sets the log format ("json", "console").
	Format string
}

// Load reads configuration from environment variables and applies defaults.
//
// Example:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    return fmt.Errorf("failed to load config: %w", err)
//	}
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	setDefaults(v)

	env := v.GetString("NODE_ENV")
	if env == "" {
		env = v.GetString("ENV")
	}
	if env == "" {
		env = EnvDevelopment
	}

	cfg := &Config{
		Port:    v.GetInt("PORT"),
		Env:     env,
		BaseURL: strings.TrimRight(v.GetString("IED_BASE_URL"), "/"),
		Redis: RedisConfig{
			Host:     v.GetString("REDIS_HOST"),
			Port:     v.GetInt("REDIS_PORT"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		AdapterTimeout:                 time.Duration(v.GetInt("ADAPTER_TIMEOUT_MS")) * time.Millisecond,
		NotificationTimeout:            time.Duration(v.GetInt("NOTIFICATION_TIMEOUT_MS")) * time.Millisecond,
		MaxRetryAttempts:               v.GetInt("MAX_RETRY_ATTEMPTS"),
		RetryDelay:                     time.Duration(v.GetInt("RETRY_DELAY_MS")) * time.Millisecond,
		ReplicationDelay:               time.Duration(v.GetInt("REPLICATION_DELAY_MS")) * time.Millisecond,
		InternalSubscriptionEventTypes: splitList(v.GetString("INTERNAL_SUBSCRIPTION_EVENT_TYPES")),
		InternalSubscriptionMetadata:   splitList(v.GetString("INTERNAL_SUBSCRIPTION_METADATA")),
		Log: LogConfig{
			Level:  v.GetString("LOG_LEVEL"),
			Format: v.GetString("LOG_FORMAT"),
		},
		ShutdownTimeout: time.Duration(v.GetInt("SHUTDOWN_TIMEOUT_MS")) * time.Millisecond,
	}

	adapters, err := loadAdapters(v)
	if err != nil {
		return nil, err
	}
	cfg.Adapters = adapters

	return cfg, nil
}

// setDefaults sets default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", 8080)
	v.SetDefault("IED_BASE_URL", "http://localhost:8080")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("ADAPTER_TIMEOUT_MS", 5000)
	v.SetDefault("NOTIFICATION_TIMEOUT_MS", 5000)
	v.SetDefault("MAX_RETRY_ATTEMPTS", 3)
	v.SetDefault("RETRY_DELAY_MS", 1000)
	v.SetDefault("REPLICATION_DELAY_MS", 15000)

	v.SetDefault("INTERNAL_SUBSCRIPTION_EVENT_TYPES", "*")
	v.SetDefault("INTERNAL_SUBSCRIPTION_METADATA", "sbx")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SHUTDOWN_TIMEOUT_MS", 10000)
}

// loadAdapters enumerates the adapter fleet from ADAPTER_NAMES. For each name
// N in the comma-separated list, <N>_ADAPTER_URL is required;
// <N>_ADAPTER_NAME and <N>_CHAIN_ID are optional overrides.
func loadAdapters(v *viper.Viper) ([]AdapterConfig, error) {
	names := splitList(v.GetString("ADAPTER_NAMES"))
	adapters := make([]AdapterConfig, 0, len(names))

	for _, name := range names {
		prefix := strings.ToUpper(name)

		adapterURL := v.GetString(prefix + "_ADAPTER_URL")
		if adapterURL == "" {
			return nil, fmt.Errorf("adapter %q: %s_ADAPTER_URL is required", name, prefix)
		}

		adapterName := v.GetString(prefix + "_ADAPTER_NAME")
		if adapterName == "" {
			adapterName = name
		}

		adapters = append(adapters, AdapterConfig{
			Name:    adapterName,
			URL:     adapterURL,
			ChainID: v.GetString(prefix + "_CHAIN_ID"),
		})
	}

	return adapters, nil
}

// splitList splits a comma-separated value into trimmed, non-empty entries.
func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration and returns an error if any values
// are invalid. Call after Load() before wiring components.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}

	if c.Env != EnvProduction && c.Env != EnvDevelopment {
		return fmt.Errorf("invalid environment: %s (must be production or development)", c.Env)
	}

	if c.BaseURL == "" {
		return fmt.Errorf("IED_BASE_URL cannot be empty")
	}
	if _, err := url.ParseRequestURI(c.BaseURL); err != nil {
		return fmt.Errorf("invalid IED_BASE_URL: %w", err)
	}

	if err := c.validateRedis(); err != nil {
		return err
	}

	if err := c.validateTimings(); err != nil {
		return err
	}

	if err := c.validateAdapters(); err != nil {
		return err
	}

	return c.validateLogging()
}

// validateRedis validates the Redis configuration.
func (c *Config) validateRedis() error {
	if c.Redis.Host == "" {
		return fmt.Errorf("redis host cannot be empty")
	}

	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		return fmt.Errorf("invalid redis port: %d (must be 1-65535)", c.Redis.Port)
	}

	if c.Redis.DB < 0 || c.Redis.DB > 15 {
		return fmt.Errorf("invalid redis db: %d (must be 0-15)", c.Redis.DB)
	}

	return nil
}

// validateTimings validates the timeout and delay settings.
func (c *Config) validateTimings() error {
	if c.AdapterTimeout <= 0 {
		return fmt.Errorf("adapter timeout must be positive")
	}

	if c.NotificationTimeout <= 0 {
		return fmt.Errorf("notification timeout must be positive")
	}

	if c.MaxRetryAttempts < 1 {
		return fmt.Errorf("invalid max retry attempts: %d (must be >= 1)", c.MaxRetryAttempts)
	}

	if c.RetryDelay < 0 {
		return fmt.Errorf("retry delay cannot be negative")
	}

	// Zero is allowed: the replication gate is skipped entirely.
	if c.ReplicationDelay < 0 {
		return fmt.Errorf("replication delay cannot be negative")
	}

	return nil
}

// validateAdapters validates the adapter fleet configuration.
func (c *Config) validateAdapters() error {
	if len(c.Adapters) == 0 {
		return fmt.Errorf("no adapters configured (set ADAPTER_NAMES)")
	}

	seen := make(map[string]bool, len(c.Adapters))
	for _, a := range c.Adapters {
		if a.Name == "" {
			return fmt.Errorf("adapter name cannot be empty")
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate adapter name: %s", a.Name)
		}
		seen[a.Name] = true

		if _, err := url.ParseRequestURI(a.URL); err != nil {
			return fmt.Errorf("adapter %s: invalid URL %q: %w", a.Name, a.URL, err)
		}
	}

	return nil
}

// validateLogging validates the logging configuration.
func (c *Config) validateLogging() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", c.Log.Format)
	}

	return nil
}

// IsProduction reports whether the distributor runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// IsDevelopment reports whether the distributor runs in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == EnvDevelopment
}
