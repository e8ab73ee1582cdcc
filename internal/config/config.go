// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads beacon configuration from YAML files with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	beaconerrors "github.com/tombee/beacon/pkg/errors"
)

// Config is the complete beacon configuration, shared by the CLI, the
// collector daemon, and the embeddable SDK defaults.
type Config struct {
	Collector CollectorConfig `yaml:"collector"`
	Storage   StorageConfig   `yaml:"storage"`
	Forwarder ForwarderConfig `yaml:"forwarder"`
	Log       LogConfig       `yaml:"log"`
}

// CollectorConfig configures the local dev collector server.
type CollectorConfig struct {
	// Listen is the address the collector binds to.
	// Environment: BEACON_LISTEN
	// Default: 127.0.0.1:4117
	Listen string `yaml:"listen,omitempty"`

	// KeysFile is the signing-key table, watched for changes.
	// Environment: BEACON_KEYS_FILE
	// Default: ~/.beacon/keys.yaml
	KeysFile string `yaml:"keys_file,omitempty"`

	// AdminTokenHash is the bcrypt hash guarding admin endpoints.
	// Empty disables admin endpoints.
	AdminTokenHash string `yaml:"admin_token_hash,omitempty"`

	// RateLimit bounds per-tenant ingest.
	RateLimit RateLimitConfig `yaml:"rate_limit,omitempty"`

	// Redact lists glob patterns; span attributes with matching keys
	// are scrubbed before storage.
	Redact []string `yaml:"redact,omitempty"`

	// ShutdownTimeout is the maximum duration to wait for graceful
	// shutdown. Default: 10s.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
}

// RateLimitConfig configures per-tenant ingest rate limiting.
type RateLimitConfig struct {
	// Enabled activates rate limiting. Default: true.
	Enabled *bool `yaml:"enabled,omitempty"`

	// PerTenantRPS is the sustained request rate per tenant.
	// Default: 50.
	PerTenantRPS float64 `yaml:"per_tenant_rps,omitempty"`

	// Burst is the per-tenant burst allowance. Default: 100.
	Burst int `yaml:"burst,omitempty"`
}

// IsEnabled reports whether rate limiting is on, defaulting to true.
func (r RateLimitConfig) IsEnabled() bool {
	return r.Enabled == nil || *r.Enabled
}

// StorageConfig configures the SQLite trace store.
type StorageConfig struct {
	// Path is the database file.
	// Environment: BEACON_DB_PATH
	// Default: ~/.beacon/beacon.db
	Path string `yaml:"path,omitempty"`

	// Retention is how long spans are kept before the janitor deletes
	// them. Default: 168h (7 days).
	Retention time.Duration `yaml:"retention,omitempty"`

	// JanitorInterval is how often the retention sweep runs.
	// Default: 1h.
	JanitorInterval time.Duration `yaml:"janitor_interval,omitempty"`
}

// ForwarderConfig carries SDK-side delivery settings. ExpiresAt stays
// a string at the file boundary; ParseExpiry converts it.
type ForwarderConfig struct {
	// BaseURL is the collector base URL.
	// Environment: BEACON_BASE_URL
	// Default: https://api.agentmark.co
	BaseURL string `yaml:"base_url,omitempty"`

	// APIKey authenticates and signs outgoing payloads.
	// Environment: BEACON_API_KEY
	APIKey string `yaml:"api_key,omitempty"`

	// AppID, AppName, TenantID, APIKeyID identify the traced app.
	AppID    string `yaml:"app_id,omitempty"`
	AppName  string `yaml:"app_name,omitempty"`
	TenantID string `yaml:"tenant_id,omitempty"`
	APIKeyID string `yaml:"api_key_id,omitempty"`

	// ExpiresAt is the API key expiry as RFC 3339. Empty means no
	// expiry.
	ExpiresAt string `yaml:"expires_at,omitempty"`

	// MaxBufferSize bounds queued records. Default: 2048.
	MaxBufferSize int `yaml:"max_buffer_size,omitempty"`

	// MaxRetries caps delivery attempts per batch. Default: 5.
	MaxRetries int `yaml:"max_retries,omitempty"`

	// FlushInterval is the steady-state flush period. Default: 1s.
	FlushInterval time.Duration `yaml:"flush_interval,omitempty"`

	// FlushTimeout bounds one delivery attempt. Default: 10s.
	FlushTimeout time.Duration `yaml:"flush_timeout,omitempty"`

	// SampleRate is the trace sampling rate (0.0 - 1.0). Default: 1.0.
	SampleRate *float64 `yaml:"sample_rate,omitempty"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is one of trace, debug, info, warn, error.
	// Environment: BEACON_LOG_LEVEL
	Level string `yaml:"level,omitempty"`

	// Format is json or text.
	// Environment: BEACON_LOG_FORMAT
	Format string `yaml:"format,omitempty"`
}

// DefaultBaseURL is the hosted collector endpoint.
const DefaultBaseURL = "https://api.agentmark.co"

// DefaultListen is the local collector bind address.
const DefaultListen = "127.0.0.1:4117"

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Collector: CollectorConfig{
			Listen:          DefaultListen,
			ShutdownTimeout: 10 * time.Second,
			RateLimit: RateLimitConfig{
				PerTenantRPS: 50,
				Burst:        100,
			},
		},
		Storage: StorageConfig{
			Retention:       168 * time.Hour,
			JanitorInterval: 1 * time.Hour,
		},
		Forwarder: ForwarderConfig{
			BaseURL:       DefaultBaseURL,
			MaxBufferSize: 2048,
			MaxRetries:    5,
			FlushInterval: 1 * time.Second,
			FlushTimeout:  10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration from the given path (or defaults when the
// path is empty), applies defaults and environment overrides, and
// validates the result.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			return nil, &beaconerrors.ConfigurationError{
				Field:  "config_file",
				Reason: fmt.Sprintf("failed to load from %s", configPath),
				Cause:  err,
			}
		}
	}

	cfg.applyDefaults()
	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyDefaults fills zero values so minimal config files work.
func (c *Config) applyDefaults() {
	defaults := Default()

	if c.Collector.Listen == "" {
		c.Collector.Listen = defaults.Collector.Listen
	}
	if c.Collector.ShutdownTimeout == 0 {
		c.Collector.ShutdownTimeout = defaults.Collector.ShutdownTimeout
	}
	if c.Collector.RateLimit.PerTenantRPS == 0 {
		c.Collector.RateLimit.PerTenantRPS = defaults.Collector.RateLimit.PerTenantRPS
	}
	if c.Collector.RateLimit.Burst == 0 {
		c.Collector.RateLimit.Burst = defaults.Collector.RateLimit.Burst
	}
	if c.Storage.Retention == 0 {
		c.Storage.Retention = defaults.Storage.Retention
	}
	if c.Storage.JanitorInterval == 0 {
		c.Storage.JanitorInterval = defaults.Storage.JanitorInterval
	}
	if c.Forwarder.BaseURL == "" {
		c.Forwarder.BaseURL = defaults.Forwarder.BaseURL
	}
	if c.Forwarder.MaxBufferSize == 0 {
		c.Forwarder.MaxBufferSize = defaults.Forwarder.MaxBufferSize
	}
	if c.Forwarder.MaxRetries == 0 {
		c.Forwarder.MaxRetries = defaults.Forwarder.MaxRetries
	}
	if c.Forwarder.FlushInterval == 0 {
		c.Forwarder.FlushInterval = defaults.Forwarder.FlushInterval
	}
	if c.Forwarder.FlushTimeout == 0 {
		c.Forwarder.FlushTimeout = defaults.Forwarder.FlushTimeout
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
}

func (c *Config) loadFromFile(path string) error {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, path[2:])
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// loadFromEnv applies environment-variable overrides.
func (c *Config) loadFromEnv() {
	if val := os.Getenv("BEACON_LISTEN"); val != "" {
		c.Collector.Listen = val
	}
	if val := os.Getenv("BEACON_KEYS_FILE"); val != "" {
		c.Collector.KeysFile = val
	}
	if val := os.Getenv("BEACON_DB_PATH"); val != "" {
		c.Storage.Path = val
	}
	if val := os.Getenv("BEACON_RETENTION"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Storage.Retention = d
		}
	}
	if val := os.Getenv("BEACON_BASE_URL"); val != "" {
		c.Forwarder.BaseURL = val
	}
	if val := os.Getenv("BEACON_API_KEY"); val != "" {
		c.Forwarder.APIKey = val
	}
	if val := os.Getenv("BEACON_APP_ID"); val != "" {
		c.Forwarder.AppID = val
	}
	if val := os.Getenv("BEACON_TENANT_ID"); val != "" {
		c.Forwarder.TenantID = val
	}
	if val := os.Getenv("BEACON_API_KEY_ID"); val != "" {
		c.Forwarder.APIKeyID = val
	}
	if val := os.Getenv("BEACON_SAMPLE_RATE"); val != "" {
		if rate, err := strconv.ParseFloat(val, 64); err == nil {
			c.Forwarder.SampleRate = &rate
		}
	}
	if val := os.Getenv("BEACON_LOG_LEVEL"); val != "" {
		c.Log.Level = val
	}
	if val := os.Getenv("BEACON_LOG_FORMAT"); val != "" {
		c.Log.Format = val
	}
}

// Validate checks the configuration for invalid combinations.
func (c *Config) Validate() error {
	if c.Collector.Listen == "" {
		return &beaconerrors.ConfigurationError{
			Field:  "collector.listen",
			Reason: "listen address is required",
		}
	}
	if c.Collector.RateLimit.IsEnabled() && c.Collector.RateLimit.PerTenantRPS <= 0 {
		return &beaconerrors.ConfigurationError{
			Field:  "collector.rate_limit.per_tenant_rps",
			Reason: "rate must be > 0 when rate limiting is enabled",
		}
	}
	if c.Storage.Retention <= 0 {
		return &beaconerrors.ConfigurationError{
			Field:  "storage.retention",
			Reason: "retention must be > 0",
		}
	}
	if c.Forwarder.FlushInterval <= 0 {
		return &beaconerrors.ConfigurationError{
			Field:  "forwarder.flush_interval",
			Reason: "flush interval must be > 0",
		}
	}
	if rate := c.Forwarder.SampleRate; rate != nil && (*rate < 0 || *rate > 1) {
		return &beaconerrors.ConfigurationError{
			Field:  "forwarder.sample_rate",
			Reason: "sample rate must be between 0.0 and 1.0",
		}
	}
	if _, err := c.Forwarder.ParseExpiry(); err != nil {
		return err
	}
	return nil
}

// ParseExpiry converts the RFC 3339 expiry string to a time.Time.
// Returns the zero time when no expiry is configured.
func (f *ForwarderConfig) ParseExpiry() (time.Time, error) {
	if f.ExpiresAt == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, f.ExpiresAt)
	if err != nil {
		return time.Time{}, &beaconerrors.ConfigurationError{
			Field:  "forwarder.expires_at",
			Reason: "expiry must be RFC 3339",
			Cause:  err,
		}
	}
	return t, nil
}

// Save writes the configuration to path with restrictive permissions.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
