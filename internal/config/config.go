// ABOUTME: Configuration loading and parsing for opsrelay
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete opsrelay configuration
type Config struct {
	Delivery    DeliveryConfig    `yaml:"delivery"`
	Session     SessionConfig     `yaml:"session"`
	StatusCache StatusCacheConfig `yaml:"status_cache"`
	Store       StoreConfig       `yaml:"store"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// DeliveryConfig holds dedupe and send-retry tuning
type DeliveryConfig struct {
	SuppressionWindow time.Duration `yaml:"-"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryBackoff      time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	SuppressionWindowRaw string `yaml:"suppression_window"`
	RetryBackoffRaw      string `yaml:"retry_backoff"`
}

// SessionConfig holds session-repair tuning and the artifact directory
type SessionConfig struct {
	Dir         string        `yaml:"dir"`
	MaxRetries  int           `yaml:"max_retries"`
	SettleDelay time.Duration `yaml:"-"`
	TimeoutWait time.Duration `yaml:"-"`

	SettleDelayRaw string `yaml:"settle_delay"`
	TimeoutWaitRaw string `yaml:"timeout_wait"`
}

// StatusCacheConfig holds the staleness windows and the persisted slot path
type StatusCacheConfig struct {
	Path           string        `yaml:"path"`
	FreshWindow    time.Duration `yaml:"-"`
	FallbackWindow time.Duration `yaml:"-"`
	FetchTimeout   time.Duration `yaml:"-"`

	FreshWindowRaw    string `yaml:"fresh_window"`
	FallbackWindowRaw string `yaml:"fallback_window"`
	FetchTimeoutRaw   string `yaml:"fetch_timeout"`
}

// StoreConfig holds the delivery log location
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Session.Dir == "" {
		return fmt.Errorf("session.dir is required")
	}

	if c.StatusCache.Path == "" {
		return fmt.Errorf("status_cache.path is required")
	}

	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}

	if c.StatusCache.FallbackWindow > 0 && c.StatusCache.FreshWindow > c.StatusCache.FallbackWindow {
		return fmt.Errorf("status_cache.fresh_window must not exceed fallback_window")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		raw  string
		name string
		dst  *time.Duration
	}{
		{cfg.Delivery.SuppressionWindowRaw, "suppression_window", &cfg.Delivery.SuppressionWindow},
		{cfg.Delivery.RetryBackoffRaw, "retry_backoff", &cfg.Delivery.RetryBackoff},
		{cfg.Session.SettleDelayRaw, "settle_delay", &cfg.Session.SettleDelay},
		{cfg.Session.TimeoutWaitRaw, "timeout_wait", &cfg.Session.TimeoutWait},
		{cfg.StatusCache.FreshWindowRaw, "fresh_window", &cfg.StatusCache.FreshWindow},
		{cfg.StatusCache.FallbackWindowRaw, "fallback_window", &cfg.StatusCache.FallbackWindow},
		{cfg.StatusCache.FetchTimeoutRaw, "fetch_timeout", &cfg.StatusCache.FetchTimeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
