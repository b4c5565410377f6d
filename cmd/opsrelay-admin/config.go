// ABOUTME: Configuration loading for the opsrelay admin CLI
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Config points the admin CLI at the service's on-disk state.
type Config struct {
	Store   StoreConfig   `toml:"store"`
	Cache   CacheConfig   `toml:"cache"`
	Session SessionConfig `toml:"session"`
}

type StoreConfig struct {
	Path string `toml:"path"`
}

type CacheConfig struct {
	Path string `toml:"path"`
}

type SessionConfig struct {
	Dir string `toml:"dir"`
}

// configPath returns the admin config location.
// Priority: OPSRELAY_ADMIN_CONFIG env var > XDG_CONFIG_HOME/opsrelay/admin.toml > ~/.config/opsrelay/admin.toml
func configPath() string {
	if envPath := os.Getenv("OPSRELAY_ADMIN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "admin.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "opsrelay", "admin.toml")
}

// loadConfig reads config from the given path, expanding environment variables.
func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if _, err := toml.Decode(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR} patterns with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that the paths the subcommands rely on are configured.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Cache.Path == "" {
		return fmt.Errorf("cache.path is required")
	}
	if c.Session.Dir == "" {
		return fmt.Errorf("session.dir is required")
	}
	return nil
}
