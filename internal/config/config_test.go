// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, env var expansion, duration parsing, and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "opsrelay.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configContent := `
delivery:
  suppression_window: "10s"
  max_retries: 2
  retry_backoff: "1s"

session:
  dir: "/var/lib/opsrelay/sessions"
  max_retries: 3
  settle_delay: "3s"
  timeout_wait: "5s"

status_cache:
  path: "/var/lib/opsrelay/status.json"
  fresh_window: "60s"
  fallback_window: "1h"
  fetch_timeout: "3s"

store:
  path: "/var/lib/opsrelay/delivery.db"

logging:
  level: "debug"
  format: "json"
`
	cfg, err := Load(writeConfig(t, configContent))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Delivery.SuppressionWindow != 10*time.Second {
		t.Errorf("suppression_window = %v, want 10s", cfg.Delivery.SuppressionWindow)
	}
	if cfg.Delivery.MaxRetries != 2 {
		t.Errorf("max_retries = %d, want 2", cfg.Delivery.MaxRetries)
	}
	if cfg.Delivery.RetryBackoff != time.Second {
		t.Errorf("retry_backoff = %v, want 1s", cfg.Delivery.RetryBackoff)
	}
	if cfg.Session.Dir != "/var/lib/opsrelay/sessions" {
		t.Errorf("session.dir = %q", cfg.Session.Dir)
	}
	if cfg.Session.SettleDelay != 3*time.Second {
		t.Errorf("settle_delay = %v, want 3s", cfg.Session.SettleDelay)
	}
	if cfg.Session.TimeoutWait != 5*time.Second {
		t.Errorf("timeout_wait = %v, want 5s", cfg.Session.TimeoutWait)
	}
	if cfg.StatusCache.FreshWindow != time.Minute {
		t.Errorf("fresh_window = %v, want 60s", cfg.StatusCache.FreshWindow)
	}
	if cfg.StatusCache.FallbackWindow != time.Hour {
		t.Errorf("fallback_window = %v, want 1h", cfg.StatusCache.FallbackWindow)
	}
	if cfg.StatusCache.FetchTimeout != 3*time.Second {
		t.Errorf("fetch_timeout = %v, want 3s", cfg.StatusCache.FetchTimeout)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("logging = %+v", cfg.Logging)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("OPSRELAY_TEST_DATA", "/tmp/opsrelay-data")

	configContent := `
session:
  dir: "${OPSRELAY_TEST_DATA}/sessions"
status_cache:
  path: "${OPSRELAY_TEST_DATA}/status.json"
store:
  path: "${OPSRELAY_TEST_DATA}/delivery.db"
`
	cfg, err := Load(writeConfig(t, configContent))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Session.Dir != "/tmp/opsrelay-data/sessions" {
		t.Errorf("session.dir = %q, env var not expanded", cfg.Session.Dir)
	}
	if cfg.Store.Path != "/tmp/opsrelay-data/delivery.db" {
		t.Errorf("store.path = %q, env var not expanded", cfg.Store.Path)
	}
}

func TestLoad_OmittedDurationsStayZero(t *testing.T) {
	configContent := `
session:
  dir: "/var/lib/opsrelay/sessions"
status_cache:
  path: "/var/lib/opsrelay/status.json"
store:
  path: "/var/lib/opsrelay/delivery.db"
`
	cfg, err := Load(writeConfig(t, configContent))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	// Components interpret zero as "use the built-in default"
	if cfg.Delivery.SuppressionWindow != 0 {
		t.Errorf("suppression_window = %v, want 0", cfg.Delivery.SuppressionWindow)
	}
	if cfg.StatusCache.FetchTimeout != 0 {
		t.Errorf("fetch_timeout = %v, want 0", cfg.StatusCache.FetchTimeout)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	configContent := `
delivery:
  suppression_window: "ten seconds"
session:
  dir: "/x"
status_cache:
  path: "/x/status.json"
store:
  path: "/x/delivery.db"
`
	_, err := Load(writeConfig(t, configContent))
	if err == nil {
		t.Fatal("expected error for invalid duration")
	}
	if !strings.Contains(err.Error(), "suppression_window") {
		t.Errorf("error %q should name the bad field", err)
	}
}

func TestLoad_MissingSessionDir(t *testing.T) {
	configContent := `
status_cache:
  path: "/x/status.json"
store:
  path: "/x/delivery.db"
`
	_, err := Load(writeConfig(t, configContent))
	if err == nil || !strings.Contains(err.Error(), "session.dir") {
		t.Fatalf("expected session.dir validation error, got %v", err)
	}
}

func TestLoad_FreshWindowExceedsFallback(t *testing.T) {
	configContent := `
session:
  dir: "/x"
status_cache:
  path: "/x/status.json"
  fresh_window: "2h"
  fallback_window: "1h"
store:
  path: "/x/delivery.db"
`
	_, err := Load(writeConfig(t, configContent))
	if err == nil || !strings.Contains(err.Error(), "fresh_window") {
		t.Fatalf("expected fresh_window validation error, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}
