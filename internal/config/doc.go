// Package config handles configuration loading for opsrelay.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and leaves tuning defaults to the components,
// so an omitted duration means "use the built-in default".
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	store:
//	  path: "${OPSRELAY_DATA}/delivery.db"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	delivery:
//	  suppression_window: "10s"
//	  retry_backoff: "1s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Delivery:
//
//	delivery:
//	  suppression_window: "10s"  # dedupe window per recipient/content key
//	  max_retries: 2             # session-desync retries per send
//	  retry_backoff: "1s"        # base backoff, doubled per retry
//
// Session repair:
//
//	session:
//	  dir: "/var/lib/opsrelay/sessions"
//	  max_retries: 3
//	  settle_delay: "3s"         # wait after artifact cleanup
//	  timeout_wait: "5s"         # per-attempt wait for timeout-class errors
//
// Status cache:
//
//	status_cache:
//	  path: "/var/lib/opsrelay/status.json"
//	  fresh_window: "60s"
//	  fallback_window: "1h"
//	  fetch_timeout: "3s"
//
// Store:
//
//	store:
//	  path: "/var/lib/opsrelay/delivery.db"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
