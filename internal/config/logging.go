// ABOUTME: Builds the process logger from the logging config section.
// ABOUTME: Supports text and json output at debug/info/warn/error levels.

package config

import (
	"log/slog"
	"os"
)

// NewLogger builds a slog.Logger from the logging section. Unknown
// levels fall back to info; any format other than "json" gets the text
// handler.
func NewLogger(cfg LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
