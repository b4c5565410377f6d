// ABOUTME: Tests for logger construction from the logging config section
// ABOUTME: Covers level selection, format selection, and fallback defaults

package config

import (
	"context"
	"log/slog"
	"testing"
)

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level    string
		enabled  slog.Level
		disabled slog.Level
	}{
		{"debug", slog.LevelDebug, slog.LevelDebug - 1},
		{"info", slog.LevelInfo, slog.LevelDebug},
		{"warn", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
		{"", slog.LevelInfo, slog.LevelDebug},
		{"verbose", slog.LevelInfo, slog.LevelDebug},
	}

	for _, tt := range tests {
		logger := NewLogger(LoggingConfig{Level: tt.level})
		ctx := context.Background()

		if !logger.Handler().Enabled(ctx, tt.enabled) {
			t.Errorf("level %q: expected %v to be enabled", tt.level, tt.enabled)
		}
		if logger.Handler().Enabled(ctx, tt.disabled) {
			t.Errorf("level %q: expected %v to be disabled", tt.level, tt.disabled)
		}
	}
}

func TestNewLogger_JSONFormat(t *testing.T) {
	logger := NewLogger(LoggingConfig{Format: "json"})
	if _, ok := logger.Handler().(*slog.JSONHandler); !ok {
		t.Errorf("expected a JSON handler, got %T", logger.Handler())
	}
}

func TestNewLogger_TextFormatDefault(t *testing.T) {
	for _, format := range []string{"", "text", "console"} {
		logger := NewLogger(LoggingConfig{Format: format})
		if _, ok := logger.Handler().(*slog.TextHandler); !ok {
			t.Errorf("format %q: expected a text handler, got %T", format, logger.Handler())
		}
	}
}
