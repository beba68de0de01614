package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/couchcryptid/hydro-forecast-etl/internal/config"
)

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level   string
		enabled slog.Level
		muted   slog.Level
	}{
		{"debug", slog.LevelDebug, slog.LevelDebug - 4},
		{"info", slog.LevelInfo, slog.LevelDebug},
		{"warn", slog.LevelWarn, slog.LevelInfo},
		{"error", slog.LevelError, slog.LevelWarn},
		{"verbose", slog.LevelInfo, slog.LevelDebug},
	}
	ctx := context.Background()
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger := NewLogger(&config.Config{LogLevel: tt.level, LogFormat: "json"})
			assert.True(t, logger.Enabled(ctx, tt.enabled))
			assert.False(t, logger.Enabled(ctx, tt.muted))
		})
	}
}

func TestNewLogger_Format(t *testing.T) {
	jsonLogger := NewLogger(&config.Config{LogLevel: "info", LogFormat: "json"})
	assert.IsType(t, &slog.JSONHandler{}, jsonLogger.Handler())

	textLogger := NewLogger(&config.Config{LogLevel: "info", LogFormat: "TEXT"})
	assert.IsType(t, &slog.TextHandler{}, textLogger.Handler())
}
