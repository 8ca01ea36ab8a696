package logger

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScope(t *testing.T) {
	attr := Scope("jobs.worker")
	assert.Equal(t, "scope", attr.Key)
	assert.Equal(t, "jobs.worker", attr.Value.String())
}

func TestError(t *testing.T) {
	err := errors.New("conversion engine unreachable")
	attr := Error(err)
	assert.Equal(t, "error", attr.Key)
	assert.Same(t, err, attr.Value.Any())
}

func TestError_Nil(t *testing.T) {
	attr := Error(nil)
	assert.Equal(t, "error", attr.Key)
	assert.Nil(t, attr.Value.Any())
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		name     string
		logLevel string
		enabled  slog.Level
		disabled slog.Level
	}{
		{"default is info", "", slog.LevelInfo, slog.LevelDebug},
		{"debug", "debug", slog.LevelDebug, slog.Level(-8)},
		{"warn", "warn", slog.LevelWarn, slog.LevelInfo},
		{"warning alias", "warning", slog.LevelWarn, slog.LevelInfo},
		{"error", "error", slog.LevelError, slog.LevelWarn},
		{"mixed case", "DeBuG", slog.LevelDebug, slog.Level(-8)},
		{"unknown falls back to info", "verbose", slog.LevelInfo, slog.LevelDebug},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("LOG_LEVEL", tt.logLevel)
			t.Setenv("GO_ENV", "")

			log := NewLogger()
			require.NotNil(t, log)
			assert.True(t, log.Enabled(nil, tt.enabled))
			assert.False(t, log.Enabled(nil, tt.disabled))
		})
	}
}

func TestNewLogger_Production(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("GO_ENV", "production")

	log := NewLogger()
	require.NotNil(t, log)
	assert.True(t, log.Enabled(nil, slog.LevelInfo))
}
