package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerInitialization(t *testing.T) {
	assert.NotNil(t, Logger)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in       string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"INFO", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"", zapcore.InfoLevel},
		{"verbose", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLevel(tt.in))
		})
	}
}

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		t.Run(format, func(t *testing.T) {
			l, err := New("warn", format)
			require.NoError(t, err)
			assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
			assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
		})
	}
}

func TestLoggerFunctions(t *testing.T) {
	observedZapCore, observedLogs := observer.New(zap.InfoLevel)

	originalLogger := Logger
	Logger = zap.New(observedZapCore)
	defer func() { Logger = originalLogger }()

	tests := []struct {
		name          string
		logFunc       func(string, ...zap.Field)
		message       string
		expectedLevel zapcore.Level
		expectedCount int
	}{
		{"info logging", Info, "hold created", zap.InfoLevel, 1},
		{"error logging", Error, "purchase failed", zap.ErrorLevel, 1},
		{"warn logging", Warn, "malformed body", zap.WarnLevel, 1},
		{"debug logging is filtered", Debug, "request body", zap.DebugLevel, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			observedLogs.TakeAll()

			tt.logFunc(tt.message, zap.Int("vu", 1))

			entries := observedLogs.All()
			require.Len(t, entries, tt.expectedCount)
			if tt.expectedCount > 0 {
				assert.Equal(t, tt.message, entries[0].Message)
				assert.Equal(t, tt.expectedLevel, entries[0].Level)
				assert.Equal(t, int64(1), entries[0].ContextMap()["vu"])
			}
		})
	}
}
