package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerLevels(t *testing.T) {
	tests := []struct {
		name      string
		minLevel  Level
		logLevel  Level
		shouldLog bool
	}{
		{"debug allowed at debug", LevelDebug, LevelDebug, true},
		{"info allowed at debug", LevelDebug, LevelInfo, true},
		{"error allowed at debug", LevelDebug, LevelError, true},
		{"debug blocked at info", LevelInfo, LevelDebug, false},
		{"info allowed at info", LevelInfo, LevelInfo, true},
		{"warn allowed at info", LevelInfo, LevelWarn, true},
		{"info blocked at warn", LevelWarn, LevelInfo, false},
		{"warn allowed at warn", LevelWarn, LevelWarn, true},
		{"warn blocked at error", LevelError, LevelWarn, false},
		{"error allowed at error", LevelError, LevelError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := New(&buf, FormatConsole, tt.minLevel)

			switch tt.logLevel {
			case LevelDebug:
				logger.Debug("test message")
			case LevelInfo:
				logger.Info("test message")
			case LevelWarn:
				logger.Warn("test message")
			case LevelError:
				logger.Error("test message")
			}

			if tt.shouldLog {
				assert.Contains(t, buf.String(), "test message")
			} else {
				assert.Empty(t, buf.String(), "expected no log output")
			}
		})
	}
}

func TestLoggerSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, FormatConsole, LevelWarn)

	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.SetLevel(LevelDebug)
	logger.Debug("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestLoggerWithJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, FormatJSON, LevelDebug)

	logger.With("session", "abc123").Warn("something happened", "iteration", 3, "err", errors.New("boom"))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "something happened", entry["msg"])
	assert.Equal(t, "abc123", entry["session"])
	assert.Equal(t, float64(3), entry["iteration"])
	assert.Equal(t, "boom", entry["err"])
}

func TestLoggerWithFields(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	logger := NewFromCore(core)

	logger.WithFields(map[string]interface{}{
		"phase":     "verifying",
		"iteration": 2,
	}).Error("verification failed")

	entries := observed.All()
	require.Len(t, entries, 1)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "verifying", ctx["phase"])
	assert.EqualValues(t, 2, ctx["iteration"])
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}

func TestNamed(t *testing.T) {
	core, observed := observer.New(zapcore.DebugLevel)
	NewFromCore(core).Named("vcs").Info("rollback")

	require.Equal(t, 1, observed.Len())
	assert.Equal(t, "vcs", observed.All()[0].LoggerName)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{"error", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDefaultLogger(t *testing.T) {
	original := Default()
	t.Cleanup(func() { SetDefault(original) })

	var buf bytes.Buffer
	SetDefault(New(&buf, FormatConsole, LevelWarn))

	Info("not shown")
	Warn("shown", "key", "value with spaces")

	out := buf.String()
	assert.NotContains(t, out, "not shown")
	assert.True(t, strings.Contains(out, "shown"))
	assert.Contains(t, out, "WARN")
}

func TestNop(t *testing.T) {
	// Must not panic.
	l := Nop()
	l.Error("ignored", "k", "v")
	assert.NoError(t, l.Sync())
}
