package logger

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerCarriesModuleAndDetails(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := NewFromZap(zap.New(core))

	l.Debug("HttpClient", "attempt", map[string]interface{}{"attempt": 1})
	l.Info("RefreshGate", "refresh started", nil)
	l.Warn("RealtimeChannel", "frame dropped", map[string]interface{}{"reason": "schema"})
	l.Error("UsageGuard", "fetch failed", map[string]interface{}{"error": errors.New("boom")})

	entries := logs.All()
	require.Len(t, entries, 4)

	assert.Equal(t, "attempt", entries[0].Message)
	assert.Equal(t, "HttpClient", entries[0].ContextMap()["module"])
	assert.Equal(t, zapcore.InfoLevel, entries[1].Level)
	assert.NotNil(t, entries[1].ContextMap()["details"], "nil details should be replaced by an empty map")
	assert.Equal(t, zapcore.WarnLevel, entries[2].Level)
	assert.Equal(t, "boom", entries[3].ContextMap()["error"])
}

func TestIsolatedLoggerWritesOnlyToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "realtime.log")
	l := NewIsolatedLogger(path)

	l.Info("RealtimeChannel", "connected", map[string]interface{}{"attempt": 0})
	require.NoError(t, l.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(data)
	assert.True(t, strings.Contains(out, `"message":"connected"`), out)
	assert.True(t, strings.Contains(out, `"module":"RealtimeChannel"`), out)
	assert.True(t, strings.Contains(out, `"level":"INFO"`), out)
}

func TestNopLoggerIsSilent(t *testing.T) {
	l := NewNopLogger()
	l.Error("Any", "ignored", nil)
	assert.NoError(t, l.Sync())
}
