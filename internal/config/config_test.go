package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAPIBaseURL(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "bare host", raw: "http://localhost:3000", want: "http://localhost:3000/api"},
		{name: "trailing slash", raw: "https://notes.example.com/", want: "https://notes.example.com/api"},
		{name: "already suffixed", raw: "https://notes.example.com/api", want: "https://notes.example.com/api"},
		{name: "already suffixed with slash", raw: "https://notes.example.com/api/", want: "https://notes.example.com/api"},
		{name: "nested prefix", raw: "https://example.com/notefiber", want: "https://example.com/notefiber/api"},
		{name: "empty", raw: "  ", want: "http://localhost:3000/api"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeAPIBaseURL(tt.raw))
		})
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("API_BASE_URL", "https://api.example.com")
	t.Setenv("WS_HOST", "push.example.com")
	t.Setenv("API_RETRY_COUNT", "5")
	t.Setenv("API_RETRY_BASE_DELAY", "250ms")
	t.Setenv("WS_RECONNECT_BASE_DELAY", "1500")
	t.Setenv("WS_MAX_RECONNECT_ATTEMPTS", "4")
	t.Setenv("TOKEN_STORE", "redis")

	cfg := Load()

	assert.Equal(t, "https://api.example.com/api", cfg.API.BaseURL)
	assert.Equal(t, "push.example.com", cfg.WebSocket.HostOverride)
	assert.Equal(t, 5, cfg.API.RetryCount)
	assert.Equal(t, 250*time.Millisecond, cfg.API.RetryBaseDelay)
	assert.Equal(t, 1500*time.Millisecond, cfg.WebSocket.ReconnectBaseDelay)
	assert.Equal(t, 4, cfg.WebSocket.MaxReconnectAttempts)
	assert.Equal(t, "redis", cfg.Store.Driver)
}

func TestLoadFallsBackOnGarbage(t *testing.T) {
	t.Setenv("API_RETRY_COUNT", "three")
	t.Setenv("WS_RECONNECT_BASE_DELAY", "soon")

	cfg := Load()

	assert.Equal(t, 3, cfg.API.RetryCount)
	assert.Equal(t, 3*time.Second, cfg.WebSocket.ReconnectBaseDelay)
	assert.Equal(t, 10, cfg.WebSocket.MaxReconnectAttempts)
}
