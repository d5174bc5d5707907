package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDevelopment(t *testing.T) {
	t.Setenv("PORT", "3001")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("MOCK_REPLY_DELAY", "2s")
	t.Setenv("CORS_ALLOWED_ORIGINS", "*")
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "3001", cfg.Port)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.Equal(t, 2*time.Second, cfg.ReplyDelay)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("DB_PATH", "/tmp/chat.db")
	t.Setenv("MOCK_REPLY_DELAY", "1500")
	t.Setenv("STREAM_CHUNK_INTERVAL", "50ms")
	t.Setenv("TURN_THRESHOLD", "6")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreSQLite, cfg.StoreDriver)
	assert.Equal(t, 1500*time.Millisecond, cfg.ReplyDelay)
	assert.Equal(t, 50*time.Millisecond, cfg.ChunkInterval)
	assert.Equal(t, 6, cfg.TurnThreshold)
	assert.InDelta(t, 2.5, cfg.RateLimit.RequestsPerSecond, 1e-9)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.False(t, cfg.IsDevelopment())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port: "3001", StoreDriver: StoreMemory, ConversationTTL: time.Hour,
			TTLSweepInterval: time.Minute, TurnThreshold: 4, AllowedOrigins: []string{"*"},
			RateLimit: RateLimitConfig{RequestsPerSecond: 1, Burst: 1},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Port = "" }, "PORT"},
		{"driver", func(c *Config) { c.StoreDriver = "redis" }, "STORE_DRIVER"},
		{"db path", func(c *Config) { c.StoreDriver = StoreSQLite }, "DB_PATH"},
		{"ttl", func(c *Config) { c.ConversationTTL = 0 }, "CONVERSATION_TTL"},
		{"threshold", func(c *Config) { c.TurnThreshold = 0 }, "TURN_THRESHOLD"},
		{"delay", func(c *Config) { c.ReplyDelay = -time.Second }, "MOCK_REPLY_DELAY"},
		{"burst", func(c *Config) { c.RateLimit.Burst = 0 }, "RATE_LIMIT_BURST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadClient(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://localhost:3001/api")
	t.Setenv("POLLING_INTERVAL", "3000")
	t.Setenv("ENABLE_STREAMING", "true")
	t.Setenv("STREAM_PROTOCOL", "WebSocket")
	t.Setenv("OFFLINE_MODE", "no")

	cfg, err := LoadClient()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.PollingInterval)
	assert.True(t, cfg.EnableStreaming)
	assert.Equal(t, ProtocolWebSocket, cfg.StreamProtocol)
	assert.False(t, cfg.OfflineMode)
}

func TestLoadClientRejectsBadValues(t *testing.T) {
	t.Setenv("API_BASE_URL", "localhost")
	t.Setenv("STREAM_PROTOCOL", "carrier-pigeon")
	t.Setenv("OFFLINE_MODE", "false")

	_, err := LoadClient()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API_BASE_URL")
	assert.Contains(t, err.Error(), "STREAM_PROTOCOL")

	// The base URL does not matter offline.
	t.Setenv("STREAM_PROTOCOL", "sse")
	t.Setenv("OFFLINE_MODE", "1")
	_, err = LoadClient()
	assert.NoError(t, err)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("X_BOOL", "maybe")
	t.Setenv("X_INT", "seven")
	t.Setenv("X_DUR", "soon")
	t.Setenv("X_LIST", " a, ,b ")

	assert.True(t, getEnvBool("X_BOOL", true))
	assert.Equal(t, 7, getEnvInt("X_MISSING_INT", 7))
	assert.Equal(t, 3, getEnvInt("X_INT", 3))
	assert.Equal(t, time.Second, getEnvDuration("X_DUR", time.Second))
	assert.Equal(t, []string{"a", "b"}, getEnvList("X_LIST", nil))
}
