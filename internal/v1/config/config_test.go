package config

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv unsets every recognized variable so tests start from a known state.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"WS_PORT", "WS_PATH",
		"MAX_CONNECTIONS_PER_ROOM", "MESSAGE_QUEUE_DRAIN_MS", "MESSAGE_QUEUE_BATCH_SIZE",
		"STALE_CONNECTION_MS", "MAX_RECONNECT_ATTEMPTS", "ROOM_STATS_MONITOR_MS",
		"REDIS_ENABLED", "REDIS_ADDR", "REDIS_PASSWORD",
		"GO_ENV", "LOG_LEVEL", "DEVELOPMENT_MODE", "ALLOWED_ORIGINS",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "RATE_LIMIT_WS_IP", "RATE_LIMIT_API_ROOMS",
	} {
		// t.Setenv registers the restore; the empty value is then unset.
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestValidateEnv_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("WS_PORT", "8080")

	cfg, err := ValidateEnv()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.WsPort)
	assert.Equal(t, "/ws", cfg.WsPath)
	assert.Equal(t, 20, cfg.MaxConnectionsPerRoom)
	assert.Equal(t, 100*time.Millisecond, cfg.MessageQueueDrain)
	assert.Equal(t, 10, cfg.MessageQueueBatchSize)
	assert.Equal(t, 30*time.Second, cfg.StaleConnection)
	assert.Equal(t, 3, cfg.MaxReconnectAttempts)
	assert.Equal(t, 30*time.Second, cfg.RoomStatsMonitor)
	assert.False(t, cfg.RedisEnabled)
	assert.Equal(t, "production", cfg.GoEnv)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.DevelopmentMode)
	assert.Equal(t, "100-M", cfg.RateLimitWsIP)
	assert.Equal(t, "100-M", cfg.RateLimitAPIRooms)
}

func TestValidateEnv_MissingPort(t *testing.T) {
	clearEnv(t)

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WS_PORT is required")
}

func TestValidateEnv_InvalidPort(t *testing.T) {
	clearEnv(t)

	for _, port := range []string{"abc", "0", "70000", "-1"} {
		t.Setenv("WS_PORT", port)
		_, err := ValidateEnv()
		require.Error(t, err, "port %q should be rejected", port)
		assert.Contains(t, err.Error(), "WS_PORT must be a valid port number")
	}
}

func TestValidateEnv_InvalidPath(t *testing.T) {
	clearEnv(t)
	t.Setenv("WS_PORT", "8080")
	t.Setenv("WS_PATH", "signal")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WS_PATH must start with '/'")
}

func TestValidateEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("WS_PORT", "9000")
	t.Setenv("WS_PATH", "/signal")
	t.Setenv("MAX_CONNECTIONS_PER_ROOM", "8")
	t.Setenv("MESSAGE_QUEUE_DRAIN_MS", "50")
	t.Setenv("MESSAGE_QUEUE_BATCH_SIZE", "25")
	t.Setenv("STALE_CONNECTION_MS", "10000")
	t.Setenv("MAX_RECONNECT_ATTEMPTS", "5")
	t.Setenv("DEVELOPMENT_MODE", "true")
	t.Setenv("ALLOWED_ORIGINS", "https://app.example.com")

	cfg, err := ValidateEnv()
	require.NoError(t, err)

	assert.Equal(t, "/signal", cfg.WsPath)
	assert.Equal(t, 8, cfg.MaxConnectionsPerRoom)
	assert.Equal(t, 50*time.Millisecond, cfg.MessageQueueDrain)
	assert.Equal(t, 25, cfg.MessageQueueBatchSize)
	assert.Equal(t, 10*time.Second, cfg.StaleConnection)
	assert.Equal(t, 5, cfg.MaxReconnectAttempts)
	assert.True(t, cfg.DevelopmentMode)
	assert.Equal(t, "https://app.example.com", cfg.AllowedOrigins)
}

func TestValidateEnv_InvalidIntegers(t *testing.T) {
	clearEnv(t)
	t.Setenv("WS_PORT", "8080")
	t.Setenv("MAX_CONNECTIONS_PER_ROOM", "zero")
	t.Setenv("MESSAGE_QUEUE_BATCH_SIZE", "-3")

	_, err := ValidateEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MAX_CONNECTIONS_PER_ROOM must be a positive integer")
	assert.Contains(t, err.Error(), "MESSAGE_QUEUE_BATCH_SIZE must be a positive integer")
}

func TestValidateEnv_ErrorsAreCollected(t *testing.T) {
	clearEnv(t)
	t.Setenv("WS_PATH", "bad")
	t.Setenv("MAX_RECONNECT_ATTEMPTS", "none")

	_, err := ValidateEnv()
	require.Error(t, err)
	// All three problems reported in one pass.
	assert.Equal(t, 3, strings.Count(err.Error(), "\n  - "))
}

func TestValidateEnv_RedisEnabled(t *testing.T) {
	clearEnv(t)
	t.Setenv("WS_PORT", "8080")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("REDIS_ADDR", "redis.internal:6379")
	t.Setenv("REDIS_PASSWORD", "secret")

	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.True(t, cfg.RedisEnabled)
	assert.Equal(t, "redis.internal:6379", cfg.RedisAddr)
	assert.Equal(t, "secret", cfg.RedisPassword)
}

func TestValidateEnv_RedisEnabledDefaultAddr(t *testing.T) {
	clearEnv(t)
	t.Setenv("WS_PORT", "8080")
	t.Setenv("REDIS_ENABLED", "true")

	cfg, err := ValidateEnv()
	require.NoError(t, err)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
}

func TestValidateEnv_RedisInvalidAddr(t *testing.T) {
	clearEnv(t)
	t.Setenv("WS_PORT", "8080")
	t.Setenv("REDIS_ENABLED", "true")

	for _, addr := range []string{"no-port", "host:", ":6379", "host:notaport"} {
		t.Setenv("REDIS_ADDR", addr)
		_, err := ValidateEnv()
		require.Error(t, err, "addr %q should be rejected", addr)
		assert.Contains(t, err.Error(), "REDIS_ADDR must be in format 'host:port'")
	}
}
