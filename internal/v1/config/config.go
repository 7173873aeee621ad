package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	WsPort string

	// Optional variables with defaults
	WsPath                string
	MaxConnectionsPerRoom int
	MessageQueueDrain     time.Duration
	MessageQueueBatchSize int
	StaleConnection       time.Duration
	MaxReconnectAttempts  int
	RoomStatsMonitor      time.Duration

	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string

	// Redis (optional backing store)
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string

	// Tracing
	OtelEndpoint string

	// Rate limits (format: "<count>-<period>", e.g. "100-M")
	RateLimitWsIP     string
	RateLimitAPIRooms string
}

// ValidateEnv validates all recognized environment variables and returns a
// Config. All validation errors are collected and reported together.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errors []string

	// Required: WS_PORT (valid port number)
	cfg.WsPort = os.Getenv("WS_PORT")
	if cfg.WsPort == "" {
		errors = append(errors, "WS_PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.WsPort)
		if err != nil || port < 1 || port > 65535 {
			errors = append(errors, fmt.Sprintf("WS_PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.WsPort))
		}
	}

	// Optional: WS_PATH (defaults to "/ws")
	cfg.WsPath = os.Getenv("WS_PATH")
	if cfg.WsPath == "" {
		cfg.WsPath = "/ws"
	} else if !strings.HasPrefix(cfg.WsPath, "/") {
		errors = append(errors, fmt.Sprintf("WS_PATH must start with '/' (got '%s')", cfg.WsPath))
	}

	cfg.MaxConnectionsPerRoom = getIntOrDefault("MAX_CONNECTIONS_PER_ROOM", 20, &errors)
	cfg.MessageQueueDrain = time.Duration(getIntOrDefault("MESSAGE_QUEUE_DRAIN_MS", 100, &errors)) * time.Millisecond
	cfg.MessageQueueBatchSize = getIntOrDefault("MESSAGE_QUEUE_BATCH_SIZE", 10, &errors)
	cfg.StaleConnection = time.Duration(getIntOrDefault("STALE_CONNECTION_MS", 30000, &errors)) * time.Millisecond
	cfg.MaxReconnectAttempts = getIntOrDefault("MAX_RECONNECT_ATTEMPTS", 3, &errors)
	cfg.RoomStatsMonitor = time.Duration(getIntOrDefault("ROOM_STATS_MONITOR_MS", 30000, &errors)) * time.Millisecond

	// Conditional: REDIS_ADDR (required if REDIS_ENABLED=true)
	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errors = append(errors, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Optional: GO_ENV (defaults to "production")
	cfg.GoEnv = os.Getenv("GO_ENV")
	if cfg.GoEnv == "" {
		cfg.GoEnv = "production"
	}

	// Optional: LOG_LEVEL (defaults to "info")
	cfg.LogLevel = os.Getenv("LOG_LEVEL")
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.OtelEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	// Rate limits (defaults: M = minute)
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")
	cfg.RateLimitAPIRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "100-M")

	if len(errors) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	return parts[0] != ""
}

// logValidatedConfig logs the validated configuration
func logValidatedConfig(cfg *Config) {
	slog.Info("✅ Environment configuration validated successfully")
	slog.Info("Configuration",
		"ws_port", cfg.WsPort,
		"ws_path", cfg.WsPath,
		"max_connections_per_room", cfg.MaxConnectionsPerRoom,
		"message_queue_drain", cfg.MessageQueueDrain,
		"message_queue_batch_size", cfg.MessageQueueBatchSize,
		"stale_connection", cfg.StaleConnection,
		"max_reconnect_attempts", cfg.MaxReconnectAttempts,
		"room_stats_monitor", cfg.RoomStatsMonitor,
		"redis_enabled", cfg.RedisEnabled,
		"redis_addr", cfg.RedisAddr,
		"go_env", cfg.GoEnv,
		"development_mode", cfg.DevelopmentMode,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getIntOrDefault parses an integer variable, recording a validation error
// for non-numeric or non-positive values.
func getIntOrDefault(key string, defaultValue int, errors *[]string) int {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 1 {
		*errors = append(*errors, fmt.Sprintf("%s must be a positive integer (got '%s')", key, value))
		return defaultValue
	}
	return n
}
