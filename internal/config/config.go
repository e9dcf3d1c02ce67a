// Package config provides environment configuration for the widget core.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the client core and dev server.
type Config struct {
	// Backend endpoints
	APIBaseURL string
	WSBaseURL  string
	APIKey     string

	// Streaming connection
	ConnectTimeout       time.Duration
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration

	// History pagination
	HistoryPageSize int

	// Dev server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	VisitorTokenSecret string
	VisitorTokenTTL    time.Duration
	RateLimitRequests  int
	RateLimitWindow    time.Duration

	// LLM passthrough (dev server only)
	AnthropicAPIKey string
	OpenAIAPIKey    string

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Backend
		APIBaseURL: getEnv("WIDGET_API_URL", "http://localhost:8080"),
		WSBaseURL:  getEnv("WIDGET_WS_URL", "ws://localhost:8080"),
		APIKey:     getEnv("WIDGET_API_KEY", ""),

		// Streaming
		ConnectTimeout:       getDurationEnv("WIDGET_CONNECT_TIMEOUT", 5*time.Second),
		MaxReconnectAttempts: getIntEnv("WIDGET_MAX_RECONNECT_ATTEMPTS", 5),
		ReconnectBaseDelay:   getDurationEnv("WIDGET_RECONNECT_BASE_DELAY", time.Second),

		// History
		HistoryPageSize: getIntEnv("WIDGET_HISTORY_PAGE_SIZE", 50),

		// Dev server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		VisitorTokenSecret: getEnv("VISITOR_TOKEN_SECRET", "development-secret-change-in-production"),
		VisitorTokenTTL:    getDurationEnv("VISITOR_TOKEN_TTL", 24*time.Hour),
		RateLimitRequests:  getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:    getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
