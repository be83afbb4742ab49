package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds all client configuration.
// We use a struct (not globals) so it's testable and explicit.
type Config struct {
	// Server endpoints
	ServerURL  string // ws:// or wss:// websocket endpoint
	APIBaseURL string // REST side-channel

	// Environment
	Env string // "development" or "production"

	// Local state
	StatePath string // bbolt file for token + avatar cache

	// Reconnection policy
	BackoffBase time.Duration
	MaxRetries  int

	// Pagination
	HistoryPageSize int
}

// Load reads configuration from environment variables. In dev these come
// from .env (loaded by the cmd entrypoint).
func Load() (*Config, error) {
	cfg := &Config{
		ServerURL:       getEnvOrDefault("SAUCER_WS_URL", "ws://localhost:8080/ws"),
		APIBaseURL:      getEnvOrDefault("SAUCER_API_URL", "http://localhost:8080/api"),
		Env:             getEnvOrDefault("APP_ENV", "development"),
		StatePath:       getEnvOrDefault("SAUCER_STATE_PATH", defaultStatePath()),
		BackoffBase:     getDurationOrDefault("SAUCER_BACKOFF_BASE", 2*time.Second),
		MaxRetries:      getIntOrDefault("SAUCER_MAX_RETRIES", 5),
		HistoryPageSize: getIntOrDefault("SAUCER_HISTORY_PAGE", 50),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("SAUCER_WS_URL is required")
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("SAUCER_API_URL is required")
	}
	if c.MaxRetries < 1 {
		return fmt.Errorf("SAUCER_MAX_RETRIES must be at least 1")
	}
	if c.BackoffBase <= 0 {
		return fmt.Errorf("SAUCER_BACKOFF_BASE must be positive")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func defaultStatePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "saucer.db"
	}
	return filepath.Join(home, ".config", "saucer", "state.db")
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
