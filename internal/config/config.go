// Package config reads server settings from the environment, seeding it
// from a .env file when one is present.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr  string
	DatabaseURL string // empty = in-memory store
	RedisAddr   string // empty = no cross-node relay
	// AllowedOrigins feed the websocket accept check, e.g. "https://app.example.com".
	AllowedOrigins []string

	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	DebounceWindow       time.Duration
}

const (
	DefaultReconnectDelay = 2 * time.Second
	DefaultMaxAttempts    = 5
	DefaultDebounce       = 250 * time.Millisecond
)

func Load() Config {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := Config{
		ListenAddr:           getEnv("LISTEN_ADDR", ":8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		ReconnectDelay:       getDuration("RECONNECT_DELAY_MS", DefaultReconnectDelay),
		MaxReconnectAttempts: getInt("MAX_RECONNECT_ATTEMPTS", DefaultMaxAttempts),
		DebounceWindow:       getDuration("PUSH_DEBOUNCE_MS", DefaultDebounce),
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, o)
			}
		}
	}
	return cfg
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	ms, err := strconv.Atoi(v)
	if err != nil || ms <= 0 {
		return fallback
	}
	return time.Duration(ms) * time.Millisecond
}
