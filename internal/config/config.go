// Package config provides configuration helpers for go-kiosk commands.
// Values come from the environment, with optional .env file support.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Default endpoints for local development.
const (
	DefaultChannelURL = "ws://localhost:8000/ws"
	DefaultAPIBaseURL = "http://localhost:8000"
	DefaultStoreURL   = "http://localhost:8000/store"
)

// Kiosk holds all configuration for the kiosk client binary.
// Flag parsing is done in cmd/kiosk/main.go; this struct is data only.
type Kiosk struct {
	// ChannelURL is the realtime dialogue service WebSocket endpoint.
	ChannelURL string

	// APIBaseURL is the base URL for the summarization endpoint.
	APIBaseURL string

	// StoreURL is the base URL of the key-value store.
	StoreURL string

	// LogLevel selects the slog level ("debug", "info", "warn", "error").
	LogLevel string

	// Voice is the synthesized voice requested in session.update.
	Voice string

	// Instructions is the system prompt sent in session.update.
	Instructions string

	// SilenceDuration is how long the user must stay silent before a
	// reply is requested.
	SilenceDuration time.Duration

	// HalfDuplexRelease is how long the microphone stays gated after
	// assistant audio stops.
	HalfDuplexRelease time.Duration
}

// Load reads kiosk configuration from the environment.
// A .env file in the working directory is applied first if present.
func Load() Kiosk {
	_ = godotenv.Load()

	return Kiosk{
		ChannelURL:        getenv("KIOSK_CHANNEL_URL", DefaultChannelURL),
		APIBaseURL:        getenv("KIOSK_API_BASE_URL", DefaultAPIBaseURL),
		StoreURL:          getenv("KIOSK_STORE_URL", DefaultStoreURL),
		LogLevel:          getenv("KIOSK_LOG_LEVEL", "info"),
		Voice:             getenv("KIOSK_VOICE", "alloy"),
		Instructions:      getenv("KIOSK_INSTRUCTIONS", ""),
		SilenceDuration:   getenvMs("KIOSK_SILENCE_MS", 1000),
		HalfDuplexRelease: getenvMs("KIOSK_HALF_DUPLEX_RELEASE_MS", 800),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvMs(key string, fallback int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return time.Duration(fallback) * time.Millisecond
}
