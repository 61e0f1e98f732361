package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the engine's environment-driven configuration.
type Config struct {
	// ServerURL is the websocket endpoint of the remote voice service.
	ServerURL string

	// ClientID identifies this client in issued tokens.
	ClientID string

	// AuthSecret signs the dial token. Empty disables authentication.
	AuthSecret string

	// MongoURI enables the MongoDB session repository when non-empty.
	MongoURI      string
	MongoDatabase string

	// WireLogCap bounds the connection's send/receive log.
	WireLogCap int

	// MaxRecordingDuration force-stops a recording.
	MaxRecordingDuration time.Duration

	// Port is the listen port for the dev server.
	Port string
}

// Load reads configuration from the environment, with a .env file as an
// optional overlay.
func Load() (*Config, error) {
	// Missing .env is fine; real environments set variables directly.
	_ = godotenv.Load()

	cfg := &Config{
		ServerURL:            getEnv("VOICEWIRE_SERVER_URL", "ws://localhost:8080/ws"),
		ClientID:             getEnv("VOICEWIRE_CLIENT_ID", "voicewire-client"),
		AuthSecret:           os.Getenv("VOICEWIRE_AUTH_SECRET"),
		MongoURI:             os.Getenv("MONGODB_URI"),
		MongoDatabase:        getEnv("MONGODB_DATABASE", "voicewire"),
		WireLogCap:           512,
		MaxRecordingDuration: 5 * time.Minute,
		Port:                 getEnv("PORT", "8080"),
	}

	if raw := os.Getenv("VOICEWIRE_LOG_CAP"); raw != "" {
		cap, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid VOICEWIRE_LOG_CAP: %w", err)
		}
		cfg.WireLogCap = cap
	}

	if raw := os.Getenv("VOICEWIRE_MAX_RECORDING_MS"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid VOICEWIRE_MAX_RECORDING_MS: %w", err)
		}
		cfg.MaxRecordingDuration = time.Duration(ms) * time.Millisecond
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration values.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server url is required")
	}
	if c.WireLogCap <= 0 {
		return errors.New("wire log cap must be positive")
	}
	if c.MaxRecordingDuration <= 0 {
		return errors.New("max recording duration must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
