// Package config loads runtime configuration from the environment, with a
// .env file picked up in development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full runtime configuration.
type Config struct {
	// Addr is the listen address for the websocket server.
	Addr string

	// Model is the completion model identifier. The API key itself is read
	// from ANTHROPIC_API_KEY by the SDK.
	Model string

	// MaxTokens caps each completion response.
	MaxTokens int64

	// JournalPath is the SQLite trade journal file. Empty disables journaling.
	JournalPath string

	// IntentConfigPath optionally overrides the intent keyword lists.
	IntentConfigPath string

	// HistoryMax bounds the retained conversation history per session.
	HistoryMax int

	// SessionTTL is the inactivity window before a session expires.
	SessionTTL time.Duration

	// SweepInterval is how often expired sessions are collected.
	SweepInterval time.Duration

	// ValidateInterval is how often broker handles are probed for validity.
	ValidateInterval time.Duration

	// ConfirmTTL is how long a staged trade stays confirmable.
	ConfirmTTL time.Duration

	// QuoteTTL is the quote cache freshness window.
	QuoteTTL time.Duration

	// AngelOneAPIKey enables the AngelOne broker when set.
	AngelOneAPIKey string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first if present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Addr:             env("BROKERBOT_ADDR", ":8080"),
		Model:            env("BROKERBOT_MODEL", "claude-sonnet-4-5"),
		JournalPath:      env("BROKERBOT_JOURNAL", "brokerbot.db"),
		IntentConfigPath: os.Getenv("BROKERBOT_INTENT_CONFIG"),
		AngelOneAPIKey:   os.Getenv("ANGELONE_API_KEY"),
	}

	var err error
	if cfg.MaxTokens, err = envInt64("BROKERBOT_MAX_TOKENS", 2048); err != nil {
		return cfg, err
	}
	maxHistory, err := envInt64("BROKERBOT_HISTORY_MAX", 20)
	if err != nil {
		return cfg, err
	}
	cfg.HistoryMax = int(maxHistory)
	if cfg.SessionTTL, err = envDuration("BROKERBOT_SESSION_TTL", time.Hour); err != nil {
		return cfg, err
	}
	if cfg.SweepInterval, err = envDuration("BROKERBOT_SWEEP_INTERVAL", time.Minute); err != nil {
		return cfg, err
	}
	if cfg.ValidateInterval, err = envDuration("BROKERBOT_VALIDATE_INTERVAL", 30*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.ConfirmTTL, err = envDuration("BROKERBOT_CONFIRM_TTL", 3*time.Minute); err != nil {
		return cfg, err
	}
	if cfg.QuoteTTL, err = envDuration("BROKERBOT_QUOTE_TTL", 2*time.Second); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
