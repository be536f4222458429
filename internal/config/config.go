// Package config loads client configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every tunable the client reads at startup.
type Config struct {
	// ServerURL is the base URL of the remote forum service.
	ServerURL string `env:"PARLEY_SERVER_URL" envDefault:"http://localhost:8080"`

	// DataDir is where durable local state (session identity, parked
	// outbox) lives.
	DataDir string `env:"PARLEY_DATA_DIR" envDefault:".parley"`

	RequestTimeout time.Duration `env:"PARLEY_REQUEST_TIMEOUT" envDefault:"10s"`

	// ReconnectDelay is the fixed wait between push-channel reconnect
	// attempts. No backoff, no retry cap.
	ReconnectDelay time.Duration `env:"PARLEY_RECONNECT_DELAY" envDefault:"5s"`

	// TypingIdle is how long after the last keystroke the typing-stop
	// signal fires.
	TypingIdle time.Duration `env:"PARLEY_TYPING_IDLE" envDefault:"2s"`

	// TypingTTL evicts a typing indicator whose stop signal never arrived.
	TypingTTL time.Duration `env:"PARLEY_TYPING_TTL" envDefault:"6s"`
}

// Load reads .env if present, then parses the environment.
func Load() (Config, error) {
	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("internal/config: parse env: %w", err)
	}

	return cfg, nil
}
