// Package config loads server settings from the environment.
// A .env file in the working directory is read first when present.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds every setting the server reads from the environment.
type Config struct {
	Port         string `env:"PORT" envDefault:"5175"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./data/memory.db"`
	Environment  string `env:"NODE_ENV" envDefault:"development"`

	ClientOrigin string `env:"CLIENT_ORIGIN" envDefault:"http://localhost:5173"`
	CookieName   string `env:"COOKIE_NAME" envDefault:"memory_token"`
	JWTSecret    string `env:"JWT_SECRET" envDefault:"dev_secret_change_me"`

	LevelsFile        string `env:"LEVELS_FILE"`
	IllustrationsFile string `env:"ILLUSTRATIONS_FILE"`
	DailySalt         string `env:"DAILY_SALT" envDefault:"local_dev_salt"`
	DailyLevel        string `env:"DAILY_LEVEL" envDefault:"medium"`

	ReversalDelay  time.Duration `env:"REVERSAL_DELAY" envDefault:"1s"`
	RequestTimeout time.Duration `env:"REQUEST_TIMEOUT" envDefault:"10s"`

	// Sessions untouched for SessionTTL are dropped; zero keeps them forever.
	SessionTTL           time.Duration `env:"SESSION_TTL" envDefault:"2h"`
	SessionSweepInterval time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"5m"`
}

// Production reports whether cookies must be Secure/SameSite=None.
func (c Config) Production() bool { return c.Environment == "production" }

// Load reads .env (if any) and parses the environment into a Config.
func Load() (Config, error) {
	_ = godotenv.Load()
	return Parse()
}

// Parse parses the current environment without touching .env files.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if cfg.ReversalDelay <= 0 {
		return Config{}, fmt.Errorf("parse env: REVERSAL_DELAY must be positive, got %s", cfg.ReversalDelay)
	}
	return cfg, nil
}
