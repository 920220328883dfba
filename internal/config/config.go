// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Mode selects the relay behavior.
type Mode string

const (
	ModeRooms     Mode = "rooms"
	ModeBroadcast Mode = "broadcast"
)

// Backend selects where history lives.
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendRedis    Backend = "redis"
	BackendPostgres Backend = "postgres"
)

// Config holds all configuration for the application.
type Config struct {
	Port     string `env:"SERVER_PORT" envDefault:":8080"`
	Env      string `env:"APP_ENV" envDefault:"development"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Mode     Mode   `env:"RELAY_MODE" envDefault:"rooms"`

	// Transport
	AllowedOrigins          []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:8080"`
	MaxMessageSize          int64         `env:"MAX_MESSAGE_SIZE" envDefault:"4096"`
	RateLimitBurst          int           `env:"RATE_LIMIT_BURST" envDefault:"5"`
	RateLimitRefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL" envDefault:"1s"`

	// Storage
	HistoryBackend Backend `env:"HISTORY_BACKEND" envDefault:"memory"`
	RedisURL       string  `env:"REDIS_URL"`
	DatabaseURL    string  `env:"DATABASE_URL"`

	AutoReplyRulesFile string `env:"AUTOREPLY_RULES_FILE"`

	// Push notifications
	VAPIDPublicKey    string `env:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey   string `env:"VAPID_PRIVATE_KEY"`
	VAPIDSubject      string `env:"VAPID_SUBJECT" envDefault:"mailto:example@example.com"`
	NotifyTitle       string `env:"NOTIFY_TITLE" envDefault:"Pesan Baru dari Admin"`
	NotifyMaxInFlight int64  `env:"NOTIFY_MAX_IN_FLIGHT" envDefault:"16"`
	NotifyMaxPending  int64  `env:"NOTIFY_MAX_PENDING" envDefault:"256"`
	NotifyTTL         int    `env:"NOTIFY_TTL" envDefault:"30"`

	// Uploads
	UploadDir      string `env:"UPLOAD_DIR" envDefault:"uploads"`
	UploadMaxBytes int64  `env:"UPLOAD_MAX_BYTES" envDefault:"10485760"`

	StatsSchedule   string        `env:"STATS_SCHEDULE" envDefault:"@every 1m"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Load reads configuration from environment variables, after loading a
// .env file if one exists.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Parse()
}

// Parse reads configuration from the current environment only.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks enumerations and the settings each backend requires.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeRooms, ModeBroadcast:
	default:
		return fmt.Errorf("invalid RELAY_MODE %q", c.Mode)
	}

	switch c.HistoryBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required for the %s backend", c.HistoryBackend)
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for the %s backend", c.HistoryBackend)
		}
	default:
		return fmt.Errorf("invalid HISTORY_BACKEND %q", c.HistoryBackend)
	}

	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("UPLOAD_MAX_BYTES must be positive, got %d", c.UploadMaxBytes)
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// PushEnabled reports whether VAPID credentials are configured.
func (c *Config) PushEnabled() bool {
	return c.VAPIDPublicKey != "" && c.VAPIDPrivateKey != ""
}

// NewLogger builds the root logger: console output in development, JSON
// otherwise.
func (c *Config) NewLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if c.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}
	return logger.Level(level)
}
