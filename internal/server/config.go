// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the relay.
package server

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `validate:"gt=0"`
	RefillInterval time.Duration `validate:"gt=0"`
}

// Config holds the relay configuration: transport limits, origin checks,
// the external store endpoint, and timing of the trackers.
type Config struct {
	Port            string   `validate:"required"`
	AllowedOrigins  []string `validate:"dive,required"`
	MaxMessageSize  int64    `validate:"gt=0"`
	RateLimit       RateLimitConfig
	StoreURL        string        `validate:"required,url"`
	StoreTimeout    time.Duration `validate:"gt=0"`
	TypingTTL       time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	LogLevel        string        `validate:"required"`
	ServiceName     string        `validate:"required"`
	OTLPEndpoint    string        `validate:"omitempty,url"`
}

// envConfig mirrors Config in the flat shape the environment provides.
type envConfig struct {
	Port                    string        `env:"SERVER_PORT,default=:8080"`
	AllowedOrigins          string        `env:"ALLOWED_ORIGINS,default=http://localhost:8080"`
	MaxMessageSize          int           `env:"MAX_MESSAGE_SIZE,default=65536"`
	RateLimitBurst          int           `env:"RATE_LIMIT_BURST,default=20"`
	RateLimitRefillInterval time.Duration `env:"RATE_LIMIT_REFILL_INTERVAL,default=1s"`
	StoreURL                string        `env:"STORE_URL,default=http://localhost:3000"`
	StoreTimeout            time.Duration `env:"STORE_TIMEOUT,default=10s"`
	TypingTTL               time.Duration `env:"TYPING_TTL,default=3s"`
	ShutdownTimeout         time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s"`
	LogLevel                string        `env:"LOG_LEVEL,default=info"`
	ServiceName             string        `env:"OTEL_SERVICE_NAME,default=gochat-relay"`
	OTLPEndpoint            string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

var (
	configMu     sync.RWMutex
	activeConfig Config
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 64 * 1024,
		RateLimit: RateLimitConfig{
			Burst:          20,
			RefillInterval: time.Second,
		},
		StoreURL:        "http://localhost:3000",
		StoreTimeout:    10 * time.Second,
		TypingTTL:       3 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		ServiceName:     "gochat-relay",
	}
}

func sanitizeConfig(cfg Config) Config {
	defaults := defaultConfig()

	if cfg.Port == "" {
		cfg.Port = defaults.Port
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaults.MaxMessageSize
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = defaults.RateLimit.Burst
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = defaults.RateLimit.RefillInterval
	}

	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaults.StoreTimeout
	}

	if cfg.TypingTTL <= 0 {
		cfg.TypingTTL = defaults.TypingTTL
	}

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = defaults.ShutdownTimeout
	}

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		sanitizeConfig(defaultConfig())
		return
	}

	sanitized := *cfg
	sanitized.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	sanitizeConfig(sanitized)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv reads the configuration from environment variables,
// falling back to defaults for anything unset, and validates the result.
func NewConfigFromEnv() (*Config, error) {
	var raw envConfig
	if _, err := env.UnmarshalFromEnviron(&raw); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}

	cfg := Config{
		Port:           raw.Port,
		AllowedOrigins: parseOrigins(raw.AllowedOrigins),
		MaxMessageSize: int64(raw.MaxMessageSize),
		RateLimit: RateLimitConfig{
			Burst:          raw.RateLimitBurst,
			RefillInterval: raw.RateLimitRefillInterval,
		},
		StoreURL:        raw.StoreURL,
		StoreTimeout:    raw.StoreTimeout,
		TypingTTL:       raw.TypingTTL,
		ShutdownTimeout: raw.ShutdownTimeout,
		LogLevel:        strings.ToLower(raw.LogLevel),
		ServiceName:     raw.ServiceName,
		OTLPEndpoint:    raw.OTLPEndpoint,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first set of invalid fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// LogValue keeps the startup log line compact.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("port", c.Port),
		slog.Any("allowedOrigins", c.AllowedOrigins),
		slog.Int64("maxMessageSize", c.MaxMessageSize),
		slog.Int("rateLimitBurst", c.RateLimit.Burst),
		slog.Duration("rateLimitRefill", c.RateLimit.RefillInterval),
		slog.String("storeURL", c.StoreURL),
		slog.Duration("typingTTL", c.TypingTTL),
	)
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	cleaned := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}
