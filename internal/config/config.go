package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	MasterPassphrase string   `env:"MASTER_PASSPHRASE,required"`
	DatabaseURL      string   `env:"DATABASE_URL"`
	Port             int      `env:"PORT,default=8080"`
	LogLevel         string   `env:"LOG_LEVEL,default=info"`
	CORSOrigins      []string `env:"CORS_ORIGINS"`

	// Outbound proxy limits
	ProxyTimeout      time.Duration `env:"PROXY_TIMEOUT,default=30s"`
	MaxProxyBodyBytes int64         `env:"MAX_PROXY_BODY_BYTES,default=10485760"`

	// HTTP server timeouts
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT,default=45s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT,default=60s"`

	// Authentication failure limiter
	AuthMaxFailures   int           `env:"AUTH_MAX_FAILURES,default=5"`
	AuthFailureWindow time.Duration `env:"AUTH_FAILURE_WINDOW,default=5m"`
	AuthBlockDuration time.Duration `env:"AUTH_BLOCK_DURATION,default=15m"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.MasterPassphrase) < 12 {
		return fmt.Errorf("MASTER_PASSPHRASE must be at least 12 characters")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got %q", c.LogLevel)
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}

	if c.ProxyTimeout <= 0 {
		return fmt.Errorf("PROXY_TIMEOUT must be positive, got %s", c.ProxyTimeout)
	}
	if c.MaxProxyBodyBytes < 1024 {
		return fmt.Errorf("MAX_PROXY_BODY_BYTES must be at least 1024, got %d", c.MaxProxyBodyBytes)
	}

	return nil
}

// UseMemoryStore reports whether the broker should run against the in-memory
// store instead of Postgres. Intended for local development only; nothing
// survives a restart.
func (c *Config) UseMemoryStore() bool {
	return c.DatabaseURL == ""
}
