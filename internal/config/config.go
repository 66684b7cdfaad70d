package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	DBFile      string        `envconfig:"MUTUALS_DB" default:"mutuals.db"`
	APIAddr     string        `envconfig:"API_ADDR" default:":8080"`
	AdminAddr   string        `envconfig:"ADMIN_ADDR" default:"localhost:8081"`
	BaseURL     string        `envconfig:"BASE_URL" default:"http://localhost:8080"`
	TokenExpiry time.Duration `envconfig:"TOKEN_EXPIRY" default:"24h"`
	LogLevel    string        `envconfig:"LOG_LEVEL" default:"info"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.TokenExpiry <= 0 {
		return fmt.Errorf("TOKEN_EXPIRY must be greater than 0")
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

func (c *Config) SlogLevel() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown LOG_LEVEL %q", c.LogLevel)
}
