package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-multierror"
)

type Config struct {
	Port         string        `env:"INDEX_SERVICE_PORT" envDefault:"8082"`
	RateLimit    int           `env:"RATE_LIMIT" envDefault:"100"`
	MongoURI     string        `env:"MONGODB_URI"`
	Queue        string        `env:"INDEX_QUEUE" envDefault:"indexsvc"`
	ResolvedTTL  time.Duration `env:"INDEX_RESOLVED_TTL" envDefault:"168h"` // 0 keeps resolved rooms forever
	WriteTimeout time.Duration `env:"INDEX_WRITE_TIMEOUT" envDefault:"10s"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var result *multierror.Error

	if c.MongoURI == "" {
		result = multierror.Append(result, fmt.Errorf("MONGODB_URI is required"))
	}
	if c.Queue == "" {
		result = multierror.Append(result, fmt.Errorf("INDEX_QUEUE must not be empty"))
	}
	if c.ResolvedTTL < 0 {
		result = multierror.Append(result, fmt.Errorf("INDEX_RESOLVED_TTL must not be negative"))
	}
	if c.WriteTimeout <= 0 {
		result = multierror.Append(result, fmt.Errorf("INDEX_WRITE_TIMEOUT must be positive"))
	}
	if c.RateLimit <= 0 {
		result = multierror.Append(result, fmt.Errorf("RATE_LIMIT must be positive"))
	}

	return result.ErrorOrNil()
}
