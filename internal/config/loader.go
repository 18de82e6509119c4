package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering defaults, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New)
//  2. file (YAML) if VITA_CONFIG is set
//  3. env (prefix VITA_)
func Load(ctx context.Context) (*Config, error) {
	_ = ctx // reserved; loading is purely local today

	base := New()

	k := koanf.New(".")

	// Load from file if provided
	if path := os.Getenv("VITA_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
		}
	}

	// Environment variables: VITA_ADDR, VITA_DB_PATH, VITA_QUEUE_SIZE, ...
	// Keys map like VITA_QUEUE_SIZE -> queue_size, matching the koanf tags.
	envProvider := env.Provider("VITA_", ".", func(s string) string {
		s = strings.ToLower(s)
		s = strings.TrimPrefix(s, "vita_")
		return s
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	// Unmarshal into a copy
	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// validate rejects configurations the service cannot run with.
func (c *Config) validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.DBPath == "":
		return fmt.Errorf("%w: db_path must not be empty", ErrInvalidConfig)
	case c.QueueSize <= 0:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount <= 0:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.MaxAttempts < 1:
		return fmt.Errorf("%w: max_attempts must be at least 1", ErrInvalidConfig)
	case c.MinSamples < 2:
		return fmt.Errorf("%w: min_samples must be at least 2", ErrInvalidConfig)
	case c.SignificanceThreshold <= 0 || c.SignificanceThreshold >= 1:
		return fmt.Errorf("%w: significance_threshold must be in (0, 1)", ErrInvalidConfig)
	case c.WindowDays < 1:
		return fmt.Errorf("%w: window_days must be positive", ErrInvalidConfig)
	case c.MaxLagDays < 0:
		return fmt.Errorf("%w: max_lag_days must not be negative", ErrInvalidConfig)
	}
	return nil
}
