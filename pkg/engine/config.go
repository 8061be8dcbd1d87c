// Package engine wires the bookkeeping services together: store, Redis,
// reconciler, GAQ, API, worker and scheduler.
package engine

import (
	"errors"
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/ethpandaops/bookkeeping/pkg/api"
	"github.com/ethpandaops/bookkeeping/pkg/cache"
	"github.com/ethpandaops/bookkeeping/pkg/redis"
	"github.com/ethpandaops/bookkeeping/pkg/scheduler"
	"github.com/ethpandaops/bookkeeping/pkg/server"
	"github.com/ethpandaops/bookkeeping/pkg/store"
	"github.com/ethpandaops/bookkeeping/pkg/worker"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var (
	// ErrRedisRequired is returned when a Redis-backed service is enabled without Redis
	ErrRedisRequired = errors.New("redis configuration is required")
)

// Config represents the complete engine configuration
type Config struct {
	// Core settings
	Logging string        `yaml:"logging" default:"info"`
	Server  server.Config `yaml:",inline"`

	// Storage
	Database store.Config `yaml:"database"`

	// Redis is optional. Without it reconstructions run inline and there is
	// no cross-process scope lock, run bounds cache, worker or scheduler.
	Redis *redis.Config    `yaml:"redis"`
	Lock  redis.LockConfig `yaml:"lock"`
	Cache cache.Config     `yaml:"cache"`

	API       api.Config       `yaml:"api"`
	Worker    worker.Config    `yaml:"worker"`
	Scheduler scheduler.Config `yaml:"scheduler"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Logging); err != nil {
		return fmt.Errorf("invalid logging level: %w", err)
	}

	if err := c.Server.Validate(); err != nil {
		return err
	}

	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("invalid database configuration: %w", err)
	}

	if err := c.API.Validate(); err != nil {
		return err
	}

	if c.Redis == nil {
		if c.Worker.Enabled {
			return fmt.Errorf("%w: worker is enabled", ErrRedisRequired)
		}

		if c.Scheduler.Enabled {
			return fmt.Errorf("%w: scheduler is enabled", ErrRedisRequired)
		}

		return nil
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("invalid redis configuration: %w", err)
	}

	if err := c.Lock.Validate(); err != nil {
		return err
	}

	if err := c.Cache.Validate(); err != nil {
		return err
	}

	if err := c.Worker.Validate(); err != nil {
		return err
	}

	return c.Scheduler.Validate()
}

// LoadConfig reads a YAML configuration file on top of the defaults
func LoadConfig(path string) (*Config, error) {
	config := &Config{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	yamlFile, err := os.ReadFile(path) //nolint:gosec // User-provided config file path
	if err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(yamlFile, config); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return config, nil
}
