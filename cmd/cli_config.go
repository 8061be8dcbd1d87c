package cmd

import (
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/ethpandaops/bookkeeping/pkg/redis"
	"github.com/ethpandaops/bookkeeping/pkg/store"
	"gopkg.in/yaml.v3"
)

// CLIConfig represents minimal configuration for CLI commands
type CLIConfig struct {
	// Logging level
	Logging string `yaml:"logging" default:"error"`

	// Database configuration
	Database store.Config `yaml:"database"`

	// Redis configuration (optional, needed to queue reconstructions and to
	// lock scopes against a running engine)
	Redis *redis.Config    `yaml:"redis,omitempty"`
	Lock  redis.LockConfig `yaml:"lock"`
}

// Validate validates the CLI configuration
func (c *CLIConfig) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("invalid database configuration: %w", err)
	}

	if c.Redis == nil {
		return nil
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("invalid redis configuration: %w", err)
	}

	return c.Lock.Validate()
}

// LoadCLIConfig loads CLI configuration from a YAML file
func LoadCLIConfig(path string) (*CLIConfig, error) {
	if path == "" {
		path = "config.yaml"
	}

	config := &CLIConfig{}

	if err := defaults.Set(config); err != nil {
		return nil, err
	}

	// Try to read the file, but allow it to not exist
	yamlFile, err := os.ReadFile(path) //nolint:gosec // User-provided config file path
	if err != nil {
		if os.IsNotExist(err) {
			// File doesn't exist, use defaults
			return config, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(yamlFile, config); err != nil {
		return nil, err
	}

	return config, nil
}
