// Package worker runs the asynq server executing reconstruction tasks
package worker

import (
	"errors"
	"time"

	"github.com/ethpandaops/bookkeeping/pkg/tasks"
)

var (
	// ErrInvalidConcurrency is returned when concurrency is not positive
	ErrInvalidConcurrency = errors.New("concurrency must be positive")
)

// Config contains worker-specific settings
type Config struct {
	Enabled         bool          `yaml:"enabled" default:"true"`
	Concurrency     int           `yaml:"concurrency" default:"4"`
	Queue           string        `yaml:"queue"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"30s"`
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}

	if c.Queue == "" {
		c.Queue = tasks.QueueReconstruction
	}

	return nil
}
