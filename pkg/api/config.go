// Package api exposes the QC flag, GAQ and run classification operations over HTTP.
package api

import (
	"errors"
	"time"
)

// ErrAPIAddrRequired is returned when API is enabled but no address is configured
var (
	ErrAPIAddrRequired = errors.New("api address is required when API is enabled")
)

// Config represents API service configuration
type Config struct {
	Enabled         bool          `yaml:"enabled" default:"true"`
	Addr            string        `yaml:"addr" default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"10s"`
	// QueueReconstructions hands reconstructions to the workers when Redis is configured
	QueueReconstructions bool `yaml:"queueReconstructions" default:"true"`
}

// Validate validates the API configuration
func (c *Config) Validate() error {
	if c.Enabled && c.Addr == "" {
		return ErrAPIAddrRequired
	}

	return nil
}
