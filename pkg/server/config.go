// Package server runs the operational HTTP endpoints next to the engine:
// Prometheus metrics, health and readiness probes, and pprof.
package server

import (
	"errors"
	"time"
)

// ErrInvalidShutdownTimeout is returned for negative shutdown timeouts
var ErrInvalidShutdownTimeout = errors.New("shutdown timeout must not be negative")

// Config holds the operational server configuration
type Config struct {
	// MetricsAddr is the address to listen on for metrics. Empty disables it.
	MetricsAddr string `yaml:"metricsAddr" default:":9091"`
	// HealthCheckAddr is the address to listen on for /health and /ready.
	HealthCheckAddr *string `yaml:"healthCheckAddr"`
	// PProfAddr is the address to listen on for pprof.
	PProfAddr *string `yaml:"pprofAddr"`
	// ShutdownTimeout bounds the graceful shutdown of every listener.
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"10s"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.ShutdownTimeout < 0 {
		return ErrInvalidShutdownTimeout
	}

	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 10 * time.Second
	}

	return nil
}
