// Package scheduler periodically enqueues full effective-period
// reconstructions from the elected leader instance
package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrInvalidLease is returned when the lease is not longer than the renew interval
	ErrInvalidLease = errors.New("lease ttl must exceed renew interval")
	// ErrInvalidTickInterval is returned when the tick interval is not positive
	ErrInvalidTickInterval = errors.New("tick interval must be positive")
)

// Config defines scheduler configuration
type Config struct {
	Enabled        bool          `yaml:"enabled" default:"true"`
	ReconstructAll string        `yaml:"reconstructAll" default:"@every 1h"`
	LeaseTTL       time.Duration `yaml:"leaseTTL" default:"10s"`
	RenewInterval  time.Duration `yaml:"renewInterval" default:"3s"`
	TickInterval   time.Duration `yaml:"tickInterval" default:"1s"`
}

// Validate checks if the scheduler configuration is valid
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if _, err := parseSchedule(c.ReconstructAll); err != nil {
		return fmt.Errorf("reconstructAll: %w", err)
	}

	if c.RenewInterval <= 0 || c.LeaseTTL <= c.RenewInterval {
		return ErrInvalidLease
	}

	if c.TickInterval <= 0 {
		return ErrInvalidTickInterval
	}

	return nil
}

// parseSchedule accepts five-field cron expressions and descriptors such as
// "@hourly" or "@every 30m"
func parseSchedule(schedule string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

	sched, err := parser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid schedule format: %w", err)
	}

	return sched, nil
}
