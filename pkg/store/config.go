package store

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DriverMemory keeps everything in process memory
	DriverMemory = "memory"
	// DriverPostgres stores into PostgreSQL through lib/pq
	DriverPostgres = "postgres"
	// DriverSQLite stores into an SQLite database file
	DriverSQLite = "sqlite3"
)

var (
	// ErrUnknownDriver is returned for drivers other than memory, postgres and sqlite3
	ErrUnknownDriver = errors.New("unknown database driver")
	// ErrDSNRequired is returned when a SQL driver is configured without a DSN
	ErrDSNRequired = errors.New("database dsn is required")
)

// Config selects and tunes the backing store
type Config struct {
	Driver          string        `yaml:"driver" default:"memory"`
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"maxOpenConns" default:"10"`
	MaxIdleConns    int           `yaml:"maxIdleConns" default:"5"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" default:"30m"`
	Migrate         bool          `yaml:"migrate" default:"true"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMemory:
		return nil
	case DriverPostgres, DriverSQLite:
		if c.DSN == "" {
			return fmt.Errorf("%w for driver %s", ErrDSNRequired, c.Driver)
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
	}
}
