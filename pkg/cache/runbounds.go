// Package cache keeps run QC bounds in Redis so GAQ reads do not hit the
// run store for every summary.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethpandaops/bookkeeping/pkg/observability"
	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/store"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalidTTL is returned when the cache is enabled with a non-positive TTL
	ErrInvalidTTL = errors.New("cache ttl must be positive")
)

// Config tunes the run bounds cache
type Config struct {
	Enabled bool          `yaml:"enabled" default:"true"`
	TTL     time.Duration `yaml:"ttl" default:"5m"`
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Enabled && c.TTL <= 0 {
		return ErrInvalidTTL
	}

	return nil
}

// CachedBounds is the cached form of a run's QC bounds
type CachedBounds struct {
	RunNumber int64              `json:"run_number"`
	Bounds    qcflag.RunQcBounds `json:"bounds"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// RunBounds is a read-through cache in front of the run store
type RunBounds struct {
	log    logrus.FieldLogger
	client redis.UniversalClient
	store  store.Store
	ttl    time.Duration
	prefix func(string) string
}

// NewRunBounds creates a cache; prefix namespaces its keys
func NewRunBounds(log logrus.FieldLogger, client redis.UniversalClient, st store.Store, ttl time.Duration, prefix func(string) string) *RunBounds {
	return &RunBounds{
		log:    log.WithField("component", "run_bounds_cache"),
		client: client,
		store:  st,
		ttl:    ttl,
		prefix: prefix,
	}
}

func (c *RunBounds) key(runNumber int64) string {
	return c.prefix("run-bounds:" + strconv.FormatInt(runNumber, 10))
}

// GetQcBounds returns the cached bounds or loads and caches them. Redis
// failures fall back to the store.
func (c *RunBounds) GetQcBounds(ctx context.Context, runNumber int64) (qcflag.RunQcBounds, error) {
	cached, err := c.get(ctx, runNumber)
	if err != nil {
		c.log.WithError(err).WithField("run_number", runNumber).Warn("Failed to read run bounds cache")
	}

	if cached != nil {
		observability.RecordRunBoundsCacheHit()
		return cached.Bounds, nil
	}

	observability.RecordRunBoundsCacheMiss()

	var bounds qcflag.RunQcBounds

	if err := c.store.View(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		bounds, err = tx.Runs().GetQcBounds(ctx, runNumber)
		return err
	}); err != nil {
		return qcflag.RunQcBounds{}, err
	}

	if err := c.set(ctx, CachedBounds{RunNumber: runNumber, Bounds: bounds, UpdatedAt: time.Now().UTC()}); err != nil {
		c.log.WithError(err).WithField("run_number", runNumber).Warn("Failed to write run bounds cache")
	}

	return bounds, nil
}

// Invalidate drops the cached bounds of a run
func (c *RunBounds) Invalidate(ctx context.Context, runNumber int64) error {
	return c.client.Del(ctx, c.key(runNumber)).Err()
}

func (c *RunBounds) get(ctx context.Context, runNumber int64) (*CachedBounds, error) {
	data, err := c.client.Get(ctx, c.key(runNumber)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}

		return nil, err
	}

	var cached CachedBounds
	if err := json.Unmarshal([]byte(data), &cached); err != nil {
		_ = c.client.Del(ctx, c.key(runNumber))
		return nil, fmt.Errorf("corrupt cache entry: %w", err)
	}

	return &cached, nil
}

func (c *RunBounds) set(ctx context.Context, cached CachedBounds) error {
	data, err := json.Marshal(cached)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, c.key(cached.RunNumber), data, c.ttl).Err()
}

var _ store.RunLookup = (*RunBounds)(nil)
