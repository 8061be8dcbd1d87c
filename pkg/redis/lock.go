package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethpandaops/bookkeeping/pkg/observability"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var (
	// ErrLockTimeout is returned when a lock could not be acquired in time
	ErrLockTimeout = errors.New("timed out waiting for lock")
	// ErrLockLost is returned on release when the lease expired and another
	// holder took the lock
	ErrLockLost = errors.New("lock lost before release")
	// ErrInvalidLockTTL is returned for non-positive lock TTLs
	ErrInvalidLockTTL = errors.New("lock ttl must be positive")
)

// LockConfig tunes the scope locker
type LockConfig struct {
	TTL           time.Duration `yaml:"ttl" default:"30s"`
	RetryInterval time.Duration `yaml:"retryInterval" default:"50ms"`
	WaitTimeout   time.Duration `yaml:"waitTimeout" default:"10s"`
}

// Validate checks if the configuration is valid
func (c *LockConfig) Validate() error {
	if c.TTL <= 0 {
		return ErrInvalidLockTTL
	}

	if c.RetryInterval <= 0 {
		c.RetryInterval = 50 * time.Millisecond
	}

	return nil
}

// releaseScript deletes the key only while it still holds our token
//
//nolint:gochecknoglobals // compiled once, shared by every locker
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// renewScript extends the lease only while it still holds our token
//
//nolint:gochecknoglobals // compiled once, shared by every locker
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// ScopeLocker is a lease-based mutual exclusion lock in Redis. A held lock is
// renewed in the background until released.
type ScopeLocker struct {
	log    logrus.FieldLogger
	client redis.UniversalClient
	cfg    LockConfig
	prefix func(string) string
}

// NewScopeLocker creates a locker storing its keys under the configured prefix
func NewScopeLocker(log logrus.FieldLogger, client redis.UniversalClient, redisCfg *Config, cfg LockConfig) *ScopeLocker {
	return &ScopeLocker{
		log:    log.WithField("component", "scope_locker"),
		client: client,
		cfg:    cfg,
		prefix: func(key string) string { return redisCfg.PrefixKey("lock:" + key) },
	}
}

// Lock blocks until the lock is held, the wait timeout elapses or ctx ends
func (l *ScopeLocker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	redisKey := l.prefix(key)
	token := uuid.New().String()
	start := time.Now()

	waitCtx := ctx

	if l.cfg.WaitTimeout > 0 {
		var cancel context.CancelFunc

		waitCtx, cancel = context.WithTimeout(ctx, l.cfg.WaitTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(l.cfg.RetryInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(waitCtx, redisKey, token, l.cfg.TTL).Result()
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("failed to acquire %s: %w", key, err)
		}

		if ok {
			break
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}

			return nil, fmt.Errorf("%w: %s after %s", ErrLockTimeout, key, l.cfg.WaitTimeout)
		case <-ticker.C:
		}
	}

	observability.RecordLockWait(time.Since(start).Seconds())

	l.log.WithField("key", key).Debug("Acquired lock")

	lease := &lease{
		locker: l,
		key:    redisKey,
		token:  token,
		done:   make(chan struct{}),
	}

	lease.wg.Add(1)

	go lease.renew()

	return lease.release, nil
}

type lease struct {
	locker *ScopeLocker
	key    string
	token  string

	once sync.Once
	done chan struct{}
	wg   sync.WaitGroup
}

func (l *lease) renew() {
	defer l.wg.Done()

	ticker := time.NewTicker(l.locker.cfg.TTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.locker.cfg.TTL/3)
			renewed, err := renewScript.Run(ctx, l.locker.client, []string{l.key}, l.token, l.locker.cfg.TTL.Milliseconds()).Int()
			cancel()

			if err != nil {
				l.locker.log.WithError(err).WithField("key", l.key).Warn("Failed to renew lock")
				continue
			}

			if renewed == 0 {
				l.locker.log.WithField("key", l.key).Warn("Lock expired before renewal")
				return
			}
		}
	}
}

func (l *lease) release(ctx context.Context) error {
	var err error

	l.once.Do(func() {
		close(l.done)
		l.wg.Wait()

		var deleted int

		deleted, err = releaseScript.Run(ctx, l.locker.client, []string{l.key}, l.token).Int()
		if err != nil {
			err = fmt.Errorf("failed to release %s: %w", l.key, err)
			return
		}

		if deleted == 0 {
			err = fmt.Errorf("%w: %s", ErrLockLost, l.key)
		}
	})

	return err
}
