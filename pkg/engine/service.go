package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethpandaops/bookkeeping/pkg/api"
	"github.com/ethpandaops/bookkeeping/pkg/api/handlers"
	"github.com/ethpandaops/bookkeeping/pkg/cache"
	"github.com/ethpandaops/bookkeeping/pkg/gaq"
	"github.com/ethpandaops/bookkeeping/pkg/reconciler"
	"github.com/ethpandaops/bookkeeping/pkg/redis"
	"github.com/ethpandaops/bookkeeping/pkg/scheduler"
	"github.com/ethpandaops/bookkeeping/pkg/server"
	"github.com/ethpandaops/bookkeeping/pkg/store"
	"github.com/ethpandaops/bookkeeping/pkg/tasks"
	"github.com/ethpandaops/bookkeeping/pkg/worker"
	r "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Service encapsulates the engine application logic
type Service struct {
	config *Config
	log    logrus.FieldLogger

	store       store.Store
	redisClient *r.Client
	queue       *tasks.QueueManager

	reconciler reconciler.Service
	gaq        gaq.Service

	api       api.Service
	worker    worker.Service
	scheduler scheduler.Service
	ops       *server.Server

	stopOnce sync.Once
	stopErr  error
}

// NewService opens the store and Redis and builds every enabled service
func NewService(ctx context.Context, log logrus.FieldLogger, cfg *Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	st, err := OpenStore(ctx, log, cfg.Database)
	if err != nil {
		return nil, err
	}

	s := &Service{
		config: cfg,
		log:    log.WithField("component", "engine"),
		store:  st,
	}

	if err := s.setup(log); err != nil {
		return nil, errors.Join(err, s.close())
	}

	return s, nil
}

func (s *Service) setup(log logrus.FieldLogger) error {
	var (
		cfg            = s.config
		reconcilerOpts []reconciler.Option
		gaqOpts        []gaq.Option
		deps           = handlers.Dependencies{Store: s.store}
	)

	if cfg.Redis != nil {
		opt, err := cfg.Redis.Options()
		if err != nil {
			return err
		}

		s.redisClient = r.NewClient(opt)

		reconcilerOpts = append(reconcilerOpts,
			reconciler.WithLocker(redis.NewScopeLocker(log, s.redisClient, cfg.Redis, cfg.Lock)))

		if cfg.Cache.Enabled {
			runBounds := cache.NewRunBounds(log, s.redisClient, s.store, cfg.Cache.TTL, cfg.Redis.PrefixKey)
			gaqOpts = append(gaqOpts, gaq.WithRunLookup(runBounds))
			deps.RunBounds = runBounds
		}

		s.queue = tasks.NewQueueManager(redis.AsynqOptions(opt), cfg.Redis.PrefixQueue(cfg.Worker.Queue))

		if cfg.API.QueueReconstructions {
			deps.Queue = s.queue
		}
	}

	s.reconciler = reconciler.NewService(log, s.store, reconcilerOpts...)
	s.gaq = gaq.NewService(log, s.store, gaqOpts...)

	deps.Reconciler = s.reconciler
	deps.GAQ = s.gaq

	if cfg.API.Enabled {
		s.api = api.NewService(&cfg.API, deps, log)
	}

	if cfg.Redis != nil && cfg.Worker.Enabled {
		workerCfg := cfg.Worker
		workerCfg.Queue = s.queue.Queue()

		opt, err := cfg.Redis.Options()
		if err != nil {
			return err
		}

		s.worker, err = worker.NewService(log, &workerCfg, redis.AsynqOptions(opt), s.reconciler)
		if err != nil {
			return fmt.Errorf("failed to create worker service: %w", err)
		}
	}

	if cfg.Redis != nil && cfg.Scheduler.Enabled {
		var err error

		s.scheduler, err = scheduler.NewService(log, &cfg.Scheduler, s.redisClient, cfg.Redis.PrefixKey, s.queue)
		if err != nil {
			return fmt.Errorf("failed to create scheduler service: %w", err)
		}
	}

	s.ops = server.NewServer(log, &cfg.Server, s.Ready)

	return nil
}

// Reconciler exposes the effective-period reconciler
func (s *Service) Reconciler() reconciler.Service {
	return s.reconciler
}

// GAQ exposes the GAQ aggregator
func (s *Service) GAQ() gaq.Service {
	return s.gaq
}

// Ready checks that the store and Redis are reachable
func (s *Service) Ready(ctx context.Context) error {
	if err := s.store.View(ctx, func(context.Context, store.Tx) error { return nil }); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	if s.redisClient != nil {
		if err := s.redisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}

	return nil
}

// Run starts every service and blocks until ctx is done or a listener fails
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("Starting bookkeeping engine...")

	g, ctx := errgroup.WithContext(ctx)

	if err := s.start(ctx); err != nil {
		return errors.Join(err, s.Stop())
	}

	s.log.Info("Bookkeeping engine started successfully")

	g.Go(func() error {
		return s.ops.Run(ctx)
	})

	g.Go(func() error {
		<-ctx.Done()

		return s.Stop()
	})

	return g.Wait()
}

func (s *Service) start(ctx context.Context) error {
	if s.api != nil {
		if err := s.api.Start(ctx); err != nil {
			return fmt.Errorf("failed to start API service: %w", err)
		}
	}

	if s.worker != nil {
		if err := s.worker.Start(ctx); err != nil {
			return fmt.Errorf("failed to start worker: %w", err)
		}
	}

	if s.scheduler != nil {
		if err := s.scheduler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	return nil
}

// Stop gracefully shuts down every service. Later calls return the first result.
func (s *Service) Stop() error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop()
	})

	return s.stopErr
}

func (s *Service) stop() error {
	s.log.Info("Shutting down engine...")

	stopService := func(name string, stopFunc func() error) {
		if err := stopFunc(); err != nil {
			s.log.WithError(err).Errorf("Failed to stop %s", name)
		}
	}

	// 1. Stop scheduler first (stop creating new tasks)
	if s.scheduler != nil {
		stopService("scheduler service", s.scheduler.Stop)
	}

	// 2. Stop worker (finish in-flight reconstructions)
	if s.worker != nil {
		stopService("worker service", s.worker.Stop)
	}

	// 3. Stop API
	if s.api != nil {
		stopService("API service", s.api.Stop)
	}

	return s.close()
}

// close releases the queue, Redis and the store; the store error is returned
func (s *Service) close() error {
	if s.queue != nil {
		if err := s.queue.Close(); err != nil {
			s.log.WithError(err).Error("Failed to close task queue")
		}
	}

	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.log.WithError(err).Error("Failed to close Redis client")
		}
	}

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	return nil
}
