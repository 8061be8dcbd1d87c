package worker

import (
	"context"
	"fmt"

	"github.com/ethpandaops/bookkeeping/pkg/observability"
	"github.com/ethpandaops/bookkeeping/pkg/tasks"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Service defines the public interface for the worker service
type Service interface {
	// Start initializes and starts the worker service
	Start(ctx context.Context) error

	// Stop gracefully shuts down the worker service
	Stop() error
}

type service struct {
	config *Config
	log    logrus.FieldLogger

	redisOpt      asynq.RedisClientOpt
	reconstructor tasks.Reconstructor

	server *asynq.Server
}

// NewService creates a new worker
func NewService(log logrus.FieldLogger, cfg *Config, redisOpt asynq.RedisClientOpt, reconstructor tasks.Reconstructor) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &service{
		log:           log.WithField("service", "worker"),
		config:        cfg,
		redisOpt:      redisOpt,
		reconstructor: reconstructor,
	}, nil
}

// Start initializes and starts the worker service
func (s *service) Start(_ context.Context) error {
	handler := tasks.NewTaskHandler(s.log, s.reconstructor)

	srv := asynq.NewServer(s.redisOpt, asynq.Config{
		Concurrency:     s.config.Concurrency,
		Queues:          map[string]int{s.config.Queue: 10},
		ShutdownTimeout: s.config.ShutdownTimeout,
		Logger:          s.log.WithField("component", "asynq"),
		LogLevel:        asynq.WarnLevel,
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			observability.RecordError("worker", task.Type())
			s.log.WithError(err).WithField("task", task.Type()).Warn("Task failed")
		}),
	})

	mux := asynq.NewServeMux()
	for taskType, handlerFunc := range handler.Routes() {
		mux.HandleFunc(taskType, handlerFunc)
	}

	if err := srv.Start(mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}

	s.server = srv

	s.log.WithFields(logrus.Fields{
		"queue":       s.config.Queue,
		"concurrency": s.config.Concurrency,
	}).Info("Worker service started successfully")

	return nil
}

// Stop gracefully shuts down the worker
func (s *service) Stop() error {
	if s.server != nil {
		s.server.Shutdown()
	}

	s.log.Info("Worker service stopped successfully")

	return nil
}

var _ Service = (*service)(nil)
