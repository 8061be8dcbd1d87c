package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethpandaops/bookkeeping/pkg/observability"
	"github.com/ethpandaops/bookkeeping/pkg/tasks"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	// JobReconstructAll is the scheduled full reconstruction
	JobReconstructAll = "reconstruct-all"
)

// Service defines the public interface for the scheduler
type Service interface {
	// Start joins the leader election and runs scheduled jobs while leader
	Start(ctx context.Context) error

	// Stop gracefully shuts down the scheduler service
	Stop() error

	// IsLeader reports whether this instance currently runs the schedule
	IsLeader() bool
}

// Enqueuer publishes reconstruction tasks
type Enqueuer interface {
	EnqueueReconstructAll(trigger string, opts ...asynq.Option) (string, error)
}

type service struct {
	log logrus.FieldLogger
	cfg *Config

	done chan struct{}
	wg   sync.WaitGroup

	elector LeaderElector
	ticker  *ticker
}

// NewService creates a new scheduler service. Keys are namespaced with prefix.
func NewService(log logrus.FieldLogger, cfg *Config, client redis.UniversalClient, prefix func(string) string, queue Enqueuer) (Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	schedule, err := parseSchedule(cfg.ReconstructAll)
	if err != nil {
		return nil, err
	}

	log = log.WithField("service", "scheduler")

	jobs := []scheduledJob{{
		ID:       JobReconstructAll,
		Schedule: schedule,
		Run: func(_ context.Context) error {
			id, err := queue.EnqueueReconstructAll(tasks.TriggerSchedule)
			if errors.Is(err, tasks.ErrAlreadyQueued) {
				log.WithField("task_id", id).Debug("Reconstruction already queued, skipping")
				return nil
			}

			return err
		},
	}}

	return &service{
		log:     log,
		cfg:     cfg,
		done:    make(chan struct{}),
		elector: NewLeaderElector(log, client, prefix("scheduler:leader"), cfg.LeaseTTL, cfg.RenewInterval),
		ticker:  newTicker(log, newScheduleTracker(log, client, prefix), cfg.TickInterval, jobs),
	}, nil
}

// Start joins the leader election and runs scheduled jobs while leader
func (s *service) Start(ctx context.Context) error {
	if err := s.elector.Start(ctx); err != nil {
		return fmt.Errorf("failed to start leader election: %w", err)
	}

	s.wg.Add(1)

	go s.handleLeaderElection(ctx)

	s.log.Info("Scheduler service started (participating in leader election)")

	return nil
}

// Stop gracefully shuts down the scheduler service
func (s *service) Stop() error {
	close(s.done)

	s.wg.Wait()

	if err := s.elector.Stop(); err != nil {
		s.log.WithError(err).Warn("Failed to stop leader elector")
	}

	observability.RecordSchedulerActive(false)

	s.log.Info("Scheduler service stopped")

	return nil
}

func (s *service) IsLeader() bool {
	return s.elector.IsLeader()
}

// handleLeaderElection runs the ticker for as long as this instance leads
func (s *service) handleLeaderElection(ctx context.Context) {
	defer s.wg.Done()

	var (
		cancel  context.CancelFunc
		running sync.WaitGroup
	)

	stopTicker := func() {
		if cancel == nil {
			return
		}

		cancel()
		running.Wait()

		cancel = nil

		observability.RecordSchedulerActive(false)
	}

	defer stopTicker()

	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case <-s.elector.Promoted():
			if cancel != nil {
				continue
			}

			var termCtx context.Context

			termCtx, cancel = context.WithCancel(ctx)

			observability.RecordSchedulerActive(true)

			running.Add(1)

			go func() {
				defer running.Done()
				s.ticker.Run(termCtx)
			}()
		case <-s.elector.Demoted():
			s.log.Info("Lost leadership, pausing schedule")
			stopTicker()
		}
	}
}

var _ Service = (*service)(nil)
