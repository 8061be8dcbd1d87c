package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// scheduledJob is a job run on a cron schedule
type scheduledJob struct {
	ID       string
	Schedule cron.Schedule
	Run      func(ctx context.Context) error
	nextRun  *time.Time
}

// ticker checks scheduled jobs and runs the due ones. It only runs on the
// leader.
type ticker struct {
	log      logrus.FieldLogger
	tracker  scheduleTracker
	interval time.Duration
	now      func() time.Time

	mu   sync.Mutex
	jobs []scheduledJob
}

func newTicker(log logrus.FieldLogger, tracker scheduleTracker, interval time.Duration, jobs []scheduledJob) *ticker {
	return &ticker{
		log:      log.WithField("component", "ticker"),
		tracker:  tracker,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		jobs:     jobs,
	}
}

// Run checks the schedules every interval until ctx is canceled
func (t *ticker) Run(ctx context.Context) {
	t.log.Info("Starting ticker")

	tick := time.NewTicker(t.interval)
	defer tick.Stop()

	t.checkSchedules(ctx)

	for {
		select {
		case <-ctx.Done():
			t.log.Info("Ticker stopped")
			return
		case <-tick.C:
			t.checkSchedules(ctx)
		}
	}
}

func (t *ticker) checkSchedules(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()

	for i := range t.jobs {
		job := &t.jobs[i]

		// Skip without a Redis round trip when the job is known not to be due
		if job.nextRun != nil && now.Before(*job.nextRun) {
			continue
		}

		lastRun, err := t.tracker.GetLastRun(ctx, job.ID)
		if err != nil {
			t.log.WithError(err).WithField("job_id", job.ID).Warn("Failed to get last run, will retry next tick")
			continue
		}

		nextRun := job.Schedule.Next(lastRun)
		job.nextRun = &nextRun

		if now.Before(nextRun) {
			continue
		}

		if err := job.Run(ctx); err != nil {
			t.log.WithError(err).WithField("job_id", job.ID).Error("Scheduled job failed")
			continue
		}

		if err := t.tracker.SetLastRun(ctx, job.ID, now); err != nil {
			t.log.WithError(err).WithField("job_id", job.ID).Error("Failed to update last run timestamp")
		}

		updated := job.Schedule.Next(now)
		job.nextRun = &updated

		t.log.WithFields(logrus.Fields{
			"job_id":   job.ID,
			"next_run": updated,
		}).Info("Ran scheduled job")
	}
}
