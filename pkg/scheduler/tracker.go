package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// scheduleTracker stores the last execution of every scheduled job so a
// newly promoted leader continues the cadence of the previous one
type scheduleTracker interface {
	// GetLastRun returns zero time if the job has never run
	GetLastRun(ctx context.Context, jobID string) (time.Time, error)
	SetLastRun(ctx context.Context, jobID string, timestamp time.Time) error
}

type redisScheduleTracker struct {
	log    logrus.FieldLogger
	redis  redis.UniversalClient
	prefix func(string) string
}

// newScheduleTracker creates a Redis-backed schedule tracker
func newScheduleTracker(log logrus.FieldLogger, client redis.UniversalClient, prefix func(string) string) scheduleTracker {
	return &redisScheduleTracker{
		log:    log.WithField("component", "schedule_tracker"),
		redis:  client,
		prefix: prefix,
	}
}

func (r *redisScheduleTracker) key(jobID string) string {
	return r.prefix("scheduler:job:" + jobID)
}

func (r *redisScheduleTracker) GetLastRun(ctx context.Context, jobID string) (time.Time, error) {
	val, err := r.redis.Get(ctx, r.key(jobID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return time.Time{}, nil
		}

		return time.Time{}, fmt.Errorf("failed to get last run for job %s: %w", jobID, err)
	}

	timestamp, err := time.Parse(time.RFC3339, val)
	if err != nil {
		r.log.WithError(err).
			WithFields(logrus.Fields{
				"job_id":    jobID,
				"raw_value": val,
			}).
			Warn("Discarding unparsable last run")

		return time.Time{}, nil
	}

	return timestamp, nil
}

func (r *redisScheduleTracker) SetLastRun(ctx context.Context, jobID string, timestamp time.Time) error {
	if err := r.redis.Set(ctx, r.key(jobID), timestamp.UTC().Format(time.RFC3339), 0).Err(); err != nil {
		return fmt.Errorf("failed to set last run for job %s: %w", jobID, err)
	}

	r.log.WithFields(logrus.Fields{
		"job_id":    jobID,
		"timestamp": timestamp,
	}).Debug("Updated last run for job")

	return nil
}

var _ scheduleTracker = (*redisScheduleTracker)(nil)
