package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethpandaops/bookkeeping/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errEnqueue = errors.New("enqueue failed")

func newTestTicker(t *testing.T, schedule string, run func(context.Context) error) (*ticker, scheduleTracker, *time.Time) {
	t.Helper()

	_, client := testutil.NewMiniredisClient(t)
	tracker := newScheduleTracker(testutil.NewLogger(), client, func(key string) string { return "test:" + key })

	sched, err := parseSchedule(schedule)
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tk := newTicker(testutil.NewLogger(), tracker, time.Second, []scheduledJob{{
		ID:       JobReconstructAll,
		Schedule: sched,
		Run:      run,
	}})
	tk.now = func() time.Time { return now }

	return tk, tracker, &now
}

func TestTicker_RunsDueJobs(t *testing.T) {
	runs := 0
	tk, tracker, now := newTestTicker(t, "@every 1h", func(context.Context) error {
		runs++
		return nil
	})

	ctx := context.Background()

	// never ran before, so due immediately
	tk.checkSchedules(ctx)
	assert.Equal(t, 1, runs)

	last, err := tracker.GetLastRun(ctx, JobReconstructAll)
	require.NoError(t, err)
	assert.Equal(t, *now, last)

	*now = now.Add(30 * time.Minute)
	tk.checkSchedules(ctx)
	assert.Equal(t, 1, runs)

	*now = now.Add(31 * time.Minute)
	tk.checkSchedules(ctx)
	assert.Equal(t, 2, runs)
}

func TestTicker_ResumesFromTrackedRun(t *testing.T) {
	runs := 0
	tk, tracker, now := newTestTicker(t, "@every 1h", func(context.Context) error {
		runs++
		return nil
	})

	ctx := context.Background()

	// a previous leader ran the job ten minutes ago
	require.NoError(t, tracker.SetLastRun(ctx, JobReconstructAll, now.Add(-10*time.Minute)))

	tk.checkSchedules(ctx)
	assert.Equal(t, 0, runs)

	*now = now.Add(50 * time.Minute)
	tk.checkSchedules(ctx)
	assert.Equal(t, 1, runs)
}

func TestTicker_RetriesFailedJob(t *testing.T) {
	calls := 0
	tk, tracker, _ := newTestTicker(t, "@hourly", func(context.Context) error {
		calls++
		if calls == 1 {
			return errEnqueue
		}

		return nil
	})

	ctx := context.Background()

	tk.checkSchedules(ctx)

	last, err := tracker.GetLastRun(ctx, JobReconstructAll)
	require.NoError(t, err)
	assert.True(t, last.IsZero())

	tk.checkSchedules(ctx)
	assert.Equal(t, 2, calls)

	last, err = tracker.GetLastRun(ctx, JobReconstructAll)
	require.NoError(t, err)
	assert.False(t, last.IsZero())
}

func TestScheduleTracker_CorruptValue(t *testing.T) {
	mr, client := testutil.NewMiniredisClient(t)
	tracker := newScheduleTracker(testutil.NewLogger(), client, func(key string) string { return "test:" + key })

	require.NoError(t, mr.Set("test:scheduler:job:"+JobReconstructAll, "yesterday"))

	last, err := tracker.GetLastRun(context.Background(), JobReconstructAll)
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}

func TestConfig_Validate(t *testing.T) {
	valid := Config{
		Enabled:        true,
		ReconstructAll: "@every 1h",
		LeaseTTL:       10 * time.Second,
		RenewInterval:  3 * time.Second,
		TickInterval:   time.Second,
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr error
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "cron expression", mutate: func(c *Config) { c.ReconstructAll = "0 3 * * *" }},
		{name: "disabled skips checks", mutate: func(c *Config) { c.Enabled = false; c.ReconstructAll = "nope" }},
		{name: "lease not above renew", mutate: func(c *Config) { c.LeaseTTL = c.RenewInterval }, wantErr: ErrInvalidLease},
		{name: "zero tick", mutate: func(c *Config) { c.TickInterval = 0 }, wantErr: ErrInvalidTickInterval},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
		})
	}

	cfg := valid
	cfg.ReconstructAll = "every hour"
	require.Error(t, cfg.Validate())
}
