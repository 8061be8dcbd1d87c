package testutil

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/store"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

// Flag type ids seeded by SeedFlagTypes
const (
	FlagTypeGood           int64 = 1
	FlagTypeBad            int64 = 2
	FlagTypeMCReproducible int64 = 3
	FlagTypeUnknown        int64 = 4
)

// FlagTypes returns the fixture flag types
func FlagTypes() []qcflag.FlagType {
	return []qcflag.FlagType{
		{ID: FlagTypeGood, Name: "Good", Method: "Good"},
		{ID: FlagTypeBad, Name: "Limited acceptance", Method: "LimitedAcceptance", Bad: true},
		{ID: FlagTypeMCReproducible, Name: "Limited acceptance MC reproducible", Method: "LimitedAcceptanceMCReproducible", Bad: true, MonteCarloReproducible: true},
		{ID: FlagTypeUnknown, Name: "Unknown", Method: "Unknown", Bad: true},
	}
}

// Epoch is the reference instant of fixture runs
//
//nolint:gochecknoglobals // fixed test instant
var Epoch = time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

// At returns Epoch shifted by the given number of hours
func At(hours int) *time.Time {
	t := Epoch.Add(time.Duration(hours) * time.Hour)
	return &t
}

// AtMinutes returns Epoch shifted by the given number of minutes
func AtMinutes(minutes int) *time.Time {
	t := Epoch.Add(time.Duration(minutes) * time.Minute)
	return &t
}

// NewLogger returns a logger that discards its output
func NewLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)

	return log
}

// SeedFlagTypes stores the fixture flag types
func SeedFlagTypes(t *testing.T, st store.Store) {
	t.Helper()

	require.NoError(t, st.Update(context.Background(), func(ctx context.Context, tx store.Tx) error {
		for _, ft := range FlagTypes() {
			if err := tx.FlagTypes().Upsert(ctx, ft); err != nil {
				return err
			}
		}

		return nil
	}))
}

// SeedRun registers a run with its QC bounds
func SeedRun(t *testing.T, st store.Store, runNumber int64, bounds qcflag.RunQcBounds) {
	t.Helper()

	require.NoError(t, st.Update(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Runs().UpsertRun(ctx, runNumber, bounds)
	}))
}

// SeedGaqDetectors configures the GAQ detectors of a run within a data pass
func SeedGaqDetectors(t *testing.T, st store.Store, dataPassID, runNumber int64, detectorIDs ...int64) {
	t.Helper()

	require.NoError(t, st.Update(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.GaqDetectors().SetGaqDetectors(ctx, dataPassID, runNumber, detectorIDs)
	}))
}

// StepClock returns a clock advancing by step on every call, starting at start
func StepClock(start time.Time, step time.Duration) func() time.Time {
	next := start

	return func() time.Time {
		now := next
		next = next.Add(step)

		return now
	}
}
