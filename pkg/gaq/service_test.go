package gaq

import (
	"context"
	"testing"
	"time"

	"github.com/ethpandaops/bookkeeping/internal/testutil"
	"github.com/ethpandaops/bookkeeping/pkg/cache"
	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/reconciler"
	"github.com/ethpandaops/bookkeeping/pkg/store"
	"github.com/ethpandaops/bookkeeping/pkg/store/memory"
	"github.com/ethpandaops/bookkeeping/pkg/store/sqlstore"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testDataPass int64 = 1
	testRun      int64 = 100
)

type fixture struct {
	st    *memory.Store
	flags reconciler.Service
	gaq   Service
}

func setup(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	st := memory.New()
	testutil.SeedFlagTypes(t, st)
	testutil.SeedRun(t, st, testRun, runBounds())
	testutil.SeedGaqDetectors(t, st, testDataPass, testRun, 1, 2)

	log := testutil.NewLogger()
	now := testutil.Epoch.Add(48 * time.Hour)

	opts = append([]Option{WithClock(func() time.Time { return now })}, opts...)

	return &fixture{
		st:    st,
		flags: reconciler.NewService(log, st, reconciler.WithClock(testutil.StepClock(now, time.Second))),
		gaq:   NewService(log, st, opts...),
	}
}

func (f *fixture) create(t *testing.T, detectorID int64, from, to *time.Time, flagType int64) int64 {
	t.Helper()

	details, err := f.flags.CreateFlag(context.Background(), reconciler.CreateFlagRequest{
		RunNumber:  testRun,
		DetectorID: detectorID,
		DataPassID: func() *int64 { id := testDataPass; return &id }(),
		From:       from,
		To:         to,
		FlagTypeID: flagType,
		CreatedBy:  "alice",
	})
	require.NoError(t, err)

	return details.Flag.ID
}

func TestService_GetPeriods(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	good := f.create(t, 1, nil, nil, testutil.FlagTypeGood)
	bad := f.create(t, 2, nil, testutil.At(12), testutil.FlagTypeBad)
	fine := f.create(t, 2, testutil.At(12), nil, testutil.FlagTypeGood)

	periods, err := f.gaq.GetPeriods(ctx, testDataPass, testRun, SummaryOptions{})
	require.NoError(t, err)
	require.Len(t, periods, 2)

	assert.Equal(t, []int64{good, bad}, periods[0].ContributingFlagIDs)
	assert.True(t, periods[0].Bad)
	assert.Equal(t, []int64{good, fine}, periods[1].ContributingFlagIDs)
	assert.False(t, periods[1].Bad)
}

func TestService_GetPeriods_FollowsOverrides(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.create(t, 1, nil, nil, testutil.FlagTypeGood)
	f.create(t, 2, nil, nil, testutil.FlagTypeGood)
	bad := f.create(t, 2, testutil.At(6), testutil.At(18), testutil.FlagTypeBad)

	periods, err := f.gaq.GetPeriods(ctx, testDataPass, testRun, SummaryOptions{})
	require.NoError(t, err)
	require.Len(t, periods, 3)
	assert.Contains(t, periods[1].ContributingFlagIDs, bad)
	assert.Equal(t, SignificanceBad, periods[1].Significance)

	_, err = f.flags.DeleteFlag(ctx, bad)
	require.NoError(t, err)

	periods, err = f.gaq.GetPeriods(ctx, testDataPass, testRun, SummaryOptions{})
	require.NoError(t, err)
	require.Len(t, periods, 1)
	assert.Equal(t, SignificanceGood, periods[0].Significance)
}

func TestService_GetFlaggedPeriods(t *testing.T) {
	f := setup(t)

	f.create(t, 1, nil, nil, testutil.FlagTypeGood)
	f.create(t, 2, nil, nil, testutil.FlagTypeMCReproducible)

	flagged, err := f.gaq.GetFlaggedPeriods(context.Background(), testDataPass, testRun, SummaryOptions{MCReproducibleAsNotBad: true})
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	require.Len(t, flagged[0].Flags, 2)
	assert.False(t, flagged[0].Bad)
	assert.True(t, flagged[0].MCReproducible)
	assert.Equal(t, testutil.FlagTypeMCReproducible, flagged[0].Flags[1].Type.ID)
}

func TestService_GetRunSummary(t *testing.T) {
	f := setup(t)

	f.create(t, 1, nil, nil, testutil.FlagTypeGood)
	f.create(t, 2, testutil.At(18), nil, testutil.FlagTypeBad)

	summary, err := f.gaq.GetRunSummary(context.Background(), testDataPass, testRun, SummaryOptions{})
	require.NoError(t, err)

	require.NotNil(t, summary.BadEffectiveRunCoverage)
	assert.InDelta(t, 0.25, *summary.BadEffectiveRunCoverage, 1e-9)
	assert.Equal(t, 1, summary.UndefinedQualityPeriodsCount)
	assert.Equal(t, 2, summary.MissingVerificationsCount)
}

func TestService_GetRunSummary_UnknownRun(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	testutil.SeedGaqDetectors(t, f.st, testDataPass, 999, 1)

	summary, err := f.gaq.GetRunSummary(ctx, testDataPass, 999, SummaryOptions{})
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, int64(999), summary.RunNumber)
	assert.Nil(t, summary.BadEffectiveRunCoverage)
	assert.Nil(t, summary.ExplicitlyNotBadEffectiveRunCoverage)
	assert.Nil(t, summary.MCReproducibleCoverage)

	periods, err := f.gaq.GetPeriods(ctx, testDataPass, 999, SummaryOptions{})
	require.NoError(t, err)
	assert.Empty(t, periods)

	summary, err = f.gaq.GetDetectorSummary(ctx, qcflag.ScopeKey{RunNumber: 999, DetectorID: 1, Scope: qcflag.DataPass(testDataPass)}, SummaryOptions{})
	require.NoError(t, err)
	assert.Nil(t, summary.BadEffectiveRunCoverage)
}

func TestService_GetSummary(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	testutil.SeedRun(t, f.st, 101, runBounds())
	testutil.SeedGaqDetectors(t, f.st, testDataPass, 101, 1)
	testutil.SeedGaqDetectors(t, f.st, testDataPass+1, 102, 1)

	f.create(t, 1, nil, nil, testutil.FlagTypeBad)
	f.create(t, 2, nil, nil, testutil.FlagTypeBad)

	summaries, err := f.gaq.GetSummary(ctx, testDataPass, SummaryOptions{})
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	require.NotNil(t, summaries[testRun].BadEffectiveRunCoverage)
	assert.InDelta(t, 1, *summaries[testRun].BadEffectiveRunCoverage, 1e-9)

	require.NotNil(t, summaries[101].BadEffectiveRunCoverage)
	assert.Zero(t, *summaries[101].BadEffectiveRunCoverage)
}

func TestService_GetSummary_KeepsUnknownRuns(t *testing.T) {
	f := setup(t)

	testutil.SeedGaqDetectors(t, f.st, testDataPass, 999, 1)
	f.create(t, 1, nil, nil, testutil.FlagTypeGood)

	summaries, err := f.gaq.GetSummary(context.Background(), testDataPass, SummaryOptions{})
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	require.Contains(t, summaries, int64(999))
	assert.Equal(t, int64(999), summaries[999].RunNumber)
	assert.Nil(t, summaries[999].BadEffectiveRunCoverage)
	assert.Nil(t, summaries[999].ExplicitlyNotBadEffectiveRunCoverage)

	require.NotNil(t, summaries[testRun].ExplicitlyNotBadEffectiveRunCoverage)
	assert.InDelta(t, 1, *summaries[testRun].ExplicitlyNotBadEffectiveRunCoverage, 1e-9)
}

func TestService_GetDetectorSummary(t *testing.T) {
	f := setup(t)

	f.create(t, 2, nil, testutil.At(6), testutil.FlagTypeBad)

	key := qcflag.ScopeKey{RunNumber: testRun, DetectorID: 2, Scope: qcflag.DataPass(testDataPass)}

	summary, err := f.gaq.GetDetectorSummary(context.Background(), key, SummaryOptions{})
	require.NoError(t, err)
	require.NotNil(t, summary.BadEffectiveRunCoverage)
	assert.InDelta(t, 0.25, *summary.BadEffectiveRunCoverage, 1e-9)
	assert.Equal(t, 1, summary.MissingVerificationsCount)
}

type staticLookup struct {
	bounds qcflag.RunQcBounds
	calls  int
}

func (l *staticLookup) GetQcBounds(_ context.Context, _ int64) (qcflag.RunQcBounds, error) {
	l.calls++
	return l.bounds, nil
}

func TestService_WithRunLookup(t *testing.T) {
	lookup := &staticLookup{bounds: qcflag.RunQcBounds{Start: testutil.At(0), End: testutil.At(48)}}
	f := setup(t, WithRunLookup(lookup))

	f.create(t, 1, nil, nil, testutil.FlagTypeBad)
	f.create(t, 2, nil, nil, testutil.FlagTypeBad)

	summary, err := f.gaq.GetRunSummary(context.Background(), testDataPass, testRun, SummaryOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, lookup.calls)
	require.NotNil(t, summary.BadEffectiveRunCoverage)
	assert.InDelta(t, 1, *summary.BadEffectiveRunCoverage, 1e-9)
}

func TestService_WithRunBoundsCache_SQLite(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := sqlstore.Open(ctx, testutil.NewLogger(), store.Config{
		Driver:  store.DriverSQLite,
		DSN:     ":memory:",
		Migrate: true,
	})
	require.NoError(t, err)

	defer func() { _ = st.Close() }()

	testutil.SeedFlagTypes(t, st)
	testutil.SeedRun(t, st, testRun, runBounds())
	testutil.SeedGaqDetectors(t, st, testDataPass, testRun, 1)
	testutil.SeedGaqDetectors(t, st, testDataPass, 999, 1)

	mr, client := testutil.NewMiniredisClient(t)
	log := testutil.NewLogger()
	runs := cache.NewRunBounds(log, client, st, time.Minute, func(key string) string { return "test:" + key })
	svc := NewService(log, st, WithRunLookup(runs))

	dataPassID := testDataPass

	_, err = reconciler.NewService(log, st).CreateFlag(ctx, reconciler.CreateFlagRequest{
		RunNumber:  testRun,
		DetectorID: 1,
		DataPassID: &dataPassID,
		FlagTypeID: testutil.FlagTypeBad,
		CreatedBy:  "alice",
	})
	require.NoError(t, err)

	// the first read misses the cache and loads the bounds from the store
	summary, err := svc.GetRunSummary(ctx, testDataPass, testRun, SummaryOptions{})
	require.NoError(t, err)
	require.NotNil(t, summary.BadEffectiveRunCoverage)
	assert.InDelta(t, 1, *summary.BadEffectiveRunCoverage, 1e-9)
	assert.True(t, mr.Exists("test:run-bounds:100"))

	summaries, err := svc.GetSummary(ctx, testDataPass, SummaryOptions{})
	require.NoError(t, err)
	require.Len(t, summaries, 2)
	assert.Nil(t, summaries[999].BadEffectiveRunCoverage)

	detector, err := svc.GetDetectorSummary(ctx, qcflag.ScopeKey{RunNumber: testRun, DetectorID: 1, Scope: qcflag.DataPass(testDataPass)}, SummaryOptions{})
	require.NoError(t, err)
	require.NotNil(t, detector.BadEffectiveRunCoverage)
	assert.InDelta(t, 1, *detector.BadEffectiveRunCoverage, 1e-9)
}
