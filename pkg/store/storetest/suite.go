// Package storetest is the behavioural suite every store implementation
// must pass.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/ethpandaops/bookkeeping/internal/testutil"
	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory opens an empty store for one test
type Factory func(t *testing.T) store.Store

// Run runs the suite against stores produced by open
func Run(t *testing.T, open Factory) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, st store.Store)
	}{
		{"runs", testRuns},
		{"flag types", testFlagTypes},
		{"flags", testFlags},
		{"flag cursor", testFlagCursor},
		{"verifications", testVerifications},
		{"periods", testPeriods},
		{"intersecting periods", testIntersecting},
		{"delete by scope", testDeleteByScope},
		{"list scopes", testListScopes},
		{"gaq detectors", testGaqDetectors},
		{"rollback", testRollback},
		{"read only", testReadOnly},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := open(t)
			t.Cleanup(func() { _ = st.Close() })

			tt.fn(t, st)
		})
	}
}

func update(t *testing.T, st store.Store, fn store.TxFunc) {
	t.Helper()
	require.NoError(t, st.Update(context.Background(), fn))
}

func view(t *testing.T, st store.Store, fn store.TxFunc) {
	t.Helper()
	require.NoError(t, st.View(context.Background(), fn))
}

func seed(t *testing.T, st store.Store) {
	t.Helper()

	testutil.SeedFlagTypes(t, st)
	testutil.SeedRun(t, st, 100, qcflag.RunQcBounds{Start: testutil.At(0), End: testutil.At(24)})
}

func newFlag(key qcflag.ScopeKey, from, to *time.Time, createdAt time.Time) *qcflag.Flag {
	return &qcflag.Flag{
		RunNumber:  key.RunNumber,
		DetectorID: key.DetectorID,
		Scope:      key.Scope,
		From:       from,
		To:         to,
		Type:       testutil.FlagTypes()[1],
		Comment:    "noisy",
		CreatedBy:  "alice",
		CreatedAt:  createdAt,
	}
}

func insertFlag(t *testing.T, st store.Store, f *qcflag.Flag) int64 {
	t.Helper()

	var id int64

	update(t, st, func(ctx context.Context, tx store.Tx) error {
		var err error
		id, err = tx.Flags().Insert(ctx, f)
		return err
	})

	return id
}

func insertPeriod(t *testing.T, st store.Store, flagID int64, from, to *time.Time) int64 {
	t.Helper()

	var id int64

	update(t, st, func(ctx context.Context, tx store.Tx) error {
		var err error
		id, err = tx.Periods().Insert(ctx, &qcflag.Period{FlagID: flagID, From: from, To: to})
		return err
	})

	return id
}

//nolint:gochecknoglobals // shared scope of the suite
var scopeA = qcflag.ScopeKey{RunNumber: 100, DetectorID: 1, Scope: qcflag.DataPass(7)}

func testRuns(t *testing.T, st store.Store) {
	update(t, st, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Runs().UpsertRun(ctx, 1, qcflag.RunQcBounds{Start: testutil.At(1)}); err != nil {
			return err
		}

		return tx.Runs().UpsertRun(ctx, 1, qcflag.RunQcBounds{Start: testutil.At(2), End: testutil.At(3)})
	})

	view(t, st, func(ctx context.Context, tx store.Tx) error {
		bounds, err := tx.Runs().GetQcBounds(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, testutil.At(2).UnixMilli(), bounds.Start.UnixMilli())
		assert.Equal(t, testutil.At(3).UnixMilli(), bounds.End.UnixMilli())

		_, err = tx.Runs().GetQcBounds(ctx, 2)
		assert.ErrorIs(t, err, store.ErrRunNotFound)

		return nil
	})
}

func testFlagTypes(t *testing.T, st store.Store) {
	testutil.SeedFlagTypes(t, st)

	view(t, st, func(ctx context.Context, tx store.Tx) error {
		ft, err := tx.FlagTypes().Get(ctx, testutil.FlagTypeMCReproducible)
		require.NoError(t, err)
		assert.True(t, ft.Bad)
		assert.True(t, ft.MonteCarloReproducible)
		assert.Equal(t, "LimitedAcceptanceMCReproducible", ft.Method)

		_, err = tx.FlagTypes().Get(ctx, 99)
		assert.ErrorIs(t, err, store.ErrFlagTypeNotFound)

		return nil
	})
}

func testFlags(t *testing.T, st store.Store) {
	seed(t, st)

	created := testutil.Epoch.Add(48 * time.Hour)
	id := insertFlag(t, st, newFlag(scopeA, testutil.At(1), nil, created))
	assert.Positive(t, id)

	view(t, st, func(ctx context.Context, tx store.Tx) error {
		f, err := tx.Flags().Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, scopeA, f.Key())
		assert.Equal(t, testutil.At(1).UnixMilli(), f.From.UnixMilli())
		assert.Nil(t, f.To)
		assert.Equal(t, created.UnixMilli(), f.CreatedAt.UnixMilli())
		assert.Equal(t, "Limited acceptance", f.Type.Name)
		assert.True(t, f.Type.Bad)
		assert.False(t, f.Verified())

		many, err := tx.Flags().GetMany(ctx, []int64{id, id + 1000})
		require.NoError(t, err)
		assert.Len(t, many, 1)

		_, err = tx.Flags().Get(ctx, id+1000)
		assert.ErrorIs(t, err, store.ErrNotFound)

		return nil
	})

	update(t, st, func(ctx context.Context, tx store.Tx) error {
		return tx.Flags().Delete(ctx, id)
	})

	err := st.Update(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Flags().Delete(ctx, id)
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testFlagCursor(t *testing.T, st store.Store) {
	seed(t, st)

	same := testutil.Epoch.Add(48 * time.Hour)
	first := insertFlag(t, st, newFlag(scopeA, nil, nil, same))
	second := insertFlag(t, st, newFlag(scopeA, nil, nil, same))
	third := insertFlag(t, st, newFlag(scopeA, nil, nil, same.Add(time.Millisecond)))
	insertFlag(t, st, newFlag(qcflag.ScopeKey{RunNumber: 100, DetectorID: 2, Scope: scopeA.Scope}, nil, nil, same))

	view(t, st, func(ctx context.Context, tx store.Tx) error {
		all, err := tx.Flags().FindByScope(ctx, scopeA, nil)
		require.NoError(t, err)
		assert.Equal(t, []int64{first, second, third}, flagIDs(all))

		before, err := tx.Flags().FindByScope(ctx, scopeA, &store.CreatedBefore{CreatedAt: same, FlagID: second})
		require.NoError(t, err)
		assert.Equal(t, []int64{first}, flagIDs(before))

		return nil
	})
}

func flagIDs(flags []qcflag.Flag) []int64 {
	out := make([]int64, 0, len(flags))
	for _, f := range flags {
		out = append(out, f.ID)
	}

	return out
}

func periodIDs(periods []qcflag.Period) []int64 {
	out := make([]int64, 0, len(periods))
	for _, p := range periods {
		out = append(out, p.ID)
	}

	return out
}

func testVerifications(t *testing.T, st store.Store) {
	seed(t, st)

	id := insertFlag(t, st, newFlag(scopeA, nil, nil, testutil.Epoch))

	update(t, st, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Flags().AddVerification(ctx, &qcflag.Verification{
			FlagID:    id,
			CreatedBy: "bob",
			Comment:   "checked",
			CreatedAt: testutil.Epoch.Add(time.Hour),
		})

		return err
	})

	view(t, st, func(ctx context.Context, tx store.Tx) error {
		f, err := tx.Flags().Get(ctx, id)
		require.NoError(t, err)
		require.Len(t, f.Verifications, 1)
		assert.Equal(t, "bob", f.Verifications[0].CreatedBy)
		assert.Equal(t, "checked", f.Verifications[0].Comment)
		assert.True(t, f.Verified())

		return nil
	})

	err := st.Update(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Flags().AddVerification(ctx, &qcflag.Verification{FlagID: id + 1000, CreatedBy: "bob"})
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testPeriods(t *testing.T, st store.Store) {
	seed(t, st)

	flagID := insertFlag(t, st, newFlag(scopeA, nil, nil, testutil.Epoch))
	late := insertPeriod(t, st, flagID, testutil.At(6), nil)
	open := insertPeriod(t, st, flagID, nil, testutil.At(3))

	view(t, st, func(ctx context.Context, tx store.Tx) error {
		periods, err := tx.Periods().FindByFlag(ctx, flagID)
		require.NoError(t, err)
		assert.Equal(t, []int64{open, late}, periodIDs(periods))

		return nil
	})

	update(t, st, func(ctx context.Context, tx store.Tx) error {
		if err := tx.Periods().UpdateBounds(ctx, late, testutil.At(7), testutil.At(8)); err != nil {
			return err
		}

		return tx.Periods().DeleteByID(ctx, open)
	})

	view(t, st, func(ctx context.Context, tx store.Tx) error {
		periods, err := tx.Periods().FindByScope(ctx, scopeA)
		require.NoError(t, err)
		require.Len(t, periods, 1)
		assert.Equal(t, testutil.At(7).UnixMilli(), periods[0].From.UnixMilli())
		assert.Equal(t, testutil.At(8).UnixMilli(), periods[0].To.UnixMilli())

		return nil
	})

	err := st.Update(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return tx.Periods().DeleteByID(ctx, open)
	})
	assert.ErrorIs(t, err, store.ErrNotFound)

	update(t, st, func(ctx context.Context, tx store.Tx) error {
		return tx.Periods().DeleteByFlag(ctx, flagID)
	})

	view(t, st, func(ctx context.Context, tx store.Tx) error {
		periods, err := tx.Periods().FindByFlag(ctx, flagID)
		require.NoError(t, err)
		assert.Empty(t, periods)

		return nil
	})
}

func testIntersecting(t *testing.T, st store.Store) {
	seed(t, st)

	older := insertFlag(t, st, newFlag(scopeA, nil, nil, testutil.Epoch))
	newer := insertFlag(t, st, newFlag(scopeA, nil, nil, testutil.Epoch.Add(time.Hour)))

	head := insertPeriod(t, st, older, nil, testutil.At(4))
	middle := insertPeriod(t, st, older, testutil.At(4), testutil.At(8))
	tail := insertPeriod(t, st, older, testutil.At(8), nil)
	insertPeriod(t, st, newer, testutil.At(2), testutil.At(10))

	before := store.CreatedBefore{CreatedAt: testutil.Epoch.Add(time.Hour), FlagID: newer}

	tests := []struct {
		name     string
		interval qcflag.Interval
		expected []int64
	}{
		{name: "inside middle", interval: qcflag.Interval{From: testutil.At(5), To: testutil.At(6)}, expected: []int64{middle}},
		{name: "touching is not intersecting", interval: qcflag.Interval{From: testutil.At(4), To: testutil.At(8)}, expected: []int64{middle}},
		{name: "open start", interval: qcflag.Interval{To: testutil.At(5)}, expected: []int64{head, middle}},
		{name: "open end", interval: qcflag.Interval{From: testutil.At(7)}, expected: []int64{middle, tail}},
		{name: "fully open", interval: qcflag.Interval{}, expected: []int64{head, middle, tail}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view(t, st, func(ctx context.Context, tx store.Tx) error {
				periods, err := tx.Periods().FindIntersecting(ctx, scopeA, tt.interval, before)
				require.NoError(t, err)
				assert.Equal(t, tt.expected, periodIDs(periods))

				return nil
			})
		})
	}
}

func testDeleteByScope(t *testing.T, st store.Store) {
	seed(t, st)

	other := qcflag.ScopeKey{RunNumber: 100, DetectorID: 1, Scope: qcflag.Synchronous()}

	a := insertFlag(t, st, newFlag(scopeA, nil, nil, testutil.Epoch))
	b := insertFlag(t, st, newFlag(other, nil, nil, testutil.Epoch))

	insertPeriod(t, st, a, nil, nil)
	kept := insertPeriod(t, st, b, nil, nil)

	update(t, st, func(ctx context.Context, tx store.Tx) error {
		return tx.Periods().DeleteByScope(ctx, scopeA)
	})

	view(t, st, func(ctx context.Context, tx store.Tx) error {
		periods, err := tx.Periods().FindByScope(ctx, scopeA)
		require.NoError(t, err)
		assert.Empty(t, periods)

		periods, err = tx.Periods().FindByScope(ctx, other)
		require.NoError(t, err)
		assert.Equal(t, []int64{kept}, periodIDs(periods))

		return nil
	})
}

func testListScopes(t *testing.T, st store.Store) {
	seed(t, st)

	sync := qcflag.ScopeKey{RunNumber: 100, DetectorID: 1, Scope: qcflag.Synchronous()}
	sim := qcflag.ScopeKey{RunNumber: 100, DetectorID: 1, Scope: qcflag.SimulationPass(7)}

	insertFlag(t, st, newFlag(sim, nil, nil, testutil.Epoch))
	insertFlag(t, st, newFlag(scopeA, nil, nil, testutil.Epoch))
	insertFlag(t, st, newFlag(scopeA, nil, nil, testutil.Epoch))
	insertFlag(t, st, newFlag(sync, nil, nil, testutil.Epoch))

	view(t, st, func(ctx context.Context, tx store.Tx) error {
		scopes, err := tx.Flags().ListScopes(ctx)
		require.NoError(t, err)
		assert.Equal(t, []qcflag.ScopeKey{sync, scopeA, sim}, scopes)

		return nil
	})
}

func testGaqDetectors(t *testing.T, st store.Store) {
	update(t, st, func(ctx context.Context, tx store.Tx) error {
		if err := tx.GaqDetectors().SetGaqDetectors(ctx, 1, 100, []int64{3, 1, 3}); err != nil {
			return err
		}

		if err := tx.GaqDetectors().SetGaqDetectors(ctx, 1, 101, []int64{2}); err != nil {
			return err
		}

		if err := tx.GaqDetectors().SetGaqDetectors(ctx, 2, 102, []int64{2}); err != nil {
			return err
		}

		return tx.GaqDetectors().SetGaqDetectors(ctx, 1, 101, nil)
	})

	view(t, st, func(ctx context.Context, tx store.Tx) error {
		ids, err := tx.GaqDetectors().GetGaqDetectorIDs(ctx, 1, 100)
		require.NoError(t, err)
		assert.Equal(t, []int64{1, 3}, ids)

		runs, err := tx.GaqDetectors().GetGaqRunNumbers(ctx, 1)
		require.NoError(t, err)
		assert.Equal(t, []int64{100}, runs)

		return nil
	})
}

func testRollback(t *testing.T, st store.Store) {
	seed(t, st)

	boom := assert.AnError

	err := st.Update(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if _, err := tx.Flags().Insert(ctx, newFlag(scopeA, nil, nil, testutil.Epoch)); err != nil {
			return err
		}

		return boom
	})
	require.ErrorIs(t, err, boom)

	view(t, st, func(ctx context.Context, tx store.Tx) error {
		flags, err := tx.Flags().FindByScope(ctx, scopeA, nil)
		require.NoError(t, err)
		assert.Empty(t, flags)

		return nil
	})
}

func testReadOnly(t *testing.T, st store.Store) {
	seed(t, st)

	err := st.View(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Flags().Insert(ctx, newFlag(scopeA, nil, nil, testutil.Epoch))
		return err
	})
	assert.ErrorIs(t, err, store.ErrReadOnly)
}
