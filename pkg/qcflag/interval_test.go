package qcflag

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(hour int) *time.Time {
	t := time.Date(2024, 5, 1, hour, 0, 0, 0, time.UTC)
	return &t
}

func TestInterval_Intersects(t *testing.T) {
	tests := []struct {
		name string
		a    Interval
		b    Interval
		want bool
	}{
		{name: "disjoint", a: Interval{at(1), at(2)}, b: Interval{at(3), at(4)}, want: false},
		{name: "touching", a: Interval{at(1), at(2)}, b: Interval{at(2), at(4)}, want: false},
		{name: "overlapping", a: Interval{at(1), at(3)}, b: Interval{at(2), at(4)}, want: true},
		{name: "open lower bound", a: Interval{nil, at(3)}, b: Interval{at(1), at(2)}, want: true},
		{name: "open upper bound", a: Interval{at(5), nil}, b: Interval{at(1), at(4)}, want: false},
		{name: "fully open", a: Interval{}, b: Interval{at(1), at(2)}, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Intersects(tt.b))
			assert.Equal(t, tt.want, tt.b.Intersects(tt.a))
		})
	}
}

func TestInterval_Covers(t *testing.T) {
	assert.True(t, Interval{}.Covers(Interval{at(1), at(2)}))
	assert.True(t, Interval{at(1), at(2)}.Covers(Interval{at(1), at(2)}))
	assert.False(t, Interval{at(1), at(2)}.Covers(Interval{nil, at(2)}))
}

func TestRunQcBounds_Resolve(t *testing.T) {
	now := time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)

	t.Run("falls back to run bounds", func(t *testing.T) {
		b := RunQcBounds{Start: at(1), End: at(10)}
		span, ok := b.Resolve(Interval{}, now)
		require.True(t, ok)
		assert.Equal(t, *at(1), span.From)
		assert.Equal(t, *at(10), span.To)
		assert.Equal(t, 9*time.Hour, span.Duration())
	})

	t.Run("falls back to now for the end", func(t *testing.T) {
		b := RunQcBounds{Start: at(1)}
		span, ok := b.Resolve(Interval{From: at(2)}, now)
		require.True(t, ok)
		assert.Equal(t, now, span.To)
	})

	t.Run("unresolvable start", func(t *testing.T) {
		_, ok := RunQcBounds{}.Resolve(Interval{To: at(2)}, now)
		assert.False(t, ok)
	})
}

func TestRunQcBounds_PrepareFlagInterval(t *testing.T) {
	run := RunQcBounds{Start: at(1), End: at(10)}

	tests := []struct {
		name      string
		bounds    RunQcBounds
		requested Interval
		want      Interval
		wantErr   error
	}{
		{
			name:      "full run is stored open",
			bounds:    run,
			requested: Interval{},
			want:      Interval{},
		},
		{
			name:      "explicit run bounds are normalized",
			bounds:    run,
			requested: Interval{From: at(1), To: at(10)},
			want:      Interval{},
		},
		{
			name:      "inner interval kept",
			bounds:    run,
			requested: Interval{From: at(2), To: at(5)},
			want:      Interval{From: at(2), To: at(5)},
		},
		{
			name:      "missing end defaults to run end",
			bounds:    run,
			requested: Interval{From: at(3)},
			want:      Interval{From: at(3)},
		},
		{
			name:      "inverted",
			bounds:    run,
			requested: Interval{From: at(5), To: at(2)},
			wantErr:   ErrInvalidPeriod,
		},
		{
			name:      "empty",
			bounds:    run,
			requested: Interval{From: at(5), To: at(5)},
			wantErr:   ErrInvalidPeriod,
		},
		{
			name:      "starts before run",
			bounds:    RunQcBounds{Start: at(2), End: at(10)},
			requested: Interval{From: at(1), To: at(5)},
			wantErr:   ErrPeriodOutOfRun,
		},
		{
			name:      "ends after run",
			bounds:    run,
			requested: Interval{From: at(2), To: at(11)},
			wantErr:   ErrPeriodOutOfRun,
		},
		{
			name:      "unknown run bounds and open flag",
			bounds:    RunQcBounds{},
			requested: Interval{},
			want:      Interval{},
		},
		{
			name:      "unknown run bounds and half-open flag",
			bounds:    RunQcBounds{},
			requested: Interval{From: at(2)},
			wantErr:   ErrInvalidPeriod,
		},
		{
			name:      "unknown run bounds and closed flag",
			bounds:    RunQcBounds{},
			requested: Interval{From: at(2), To: at(3)},
			want:      Interval{From: at(2), To: at(3)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.bounds.PrepareFlagInterval(tt.requested)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "want %s got %s", tt.want, got)
			assert.Equal(t, tt.want.From == nil, got.From == nil)
			assert.Equal(t, tt.want.To == nil, got.To == nil)
		})
	}
}

func TestNewScope(t *testing.T) {
	one, two := int64(1), int64(2)

	scope, err := NewScope(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, Synchronous(), scope)
	assert.Nil(t, scope.DataPassID())

	scope, err = NewScope(&one, nil)
	require.NoError(t, err)
	assert.Equal(t, DataPass(1), scope)
	require.NotNil(t, scope.DataPassID())
	assert.Equal(t, int64(1), *scope.DataPassID())
	assert.Nil(t, scope.SimulationPassID())

	scope, err = NewScope(nil, &two)
	require.NoError(t, err)
	assert.Equal(t, "simulation-pass:2", scope.String())

	_, err = NewScope(&one, &two)
	require.ErrorIs(t, err, ErrAmbiguousScope)
}
