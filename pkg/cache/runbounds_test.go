package cache

import (
	"context"
	"testing"
	"time"

	"github.com/ethpandaops/bookkeeping/internal/testutil"
	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/store"
	"github.com/ethpandaops/bookkeeping/pkg/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func prefix(key string) string {
	return "test:" + key
}

func TestRunBounds_ReadThrough(t *testing.T) {
	mr, client := testutil.NewMiniredisClient(t)
	st := memory.New()
	testutil.SeedRun(t, st, 100, qcflag.RunQcBounds{Start: testutil.At(0), End: testutil.At(24)})

	c := NewRunBounds(testutil.NewLogger(), client, st, time.Minute, prefix)
	ctx := context.Background()

	bounds, err := c.GetQcBounds(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, testutil.At(24).UnixMilli(), bounds.End.UnixMilli())
	assert.True(t, mr.Exists("test:run-bounds:100"))
	assert.Equal(t, time.Minute, mr.TTL("test:run-bounds:100"))

	// the cached copy wins until invalidated
	testutil.SeedRun(t, st, 100, qcflag.RunQcBounds{Start: testutil.At(0), End: testutil.At(12)})

	bounds, err = c.GetQcBounds(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, testutil.At(24).UnixMilli(), bounds.End.UnixMilli())

	require.NoError(t, c.Invalidate(ctx, 100))
	assert.False(t, mr.Exists("test:run-bounds:100"))

	bounds, err = c.GetQcBounds(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, testutil.At(12).UnixMilli(), bounds.End.UnixMilli())
}

func TestRunBounds_Expires(t *testing.T) {
	mr, client := testutil.NewMiniredisClient(t)
	st := memory.New()
	testutil.SeedRun(t, st, 100, qcflag.RunQcBounds{Start: testutil.At(0)})

	c := NewRunBounds(testutil.NewLogger(), client, st, time.Minute, prefix)
	ctx := context.Background()

	_, err := c.GetQcBounds(ctx, 100)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("test:run-bounds:100"))

	bounds, err := c.GetQcBounds(ctx, 100)
	require.NoError(t, err)
	assert.Nil(t, bounds.End)
}

func TestRunBounds_UnknownRun(t *testing.T) {
	mr, client := testutil.NewMiniredisClient(t)
	c := NewRunBounds(testutil.NewLogger(), client, memory.New(), time.Minute, prefix)

	_, err := c.GetQcBounds(context.Background(), 7)
	require.ErrorIs(t, err, store.ErrRunNotFound)
	assert.False(t, mr.Exists("test:run-bounds:7"))
}

func TestRunBounds_CorruptEntry(t *testing.T) {
	mr, client := testutil.NewMiniredisClient(t)
	st := memory.New()
	testutil.SeedRun(t, st, 100, qcflag.RunQcBounds{Start: testutil.At(0), End: testutil.At(24)})

	require.NoError(t, mr.Set("test:run-bounds:100", "{not json"))

	c := NewRunBounds(testutil.NewLogger(), client, st, time.Minute, prefix)

	bounds, err := c.GetQcBounds(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, testutil.At(24).UnixMilli(), bounds.End.UnixMilli())
}

func TestRunBounds_RedisDown(t *testing.T) {
	mr, client := testutil.NewMiniredisClient(t)
	st := memory.New()
	testutil.SeedRun(t, st, 100, qcflag.RunQcBounds{Start: testutil.At(0), End: testutil.At(24)})

	c := NewRunBounds(testutil.NewLogger(), client, st, time.Minute, prefix)

	mr.Close()

	bounds, err := c.GetQcBounds(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, testutil.At(24).UnixMilli(), bounds.End.UnixMilli())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "enabled", cfg: Config{Enabled: true, TTL: time.Minute}},
		{name: "disabled without ttl", cfg: Config{}},
		{name: "enabled without ttl", cfg: Config{Enabled: true}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTTL)
				return
			}

			assert.NoError(t, err)
		})
	}
}
