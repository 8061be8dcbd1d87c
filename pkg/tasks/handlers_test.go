package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ethpandaops/bookkeeping/internal/testutil"
	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/reconciler"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fakeReconstructor struct {
	keys []qcflag.ScopeKey
	all  int
	err  error
}

func (f *fakeReconstructor) Reconstruct(_ context.Context, key qcflag.ScopeKey) (*reconciler.ReconstructResult, error) {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return nil, f.err
	}

	return &reconciler.ReconstructResult{Scopes: 1, Flags: 2, Periods: 3}, nil
}

func (f *fakeReconstructor) ReconstructAll(_ context.Context) (*reconciler.ReconstructResult, error) {
	f.all++
	if f.err != nil {
		return nil, f.err
	}

	return &reconciler.ReconstructResult{Scopes: 4}, nil
}

func mustTask(t *testing.T, taskType string, payload any) *asynq.Task {
	t.Helper()

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	return asynq.NewTask(taskType, data)
}

func TestTaskHandler_HandleReconstructScope(t *testing.T) {
	key := qcflag.ScopeKey{RunNumber: 100, DetectorID: 1, Scope: qcflag.DataPass(9)}

	tests := []struct {
		name      string
		task      func(t *testing.T) *asynq.Task
		err       error
		wantErr   bool
		skipRetry bool
		calls     int
	}{
		{
			name:  "success",
			task:  func(t *testing.T) *asynq.Task { return mustTask(t, TypeReconstructScope, NewReconstructScopePayload(key, TriggerAPI)) },
			calls: 1,
		},
		{
			name:    "reconstruction fails",
			task:    func(t *testing.T) *asynq.Task { return mustTask(t, TypeReconstructScope, NewReconstructScopePayload(key, TriggerAPI)) },
			err:     errBoom,
			wantErr: true,
			calls:   1,
		},
		{
			name:      "malformed payload",
			task:      func(_ *testing.T) *asynq.Task { return asynq.NewTask(TypeReconstructScope, []byte("{")) },
			wantErr:   true,
			skipRetry: true,
		},
		{
			name: "unknown scope kind",
			task: func(t *testing.T) *asynq.Task {
				return mustTask(t, TypeReconstructScope, ReconstructScopePayload{RunNumber: 1, DetectorID: 1, ScopeKind: "bogus"})
			},
			wantErr:   true,
			skipRetry: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &fakeReconstructor{err: tt.err}
			handler := NewTaskHandler(testutil.NewLogger(), fake)

			err := handler.HandleReconstructScope(context.Background(), tt.task(t))
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, tt.skipRetry, errors.Is(err, asynq.SkipRetry))
			} else {
				require.NoError(t, err)
			}

			require.Len(t, fake.keys, tt.calls)

			if tt.calls > 0 {
				assert.Equal(t, key, fake.keys[0])
			}
		})
	}
}

func TestTaskHandler_HandleReconstructAll(t *testing.T) {
	fake := &fakeReconstructor{}
	handler := NewTaskHandler(testutil.NewLogger(), fake)

	task := mustTask(t, TypeReconstructAll, ReconstructAllPayload{Trigger: TriggerSchedule})
	require.NoError(t, handler.HandleReconstructAll(context.Background(), task))
	assert.Equal(t, 1, fake.all)

	fake.err = errBoom
	err := handler.HandleReconstructAll(context.Background(), task)
	require.ErrorIs(t, err, errBoom)
	assert.False(t, errors.Is(err, asynq.SkipRetry))

	err = handler.HandleReconstructAll(context.Background(), asynq.NewTask(TypeReconstructAll, []byte("nope")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	assert.Equal(t, 2, fake.all)
}

func TestTaskHandler_Routes(t *testing.T) {
	routes := NewTaskHandler(testutil.NewLogger(), &fakeReconstructor{}).Routes()

	assert.Len(t, routes, 2)
	assert.Contains(t, routes, TypeReconstructScope)
	assert.Contains(t, routes, TypeReconstructAll)
}
