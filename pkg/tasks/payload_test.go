package tasks

import (
	"encoding/json"
	"testing"

	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconstructScopePayload_UniqueID(t *testing.T) {
	tests := []struct {
		name     string
		key      qcflag.ScopeKey
		expected string
	}{
		{
			name:     "synchronous",
			key:      qcflag.ScopeKey{RunNumber: 100, DetectorID: 2, Scope: qcflag.Synchronous()},
			expected: "reconstruct:run:100:detector:2:synchronous",
		},
		{
			name:     "data pass",
			key:      qcflag.ScopeKey{RunNumber: 100, DetectorID: 2, Scope: qcflag.DataPass(7)},
			expected: "reconstruct:run:100:detector:2:data-pass:7",
		},
		{
			name:     "simulation pass",
			key:      qcflag.ScopeKey{RunNumber: 5, DetectorID: 1, Scope: qcflag.SimulationPass(3)},
			expected: "reconstruct:run:5:detector:1:simulation-pass:3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := NewReconstructScopePayload(tt.key, TriggerAPI)
			assert.Equal(t, tt.expected, payload.UniqueID())

			key, err := payload.Key()
			require.NoError(t, err)
			assert.Equal(t, tt.key, key)
		})
	}
}

func TestReconstructScopePayload_JSON(t *testing.T) {
	payload := NewReconstructScopePayload(qcflag.ScopeKey{RunNumber: 1, DetectorID: 2, Scope: qcflag.DataPass(3)}, TriggerCLI)

	data, err := json.Marshal(payload)
	require.NoError(t, err)

	var decoded ReconstructScopePayload
	require.NoError(t, json.Unmarshal(data, &decoded))

	key, err := decoded.Key()
	require.NoError(t, err)
	assert.Equal(t, qcflag.DataPass(3), key.Scope)
	assert.Equal(t, TriggerCLI, decoded.Trigger)
}

func TestReconstructScopePayload_InvalidKind(t *testing.T) {
	payload := ReconstructScopePayload{RunNumber: 1, DetectorID: 1, ScopeKind: "bogus"}

	_, err := payload.Key()
	require.Error(t, err)
	assert.Equal(t, "reconstruct:invalid", payload.UniqueID())
}

func TestReconstructAllPayload_UniqueID(t *testing.T) {
	assert.Equal(t, "reconstruct:all", ReconstructAllPayload{Trigger: TriggerSchedule}.UniqueID())
	assert.Equal(t, ReconstructAllPayload{}.UniqueID(), ReconstructAllPayload{Trigger: TriggerAPI}.UniqueID())
}
