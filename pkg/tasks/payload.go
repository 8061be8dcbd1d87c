// Package tasks defines the reconstruction tasks carried over asynq and the
// handlers executing them.
package tasks

import (
	"time"

	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
)

const (
	// TypeReconstructScope rebuilds the effective periods of one scope
	TypeReconstructScope = "qcflag:reconstruct_scope"
	// TypeReconstructAll rebuilds the effective periods of every scope
	TypeReconstructAll = "qcflag:reconstruct_all"

	// QueueReconstruction is the queue every reconstruction runs on
	QueueReconstruction = "reconstruction"
)

// Triggers recorded on enqueued tasks
const (
	TriggerAPI      = "api"
	TriggerSchedule = "schedule"
	TriggerCLI      = "cli"
)

// ReconstructScopePayload identifies the scope to rebuild
type ReconstructScopePayload struct {
	RunNumber  int64     `json:"run_number"`
	DetectorID int64     `json:"detector_id"`
	ScopeKind  string    `json:"scope_kind"`
	PassID     int64     `json:"pass_id,omitempty"`
	Trigger    string    `json:"trigger"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewReconstructScopePayload builds the payload of a scope
func NewReconstructScopePayload(key qcflag.ScopeKey, trigger string) ReconstructScopePayload {
	return ReconstructScopePayload{
		RunNumber:  key.RunNumber,
		DetectorID: key.DetectorID,
		ScopeKind:  key.Scope.Kind.String(),
		PassID:     key.Scope.PassID,
		Trigger:    trigger,
		EnqueuedAt: time.Now().UTC(),
	}
}

// Key returns the scope the payload targets
func (p ReconstructScopePayload) Key() (qcflag.ScopeKey, error) {
	kind, err := qcflag.ParseScopeKind(p.ScopeKind)
	if err != nil {
		return qcflag.ScopeKey{}, err
	}

	return qcflag.ScopeKey{
		RunNumber:  p.RunNumber,
		DetectorID: p.DetectorID,
		Scope:      qcflag.Scope{Kind: kind, PassID: p.PassID},
	}, nil
}

// UniqueID returns a unique identifier for this task
func (p ReconstructScopePayload) UniqueID() string {
	key, err := p.Key()
	if err != nil {
		return "reconstruct:invalid"
	}

	return "reconstruct:" + key.String()
}

// ReconstructAllPayload requests a rebuild of every scope
type ReconstructAllPayload struct {
	Trigger    string    `json:"trigger"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// UniqueID returns a unique identifier for this task. At most one full
// rebuild is queued at a time.
func (p ReconstructAllPayload) UniqueID() string {
	return "reconstruct:all"
}
