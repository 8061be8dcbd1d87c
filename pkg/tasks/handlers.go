package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethpandaops/bookkeeping/pkg/observability"
	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/ethpandaops/bookkeeping/pkg/reconciler"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Reconstructor rebuilds effective periods from flag history
type Reconstructor interface {
	Reconstruct(ctx context.Context, key qcflag.ScopeKey) (*reconciler.ReconstructResult, error)
	ReconstructAll(ctx context.Context) (*reconciler.ReconstructResult, error)
}

// TaskHandler handles task execution
type TaskHandler struct {
	reconstructor Reconstructor
	log           logrus.FieldLogger
}

// NewTaskHandler creates a new task handler
func NewTaskHandler(log logrus.FieldLogger, reconstructor Reconstructor) *TaskHandler {
	return &TaskHandler{
		reconstructor: reconstructor,
		log:           log.WithField("component", "task-handler"),
	}
}

// HandleReconstructScope rebuilds the scope named by the task payload
func (h *TaskHandler) HandleReconstructScope(ctx context.Context, t *asynq.Task) error {
	var payload ReconstructScopePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		observability.RecordError("task-handler", "unmarshal_error")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	key, err := payload.Key()
	if err != nil {
		observability.RecordError("task-handler", "invalid_payload")
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}

	log := h.log.WithFields(logrus.Fields{
		"scope":   key.String(),
		"trigger": payload.Trigger,
	})

	log.Info("Starting scope reconstruction")

	startTime := time.Now()

	result, err := h.reconstructor.Reconstruct(ctx, key)
	if err != nil {
		log.WithError(err).Error("Scope reconstruction failed")
		observability.RecordTaskComplete(TypeReconstructScope, "failed", time.Since(startTime).Seconds())

		return fmt.Errorf("reconstruction error: %w", err)
	}

	observability.RecordTaskComplete(TypeReconstructScope, "success", time.Since(startTime).Seconds())

	log.WithFields(logrus.Fields{
		"flags":    result.Flags,
		"periods":  result.Periods,
		"duration": time.Since(startTime),
	}).Info("Scope reconstruction completed")

	return nil
}

// HandleReconstructAll rebuilds every scope
func (h *TaskHandler) HandleReconstructAll(ctx context.Context, t *asynq.Task) error {
	var payload ReconstructAllPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		observability.RecordError("task-handler", "unmarshal_error")
		return fmt.Errorf("failed to unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	log := h.log.WithField("trigger", payload.Trigger)
	log.Info("Starting full reconstruction")

	startTime := time.Now()

	result, err := h.reconstructor.ReconstructAll(ctx)
	if err != nil {
		log.WithError(err).Error("Full reconstruction failed")
		observability.RecordTaskComplete(TypeReconstructAll, "failed", time.Since(startTime).Seconds())

		return fmt.Errorf("reconstruction error: %w", err)
	}

	observability.RecordTaskComplete(TypeReconstructAll, "success", time.Since(startTime).Seconds())

	log.WithFields(logrus.Fields{
		"scopes":   result.Scopes,
		"flags":    result.Flags,
		"periods":  result.Periods,
		"duration": time.Since(startTime),
	}).Info("Full reconstruction completed")

	return nil
}

// Routes returns the task handler routes for Asynq
func (h *TaskHandler) Routes() map[string]asynq.HandlerFunc {
	return map[string]asynq.HandlerFunc{
		TypeReconstructScope: h.HandleReconstructScope,
		TypeReconstructAll:   h.HandleReconstructAll,
	}
}
