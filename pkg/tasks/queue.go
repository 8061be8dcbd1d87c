package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethpandaops/bookkeeping/pkg/observability"
	"github.com/ethpandaops/bookkeeping/pkg/qcflag"
	"github.com/hibiken/asynq"
)

var (
	// ErrAlreadyQueued is returned when an identical task is already pending
	ErrAlreadyQueued = errors.New("task already queued")
)

// QueueManager manages task queuing
type QueueManager struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	queue     string
}

// NewQueueManager creates a new queue manager publishing to queue
func NewQueueManager(redisOpt asynq.RedisClientOpt, queue string) *QueueManager {
	return &QueueManager{
		client:    asynq.NewClient(redisOpt),
		inspector: asynq.NewInspector(redisOpt),
		queue:     queue,
	}
}

// Queue returns the queue tasks are published to
func (q *QueueManager) Queue() string {
	return q.queue
}

// EnqueueReconstructScope enqueues the rebuild of one scope
func (q *QueueManager) EnqueueReconstructScope(key qcflag.ScopeKey, trigger string, opts ...asynq.Option) (string, error) {
	payload := NewReconstructScopePayload(key, trigger)

	return q.enqueue(TypeReconstructScope, payload.UniqueID(), trigger, payload, 10*time.Minute, opts)
}

// EnqueueReconstructAll enqueues the rebuild of every scope
func (q *QueueManager) EnqueueReconstructAll(trigger string, opts ...asynq.Option) (string, error) {
	payload := ReconstructAllPayload{Trigger: trigger, EnqueuedAt: time.Now().UTC()}

	return q.enqueue(TypeReconstructAll, payload.UniqueID(), trigger, payload, 2*time.Hour, opts)
}

func (q *QueueManager) enqueue(taskType, taskID, trigger string, payload any, timeout time.Duration, opts []asynq.Option) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	task := asynq.NewTask(taskType, data)

	defaultOpts := []asynq.Option{
		asynq.TaskID(taskID),
		asynq.Queue(q.queue),
		asynq.MaxRetry(3),
		asynq.Timeout(timeout),
	}

	allOpts := defaultOpts
	allOpts = append(allOpts, opts...)

	info, err := q.client.Enqueue(task, allOpts...)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			return taskID, fmt.Errorf("%w: %s", ErrAlreadyQueued, taskID)
		}

		return "", fmt.Errorf("failed to enqueue %s: %w", taskType, err)
	}

	observability.RecordTaskEnqueued(taskType, trigger)

	return info.ID, nil
}

// IsTaskPendingOrRunning checks if a task is pending or running
func (q *QueueManager) IsTaskPendingOrRunning(taskID string) (bool, error) {
	info, err := q.inspector.GetTaskInfo(q.queue, taskID)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) ||
			strings.Contains(err.Error(), "NOT FOUND") {
			return false, nil
		}

		return false, err
	}

	return info.State == asynq.TaskStatePending ||
		info.State == asynq.TaskStateActive ||
		info.State == asynq.TaskStateRetry, nil
}

// Close closes the queue manager
func (q *QueueManager) Close() error {
	if err := q.inspector.Close(); err != nil {
		return err
	}

	return q.client.Close()
}
