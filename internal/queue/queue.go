// Package queue holds tasks waiting for a worker, partitioned by task type.
//
// The Queue facade validates arguments and maps task priorities onto the
// backend scale; a Delegate does the storage. Get is atomic per backend: an id
// is handed out at most once per enqueue.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/assetflow/internal/metrics"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

var ErrInvalidTask = errors.New("invalid task")

// Entry is what a delegate stores for one queued task.
type Entry struct {
	TaskID uuid.UUID
	Type   string
	// Priority is on the backend scale: higher is served first.
	Priority int
}

// Delegate is a queue backend.
type Delegate interface {
	Add(ctx context.Context, e Entry) error
	// Get removes and returns up to max ids queued under taskType.
	Get(ctx context.Context, taskType string, max int) ([]uuid.UUID, error)
	// Drain discards everything queued.
	Drain(ctx context.Context) error
	Name() string
}

type Queue struct {
	delegate Delegate
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func New(d Delegate, m *metrics.Metrics, logger *slog.Logger) *Queue {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		delegate: d,
		metrics:  m,
		logger:   logger.With("component", "queue", "backend", d.Name()),
	}
}

// Backend names the delegate in use.
func (q *Queue) Backend() string {
	return q.delegate.Name()
}

// Add enqueues t under its type with its priority.
func (q *Queue) Add(ctx context.Context, t *models.Task) error {
	if t == nil || t.ID == uuid.Nil {
		return fmt.Errorf("%w: task id is required", ErrInvalidTask)
	}
	if t.Type == "" {
		return fmt.Errorf("%w: task %s has no type", ErrInvalidTask, t.ID)
	}
	prio, err := ToBackend(t.Priority)
	if err != nil {
		return fmt.Errorf("task %s: %w", t.ID, err)
	}
	if err := q.delegate.Add(ctx, Entry{TaskID: t.ID, Type: t.Type, Priority: prio}); err != nil {
		return fmt.Errorf("enqueue task %s: %w", t.ID, err)
	}
	q.metrics.TasksEnqueued.WithLabelValues(t.Type, q.delegate.Name()).Inc()
	q.logger.Debug("task enqueued", "task_id", t.ID, "type", t.Type, "priority", t.Priority)
	return nil
}

// Get removes the next id for taskType. ok is false when nothing is queued.
func (q *Queue) Get(ctx context.Context, taskType string) (uuid.UUID, bool, error) {
	ids, err := q.GetN(ctx, taskType, 1)
	if err != nil || len(ids) == 0 {
		return uuid.Nil, false, err
	}
	return ids[0], true, nil
}

// GetN removes up to max ids for taskType. A non-positive max returns nothing.
func (q *Queue) GetN(ctx context.Context, taskType string, max int) ([]uuid.UUID, error) {
	if max <= 0 {
		return nil, nil
	}
	if taskType == "" {
		return nil, fmt.Errorf("%w: task type is required", ErrInvalidTask)
	}
	ids, err := q.delegate.Get(ctx, taskType, max)
	if err != nil {
		return nil, fmt.Errorf("dequeue %s: %w", taskType, err)
	}
	return ids, nil
}

// Drain discards every queued id. Used for manual recovery.
func (q *Queue) Drain(ctx context.Context) error {
	if err := q.delegate.Drain(ctx); err != nil {
		return fmt.Errorf("drain queue: %w", err)
	}
	q.logger.Warn("queue drained")
	return nil
}
