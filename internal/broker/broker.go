// Package broker matches worker capacity against queued tasks and routes
// worker status reports back to the task manager.
package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/assetflow/internal/metrics"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

var ErrInvalidWorker = errors.New("worker id is required")

// TaskQueue is the dequeue side of the task queue.
type TaskQueue interface {
	GetN(ctx context.Context, taskType string, max int) ([]uuid.UUID, error)
}

// TaskRecords loads and annotates task records.
type TaskRecords interface {
	GetTasks(ctx context.Context, ids []uuid.UUID) ([]*models.Task, error)
	AssignTasks(ctx context.Context, ids []uuid.UUID, workerID string) error
}

// StatusUpdater applies worker status reports.
type StatusUpdater interface {
	UpdateStatus(ctx context.Context, taskID uuid.UUID, update models.StatusUpdate) (*models.Task, error)
}

type Broker struct {
	queue    TaskQueue
	records  TaskRecords
	updater  StatusUpdater
	maxTasks int
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// New creates a Broker. maxTasks caps how many tasks a single poll hands out.
func New(q TaskQueue, records TaskRecords, updater StatusUpdater, maxTasks int, m *metrics.Metrics, logger *slog.Logger) *Broker {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		queue:    q,
		records:  records,
		updater:  updater,
		maxTasks: maxTasks,
		metrics:  m,
		logger:   logger.With("component", "broker"),
	}
}

// Poll hands a worker up to availability tasks of each type it declares.
// Dequeued ids whose record no longer exists are dropped with a warning.
// The assignment is recorded for operators only; status reports are not
// checked against it.
func (b *Broker) Poll(ctx context.Context, workerID string, capacities []models.Capacity) ([]*models.Task, error) {
	if workerID == "" {
		return nil, ErrInvalidWorker
	}

	remaining := b.maxTasks
	var ids []uuid.UUID
	for _, c := range capacities {
		want := c.Availability
		if b.maxTasks > 0 && want > remaining {
			want = remaining
		}
		if want <= 0 || c.Type == "" {
			continue
		}
		got, err := b.queue.GetN(ctx, c.Type, want)
		if err != nil {
			// Ids already popped in this poll are lost to the queue; the
			// tasks stay QUEUED in the store and need manual recovery.
			b.logger.Error("dequeue failed", "worker_id", workerID, "type", c.Type, "dequeued", len(ids), "error", err)
			return nil, fmt.Errorf("polling %s tasks: %w", c.Type, err)
		}
		ids = append(ids, got...)
		remaining -= len(got)
	}
	if len(ids) == 0 {
		return []*models.Task{}, nil
	}

	tasks, err := b.records.GetTasks(ctx, ids)
	if err != nil {
		b.logger.Error("loading dequeued tasks failed", "worker_id", workerID, "dequeued", len(ids), "error", err)
		return nil, fmt.Errorf("loading tasks: %w", err)
	}

	byID := make(map[uuid.UUID]*models.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	out := make([]*models.Task, 0, len(ids))
	assigned := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		t, ok := byID[id]
		if !ok {
			b.logger.Warn("dequeued task has no record", "task_id", id, "worker_id", workerID)
			continue
		}
		t.AssignedWorker = workerID
		out = append(out, t)
		assigned = append(assigned, id)
		b.metrics.TasksDispatched.WithLabelValues(t.Type).Inc()
	}

	if err := b.records.AssignTasks(ctx, assigned, workerID); err != nil {
		b.logger.Warn("recording task assignment failed", "worker_id", workerID, "error", err)
	}

	b.logger.Info("tasks dispatched", "worker_id", workerID, "count", len(out))
	return out, nil
}

// ReportStatus forwards a worker's report. Any worker may report on any task.
func (b *Broker) ReportStatus(ctx context.Context, workerID string, taskID uuid.UUID, update models.StatusUpdate) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("panic handling status report", "worker_id", workerID, "task_id", taskID, "error", r)
			err = fmt.Errorf("handling status report for task %s: %v", taskID, r)
		}
	}()

	if workerID == "" {
		return ErrInvalidWorker
	}
	t, err := b.updater.UpdateStatus(ctx, taskID, update)
	if err != nil {
		b.logger.Error("status report failed",
			"worker_id", workerID, "task_id", taskID, "status", update.Status, "error", err)
		return err
	}
	if t.AssignedWorker != "" && t.AssignedWorker != workerID {
		b.logger.Warn("status reported by a worker other than the assignee",
			"worker_id", workerID, "assigned_worker", t.AssignedWorker, "task_id", taskID)
	}
	b.logger.Debug("status reported", "worker_id", workerID, "task_id", taskID, "status", update.Status)
	return nil
}
