// Package task manages groups of tasks delegated to external workers: creating
// them, applying worker status reports and telling the owning pipeline when a
// group's aggregate status changes.
package task

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/assetflow/internal/callback"
	"github.com/kiranshivaraju/assetflow/internal/metrics"
	"github.com/kiranshivaraju/assetflow/internal/queue"
	"github.com/kiranshivaraju/assetflow/internal/store"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

var ErrEmptyGroup = errors.New("task group has no tasks")

// groupCASAttempts bounds the reload-and-retry loop when another status report
// moves the group between our read and our write.
const groupCASAttempts = 3

// Spec describes one task to create.
type Spec struct {
	Type          string
	Description   string
	Configuration json.RawMessage
}

// GroupSpec describes a group to create. ListenerID may be empty for groups
// nobody waits on.
type GroupSpec struct {
	JobID      uuid.UUID
	PipelineID uuid.UUID
	ListenerID string
	Priority   int
	Tasks      []Spec
}

// Enqueuer is the part of the task queue the manager needs.
type Enqueuer interface {
	Add(ctx context.Context, t *models.Task) error
}

type Manager struct {
	store   store.TaskStore
	queue   Enqueuer
	firer   callback.Firer
	retry   RetryPolicy
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewManager(st store.TaskStore, q Enqueuer, f callback.Firer, retry RetryPolicy, m *metrics.Metrics, logger *slog.Logger) *Manager {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:   st,
		queue:   q,
		firer:   f,
		retry:   retry,
		metrics: m,
		logger:  logger.With("component", "task"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateGroup persists a group with its tasks, then enqueues every task.
// Enqueue failures do not undo the group; they are logged and the first one is
// returned alongside the created group.
func (m *Manager) CreateGroup(ctx context.Context, spec GroupSpec) (*models.TaskGroup, []*models.Task, error) {
	if len(spec.Tasks) == 0 {
		return nil, nil, ErrEmptyGroup
	}
	if _, err := queue.ToBackend(spec.Priority); err != nil {
		return nil, nil, err
	}

	now := m.now()
	group := &models.TaskGroup{
		ID:         uuid.New(),
		JobID:      spec.JobID,
		PipelineID: spec.PipelineID,
		ListenerID: spec.ListenerID,
		Status:     models.TaskStatusQueued,
		StatusTime: now,
		CreatedAt:  now,
	}
	tasks := make([]*models.Task, 0, len(spec.Tasks))
	for _, s := range spec.Tasks {
		if s.Type == "" {
			return nil, nil, fmt.Errorf("%w: task type is required", queue.ErrInvalidTask)
		}
		tasks = append(tasks, &models.Task{
			ID:            uuid.New(),
			GroupID:       group.ID,
			Type:          s.Type,
			Description:   s.Description,
			Priority:      spec.Priority,
			Status:        models.TaskStatusQueued,
			StatusTime:    now,
			Configuration: s.Configuration,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}

	if err := m.store.CreateTaskGroup(ctx, group, tasks); err != nil {
		return nil, nil, fmt.Errorf("creating task group: %w", err)
	}

	var enqueueErr error
	for _, t := range tasks {
		if err := m.queue.Add(ctx, t); err != nil {
			m.logger.Error("failed to enqueue task", "task_id", t.ID, "group_id", group.ID, "error", err)
			if enqueueErr == nil {
				enqueueErr = err
			}
		}
	}

	m.logger.Info("task group created",
		"group_id", group.ID, "pipeline_id", group.PipelineID, "tasks", len(tasks))
	return group, tasks, enqueueErr
}

// UpdateStatus applies a worker's report to a task and recomputes its group.
// Reports are last-write-wins.
func (m *Manager) UpdateStatus(ctx context.Context, taskID uuid.UUID, update models.StatusUpdate) (*models.Task, error) {
	status, err := models.ParseTaskStatus(string(update.Status))
	if err != nil {
		return nil, err
	}

	t, err := m.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("loading task %s: %w", taskID, err)
	}
	m.metrics.TaskStatusUpdates.WithLabelValues(t.Type, string(status)).Inc()

	// A repeat of the attempt's last report changes nothing, even after a
	// FAILED_CLEAN report has already put the task back on the queue.
	if t.ReportedStatus == status && (len(update.Output) == 0 || bytes.Equal(t.Output, update.Output)) {
		m.logger.Debug("ignoring repeated status report", "task_id", t.ID, "status", status)
		return t, m.refreshGroup(ctx, t.GroupID)
	}

	t.Status = status
	t.ReportedStatus = status
	t.StatusTime = m.now()
	if len(update.Output) > 0 {
		t.Output = update.Output
	}

	requeue := false
	if status == models.TaskStatusFailedClean && m.retry.Allows(t.Type, t.RetryAttempts) {
		t.RetryAttempts++
		t.Status = models.TaskStatusQueued
		requeue = true
	}

	if err := m.store.UpdateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("updating task %s: %w", taskID, err)
	}
	if requeue {
		m.metrics.TaskRetries.WithLabelValues(t.Type).Inc()
		m.logger.Warn("requeueing failed task", "task_id", t.ID, "type", t.Type, "attempt", t.RetryAttempts)
		if err := m.queue.Add(ctx, t); err != nil {
			return t, fmt.Errorf("requeueing task %s: %w", taskID, err)
		}
	}

	if err := m.refreshGroup(ctx, t.GroupID); err != nil {
		return t, err
	}
	return t, nil
}

// refreshGroup recomputes the group's status and, when it changes, notifies
// the group's listener with the pipeline id as the event's object.
func (m *Manager) refreshGroup(ctx context.Context, groupID uuid.UUID) error {
	for attempt := 0; attempt < groupCASAttempts; attempt++ {
		group, err := m.store.GetTaskGroup(ctx, groupID)
		if err != nil {
			return fmt.Errorf("loading task group %s: %w", groupID, err)
		}
		if group.Status.Terminal() {
			return nil
		}

		tasks, err := m.store.ListGroupTasks(ctx, groupID)
		if err != nil {
			return fmt.Errorf("listing tasks of group %s: %w", groupID, err)
		}
		statuses := make([]models.TaskStatus, len(tasks))
		for i, t := range tasks {
			statuses[i] = t.Status
		}

		next := advance(group.Status, Aggregate(statuses))
		if next == group.Status {
			return nil
		}

		swapped, err := m.store.UpdateTaskGroupStatus(ctx, groupID, group.Status, next)
		if err != nil {
			return fmt.Errorf("updating task group %s: %w", groupID, err)
		}
		if !swapped {
			continue
		}

		m.logger.Info("task group status changed",
			"group_id", groupID, "pipeline_id", group.PipelineID, "from", group.Status, "to", next)
		if group.ListenerID == "" {
			return nil
		}
		ev := models.NewEvent(group.PipelineID)
		ev.Properties.Set(models.PropTaskGroupStatus, string(next))
		ev.Properties.Set(models.PropTaskGroupID, groupID.String())
		if err := m.firer.Fire(ctx, group.ListenerID, ev); err != nil {
			return fmt.Errorf("notifying %s of group %s: %w", group.ListenerID, groupID, err)
		}
		return nil
	}
	m.logger.Warn("gave up recomputing task group after concurrent updates", "group_id", groupID)
	return nil
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return m.store.GetTask(ctx, id)
}

func (m *Manager) Group(ctx context.Context, id uuid.UUID) (*models.TaskGroup, error) {
	return m.store.GetTaskGroup(ctx, id)
}

// Tasks lists a group's tasks in creation order.
func (m *Manager) Tasks(ctx context.Context, groupID uuid.UUID) ([]*models.Task, error) {
	return m.store.ListGroupTasks(ctx, groupID)
}
