package task_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/assetflow/internal/queue"
	"github.com/kiranshivaraju/assetflow/internal/store"
	"github.com/kiranshivaraju/assetflow/internal/task"
	"github.com/kiranshivaraju/assetflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type firedEvent struct {
	listener string
	event    models.Event
}

type fakeFirer struct {
	mu     sync.Mutex
	events []firedEvent
}

func (f *fakeFirer) Fire(_ context.Context, listenerID string, ev models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, firedEvent{listener: listenerID, event: ev})
	return nil
}

func (f *fakeFirer) statuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, e := range f.events {
		out = append(out, e.event.Properties.Get(models.PropTaskGroupStatus))
	}
	return out
}

type fixture struct {
	store   *store.MemoryStore
	queue   *queue.Queue
	mem     *queue.MemoryDelegate
	firer   *fakeFirer
	manager *task.Manager
}

func newFixture(retry task.RetryPolicy) *fixture {
	st := store.NewMemoryStore()
	mem := queue.NewMemoryDelegate()
	q := queue.New(mem, nil, nil)
	f := &fakeFirer{}
	return &fixture{
		store:   st,
		queue:   q,
		mem:     mem,
		firer:   f,
		manager: task.NewManager(st, q, f, retry, nil, nil),
	}
}

func (fx *fixture) group(t *testing.T, n int) (*models.TaskGroup, []*models.Task) {
	t.Helper()
	specs := make([]task.Spec, n)
	for i := range specs {
		specs[i] = task.Spec{Type: "TRANSFER", Configuration: json.RawMessage(`{"n":1}`)}
	}
	g, tasks, err := fx.manager.CreateGroup(context.Background(), task.GroupSpec{
		JobID: uuid.New(), PipelineID: uuid.New(), ListenerID: "pipeline", Priority: 3, Tasks: specs,
	})
	require.NoError(t, err)
	return g, tasks
}

func (fx *fixture) report(t *testing.T, id uuid.UUID, status models.TaskStatus) {
	t.Helper()
	_, err := fx.manager.UpdateStatus(context.Background(), id, models.StatusUpdate{Status: status})
	require.NoError(t, err)
}

func (fx *fixture) groupStatus(t *testing.T, id uuid.UUID) models.TaskGroupStatus {
	t.Helper()
	g, err := fx.manager.Group(context.Background(), id)
	require.NoError(t, err)
	return g.Status
}

func TestCreateGroup_PersistsAndEnqueues(t *testing.T) {
	fx := newFixture(nil)
	g, tasks := fx.group(t, 3)

	assert.Equal(t, models.TaskStatusQueued, g.Status)
	assert.Equal(t, 3, fx.mem.Len("TRANSFER"))

	stored, err := fx.manager.Tasks(context.Background(), g.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for _, tk := range tasks {
		assert.Equal(t, 3, tk.Priority)
		assert.Equal(t, g.ID, tk.GroupID)
	}
	assert.Empty(t, fx.firer.events)
}

func TestCreateGroup_Rejects(t *testing.T) {
	fx := newFixture(nil)
	ctx := context.Background()

	_, _, err := fx.manager.CreateGroup(ctx, task.GroupSpec{Priority: 1})
	assert.ErrorIs(t, err, task.ErrEmptyGroup)

	_, _, err = fx.manager.CreateGroup(ctx, task.GroupSpec{Priority: 0, Tasks: []task.Spec{{Type: "TRANSFER"}}})
	assert.ErrorIs(t, err, queue.ErrInvalidPriority)
}

func TestUpdateStatus_AllComplete(t *testing.T) {
	fx := newFixture(nil)
	g, tasks := fx.group(t, 3)

	fx.report(t, tasks[0].ID, models.TaskStatusCompleted)
	assert.Equal(t, models.TaskStatusExecuting, fx.groupStatus(t, g.ID))

	fx.report(t, tasks[1].ID, models.TaskStatusCompleted)
	fx.report(t, tasks[2].ID, models.TaskStatusCompleted)
	assert.Equal(t, models.TaskStatusCompleted, fx.groupStatus(t, g.ID))

	assert.Equal(t, []string{"EXECUTING", "COMPLETED"}, fx.firer.statuses())
	last := fx.firer.events[len(fx.firer.events)-1]
	assert.Equal(t, "pipeline", last.listener)
	assert.Equal(t, g.PipelineID, last.event.ObjectID)
	assert.Equal(t, g.ID.String(), last.event.Properties.Get(models.PropTaskGroupID))
}

func TestUpdateStatus_CleanFailure(t *testing.T) {
	fx := newFixture(nil)
	g, tasks := fx.group(t, 3)

	fx.report(t, tasks[0].ID, models.TaskStatusCompleted)
	fx.report(t, tasks[1].ID, models.TaskStatusFailedClean)
	fx.report(t, tasks[2].ID, models.TaskStatusCompleted)

	assert.Equal(t, models.TaskStatusFailedClean, fx.groupStatus(t, g.ID))
	assert.Equal(t, []string{"EXECUTING", "FAILED_CLEAN"}, fx.firer.statuses())
}

func TestUpdateStatus_DirtyFailure(t *testing.T) {
	fx := newFixture(nil)
	g, tasks := fx.group(t, 3)

	fx.report(t, tasks[0].ID, models.TaskStatusFailedDirty)
	fx.report(t, tasks[1].ID, models.TaskStatusFailedClean)

	assert.Equal(t, models.TaskStatusFailedDirty, fx.groupStatus(t, g.ID))
	assert.Equal(t, []string{"FAILED_DIRTY"}, fx.firer.statuses())
}

func TestUpdateStatus_DuplicateIsNoop(t *testing.T) {
	fx := newFixture(nil)
	g, tasks := fx.group(t, 3)

	fx.report(t, tasks[0].ID, models.TaskStatusCompleted)
	fx.report(t, tasks[0].ID, models.TaskStatusCompleted)

	assert.Equal(t, models.TaskStatusExecuting, fx.groupStatus(t, g.ID))
	assert.Equal(t, []string{"EXECUTING"}, fx.firer.statuses())
}

func TestUpdateStatus_RetryRequeues(t *testing.T) {
	fx := newFixture(task.RetryPolicy{"TRANSFER": 1})
	g, tasks := fx.group(t, 1)
	ctx := context.Background()

	_, err := fx.queue.GetN(ctx, "TRANSFER", 10)
	require.NoError(t, err)
	fx.report(t, tasks[0].ID, models.TaskStatusExecuting)

	updated, err := fx.manager.UpdateStatus(ctx, tasks[0].ID, models.StatusUpdate{Status: models.TaskStatusFailedClean})
	require.NoError(t, err)
	assert.Equal(t, models.TaskStatusQueued, updated.Status)
	assert.Equal(t, 1, updated.RetryAttempts)
	assert.Equal(t, 1, fx.mem.Len("TRANSFER"))
	assert.Equal(t, models.TaskStatusExecuting, fx.groupStatus(t, g.ID))

	// Handing the task out again starts a new attempt.
	_, err = fx.queue.GetN(ctx, "TRANSFER", 10)
	require.NoError(t, err)
	require.NoError(t, fx.store.AssignTasks(ctx, []uuid.UUID{tasks[0].ID}, "worker-2"))

	fx.report(t, tasks[0].ID, models.TaskStatusFailedClean)
	assert.Equal(t, models.TaskStatusFailedClean, fx.groupStatus(t, g.ID))
	assert.Equal(t, []string{"EXECUTING", "FAILED_CLEAN"}, fx.firer.statuses())
}

func TestUpdateStatus_RepeatedFailureKeepsRetry(t *testing.T) {
	outcome := func(reports int) (models.TaskGroupStatus, *models.Task) {
		fx := newFixture(task.RetryPolicy{"TRANSFER": 1})
		g, tasks := fx.group(t, 1)
		_, err := fx.queue.GetN(context.Background(), "TRANSFER", 10)
		require.NoError(t, err)
		for i := 0; i < reports; i++ {
			fx.report(t, tasks[0].ID, models.TaskStatusFailedClean)
		}
		got, err := fx.manager.Get(context.Background(), tasks[0].ID)
		require.NoError(t, err)
		assert.Equal(t, 1, fx.mem.Len("TRANSFER"))
		return fx.groupStatus(t, g.ID), got
	}

	onceGroup, once := outcome(1)
	twiceGroup, twice := outcome(2)

	assert.Equal(t, models.TaskStatusQueued, onceGroup)
	assert.Equal(t, onceGroup, twiceGroup)
	assert.Equal(t, once.Status, twice.Status)
	assert.Equal(t, 1, twice.RetryAttempts)
}

func TestUpdateStatus_StoresOutput(t *testing.T) {
	fx := newFixture(nil)
	_, tasks := fx.group(t, 1)
	ctx := context.Background()

	_, err := fx.manager.UpdateStatus(ctx, tasks[0].ID, models.StatusUpdate{
		Status: models.TaskStatusCompleted,
		Output: json.RawMessage(`{"etag":"abc"}`),
	})
	require.NoError(t, err)

	got, err := fx.manager.Get(ctx, tasks[0].ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"etag":"abc"}`, string(got.Output))
}

func TestUpdateStatus_Errors(t *testing.T) {
	fx := newFixture(nil)
	_, tasks := fx.group(t, 1)
	ctx := context.Background()

	_, err := fx.manager.UpdateStatus(ctx, tasks[0].ID, models.StatusUpdate{Status: "DONE"})
	assert.ErrorIs(t, err, models.ErrInvalidStatus)

	_, err = fx.manager.UpdateStatus(ctx, uuid.New(), models.StatusUpdate{Status: models.TaskStatusCompleted})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateStatus_TerminalGroupFrozen(t *testing.T) {
	fx := newFixture(nil)
	g, tasks := fx.group(t, 2)

	fx.report(t, tasks[0].ID, models.TaskStatusFailedDirty)
	fx.report(t, tasks[1].ID, models.TaskStatusCompleted)
	fx.report(t, tasks[0].ID, models.TaskStatusCompleted)

	assert.Equal(t, models.TaskStatusFailedDirty, fx.groupStatus(t, g.ID))
	assert.Equal(t, []string{"FAILED_DIRTY"}, fx.firer.statuses())
}

func TestUpdateStatus_NoListener(t *testing.T) {
	fx := newFixture(nil)
	g, tasks, err := fx.manager.CreateGroup(context.Background(), task.GroupSpec{
		PipelineID: uuid.New(), Priority: 5, Tasks: []task.Spec{{Type: "CLEANUP"}},
	})
	require.NoError(t, err)

	fx.report(t, tasks[0].ID, models.TaskStatusCompleted)
	assert.Equal(t, models.TaskStatusCompleted, fx.groupStatus(t, g.ID))
	assert.Empty(t, fx.firer.events)
}
