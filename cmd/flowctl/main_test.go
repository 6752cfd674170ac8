package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/assetflow/internal/queue"
	"github.com/kiranshivaraju/assetflow/internal/store"
	"github.com/kiranshivaraju/assetflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	ctx      *commandContext
	store    *store.MemoryStore
	delegate *queue.MemoryDelegate
	migrated bool
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    store.NewMemoryStore(),
		delegate: queue.NewMemoryDelegate(),
	}
	env.ctx = &commandContext{
		openStore: func(context.Context) (store.Store, error) { return env.store, nil },
		openQueue: func(context.Context) (*queue.Queue, error) { return queue.New(env.delegate, nil, nil), nil },
		migrate: func() error {
			env.migrated = true
			return nil
		},
	}
	return env
}

func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand(e.ctx)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMigrate(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "migrate")
	require.NoError(t, err)
	assert.True(t, env.migrated)
	assert.Contains(t, out, "Migrations applied")

	env.ctx.migrate = func() error { return errors.New("dirty database") }
	_, err = env.run(t, "migrate")
	assert.ErrorContains(t, err, "dirty database")
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "apikey", "create", "--name", "transfer-pool", "--scope", "worker")
	require.NoError(t, err)
	assert.Contains(t, out, "Key:    af_")

	keys, err := env.store.ListAPIKeys(context.Background())
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, "transfer-pool", keys[0].Name)
	assert.Equal(t, []string{models.ScopeWorker}, keys[0].Scopes)

	out, err = env.run(t, "apikey", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "transfer-pool")
	assert.Contains(t, out, "never")

	_, err = env.run(t, "apikey", "revoke", keys[0].ID.String())
	require.NoError(t, err)
	out, err = env.run(t, "apikey", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No API keys")
}

func TestAPIKeyCreate_Invalid(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.run(t, "apikey", "create", "--name", "x")
	assert.Error(t, err)
	_, err = env.run(t, "apikey", "create", "--name", "x", "--scope", "root")
	assert.ErrorContains(t, err, "root")
	_, err = env.run(t, "apikey", "revoke", "not-a-uuid")
	assert.ErrorContains(t, err, "invalid key id")
}

func seedJob(t *testing.T, st *store.MemoryStore) (*models.Job, *models.Pipeline) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	pipelineID := uuid.New()
	j := &models.Job{
		ID: uuid.New(), Type: models.JobTypeIngest, Priority: 3,
		Status: models.JobStatusExecuting, StatusTime: now, PipelineID: &pipelineID,
		CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, st.CreateJob(ctx, j))
	require.NoError(t, st.AppendJobMessages(ctx, j.ID, []string{"transfer started"}))

	p := &models.Pipeline{
		ID: pipelineID, OwnerID: j.ID, OwnerKind: "job",
		Status: models.PipelineStatusExecuting, Stages: []string{"ingest.transfer", "ingest.verify"},
		StageStatus: models.StageStatusExecuting, FailureStage: "ingest.cleanup",
		Properties: map[string]string{"priority": "3"}, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, st.CreatePipeline(ctx, p))

	g := &models.TaskGroup{ID: uuid.New(), JobID: j.ID, PipelineID: p.ID, Status: models.TaskStatusExecuting}
	tk := &models.Task{ID: uuid.New(), GroupID: g.ID, Type: "TRANSFER", Priority: 3,
		Status: models.TaskStatusExecuting, AssignedWorker: "w-17"}
	require.NoError(t, st.CreateTaskGroup(ctx, g, []*models.Task{tk}))
	return j, p
}

func TestJobCommands(t *testing.T) {
	env := newTestEnv(t)
	j, p := seedJob(t, env.store)

	out, err := env.run(t, "job", "list", "--type", "ingest")
	require.NoError(t, err)
	assert.Contains(t, out, j.ID.String())
	assert.Contains(t, out, "1 of 1 jobs")

	out, err = env.run(t, "job", "list", "--status", "COMPLETED")
	require.NoError(t, err)
	assert.Contains(t, out, "No jobs")

	out, err = env.run(t, "job", "show", j.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, p.ID.String())
	assert.Contains(t, out, "transfer started")

	_, err = env.run(t, "job", "show", uuid.NewString())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestPipelineCommands(t *testing.T) {
	env := newTestEnv(t)
	j, p := seedJob(t, env.store)

	out, err := env.run(t, "pipeline", "show", p.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "ingest.transfer")
	assert.Contains(t, out, "ingest.verify")
	assert.Contains(t, out, "ingest.cleanup (pending)")
	assert.Contains(t, out, "priority")

	out, err = env.run(t, "pipeline", "list", "--owner", j.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, p.ID.String())

	_, err = env.run(t, "pipeline", "list")
	assert.Error(t, err)
}

func TestTasksCommand(t *testing.T) {
	env := newTestEnv(t)
	_, p := seedJob(t, env.store)

	out, err := env.run(t, "tasks", p.ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "TRANSFER")
	assert.Contains(t, out, "w-17")

	out, err = env.run(t, "tasks", uuid.NewString())
	require.NoError(t, err)
	assert.Contains(t, out, "No task groups")
}

func TestQueueDrain(t *testing.T) {
	env := newTestEnv(t)
	q := queue.New(env.delegate, nil, nil)
	for i := 0; i < 3; i++ {
		require.NoError(t, q.Add(context.Background(), &models.Task{ID: uuid.New(), Type: "TRANSFER", Priority: 5}))
	}

	_, err := env.run(t, "queue", "drain")
	assert.ErrorContains(t, err, "--yes")
	assert.Equal(t, 3, env.delegate.Len("TRANSFER"))

	out, err := env.run(t, "queue", "drain", "--yes")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Drained memory queue"))
	assert.Equal(t, 0, env.delegate.Len("TRANSFER"))
}

func TestRenderTable_PadsShortRows(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"only"}}, nil)
	assert.Contains(t, out, "only")
	assert.Empty(t, renderTable(nil, nil, nil))
}
