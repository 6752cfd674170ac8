package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/assetflow/internal/pipeline"
	"github.com/kiranshivaraju/assetflow/internal/store"
	"github.com/kiranshivaraju/assetflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedStage returns fixed results and counts its invocations.
type scriptedStage struct {
	mu        sync.Mutex
	prepare   models.StageStatus
	callback  models.StageStatus
	props     map[string]string
	insert    []string
	err       error
	panicMsg  string
	prepares  int
	callbacks int
	failures  int
}

func (s *scriptedStage) Prepare(_ context.Context, sc *pipeline.StageContext) (models.StageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prepares++
	if s.panicMsg != "" {
		panic(s.panicMsg)
	}
	if s.err != nil {
		return models.StageResult{}, s.err
	}
	return sc.Result(s.prepare, []string{sc.StageID + " prepared"}, s.props, s.insert...), nil
}

func (s *scriptedStage) OnCallback(_ context.Context, sc *pipeline.StageContext, _ models.Event) (models.StageResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks++
	return sc.Result(s.callback, nil, nil), nil
}

func (s *scriptedStage) OnFailure(context.Context, *pipeline.StageContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures++
	return errors.New("cleanup errors are only logged")
}

func (s *scriptedStage) counts() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prepares, s.callbacks, s.failures
}

type recordingFirer struct {
	mu      sync.Mutex
	err     error
	events  []models.Event
	delayed []models.Event
}

func (f *recordingFirer) FireAfter(_ context.Context, _ string, ev models.Event, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delayed = append(f.delayed, ev)
	return nil
}

func (f *recordingFirer) Fire(_ context.Context, _ string, ev models.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *recordingFirer) statuses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, ev := range f.events {
		out = append(out, ev.Properties.Get(models.PropStatus))
	}
	return out
}

// gatedStage holds every OnCallback until all expected callers have arrived.
type gatedStage struct {
	arrived sync.WaitGroup
}

func newGatedStage(callers int) *gatedStage {
	g := &gatedStage{}
	g.arrived.Add(callers)
	return g
}

func (g *gatedStage) Prepare(_ context.Context, sc *pipeline.StageContext) (models.StageResult, error) {
	return sc.Result(models.StageStatusExecuting, nil, nil), nil
}

func (g *gatedStage) OnCallback(_ context.Context, sc *pipeline.StageContext, _ models.Event) (models.StageResult, error) {
	g.arrived.Done()
	g.arrived.Wait()
	return sc.Result(models.StageStatusCompleted, nil, nil), nil
}

func (g *gatedStage) OnFailure(context.Context, *pipeline.StageContext) error { return nil }

type harness struct {
	store    *store.MemoryStore
	registry *pipeline.Registry
	firer    *recordingFirer
	executor *pipeline.Executor
	manager  *pipeline.Manager
}

func newHarness(t *testing.T, stages map[string]pipeline.Stage) *harness {
	t.Helper()
	reg := pipeline.NewRegistry()
	for id, s := range stages {
		require.NoError(t, reg.Register(id, s))
	}
	st := store.NewMemoryStore()
	f := &recordingFirer{}
	x := pipeline.NewExecutor(st, pipeline.NewStageExecutor(reg, nil, nil), f, nil, nil,
		pipeline.WithRedelivery(time.Millisecond, 3))
	return &harness{
		store:    st,
		registry: reg,
		firer:    f,
		executor: x,
		manager:  pipeline.NewManager(st, reg, x, nil),
	}
}

func (h *harness) start(t *testing.T, failureStage string, stages ...string) *models.Pipeline {
	t.Helper()
	p, err := h.manager.Start(context.Background(), pipeline.StartRequest{
		OwnerID:      uuid.New(),
		OwnerKind:    "job",
		Stages:       stages,
		FailureStage: failureStage,
		ListenerID:   "job",
	})
	require.NoError(t, err)
	return p
}

func TestDeriveStatus(t *testing.T) {
	tests := []struct {
		stage   models.StageStatus
		current int
		want    models.PipelineStatus
	}{
		{models.StageStatusQueued, 0, models.PipelineStatusQueued},
		{models.StageStatusExecuting, 1, models.PipelineStatusExecuting},
		{models.StageStatusCompleted, 0, models.PipelineStatusExecuting},
		{models.StageStatusCompleted, 1, models.PipelineStatusCompleted},
		{models.StageStatusFailed, 0, models.PipelineStatusFailed},
	}
	for _, tt := range tests {
		p := &models.Pipeline{Stages: []string{"a", "b"}, CurrentStage: tt.current, StageStatus: tt.stage}
		assert.Equal(t, tt.want, pipeline.DeriveStatus(p), "%s at %d", tt.stage, tt.current)
	}
}

func TestStart_AllStagesComplete(t *testing.T) {
	a := &scriptedStage{prepare: models.StageStatusCompleted, props: map[string]string{"a.done": "yes"}}
	b := &scriptedStage{prepare: models.StageStatusCompleted}
	c := &scriptedStage{prepare: models.StageStatusCompleted}
	h := newHarness(t, map[string]pipeline.Stage{"a": a, "b": b, "c": c})

	p := h.start(t, "", "a", "b", "c")

	assert.Equal(t, models.PipelineStatusCompleted, p.Status)
	assert.Equal(t, 2, p.CurrentStage)
	assert.Equal(t, "yes", p.Properties["a.done"])
	for _, s := range []*scriptedStage{a, b, c} {
		prepares, _, _ := s.counts()
		assert.Equal(t, 1, prepares)
	}
	assert.Equal(t, []string{"EXECUTING", "EXECUTING", "COMPLETED"}, h.firer.statuses())

	ev := h.firer.events[2]
	assert.Equal(t, p.OwnerID, ev.ObjectID)
	assert.Equal(t, []string{"c prepared"}, ev.Properties.All(models.PropMessage))
}

func TestStart_FirstStageFails(t *testing.T) {
	a := &scriptedStage{err: errors.New("manifest unreadable")}
	b := &scriptedStage{prepare: models.StageStatusCompleted}
	cleanup := &scriptedStage{}
	h := newHarness(t, map[string]pipeline.Stage{"a": a, "b": b, "cleanup": cleanup})

	p := h.start(t, "cleanup", "a", "b")

	assert.Equal(t, models.PipelineStatusFailed, p.Status)
	assert.Equal(t, 0, p.CurrentStage)
	assert.True(t, p.FailureHandled)
	_, _, failures := cleanup.counts()
	assert.Equal(t, 1, failures)
	prepares, _, _ := b.counts()
	assert.Zero(t, prepares)

	require.Len(t, h.firer.events, 1)
	assert.Contains(t, h.firer.events[0].Properties.Get(models.PropMessage), "manifest unreadable")

	require.NoError(t, h.executor.Fail(context.Background(), p.ID, "again"))
	_, _, failures = cleanup.counts()
	assert.Equal(t, 1, failures)
}

func TestStart_PanicBecomesFailure(t *testing.T) {
	a := &scriptedStage{panicMsg: "nil map"}
	h := newHarness(t, map[string]pipeline.Stage{"a": a})

	p := h.start(t, "", "a")
	assert.Equal(t, models.PipelineStatusFailed, p.Status)
	assert.Contains(t, h.firer.events[0].Properties.Get(models.PropMessage), "nil map")
}

func TestStart_InvalidInitialState(t *testing.T) {
	a := &scriptedStage{prepare: models.StageStatusExecuting}
	h := newHarness(t, map[string]pipeline.Stage{"a": a})
	p := h.start(t, "", "a")

	err := h.executor.Start(context.Background(), p.ID)
	assert.ErrorIs(t, err, pipeline.ErrInvalidInitialState)

	stored, err := h.store.GetPipeline(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.Version, stored.Version)
	prepares, _, _ := a.counts()
	assert.Equal(t, 1, prepares)
}

func TestResume_CallbackAdvances(t *testing.T) {
	a := &scriptedStage{prepare: models.StageStatusExecuting, callback: models.StageStatusCompleted}
	b := &scriptedStage{prepare: models.StageStatusCompleted}
	h := newHarness(t, map[string]pipeline.Stage{"a": a, "b": b})

	p := h.start(t, "", "a", "b")
	assert.Equal(t, models.PipelineStatusExecuting, p.Status)
	assert.Equal(t, 0, p.CurrentStage)

	require.NoError(t, h.executor.HandleEvent(context.Background(), models.NewEvent(p.ID)))

	stored, err := h.store.GetPipeline(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineStatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.CurrentStage)

	require.NoError(t, h.executor.HandleEvent(context.Background(), models.NewEvent(p.ID)))
	_, callbacks, _ := a.counts()
	assert.Equal(t, 1, callbacks, "events for finished pipelines are ignored")
}

func TestStart_InsertsStagesAfterCurrent(t *testing.T) {
	a := &scriptedStage{prepare: models.StageStatusCompleted, insert: []string{"x"}}
	x := &scriptedStage{prepare: models.StageStatusCompleted}
	b := &scriptedStage{prepare: models.StageStatusCompleted}
	h := newHarness(t, map[string]pipeline.Stage{"a": a, "x": x, "b": b})

	p := h.start(t, "", "a", "b")
	assert.Equal(t, []string{"a", "x", "b"}, p.Stages)
	assert.Equal(t, 2, p.CurrentStage)
	assert.Equal(t, models.PipelineStatusCompleted, p.Status)
}

func TestApply_ListenerErrorLeavesPipelineUntouched(t *testing.T) {
	a := &scriptedStage{prepare: models.StageStatusCompleted}
	h := newHarness(t, map[string]pipeline.Stage{"a": a})
	h.firer.err = errors.New("listener queue closed")

	p, err := h.manager.Start(context.Background(), pipeline.StartRequest{
		OwnerID: uuid.New(), Stages: []string{"a"}, ListenerID: "job",
	})
	require.Error(t, err)
	require.NotNil(t, p)
	assert.Equal(t, models.StageStatusQueued, p.StageStatus)
	assert.Equal(t, int64(0), p.Version)
}

func TestManagerStart_Validation(t *testing.T) {
	h := newHarness(t, map[string]pipeline.Stage{"a": &scriptedStage{prepare: models.StageStatusCompleted}})
	ctx := context.Background()

	_, err := h.manager.Start(ctx, pipeline.StartRequest{})
	assert.ErrorIs(t, err, pipeline.ErrNoStages)

	_, err = h.manager.Start(ctx, pipeline.StartRequest{Stages: []string{"a", "missing"}})
	assert.ErrorIs(t, err, pipeline.ErrUnknownStage)

	_, err = h.manager.Start(ctx, pipeline.StartRequest{Stages: []string{"a"}, FailureStage: "missing"})
	assert.ErrorIs(t, err, pipeline.ErrUnknownStage)
}

func TestFail_RunsFailureStageOnce(t *testing.T) {
	a := &scriptedStage{prepare: models.StageStatusExecuting}
	cleanup := &scriptedStage{}
	h := newHarness(t, map[string]pipeline.Stage{"a": a, "cleanup": cleanup})
	p := h.start(t, "cleanup", "a")

	require.NoError(t, h.executor.Fail(context.Background(), p.ID, "canceled by operator"))
	require.NoError(t, h.executor.Fail(context.Background(), p.ID, "canceled by operator"))

	stored, err := h.store.GetPipeline(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PipelineStatusFailed, stored.Status)
	_, _, failures := cleanup.counts()
	assert.Equal(t, 1, failures)
	assert.Equal(t, []string{"EXECUTING", "FAILED"}, h.firer.statuses())
}

func TestFail_CompletedPipeline(t *testing.T) {
	h := newHarness(t, map[string]pipeline.Stage{"a": &scriptedStage{prepare: models.StageStatusCompleted}})
	p := h.start(t, "", "a")

	err := h.executor.Fail(context.Background(), p.ID, "")
	assert.ErrorIs(t, err, pipeline.ErrPipelineCompleted)
}

func TestRegistry(t *testing.T) {
	reg := pipeline.NewRegistry()
	require.NoError(t, reg.Register("b", &scriptedStage{}))
	require.NoError(t, reg.Register("a", &scriptedStage{}))
	assert.ErrorIs(t, reg.Register("a", &scriptedStage{}), pipeline.ErrDuplicateStage)
	assert.Error(t, reg.Register("", &scriptedStage{}))
	assert.Equal(t, []string{"a", "b"}, reg.IDs())
}

func TestStage_InvalidStatusFailsPipeline(t *testing.T) {
	for _, status := range []models.StageStatus{"DONE", models.StageStatusQueued} {
		t.Run(string(status), func(t *testing.T) {
			a := &scriptedStage{prepare: status}
			cleanup := &scriptedStage{}
			h := newHarness(t, map[string]pipeline.Stage{"a": a, "cleanup": cleanup})

			p := h.start(t, "cleanup", "a")

			assert.Equal(t, models.PipelineStatusFailed, p.Status)
			assert.Equal(t, models.StageStatusFailed, p.StageStatus)
			assert.True(t, p.FailureHandled)
			_, _, failures := cleanup.counts()
			assert.Equal(t, 1, failures)
			require.Len(t, h.firer.events, 1)
			assert.Contains(t, h.firer.events[0].Properties.Get(models.PropMessage), "invalid status")
		})
	}
}

func TestResume_EarlyEventIsRedelivered(t *testing.T) {
	a := &scriptedStage{prepare: models.StageStatusExecuting}
	h := newHarness(t, map[string]pipeline.Stage{"a": a})
	p := h.start(t, "", "a")

	// Put the stage back to QUEUED as if the event beat the EXECUTING write.
	p.StageStatus = models.StageStatusQueued
	require.NoError(t, h.store.UpdatePipeline(context.Background(), p, nil))

	require.NoError(t, h.executor.HandleEvent(context.Background(), models.NewEvent(p.ID)))
	require.Len(t, h.firer.delayed, 1)
	assert.Equal(t, p.ID, h.firer.delayed[0].ObjectID)
	_, callbacks, _ := a.counts()
	assert.Zero(t, callbacks)
}

func TestResume_ConcurrentCallbacksAdvanceOnce(t *testing.T) {
	a := newGatedStage(2)
	b := &scriptedStage{prepare: models.StageStatusExecuting}
	h := newHarness(t, map[string]pipeline.Stage{"a": a, "b": b})
	p := h.start(t, "", "a", "b")
	require.Equal(t, models.StageStatusExecuting, p.StageStatus)

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = h.executor.Resume(context.Background(), models.NewEvent(p.ID))
		}(i)
	}
	wg.Wait()

	var conflicts, successes int
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, store.ErrConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, conflicts)

	stored, err := h.store.GetPipeline(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.CurrentStage)
	assert.Equal(t, models.StageStatusExecuting, stored.StageStatus)
	prepares, _, _ := b.counts()
	assert.Equal(t, 1, prepares)
}
