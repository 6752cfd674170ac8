package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/assetflow/internal/callback"
	"github.com/kiranshivaraju/assetflow/internal/metrics"
	"github.com/kiranshivaraju/assetflow/internal/store"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

var (
	ErrInvalidInitialState = errors.New("pipeline is not in its initial position")
	ErrPipelineCompleted   = errors.New("pipeline already completed")
)

// propRedelivery counts how often an early callback was put back.
const propRedelivery = "redelivery"

// Executor drives pipelines through their stages. It is registered with the
// callback dispatcher under callback.ListenerPipeline.
type Executor struct {
	store   store.PipelineStore
	stages  *StageExecutor
	firer   callback.DelayedFirer
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time

	// An event can reach a pipeline whose current stage has delegated work
	// but not yet persisted EXECUTING. Such events are fired again after
	// redeliveryDelay, at most maxRedeliveries times.
	redeliveryDelay time.Duration
	maxRedeliveries int
}

// ExecutorOption customises an Executor.
type ExecutorOption func(*Executor)

// WithRedelivery sets how early callbacks are retried.
func WithRedelivery(delay time.Duration, max int) ExecutorOption {
	return func(x *Executor) {
		x.redeliveryDelay = delay
		x.maxRedeliveries = max
	}
}

func NewExecutor(st store.PipelineStore, stages *StageExecutor, f callback.DelayedFirer, m *metrics.Metrics, logger *slog.Logger, opts ...ExecutorOption) *Executor {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	x := &Executor{
		store:           st,
		stages:          stages,
		firer:           f,
		metrics:         m,
		logger:          logger.With("component", "pipeline"),
		now:             func() time.Time { return time.Now().UTC() },
		redeliveryDelay: 250 * time.Millisecond,
		maxRedeliveries: 40,
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Start prepares the first stage of a pipeline in its initial position and
// runs it as far as it goes without waiting.
func (x *Executor) Start(ctx context.Context, id uuid.UUID) error {
	p, err := x.store.GetPipeline(ctx, id)
	if err != nil {
		return fmt.Errorf("loading pipeline %s: %w", id, err)
	}
	if p.CurrentStage != 0 || p.StageStatus != models.StageStatusQueued || p.Status.Terminal() {
		return fmt.Errorf("%w: pipeline %s is at stage %d with status %s",
			ErrInvalidInitialState, id, p.CurrentStage, p.StageStatus)
	}

	x.logger.Info("pipeline started", "pipeline_id", p.ID, "owner_id", p.OwnerID, "stages", p.Stages)
	return x.step(ctx, p, x.stages.Prepare(ctx, p))
}

// HandleEvent implements callback.Listener.
func (x *Executor) HandleEvent(ctx context.Context, ev models.Event) error {
	return x.Resume(ctx, ev)
}

// Resume hands ev to the current stage of the pipeline named by ev.ObjectID.
// Events for finished pipelines or for stages that are not waiting are ignored.
func (x *Executor) Resume(ctx context.Context, ev models.Event) error {
	p, err := x.store.GetPipeline(ctx, ev.ObjectID)
	if err != nil {
		return fmt.Errorf("loading pipeline %s: %w", ev.ObjectID, err)
	}
	logger := x.logger.With("pipeline_id", p.ID, "stage", p.CurrentStageID())

	if p.Status.Terminal() {
		logger.Debug("ignoring event for finished pipeline", "status", p.Status)
		return nil
	}
	if p.StageStatus == models.StageStatusQueued {
		x.redeliver(ctx, ev, logger)
		return nil
	}
	if p.StageStatus != models.StageStatusExecuting {
		logger.Debug("ignoring event for stage that is not executing", "stage_status", p.StageStatus)
		return nil
	}

	return x.step(ctx, p, x.stages.OnCallback(ctx, p, ev))
}

func (x *Executor) redeliver(ctx context.Context, ev models.Event, logger *slog.Logger) {
	n, _ := strconv.Atoi(ev.Properties.Get(propRedelivery))
	if n >= x.maxRedeliveries {
		logger.Error("dropping event for stage that never started executing", "attempts", n)
		return
	}
	next := models.NewEvent(ev.ObjectID)
	for k, vs := range ev.Properties {
		next.Properties[k] = append([]string(nil), vs...)
	}
	next.Properties.Set(propRedelivery, strconv.Itoa(n+1))

	logger.Debug("event arrived before stage was executing, redelivering", "attempt", n+1)
	if err := x.firer.FireAfter(ctx, callback.ListenerPipeline, next, x.redeliveryDelay); err != nil {
		logger.Error("redelivering event failed", "error", err)
	}
}

// Fail drives a pipeline to FAILED and runs its failure stage. Tasks already
// handed to workers are not recalled.
func (x *Executor) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	p, err := x.store.GetPipeline(ctx, id)
	if err != nil {
		return fmt.Errorf("loading pipeline %s: %w", id, err)
	}
	switch p.Status {
	case models.PipelineStatusCompleted:
		return fmt.Errorf("%w: %s", ErrPipelineCompleted, id)
	case models.PipelineStatusFailed:
		x.handleFailure(ctx, p)
		return nil
	}
	if reason == "" {
		reason = "pipeline failed on request"
	}
	x.logger.Warn("failing pipeline on request", "pipeline_id", id, "reason", reason)
	return x.step(ctx, p, failed(p, reason))
}

// step applies a stage result, then either handles the failure or advances
// through completed stages until the pipeline waits or finishes.
func (x *Executor) step(ctx context.Context, p *models.Pipeline, res models.StageResult) error {
	for {
		if err := x.apply(ctx, p, res); err != nil {
			return err
		}
		if p.StageStatus == models.StageStatusFailed {
			x.handleFailure(ctx, p)
			return nil
		}
		if p.StageStatus != models.StageStatusCompleted || p.IsLastStage() {
			if p.Status == models.PipelineStatusCompleted {
				x.logger.Info("pipeline completed", "pipeline_id", p.ID)
			}
			return nil
		}
		if err := x.advance(ctx, p); err != nil {
			return err
		}
		res = x.stages.Prepare(ctx, p)
	}
}

// apply persists res on p and notifies the pipeline's listener in the same
// unit of work. On error p and the stored pipeline are unchanged.
func (x *Executor) apply(ctx context.Context, p *models.Pipeline, res models.StageResult) error {
	next := p.Clone()
	next.StageStatus = res.Status
	for k, v := range res.Properties {
		next.Properties[k] = v
	}
	if len(res.InsertStages) > 0 {
		at := next.CurrentStage + 1
		stages := make([]string, 0, len(next.Stages)+len(res.InsertStages))
		stages = append(stages, next.Stages[:at]...)
		stages = append(stages, res.InsertStages...)
		stages = append(stages, next.Stages[at:]...)
		next.Stages = stages
	}
	next.Status = DeriveStatus(next)
	next.UpdatedAt = x.now()

	var hook store.CommitHook
	if next.ListenerID != "" {
		ev := models.NewEvent(next.OwnerID)
		ev.Properties.Set(models.PropStatus, string(next.Status))
		ev.Properties.Set(models.PropPipelineID, next.ID.String())
		for _, m := range res.Messages {
			ev.Properties.Add(models.PropMessage, m)
		}
		hook = func(ctx context.Context) error {
			return x.firer.Fire(ctx, next.ListenerID, ev)
		}
	}

	if err := x.store.UpdatePipeline(ctx, next, hook); err != nil {
		x.updateFailed(p, "apply", err)
		return fmt.Errorf("updating pipeline %s: %w", p.ID, err)
	}

	if next.Status != p.Status {
		x.metrics.PipelineTransitions.WithLabelValues(string(next.Status)).Inc()
	}
	x.logger.Info("stage result applied",
		"pipeline_id", p.ID, "stage", next.CurrentStageID(), "stage_status", next.StageStatus,
		"status", next.Status, "inserted", len(res.InsertStages))
	*p = *next
	return nil
}

// advance moves to the next stage in its own unit of work.
func (x *Executor) advance(ctx context.Context, p *models.Pipeline) error {
	next := p.Clone()
	next.CurrentStage++
	next.StageStatus = models.StageStatusQueued
	next.Status = DeriveStatus(next)
	next.UpdatedAt = x.now()
	if err := x.store.UpdatePipeline(ctx, next, nil); err != nil {
		x.updateFailed(p, "advance", err)
		return fmt.Errorf("advancing pipeline %s: %w", p.ID, err)
	}
	x.logger.Debug("pipeline advanced", "pipeline_id", p.ID, "stage", next.CurrentStageID(), "index", next.CurrentStage)
	*p = *next
	return nil
}

// handleFailure claims the failure handling for p and runs the failure stage.
// Only the writer that flips FailureHandled runs it.
func (x *Executor) handleFailure(ctx context.Context, p *models.Pipeline) {
	if p.FailureHandled {
		return
	}
	next := p.Clone()
	next.FailureHandled = true
	next.UpdatedAt = x.now()
	if err := x.store.UpdatePipeline(ctx, next, nil); err != nil {
		x.updateFailed(p, "claim failure", err)
		return
	}
	*p = *next

	x.logger.Warn("pipeline failed", "pipeline_id", p.ID, "stage", p.CurrentStageID(), "failure_stage", p.FailureStage)
	if p.FailureStage != "" {
		x.stages.OnFailure(ctx, p, p.FailureStage)
	}
}

func (x *Executor) updateFailed(p *models.Pipeline, op string, err error) {
	if errors.Is(err, store.ErrConflict) {
		x.metrics.PipelineConflicts.Inc()
		x.logger.Warn("pipeline changed concurrently", "pipeline_id", p.ID, "op", op, "version", p.Version)
		return
	}
	x.logger.Error("pipeline update failed, manual recovery needed",
		"pipeline_id", p.ID, "op", op, "stage", p.CurrentStageID(), "error", err)
}
