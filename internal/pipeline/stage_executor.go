package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/assetflow/internal/metrics"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

// Stage phases, used as the metrics and log label.
const (
	phasePrepare  = "prepare"
	phaseCallback = "callback"
	phaseFailure  = "failure"
)

// StageExecutor invokes stages and turns every error, panic or unknown stage
// id into a FAILED result, so a stage can never leave the pipeline without an
// outcome.
type StageExecutor struct {
	registry *Registry
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

func NewStageExecutor(registry *Registry, m *metrics.Metrics, logger *slog.Logger) *StageExecutor {
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StageExecutor{registry: registry, metrics: m, logger: logger.With("component", "stage")}
}

// Prepare runs the current stage's first invocation.
func (e *StageExecutor) Prepare(ctx context.Context, p *models.Pipeline) models.StageResult {
	stageID := p.CurrentStageID()
	return e.invoke(ctx, p, stageID, phasePrepare, func(s Stage, sc *StageContext) (models.StageResult, error) {
		return s.Prepare(ctx, sc)
	})
}

// OnCallback hands ev to the current stage.
func (e *StageExecutor) OnCallback(ctx context.Context, p *models.Pipeline, ev models.Event) models.StageResult {
	stageID := p.CurrentStageID()
	return e.invoke(ctx, p, stageID, phaseCallback, func(s Stage, sc *StageContext) (models.StageResult, error) {
		return s.OnCallback(ctx, sc, ev)
	})
}

// OnFailure runs cleanup on stageID. Errors are logged and swallowed.
func (e *StageExecutor) OnFailure(ctx context.Context, p *models.Pipeline, stageID string) {
	logger := e.logger.With("pipeline_id", p.ID, "stage", stageID, "phase", phaseFailure)
	start := time.Now()
	outcome := "ok"
	defer func() {
		if r := recover(); r != nil {
			outcome = "panic"
			logger.Error("panic in failure stage", "error", r)
		}
		e.observe(stageID, phaseFailure, outcome, start)
	}()

	s, ok := e.registry.Lookup(stageID)
	if !ok {
		outcome = "unknown"
		logger.Error("failure stage is not registered")
		return
	}
	if err := s.OnFailure(ctx, newStageContext(p, stageID)); err != nil {
		outcome = "error"
		logger.Error("failure stage returned an error", "error", err)
		return
	}
	logger.Info("failure stage completed")
}

func (e *StageExecutor) invoke(
	ctx context.Context,
	p *models.Pipeline,
	stageID, phase string,
	call func(Stage, *StageContext) (models.StageResult, error),
) (result models.StageResult) {
	logger := e.logger.With("pipeline_id", p.ID, "stage", stageID, "phase", phase)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic in stage", "error", r)
			result = failed(p, fmt.Sprintf("stage %s panicked: %v", stageID, r))
		}
		e.observe(stageID, phase, string(result.Status), start)
	}()

	s, ok := e.registry.Lookup(stageID)
	if !ok {
		logger.Error("stage is not registered")
		return failed(p, fmt.Sprintf("%v: %q", ErrUnknownStage, stageID))
	}

	res, err := call(s, newStageContext(p, stageID))
	if err != nil {
		logger.Error("stage failed", "error", err)
		return failed(p, fmt.Sprintf("stage %s failed: %v", stageID, err))
	}
	switch res.Status {
	case models.StageStatusExecuting, models.StageStatusCompleted, models.StageStatusFailed:
	case "":
		logger.Error("stage returned no status")
		return failed(p, fmt.Sprintf("stage %s returned no status", stageID))
	default:
		logger.Error("stage returned an invalid status", "status", res.Status)
		return failed(p, fmt.Sprintf("stage %s returned invalid status %q", stageID, res.Status))
	}
	res.PipelineID = p.ID

	logger.Debug("stage invoked", "status", res.Status, "duration", time.Since(start))
	return res
}

func (e *StageExecutor) observe(stageID, phase, outcome string, start time.Time) {
	e.metrics.StageInvocations.WithLabelValues(stageID, phase, outcome).Inc()
	e.metrics.StageDuration.WithLabelValues(stageID, phase).Observe(time.Since(start).Seconds())
}

func failed(p *models.Pipeline, message string) models.StageResult {
	return models.NewStageResult(p.ID, models.StageStatusFailed, []string{message}, nil, nil)
}
