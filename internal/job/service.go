package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/assetflow/internal/callback"
	"github.com/kiranshivaraju/assetflow/internal/pipeline"
	"github.com/kiranshivaraju/assetflow/internal/store"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

var (
	ErrUnknownType = errors.New("unknown job type")
	ErrInvalidJob  = errors.New("invalid job")
	ErrJobActive   = errors.New("job is active")
)

// OwnerKind tags pipelines that run jobs.
const OwnerKind = "job"

// statusAttempts bounds how often a status change is retried after losing
// the compare-and-set to a concurrent writer.
const statusAttempts = 3

// Pipelines is the part of the pipeline manager the job service drives.
type Pipelines interface {
	Start(ctx context.Context, req pipeline.StartRequest) (*models.Pipeline, error)
	Fail(ctx context.Context, id uuid.UUID, reason string) error
}

type CreateParams struct {
	Type          string            `json:"type"`
	Priority      int               `json:"priority"`
	Configuration json.RawMessage   `json:"configuration"`
	ExternalIDs   map[string]string `json:"external_ids"`
}

// Service manages jobs and listens to the pipelines that run them.
type Service struct {
	store     store.JobStore
	pipelines Pipelines
	catalog   Catalog
	logger    *slog.Logger
}

func NewService(st store.JobStore, pipelines Pipelines, catalog Catalog, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		pipelines: pipelines,
		catalog:   catalog,
		logger:    logger.With("component", "job"),
	}
}

// Create validates params and stores a new UNSUBMITTED job.
func (s *Service) Create(ctx context.Context, params CreateParams) (*models.Job, error) {
	if _, err := s.catalog.Lookup(params.Type); err != nil {
		return nil, err
	}
	if params.Priority == 0 {
		params.Priority = models.PriorityDefault
	}
	if params.Priority < models.PriorityHighest || params.Priority > models.PriorityLowest {
		return nil, fmt.Errorf("%w: priority must be between %d and %d, got %d",
			ErrInvalidJob, models.PriorityHighest, models.PriorityLowest, params.Priority)
	}
	if len(params.Configuration) > 0 && !json.Valid(params.Configuration) {
		return nil, fmt.Errorf("%w: configuration is not valid JSON", ErrInvalidJob)
	}

	now := time.Now().UTC()
	j := &models.Job{
		ID:            uuid.New(),
		Type:          params.Type,
		Priority:      params.Priority,
		Status:        models.JobStatusUnsubmitted,
		StatusTime:    now,
		Configuration: params.Configuration,
		ExternalIDs:   params.ExternalIDs,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	s.logger.Info("job created", "job_id", j.ID, "type", j.Type, "priority", j.Priority)
	return j, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return s.store.GetJob(ctx, id)
}

func (s *Service) List(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error) {
	return s.store.ListJobs(ctx, filter.Normalize())
}

func (s *Service) Messages(ctx context.Context, id uuid.UUID) ([]*models.JobMessage, error) {
	if _, err := s.store.GetJob(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListJobMessages(ctx, id)
}

// Submit queues an UNSUBMITTED or FAILED job and starts a fresh pipeline for
// it. When the pipeline cannot be started the job ends up FAILED and the
// start error is returned.
func (s *Service) Submit(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	var (
		flow       Flow
		pipelineID uuid.UUID
	)
	// The pipeline id is stored before the pipeline exists so events from an
	// earlier run can be told apart.
	j, _, err := s.update(ctx, id, func(j *models.Job) (bool, error) {
		f, err := s.catalog.Lookup(j.Type)
		if err != nil {
			return false, err
		}
		if err := Transition(j, models.JobStatusQueued); err != nil {
			return false, err
		}
		flow = f
		pipelineID = uuid.New()
		j.PipelineID = &pipelineID
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	logger := s.logger.With("job_id", j.ID, "pipeline_id", pipelineID)
	logger.Info("job submitted", "stages", flow.Stages)

	props := map[string]string{
		pipeline.PropPriority: strconv.Itoa(j.Priority),
		PropJobType:           j.Type,
	}
	if len(j.Configuration) > 0 {
		props[PropConfiguration] = string(j.Configuration)
	}
	_, startErr := s.pipelines.Start(ctx, pipeline.StartRequest{
		ID:           pipelineID,
		OwnerID:      j.ID,
		OwnerKind:    OwnerKind,
		Stages:       flow.Stages,
		FailureStage: flow.FailureStage,
		ListenerID:   callback.ListenerJob,
		Properties:   props,
	})
	if startErr != nil {
		logger.Error("starting pipeline", "error", startErr)
		if err := s.markFailed(ctx, j.ID, fmt.Sprintf("starting pipeline: %v", startErr)); err != nil {
			logger.Error("marking job failed", "error", err)
		}
		return nil, fmt.Errorf("starting pipeline: %w", startErr)
	}

	return s.store.GetJob(ctx, j.ID)
}

// Cancel moves the job to CANCELED and fails its pipeline, which runs the
// pipeline's failure stage. Tasks already handed to workers keep running.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, _, err := s.update(ctx, id, func(j *models.Job) (bool, error) {
		return true, Transition(j, models.JobStatusCanceled)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("job canceled", "job_id", j.ID)

	if j.PipelineID != nil {
		err := s.pipelines.Fail(ctx, *j.PipelineID, "job canceled")
		switch {
		case errors.Is(err, pipeline.ErrPipelineCompleted):
			s.logger.Info("pipeline already completed", "job_id", j.ID, "pipeline_id", *j.PipelineID)
		case errors.Is(err, store.ErrNotFound):
			s.logger.Warn("canceled job has no stored pipeline", "job_id", j.ID, "pipeline_id", *j.PipelineID)
		case err != nil:
			return j, fmt.Errorf("failing pipeline: %w", err)
		}
	}
	return j, nil
}

// Delete removes a job that is not active.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	j, err := s.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if IsActive(j.Status) {
		return fmt.Errorf("%w: %s is %s", ErrJobActive, j.ID, j.Status)
	}
	return s.store.DeleteJob(ctx, id)
}

// HandleEvent applies a pipeline status event to the job that owns the
// pipeline. It is registered as the "job" listener.
func (s *Service) HandleEvent(ctx context.Context, ev models.Event) error {
	j, err := s.store.GetJob(ctx, ev.ObjectID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("event for unknown job", "job_id", ev.ObjectID)
		return nil
	}
	if err != nil {
		return err
	}

	logger := s.logger.With("job_id", j.ID)
	if pid := ev.Properties.Get(models.PropPipelineID); pid != "" {
		if j.PipelineID == nil || j.PipelineID.String() != pid {
			logger.Info("ignoring event from a previous pipeline", "event_pipeline_id", pid)
			return nil
		}
	}

	if msgs := ev.Properties.All(models.PropMessage); len(msgs) > 0 {
		if err := s.store.AppendJobMessages(ctx, j.ID, msgs); err != nil {
			return fmt.Errorf("appending job messages: %w", err)
		}
	}

	status := ev.Properties.Get(models.PropStatus)
	target, ok := jobStatusFor(models.PipelineStatus(status))
	if !ok {
		return nil
	}
	run := j.PipelineID
	_, changed, err := s.update(ctx, j.ID, func(cur *models.Job) (bool, error) {
		if !samePipeline(cur.PipelineID, run) {
			logger.Info("job was resubmitted while handling event", "pipeline_status", status)
			return false, nil
		}
		if IsTerminal(cur.Status) {
			logger.Info("ignoring pipeline event for finished job", "status", cur.Status, "pipeline_status", status)
			return false, nil
		}
		if cur.Status == target {
			return false, nil
		}
		return true, Transition(cur, target)
	})
	if err != nil {
		return err
	}
	if changed {
		logger.Info("job status changed", "status", target)
	}
	return nil
}

func (s *Service) markFailed(ctx context.Context, id uuid.UUID, msg string) error {
	if err := s.store.AppendJobMessages(ctx, id, []string{msg}); err != nil {
		return err
	}
	_, _, err := s.update(ctx, id, func(j *models.Job) (bool, error) {
		if j.Status == models.JobStatusFailed {
			return false, nil
		}
		return true, Transition(j, models.JobStatusFailed)
	})
	return err
}

// update loads the job, lets change modify it and writes the new status back
// unless another writer moved the job first, in which case it starts over
// from the stored job. change reports whether there is anything to write.
func (s *Service) update(ctx context.Context, id uuid.UUID, change func(*models.Job) (bool, error)) (*models.Job, bool, error) {
	for attempt := 1; ; attempt++ {
		j, err := s.store.GetJob(ctx, id)
		if err != nil {
			return nil, false, err
		}
		from := j.Status
		write, err := change(j)
		if err != nil {
			return nil, false, err
		}
		if !write {
			return j, false, nil
		}
		err = s.store.UpdateJobStatus(ctx, j, from)
		if err == nil {
			return j, true, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt == statusAttempts {
			return nil, false, fmt.Errorf("updating job %s: %w", id, err)
		}
		s.logger.Debug("job changed concurrently, retrying", "job_id", id, "from", from)
	}
}

func samePipeline(a, b *uuid.UUID) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func jobStatusFor(s models.PipelineStatus) (models.JobStatus, bool) {
	switch s {
	case models.PipelineStatusExecuting:
		return models.JobStatusExecuting, true
	case models.PipelineStatusCompleted:
		return models.JobStatusCompleted, true
	case models.PipelineStatusFailed:
		return models.JobStatusFailed, true
	}
	return "", false
}
