package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/assetflow/internal/store"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

var ErrNoStages = errors.New("pipeline needs at least one stage")

// StartRequest describes a new pipeline.
type StartRequest struct {
	// ID is generated when zero.
	ID           uuid.UUID
	OwnerID      uuid.UUID
	OwnerKind    string
	Stages       []string
	FailureStage string
	// ListenerID receives {status, message*} events addressed to OwnerID.
	ListenerID string
	Properties map[string]string
}

// Manager creates pipelines and hands them to the Executor.
type Manager struct {
	store    store.PipelineStore
	registry *Registry
	executor *Executor
	logger   *slog.Logger
}

func NewManager(st store.PipelineStore, registry *Registry, executor *Executor, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: st, registry: registry, executor: executor, logger: logger.With("component", "pipeline")}
}

// Start validates req, persists the pipeline in its initial position and
// starts it. The returned pipeline reflects the state after the first run,
// and is non-nil whenever the pipeline was persisted, even on error.
func (m *Manager) Start(ctx context.Context, req StartRequest) (*models.Pipeline, error) {
	if len(req.Stages) == 0 {
		return nil, ErrNoStages
	}
	for _, id := range req.Stages {
		if _, ok := m.registry.Lookup(id); !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownStage, id)
		}
	}
	if req.FailureStage != "" {
		if _, ok := m.registry.Lookup(req.FailureStage); !ok {
			return nil, fmt.Errorf("%w: failure stage %q", ErrUnknownStage, req.FailureStage)
		}
	}

	id := req.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := time.Now().UTC()
	p := &models.Pipeline{
		ID:           id,
		OwnerID:      req.OwnerID,
		OwnerKind:    req.OwnerKind,
		Status:       models.PipelineStatusQueued,
		Stages:       append([]string(nil), req.Stages...),
		CurrentStage: 0,
		StageStatus:  models.StageStatusQueued,
		FailureStage: req.FailureStage,
		ListenerID:   req.ListenerID,
		Properties:   make(map[string]string, len(req.Properties)),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	for k, v := range req.Properties {
		p.Properties[k] = v
	}

	if err := m.store.CreatePipeline(ctx, p); err != nil {
		return nil, fmt.Errorf("creating pipeline: %w", err)
	}
	m.logger.Info("pipeline created", "pipeline_id", p.ID, "owner_id", p.OwnerID, "stages", p.Stages)

	startErr := m.executor.Start(ctx, p.ID)
	latest, err := m.store.GetPipeline(ctx, p.ID)
	if err != nil {
		latest = p
	}
	return latest, startErr
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*models.Pipeline, error) {
	return m.store.GetPipeline(ctx, id)
}

func (m *Manager) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Pipeline, error) {
	return m.store.ListPipelinesByOwner(ctx, ownerID)
}

// Fail drives a pipeline to FAILED. See Executor.Fail.
func (m *Manager) Fail(ctx context.Context, id uuid.UUID, reason string) error {
	return m.executor.Fail(ctx, id, reason)
}
