// Package pipeline runs persisted, resumable stage sequences.
//
// A stage either finishes its work synchronously or delegates it and returns
// EXECUTING; the pipeline then sits idle in the store until a callback event
// resumes it. Every stage invocation and every pipeline update is its own unit
// of work: a crash between the two leaves the pipeline parked in its last
// persisted position for an operator to recover.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

var (
	ErrUnknownStage   = errors.New("unknown stage")
	ErrDuplicateStage = errors.New("stage already registered")
)

// Stage is one unit of pipeline work.
type Stage interface {
	// Prepare is the first invocation of the stage.
	Prepare(ctx context.Context, sc *StageContext) (models.StageResult, error)
	// OnCallback is invoked when delegated work reports progress.
	OnCallback(ctx context.Context, sc *StageContext, ev models.Event) (models.StageResult, error)
	// OnFailure is best-effort cleanup, invoked at most once on the failure stage
	// after the pipeline has failed.
	OnFailure(ctx context.Context, sc *StageContext) error
}

// StageContext is a read-only view of the pipeline handed to a stage.
type StageContext struct {
	PipelineID uuid.UUID
	OwnerID    uuid.UUID
	OwnerKind  string
	StageID    string
	StageIndex int
	properties map[string]string
}

func newStageContext(p *models.Pipeline, stageID string) *StageContext {
	props := make(map[string]string, len(p.Properties))
	for k, v := range p.Properties {
		props[k] = v
	}
	return &StageContext{
		PipelineID: p.ID,
		OwnerID:    p.OwnerID,
		OwnerKind:  p.OwnerKind,
		StageID:    stageID,
		StageIndex: p.CurrentStage,
		properties: props,
	}
}

// Property returns a pipeline property, or "" when unset.
func (c *StageContext) Property(key string) string {
	return c.properties[key]
}

// Properties returns a copy of all pipeline properties.
func (c *StageContext) Properties() map[string]string {
	out := make(map[string]string, len(c.properties))
	for k, v := range c.properties {
		out[k] = v
	}
	return out
}

// Result builds a StageResult for this stage's pipeline.
func (c *StageContext) Result(status models.StageStatus, messages []string, props map[string]string, insert ...string) models.StageResult {
	return models.NewStageResult(c.PipelineID, status, messages, props, insert)
}

// Registry resolves stage ids to implementations. It is built once at startup
// and passed to whoever needs it.
type Registry struct {
	mu     sync.RWMutex
	stages map[string]Stage
}

func NewRegistry() *Registry {
	return &Registry{stages: make(map[string]Stage)}
}

func (r *Registry) Register(id string, s Stage) error {
	if id == "" || s == nil {
		return fmt.Errorf("register stage: id and implementation are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stages[id]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateStage, id)
	}
	r.stages[id] = s
	return nil
}

func (r *Registry) Lookup(id string) (Stage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stages[id]
	return s, ok
}

// IDs lists registered stage ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.stages))
	for id := range r.stages {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
