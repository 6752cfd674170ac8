// Package models contains shared data models used across the assetflow codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// StageStatus is the status of the pipeline's current stage. The overall
// PipelineStatus uses the same four values but is always derived from it.
type StageStatus string

const (
	StageStatusQueued    StageStatus = "QUEUED"
	StageStatusExecuting StageStatus = "EXECUTING"
	StageStatusCompleted StageStatus = "COMPLETED"
	StageStatusFailed    StageStatus = "FAILED"
)

type PipelineStatus string

const (
	PipelineStatusQueued    PipelineStatus = "QUEUED"
	PipelineStatusExecuting PipelineStatus = "EXECUTING"
	PipelineStatusCompleted PipelineStatus = "COMPLETED"
	PipelineStatusFailed    PipelineStatus = "FAILED"
)

// Terminal reports whether no further stage will run.
func (s PipelineStatus) Terminal() bool {
	return s == PipelineStatusCompleted || s == PipelineStatusFailed
}

// Pipeline is one persisted, resumable execution of an ordered stage sequence
// on behalf of an owning object (usually a Job).
//
// CurrentStage is always a valid index into Stages. Stages only grows, by
// insertion immediately after the current stage. Version is bumped by the store
// on every successful update and guards concurrent writers.
type Pipeline struct {
	ID             uuid.UUID         `db:"id"              json:"id"`
	OwnerID        uuid.UUID         `db:"owner_id"        json:"owner_id"`
	OwnerKind      string            `db:"owner_kind"      json:"owner_kind"`
	Status         PipelineStatus    `db:"status"          json:"status"`
	Stages         []string          `db:"stages"          json:"stages"`
	CurrentStage   int               `db:"current_stage"   json:"current_stage"`
	StageStatus    StageStatus       `db:"stage_status"    json:"stage_status"`
	FailureStage   string            `db:"failure_stage"   json:"failure_stage,omitempty"`
	ListenerID     string            `db:"listener_id"     json:"listener_id"`
	Properties     map[string]string `db:"properties"      json:"properties"`
	FailureHandled bool              `db:"failure_handled" json:"failure_handled"`
	Version        int64             `db:"version"         json:"version"`
	CreatedAt      time.Time         `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time         `db:"updated_at"      json:"updated_at"`
}

// CurrentStageID returns the identifier of the stage at CurrentStage.
func (p *Pipeline) CurrentStageID() string {
	if p.CurrentStage < 0 || p.CurrentStage >= len(p.Stages) {
		return ""
	}
	return p.Stages[p.CurrentStage]
}

// IsLastStage reports whether the current stage is the final one.
func (p *Pipeline) IsLastStage() bool {
	return p.CurrentStage == len(p.Stages)-1
}

// Clone returns a deep copy so callers can stage changes without touching the original.
func (p *Pipeline) Clone() *Pipeline {
	c := *p
	c.Stages = append([]string(nil), p.Stages...)
	c.Properties = make(map[string]string, len(p.Properties))
	for k, v := range p.Properties {
		c.Properties[k] = v
	}
	return &c
}

// StageResult is the outcome of one stage invocation. Treat it as a value:
// NewStageResult copies its inputs and nothing mutates a result afterwards.
type StageResult struct {
	PipelineID   uuid.UUID
	Status       StageStatus
	Messages     []string
	Properties   map[string]string
	InsertStages []string
}

// NewStageResult builds a result owning private copies of its collections.
func NewStageResult(pipelineID uuid.UUID, status StageStatus, messages []string, props map[string]string, insert []string) StageResult {
	r := StageResult{
		PipelineID:   pipelineID,
		Status:       status,
		Messages:     append([]string(nil), messages...),
		InsertStages: append([]string(nil), insert...),
	}
	if len(props) > 0 {
		r.Properties = make(map[string]string, len(props))
		for k, v := range props {
			r.Properties[k] = v
		}
	}
	return r
}
