package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusUnsubmitted JobStatus = "UNSUBMITTED"
	JobStatusQueued      JobStatus = "QUEUED"
	JobStatusExecuting   JobStatus = "EXECUTING"
	JobStatusCompleted   JobStatus = "COMPLETED"
	JobStatusFailed      JobStatus = "FAILED"
	JobStatusCanceled    JobStatus = "CANCELED"
)

const (
	JobTypeIngest    = "ingest"
	JobTypeExport    = "export"
	JobTypeReplicate = "replicate"
	JobTypeDelete    = "delete"
)

// Priority bounds for jobs and tasks. 1 is the most urgent.
const (
	PriorityHighest = 1
	PriorityLowest  = 10
	PriorityDefault = 5
)

// Job is the caller-facing unit of work. A job is executed by one pipeline run
// at a time; resubmitting a failed job starts a fresh pipeline.
type Job struct {
	ID            uuid.UUID         `db:"id"             json:"id"`
	Type          string            `db:"type"           json:"type"`
	Priority      int               `db:"priority"       json:"priority"`
	Status        JobStatus         `db:"status"         json:"status"`
	StatusTime    time.Time         `db:"status_time"    json:"status_time"`
	Configuration json.RawMessage   `db:"configuration"  json:"configuration,omitempty"`
	ExternalIDs   map[string]string `db:"external_ids"   json:"external_ids,omitempty"`
	PipelineID    *uuid.UUID        `db:"pipeline_id"    json:"pipeline_id,omitempty"`
	CreatedAt     time.Time         `db:"created_at"     json:"created_at"`
	UpdatedAt     time.Time         `db:"updated_at"     json:"updated_at"`
}

// JobMessage is one entry of a job's message log.
type JobMessage struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	JobID     uuid.UUID `db:"job_id"     json:"job_id"`
	Message   string    `db:"message"    json:"message"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
