package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidStatus = errors.New("invalid status")

type TaskStatus string

const (
	TaskStatusQueued      TaskStatus = "QUEUED"
	TaskStatusExecuting   TaskStatus = "EXECUTING"
	TaskStatusCompleted   TaskStatus = "COMPLETED"
	TaskStatusFailedClean TaskStatus = "FAILED_CLEAN"
	TaskStatusFailedDirty TaskStatus = "FAILED_DIRTY"
)

// ParseTaskStatus validates a wire status value.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch st := TaskStatus(s); st {
	case TaskStatusQueued, TaskStatusExecuting, TaskStatusCompleted,
		TaskStatusFailedClean, TaskStatusFailedDirty:
		return st, nil
	}
	return "", fmt.Errorf("%w: task status %q", ErrInvalidStatus, s)
}

// Failed reports whether the status is one of the two failure outcomes.
func (s TaskStatus) Failed() bool {
	return s == TaskStatusFailedClean || s == TaskStatusFailedDirty
}

// Terminal reports whether the task will not run again without a resubmission.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s.Failed()
}

// TaskGroupStatus shares its values with TaskStatus.
type TaskGroupStatus = TaskStatus

// Task is one unit of work delegated to an external worker. Configuration and
// Output are opaque JSON owned by the task type. ReportedStatus is the last
// status a worker reported for the current attempt; it is cleared when the
// task is handed out again.
type Task struct {
	ID             uuid.UUID       `db:"id"              json:"id"`
	GroupID        uuid.UUID       `db:"group_id"        json:"group_id"`
	Type           string          `db:"type"            json:"type"`
	Description    string          `db:"description"     json:"description"`
	Priority       int             `db:"priority"        json:"priority"`
	Status         TaskStatus      `db:"status"          json:"status"`
	StatusTime     time.Time       `db:"status_time"     json:"status_time"`
	RetryAttempts  int             `db:"retry_attempts"  json:"retry_attempts"`
	Configuration  json.RawMessage `db:"configuration"   json:"configuration,omitempty"`
	Output         json.RawMessage `db:"output"          json:"output,omitempty"`
	AssignedWorker string          `db:"assigned_worker" json:"assigned_worker,omitempty"`
	ReportedStatus TaskStatus      `db:"reported_status" json:"reported_status,omitempty"`
	CreatedAt      time.Time       `db:"created_at"      json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at"      json:"updated_at"`
}

// TaskGroup is the set of tasks created by one stage invocation.
type TaskGroup struct {
	ID         uuid.UUID       `db:"id"          json:"id"`
	JobID      uuid.UUID       `db:"job_id"      json:"job_id"`
	PipelineID uuid.UUID       `db:"pipeline_id" json:"pipeline_id"`
	ListenerID string          `db:"listener_id" json:"listener_id,omitempty"`
	Status     TaskGroupStatus `db:"status"      json:"status"`
	StatusTime time.Time       `db:"status_time" json:"status_time"`
	CreatedAt  time.Time       `db:"created_at"  json:"created_at"`
}

// Capacity is a worker's declared ability to run tasks of one type.
type Capacity struct {
	Type         string `json:"type"`
	Availability int    `json:"availability"`
}

// StatusUpdate is what a worker reports for a task it was handed.
type StatusUpdate struct {
	Status TaskStatus      `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
}
