// Package job owns the caller-facing Job: its status lifecycle, the pipeline
// run that performs it, and the stages each job type runs.
package job

import (
	"errors"
	"fmt"
	"time"

	"github.com/kiranshivaraju/assetflow/pkg/models"
)

var ErrInvalidTransition = errors.New("invalid job status transition")

// transitions lists the allowed targets of each status. COMPLETED and
// CANCELED are terminal.
var transitions = map[models.JobStatus][]models.JobStatus{
	models.JobStatusUnsubmitted: {models.JobStatusQueued},
	models.JobStatusQueued: {
		models.JobStatusExecuting,
		models.JobStatusCompleted,
		models.JobStatusFailed,
		models.JobStatusCanceled,
	},
	models.JobStatusExecuting: {
		models.JobStatusCompleted,
		models.JobStatusFailed,
		models.JobStatusCanceled,
	},
	models.JobStatusFailed: {models.JobStatusQueued},
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to models.JobStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition moves j to status to. On error j is left unmodified.
func Transition(j *models.Job, to models.JobStatus) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	j.StatusTime = time.Now().UTC()
	return nil
}

// IsActive reports whether a job in status s has a pipeline run in flight.
func IsActive(s models.JobStatus) bool {
	return s == models.JobStatusQueued || s == models.JobStatusExecuting
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s models.JobStatus) bool {
	return len(transitions[s]) == 0
}
