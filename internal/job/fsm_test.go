package job_test

import (
	"testing"

	"github.com/kiranshivaraju/assetflow/internal/job"
	"github.com/kiranshivaraju/assetflow/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allStatuses = []models.JobStatus{
	models.JobStatusUnsubmitted,
	models.JobStatusQueued,
	models.JobStatusExecuting,
	models.JobStatusCompleted,
	models.JobStatusFailed,
	models.JobStatusCanceled,
}

func TestTransition_Table(t *testing.T) {
	allowed := map[models.JobStatus][]models.JobStatus{
		models.JobStatusUnsubmitted: {models.JobStatusQueued},
		models.JobStatusQueued: {
			models.JobStatusExecuting, models.JobStatusCompleted,
			models.JobStatusFailed, models.JobStatusCanceled,
		},
		models.JobStatusExecuting: {
			models.JobStatusCompleted, models.JobStatusFailed, models.JobStatusCanceled,
		},
		models.JobStatusFailed: {models.JobStatusQueued},
	}

	for _, from := range allStatuses {
		for _, to := range allStatuses {
			want := false
			for _, s := range allowed[from] {
				if s == to {
					want = true
				}
			}
			t.Run(string(from)+"->"+string(to), func(t *testing.T) {
				j := &models.Job{Status: from}
				err := job.Transition(j, to)
				if want {
					require.NoError(t, err)
					assert.Equal(t, to, j.Status)
					assert.False(t, j.StatusTime.IsZero())
					return
				}
				require.ErrorIs(t, err, job.ErrInvalidTransition)
				assert.Contains(t, err.Error(), string(from))
				assert.Contains(t, err.Error(), string(to))
				assert.Equal(t, from, j.Status)
				assert.True(t, j.StatusTime.IsZero())
			})
			assert.Equal(t, want, job.CanTransition(from, to))
		}
	}
}

func TestIsActive(t *testing.T) {
	for _, s := range allStatuses {
		want := s == models.JobStatusQueued || s == models.JobStatusExecuting
		assert.Equal(t, want, job.IsActive(s), s)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, job.IsTerminal(models.JobStatusCompleted))
	assert.True(t, job.IsTerminal(models.JobStatusCanceled))
	assert.False(t, job.IsTerminal(models.JobStatusFailed))
	assert.False(t, job.IsTerminal(models.JobStatusUnsubmitted))
}
