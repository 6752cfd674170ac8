package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrConflict is returned by compare-and-set updates when another writer got there first.
var ErrConflict = errors.New("concurrent update conflict")

// CommitHook runs inside the same unit of work as an update, after the write
// and before the commit. Returning an error aborts the update.
type CommitHook func(ctx context.Context) error

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	APIKeyStore
	JobStore
	PipelineStore
	TaskStore
}

type APIKeyStore interface {
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	// UpdateJobStatus persists the job's status, status time and pipeline id
	// if the stored status still equals from. ErrConflict reports a mismatch.
	UpdateJobStatus(ctx context.Context, job *models.Job, from models.JobStatus) error
	DeleteJob(ctx context.Context, id uuid.UUID) error
	AppendJobMessages(ctx context.Context, jobID uuid.UUID, messages []string) error
	ListJobMessages(ctx context.Context, jobID uuid.UUID) ([]*models.JobMessage, error)
}

type PipelineStore interface {
	CreatePipeline(ctx context.Context, p *models.Pipeline) error
	GetPipeline(ctx context.Context, id uuid.UUID) (*models.Pipeline, error)
	ListPipelinesByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Pipeline, error)
	// UpdatePipeline writes p if the stored version still equals p.Version and
	// runs hook in the same unit of work. On success p.Version is incremented.
	// ErrConflict reports a version mismatch; the stored record is then untouched.
	UpdatePipeline(ctx context.Context, p *models.Pipeline, hook CommitHook) error
}

type TaskStore interface {
	// CreateTaskGroup persists a group and all of its tasks atomically.
	CreateTaskGroup(ctx context.Context, group *models.TaskGroup, tasks []*models.Task) error
	GetTaskGroup(ctx context.Context, id uuid.UUID) (*models.TaskGroup, error)
	// UpdateTaskGroupStatus moves a group from one status to another. It returns
	// false without error when the stored status no longer equals from.
	UpdateTaskGroupStatus(ctx context.Context, id uuid.UUID, from, to models.TaskGroupStatus) (bool, error)
	GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error)
	GetTasks(ctx context.Context, ids []uuid.UUID) ([]*models.Task, error)
	ListGroupTasks(ctx context.Context, groupID uuid.UUID) ([]*models.Task, error)
	ListPipelineGroups(ctx context.Context, pipelineID uuid.UUID) ([]*models.TaskGroup, error)
	// UpdateTask persists status, status time, retry attempts, output and assignment.
	UpdateTask(ctx context.Context, task *models.Task) error
	AssignTasks(ctx context.Context, ids []uuid.UUID, workerID string) error
}

type JobFilter struct {
	Status models.JobStatus
	Type   string
	Page   int
	Limit  int
}

// Normalize applies pagination defaults and bounds.
func (f JobFilter) Normalize() JobFilter {
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Limit > 100 {
		f.Limit = 100
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	return f
}
