package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

// MemoryStore is a process-local Store used by tests and single-node development.
// Every value handed in or out is copied so callers never share state with the store.
type MemoryStore struct {
	mu        sync.Mutex
	apiKeys   map[uuid.UUID]*models.APIKey
	jobs      map[uuid.UUID]*models.Job
	messages  map[uuid.UUID][]*models.JobMessage
	pipelines map[uuid.UUID]*models.Pipeline
	groups    map[uuid.UUID]*models.TaskGroup
	tasks     map[uuid.UUID]*models.Task
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		apiKeys:   make(map[uuid.UUID]*models.APIKey),
		jobs:      make(map[uuid.UUID]*models.Job),
		messages:  make(map[uuid.UUID][]*models.JobMessage),
		pipelines: make(map[uuid.UUID]*models.Pipeline),
		groups:    make(map[uuid.UUID]*models.TaskGroup),
		tasks:     make(map[uuid.UUID]*models.Task),
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// --- API Keys ---

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.APIKey
	for _, k := range s.apiKeys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apiKeys[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.LastUsedAt = &now
	k.UpdatedAt = now
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apiKeys[key.ID]; ok {
		return ErrDuplicateKey
	}
	c := *key
	c.Scopes = append([]string(nil), key.Scopes...)
	s.apiKeys[key.ID] = &c
	return nil
}

func (s *MemoryStore) ListAPIKeys(context.Context) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.APIKey, 0, len(s.apiKeys))
	for _, k := range s.apiKeys {
		if k.DeletedAt == nil {
			c := *k
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apiKeys[id]
	if !ok || k.DeletedAt != nil {
		return ErrNotFound
	}
	now := time.Now().UTC()
	k.DeletedAt = &now
	return nil
}

// --- Jobs ---

func copyJob(j *models.Job) *models.Job {
	c := *j
	c.Configuration = append([]byte(nil), j.Configuration...)
	if len(j.Configuration) == 0 {
		c.Configuration = nil
	}
	c.ExternalIDs = make(map[string]string, len(j.ExternalIDs))
	for k, v := range j.ExternalIDs {
		c.ExternalIDs[k] = v
	}
	if j.PipelineID != nil {
		id := *j.PipelineID
		c.PipelineID = &id
	}
	return &c
}

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrDuplicateKey
	}
	s.jobs[job.ID] = copyJob(job)
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyJob(j), nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]*models.Job, int, error) {
	filter = filter.Normalize()
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*models.Job
	for _, j := range s.jobs {
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if filter.Type != "" && j.Type != filter.Type {
			continue
		}
		matched = append(matched, j)
	}
	sort.Slice(matched, func(i, k int) bool { return matched[i].CreatedAt.After(matched[k].CreatedAt) })

	total := len(matched)
	start := (filter.Page - 1) * filter.Limit
	if start > total {
		start = total
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	out := make([]*models.Job, 0, end-start)
	for _, j := range matched[start:end] {
		out = append(out, copyJob(j))
	}
	return out, total, nil
}

func (s *MemoryStore) UpdateJobStatus(_ context.Context, job *models.Job, from models.JobStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.jobs[job.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Status != from {
		return fmt.Errorf("%w: job %s is no longer %s", ErrConflict, job.ID, from)
	}
	job.UpdatedAt = time.Now().UTC()
	stored.Status = job.Status
	stored.StatusTime = job.StatusTime
	stored.PipelineID = nil
	if job.PipelineID != nil {
		pid := *job.PipelineID
		stored.PipelineID = &pid
	}
	stored.UpdatedAt = job.UpdatedAt
	return nil
}

func (s *MemoryStore) DeleteJob(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(s.jobs, id)
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) AppendJobMessages(_ context.Context, jobID uuid.UUID, messages []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	for _, m := range messages {
		s.messages[jobID] = append(s.messages[jobID], &models.JobMessage{
			ID: uuid.New(), JobID: jobID, Message: m, CreatedAt: now,
		})
	}
	return nil
}

func (s *MemoryStore) ListJobMessages(_ context.Context, jobID uuid.UUID) ([]*models.JobMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.JobMessage, 0, len(s.messages[jobID]))
	for _, m := range s.messages[jobID] {
		c := *m
		out = append(out, &c)
	}
	return out, nil
}

// --- Pipelines ---

func (s *MemoryStore) CreatePipeline(_ context.Context, p *models.Pipeline) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pipelines[p.ID]; ok {
		return ErrDuplicateKey
	}
	s.pipelines[p.ID] = p.Clone()
	return nil
}

func (s *MemoryStore) GetPipeline(_ context.Context, id uuid.UUID) (*models.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pipelines[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

func (s *MemoryStore) ListPipelinesByOwner(_ context.Context, ownerID uuid.UUID) ([]*models.Pipeline, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Pipeline
	for _, p := range s.pipelines {
		if p.OwnerID == ownerID {
			out = append(out, p.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// UpdatePipeline holds the store lock while hook runs, so hook must not call
// back into the store.
func (s *MemoryStore) UpdatePipeline(ctx context.Context, p *models.Pipeline, hook CommitHook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.pipelines[p.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != p.Version {
		return ErrConflict
	}
	next := p.Clone()
	next.Version++
	if hook != nil {
		if err := hook(ctx); err != nil {
			return err
		}
	}
	s.pipelines[p.ID] = next
	p.Version = next.Version
	return nil
}

// --- Tasks ---

func copyTask(t *models.Task) *models.Task {
	c := *t
	if len(t.Configuration) > 0 {
		c.Configuration = append([]byte(nil), t.Configuration...)
	}
	if len(t.Output) > 0 {
		c.Output = append([]byte(nil), t.Output...)
	}
	return &c
}

func (s *MemoryStore) CreateTaskGroup(_ context.Context, group *models.TaskGroup, tasks []*models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group.ID]; ok {
		return ErrDuplicateKey
	}
	for _, t := range tasks {
		if _, ok := s.tasks[t.ID]; ok {
			return ErrDuplicateKey
		}
	}
	g := *group
	s.groups[group.ID] = &g
	for _, t := range tasks {
		s.tasks[t.ID] = copyTask(t)
	}
	return nil
}

func (s *MemoryStore) GetTaskGroup(_ context.Context, id uuid.UUID) (*models.TaskGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *g
	return &c, nil
}

func (s *MemoryStore) UpdateTaskGroupStatus(_ context.Context, id uuid.UUID, from, to models.TaskGroupStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return false, ErrNotFound
	}
	if g.Status != from {
		return false, nil
	}
	g.Status = to
	g.StatusTime = time.Now().UTC()
	return true, nil
}

func (s *MemoryStore) ListPipelineGroups(_ context.Context, pipelineID uuid.UUID) ([]*models.TaskGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.TaskGroup
	for _, g := range s.groups {
		if g.PipelineID == pipelineID {
			c := *g
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetTask(_ context.Context, id uuid.UUID) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyTask(t), nil
}

// GetTasks skips ids with no stored record.
func (s *MemoryStore) GetTasks(_ context.Context, ids []uuid.UUID) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Task, 0, len(ids))
	for _, id := range ids {
		if t, ok := s.tasks[id]; ok {
			out = append(out, copyTask(t))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListGroupTasks(_ context.Context, groupID uuid.UUID) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Task
	for _, t := range s.tasks {
		if t.GroupID == groupID {
			out = append(out, copyTask(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpdateTask(_ context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tasks[task.ID]
	if !ok {
		return ErrNotFound
	}
	task.UpdatedAt = time.Now().UTC()
	stored.Status = task.Status
	stored.StatusTime = task.StatusTime
	stored.RetryAttempts = task.RetryAttempts
	stored.Output = append([]byte(nil), task.Output...)
	if len(task.Output) == 0 {
		stored.Output = nil
	}
	stored.AssignedWorker = task.AssignedWorker
	stored.ReportedStatus = task.ReportedStatus
	stored.UpdatedAt = task.UpdatedAt
	return nil
}

func (s *MemoryStore) AssignTasks(_ context.Context, ids []uuid.UUID, workerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	for _, id := range ids {
		if t, ok := s.tasks[id]; ok {
			t.AssignedWorker = workerID
			t.ReportedStatus = ""
			t.UpdatedAt = now
		}
	}
	return nil
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
