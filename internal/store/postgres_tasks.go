package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

const taskColumns = `id, group_id, type, description, priority, status, status_time, retry_attempts,
	configuration, output, assigned_worker, reported_status, created_at, updated_at`

const groupColumns = `id, job_id, pipeline_id, listener_id, status, status_time, created_at`

func scanTask(row pgx.Row) (*models.Task, error) {
	var (
		t              models.Task
		config, output []byte
	)
	if err := row.Scan(&t.ID, &t.GroupID, &t.Type, &t.Description, &t.Priority, &t.Status,
		&t.StatusTime, &t.RetryAttempts, &config, &output, &t.AssignedWorker, &t.ReportedStatus,
		&t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	if len(config) > 0 {
		t.Configuration = config
	}
	if len(output) > 0 {
		t.Output = output
	}
	return &t, nil
}

func scanGroup(row pgx.Row) (*models.TaskGroup, error) {
	var g models.TaskGroup
	if err := row.Scan(&g.ID, &g.JobID, &g.PipelineID, &g.ListenerID, &g.Status, &g.StatusTime, &g.CreatedAt); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *PostgresStore) CreateTaskGroup(ctx context.Context, group *models.TaskGroup, tasks []*models.Task) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO task_groups (`+groupColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			group.ID, group.JobID, group.PipelineID, group.ListenerID, group.Status,
			group.StatusTime, group.CreatedAt); err != nil {
			return fmt.Errorf("create task group: %w", err)
		}
		for _, t := range tasks {
			if _, err := tx.Exec(ctx,
				`INSERT INTO tasks (`+taskColumns+`)
				 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
				t.ID, t.GroupID, t.Type, t.Description, t.Priority, t.Status, t.StatusTime,
				t.RetryAttempts, nullJSON(t.Configuration), nullJSON(t.Output), t.AssignedWorker,
				t.ReportedStatus, t.CreatedAt, t.UpdatedAt); err != nil {
				return fmt.Errorf("create task %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetTaskGroup(ctx context.Context, id uuid.UUID) (*models.TaskGroup, error) {
	g, err := scanGroup(s.pool.QueryRow(ctx, `SELECT `+groupColumns+` FROM task_groups WHERE id = $1`, id))
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task group: %w", err)
	}
	return g, nil
}

func (s *PostgresStore) UpdateTaskGroupStatus(ctx context.Context, id uuid.UUID, from, to models.TaskGroupStatus) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE task_groups SET status = $3, status_time = $4 WHERE id = $1 AND status = $2`,
		id, from, to, time.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("update task group status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListPipelineGroups(ctx context.Context, pipelineID uuid.UUID) ([]*models.TaskGroup, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+groupColumns+` FROM task_groups WHERE pipeline_id = $1 ORDER BY created_at`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("list task groups: %w", err)
	}
	defer rows.Close()

	var out []*models.TaskGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

func (s *PostgresStore) GetTasks(ctx context.Context, ids []uuid.UUID) ([]*models.Task, error) {
	if len(ids) == 0 {
		return []*models.Task{}, nil
	}
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ANY($1)`, ids)
}

func (s *PostgresStore) ListGroupTasks(ctx context.Context, groupID uuid.UUID) ([]*models.Task, error) {
	return s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE group_id = $1 ORDER BY created_at, id`, groupID)
}

func (s *PostgresStore) queryTasks(ctx context.Context, query string, args ...any) ([]*models.Task, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateTask(ctx context.Context, task *models.Task) error {
	task.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $2, status_time = $3, retry_attempts = $4, output = $5,
		   assigned_worker = $6, reported_status = $7, updated_at = $8
		 WHERE id = $1`,
		task.ID, task.Status, task.StatusTime, task.RetryAttempts, nullJSON(task.Output),
		task.AssignedWorker, task.ReportedStatus, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AssignTasks(ctx context.Context, ids []uuid.UUID, workerID string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE tasks SET assigned_worker = $2, reported_status = '', updated_at = NOW() WHERE id = ANY($1)`, ids, workerID)
	if err != nil {
		return fmt.Errorf("assign tasks: %w", err)
	}
	return nil
}
