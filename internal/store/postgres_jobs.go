package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

const jobColumns = `id, type, priority, status, status_time, configuration, external_ids, pipeline_id, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j      models.Job
		config []byte
	)
	if err := row.Scan(&j.ID, &j.Type, &j.Priority, &j.Status, &j.StatusTime, &config,
		&j.ExternalIDs, &j.PipelineID, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	if len(config) > 0 {
		j.Configuration = config
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	ext := job.ExternalIDs
	if ext == nil {
		ext = map[string]string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (`+jobColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.Type, job.Priority, job.Status, job.StatusTime, nullJSON(job.Configuration),
		ext, job.PipelineID, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	filter = filter.Normalize()

	conditions := []string{"TRUE"}
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, filter.Status)
		argIdx++
	}
	if filter.Type != "" {
		conditions = append(conditions, fmt.Sprintf("type = $%d", argIdx))
		args = append(args, filter.Type)
		argIdx++
	}
	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, filter.Limit, (filter.Page-1)*filter.Limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, total, rows.Err()
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, job *models.Job, from models.JobStatus) error {
	updatedAt := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $3, status_time = $4, pipeline_id = $5, updated_at = $6
		 WHERE id = $1 AND status = $2`,
		job.ID, from, job.Status, job.StatusTime, job.PipelineID, updatedAt)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 1 {
		job.UpdatedAt = updatedAt
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)`, job.ID).Scan(&exists); err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return fmt.Errorf("%w: job %s is no longer %s", ErrConflict, job.ID, from)
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendJobMessages(ctx context.Context, jobID uuid.UUID, messages []string) error {
	if len(messages) == 0 {
		return nil
	}
	now := time.Now().UTC()
	batch := &pgx.Batch{}
	for i, msg := range messages {
		// Offset by index so the log keeps insertion order.
		batch.Queue(`INSERT INTO job_messages (id, job_id, message, created_at) VALUES ($1, $2, $3, $4)`,
			uuid.New(), jobID, msg, now.Add(time.Duration(i)*time.Microsecond))
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append job messages: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListJobMessages(ctx context.Context, jobID uuid.UUID) ([]*models.JobMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, message, created_at FROM job_messages WHERE job_id = $1 ORDER BY created_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job messages: %w", err)
	}
	defer rows.Close()

	var msgs []*models.JobMessage
	for rows.Next() {
		var m models.JobMessage
		if err := rows.Scan(&m.ID, &m.JobID, &m.Message, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job message: %w", err)
		}
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}
