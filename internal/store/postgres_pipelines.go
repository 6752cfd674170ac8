package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

const pipelineColumns = `id, owner_id, owner_kind, status, stages, current_stage, stage_status, failure_stage,
	listener_id, properties, failure_handled, version, created_at, updated_at`

func scanPipeline(row pgx.Row) (*models.Pipeline, error) {
	var p models.Pipeline
	if err := row.Scan(&p.ID, &p.OwnerID, &p.OwnerKind, &p.Status, &p.Stages, &p.CurrentStage,
		&p.StageStatus, &p.FailureStage, &p.ListenerID, &p.Properties, &p.FailureHandled,
		&p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if p.Properties == nil {
		p.Properties = map[string]string{}
	}
	return &p, nil
}

func (s *PostgresStore) CreatePipeline(ctx context.Context, p *models.Pipeline) error {
	props := p.Properties
	if props == nil {
		props = map[string]string{}
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipelines (`+pipelineColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		p.ID, p.OwnerID, p.OwnerKind, p.Status, p.Stages, p.CurrentStage, p.StageStatus,
		p.FailureStage, p.ListenerID, props, p.FailureHandled, p.Version, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create pipeline: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPipeline(ctx context.Context, id uuid.UUID) (*models.Pipeline, error) {
	p, err := scanPipeline(s.pool.QueryRow(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = $1`, id))
	if notFound(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListPipelinesByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Pipeline, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+pipelineColumns+` FROM pipelines WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list pipelines: %w", err)
	}
	defer rows.Close()

	var out []*models.Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pipeline: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdatePipeline(ctx context.Context, p *models.Pipeline, hook CommitHook) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE pipelines SET status = $3, stages = $4, current_stage = $5, stage_status = $6,
			   properties = $7, failure_handled = $8, updated_at = $9, version = version + 1
			 WHERE id = $1 AND version = $2`,
			p.ID, p.Version, p.Status, p.Stages, p.CurrentStage, p.StageStatus,
			p.Properties, p.FailureHandled, p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update pipeline: %w", err)
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM pipelines WHERE id = $1)`, p.ID).Scan(&exists); err != nil {
				return fmt.Errorf("check pipeline: %w", err)
			}
			if !exists {
				return ErrNotFound
			}
			return ErrConflict
		}
		if hook != nil {
			return hook(ctx)
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.Version++
	return nil
}
