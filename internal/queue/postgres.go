package queue

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresDelegate is a FIFO queue on the task_queue table. Priority is not
// honoured; rows are served in enqueue order.
type PostgresDelegate struct {
	pool *pgxpool.Pool
}

func NewPostgresDelegate(pool *pgxpool.Pool) *PostgresDelegate {
	return &PostgresDelegate{pool: pool}
}

func (d *PostgresDelegate) Name() string { return "postgres" }

func (d *PostgresDelegate) Add(ctx context.Context, e Entry) error {
	_, err := d.pool.Exec(ctx,
		`INSERT INTO task_queue (task_id, task_type, enqueued_at) VALUES ($1, $2, clock_timestamp())
		 ON CONFLICT (task_id) DO NOTHING`,
		e.TaskID, e.Type)
	return err
}

// Get claims rows with SKIP LOCKED so concurrent pollers never see the same id.
func (d *PostgresDelegate) Get(ctx context.Context, taskType string, max int) ([]uuid.UUID, error) {
	rows, err := d.pool.Query(ctx,
		`DELETE FROM task_queue WHERE task_id IN (
		   SELECT task_id FROM task_queue WHERE task_type = $1
		   ORDER BY enqueued_at
		   FOR UPDATE SKIP LOCKED
		   LIMIT $2)
		 RETURNING task_id, enqueued_at`,
		taskType, max)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	type claimed struct {
		id uuid.UUID
		at time.Time
	}
	var out []claimed
	for rows.Next() {
		var c claimed
		if err := rows.Scan(&c.id, &c.at); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// RETURNING order is unspecified.
	sort.Slice(out, func(i, j int) bool { return out[i].at.Before(out[j].at) })
	ids := make([]uuid.UUID, len(out))
	for i, c := range out {
		ids[i] = c.id
	}
	return ids, nil
}

func (d *PostgresDelegate) Drain(ctx context.Context) error {
	_, err := d.pool.Exec(ctx, `DELETE FROM task_queue`)
	return err
}
