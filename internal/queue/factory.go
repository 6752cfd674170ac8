package queue

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/assetflow/internal/config"
	"github.com/redis/go-redis/v9"
)

var ErrUnsupportedBackend = errors.New("unsupported queue backend")

// Backends carries the connections a delegate may need.
type Backends struct {
	Redis    *redis.Client
	Postgres *pgxpool.Pool
}

// NewDelegate constructs the queue delegate named by backend (QUEUE_BACKEND).
// Called once at server startup.
func NewDelegate(backend string, b Backends) (Delegate, error) {
	switch backend {
	case config.QueueBackendRedis:
		if b.Redis == nil {
			return nil, fmt.Errorf("redis queue backend requires a redis client")
		}
		return NewRedisDelegate(b.Redis), nil
	case config.QueueBackendPostgres:
		if b.Postgres == nil {
			return nil, fmt.Errorf("postgres queue backend requires a database pool")
		}
		return NewPostgresDelegate(b.Postgres), nil
	case config.QueueBackendMemory:
		return NewMemoryDelegate(), nil
	default:
		return nil, fmt.Errorf("%w %q: must be one of redis, postgres, memory", ErrUnsupportedBackend, backend)
	}
}
