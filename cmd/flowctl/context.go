package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/assetflow/internal/cache"
	"github.com/kiranshivaraju/assetflow/internal/config"
	"github.com/kiranshivaraju/assetflow/internal/queue"
	"github.com/kiranshivaraju/assetflow/internal/store"
)

// commandContext lazily opens the connections a command needs. Tests replace
// the open functions.
type commandContext struct {
	openStore func(ctx context.Context) (store.Store, error)
	openQueue func(ctx context.Context) (*queue.Queue, error)
	migrate   func() error

	mu      sync.Mutex
	cfg     *config.Config
	pool    *pgxpool.Pool
	closers []func()
}

func newCommandContext() *commandContext {
	c := &commandContext{}
	c.openStore = c.postgresStore
	c.openQueue = c.configuredQueue
	c.migrate = func() error {
		cfg, err := c.config()
		if err != nil {
			return err
		}
		return store.RunMigrations(cfg.Database.URL)
	}
	return c
}

func (c *commandContext) config() (*config.Config, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg != nil {
		return c.cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	c.cfg = cfg
	return cfg, nil
}

func (c *commandContext) dbPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pool != nil {
		return c.pool, nil
	}
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	c.pool = pool
	c.closers = append(c.closers, pool.Close)
	return pool, nil
}

func (c *commandContext) postgresStore(ctx context.Context) (store.Store, error) {
	pool, err := c.dbPool(ctx)
	if err != nil {
		return nil, err
	}
	return store.NewPostgresStore(pool), nil
}

func (c *commandContext) configuredQueue(ctx context.Context) (*queue.Queue, error) {
	cfg, err := c.config()
	if err != nil {
		return nil, err
	}

	var backends queue.Backends
	switch cfg.Queue.Backend {
	case config.QueueBackendRedis:
		rc, err := cache.NewRedisCache(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("create redis client: %w", err)
		}
		c.mu.Lock()
		c.closers = append(c.closers, func() { rc.Close() })
		c.mu.Unlock()
		backends.Redis = rc.Client()
	case config.QueueBackendPostgres:
		if backends.Postgres, err = c.dbPool(ctx); err != nil {
			return nil, err
		}
	}

	d, err := queue.NewDelegate(cfg.Queue.Backend, backends)
	if err != nil {
		return nil, err
	}
	return queue.New(d, nil, nil), nil
}

func (c *commandContext) close() {
	c.mu.Lock()
	closers := c.closers
	c.closers = nil
	c.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}
