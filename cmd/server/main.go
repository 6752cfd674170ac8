// Package main is the entrypoint for the assetflow server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/assetflow/internal/api"
	"github.com/kiranshivaraju/assetflow/internal/api/handler"
	mw "github.com/kiranshivaraju/assetflow/internal/api/middleware"
	"github.com/kiranshivaraju/assetflow/internal/api/response"
	"github.com/kiranshivaraju/assetflow/internal/broker"
	"github.com/kiranshivaraju/assetflow/internal/cache"
	"github.com/kiranshivaraju/assetflow/internal/callback"
	"github.com/kiranshivaraju/assetflow/internal/config"
	"github.com/kiranshivaraju/assetflow/internal/job"
	"github.com/kiranshivaraju/assetflow/internal/metrics"
	"github.com/kiranshivaraju/assetflow/internal/pipeline"
	"github.com/kiranshivaraju/assetflow/internal/queue"
	"github.com/kiranshivaraju/assetflow/internal/store"
	"github.com/kiranshivaraju/assetflow/internal/task"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

const (
	shutdownTimeout = 30 * time.Second
	settleTimeout   = 10 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast when it is invalid
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Server.LogLevel,
	})))
	slog.Info("config loaded", "queue_backend", cfg.Queue.Backend, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Build the orchestration core
	pgStore := store.NewPostgresStore(pool)
	m := metrics.New()
	logger := slog.Default()

	delegate, err := queue.NewDelegate(cfg.Queue.Backend, queue.Backends{
		Redis:    redisCache.Client(),
		Postgres: pool,
	})
	if err != nil {
		return fmt.Errorf("create task queue: %w", err)
	}
	taskQueue := queue.New(delegate, m, logger)
	slog.Info("task queue initialized", "backend", taskQueue.Backend())

	dispatcher := callback.NewDispatcher(cfg.Callback.Workers, cfg.Callback.Buffer, m, logger)
	tasks := task.NewManager(pgStore, taskQueue, dispatcher, task.RetryPolicy(cfg.Tasks.RetryLimits), m, logger)
	taskBroker := broker.New(taskQueue, pgStore, tasks, cfg.Broker.MaxTasksPerPoll, m, logger)

	registry := pipeline.NewRegistry()
	catalog, err := job.RegisterStages(registry, tasks)
	if err != nil {
		return fmt.Errorf("register stages: %w", err)
	}
	executor := pipeline.NewExecutor(pgStore, pipeline.NewStageExecutor(registry, m, logger), dispatcher, m, logger)
	pipelines := pipeline.NewManager(pgStore, registry, executor, logger)
	jobs := job.NewService(pgStore, pipelines, catalog, logger)

	dispatcher.Register(callback.ListenerPipeline, executor)
	dispatcher.Register(callback.ListenerJob, jobs)

	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	go func() {
		dispatcher.Run(dispatchCtx)
		close(dispatchDone)
	}()
	defer func() {
		stopDispatch()
		<-dispatchDone
	}()

	// 6. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMinute,
			mw.WithScopeLimit(models.ScopeWorker, cfg.Server.WorkerRateLimitPerMinute),
			mw.WithLimitMetrics(m)),
		Metrics:   m,

		HealthHandler: healthHandler(pgStore, redisCache),

		PollTasksHandler:    handler.NewPollTasksHandler(taskBroker),
		ReportStatusHandler: handler.NewReportStatusHandler(taskBroker),

		CreateJobHandler:   handler.NewCreateJobHandler(jobs),
		ListJobsHandler:    handler.NewListJobsHandler(jobs),
		GetJobHandler:      handler.NewGetJobHandler(jobs),
		SubmitJobHandler:   handler.NewSubmitJobHandler(jobs),
		CancelJobHandler:   handler.NewCancelJobHandler(jobs),
		DeleteJobHandler:   handler.NewDeleteJobHandler(jobs),
		JobMessagesHandler: handler.NewJobMessagesHandler(jobs),

		GetPipelineHandler:   handler.NewGetPipelineHandler(pipelines),
		PipelineTasksHandler: handler.NewPipelineTasksHandler(pipelines, pgStore),
		FailPipelineHandler:  handler.NewFailPipelineHandler(pipelines),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// Let callbacks already fired by in-flight requests reach their pipelines.
	if err := dispatcher.Settle(settleTimeout); err != nil {
		slog.Warn("callbacks still pending at shutdown", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database and cache connectivity.
func healthHandler(s pinger, c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, response.CodeDegraded,
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
