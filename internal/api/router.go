package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/assetflow/internal/api/middleware"
	"github.com/kiranshivaraju/assetflow/internal/api/response"
	"github.com/kiranshivaraju/assetflow/internal/metrics"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit
	Metrics   *metrics.Metrics

	HealthHandler http.HandlerFunc

	// Worker wire contract
	PollTasksHandler    http.HandlerFunc
	ReportStatusHandler http.HandlerFunc

	CreateJobHandler   http.HandlerFunc
	ListJobsHandler    http.HandlerFunc
	GetJobHandler      http.HandlerFunc
	SubmitJobHandler   http.HandlerFunc
	CancelJobHandler   http.HandlerFunc
	DeleteJobHandler   http.HandlerFunc
	JobMessagesHandler http.HandlerFunc

	GetPipelineHandler   http.HandlerFunc
	PipelineTasksHandler http.HandlerFunc
	FailPipelineHandler  http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recover(deps.Metrics))
	if deps.Metrics != nil {
		r.Use(mw.Instrument(deps.Metrics))
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeWorker))

			r.Post("/broker/workers/{workerId}/tasks", orNotImplemented(deps.PollTasksHandler))
			r.Post("/broker/workers/{workerId}/tasks/{taskId}/status", orNotImplemented(deps.ReportStatusHandler))
		})

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeJobs))

			r.Post("/api/v1/jobs", orNotImplemented(deps.CreateJobHandler))
			r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobsHandler))
			r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.GetJobHandler))
			r.Post("/api/v1/jobs/{jobID}/submit", orNotImplemented(deps.SubmitJobHandler))
			r.Post("/api/v1/jobs/{jobID}/cancel", orNotImplemented(deps.CancelJobHandler))
			r.Delete("/api/v1/jobs/{jobID}", orNotImplemented(deps.DeleteJobHandler))
			r.Get("/api/v1/jobs/{jobID}/messages", orNotImplemented(deps.JobMessagesHandler))
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope(models.ScopeAdmin))

			r.Get("/api/v1/pipelines/{pipelineID}", orNotImplemented(deps.GetPipelineHandler))
			r.Get("/api/v1/pipelines/{pipelineID}/tasks", orNotImplemented(deps.PipelineTasksHandler))
			r.Post("/api/v1/pipelines/{pipelineID}/fail", orNotImplemented(deps.FailPipelineHandler))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, response.CodeNotImplemented, "Endpoint not yet implemented", nil)
	}
}
