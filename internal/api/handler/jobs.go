package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/assetflow/internal/api/response"
	"github.com/kiranshivaraju/assetflow/internal/job"
	"github.com/kiranshivaraju/assetflow/internal/store"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

// JobService defines the job operations the handlers depend on.
type JobService interface {
	Create(ctx context.Context, params job.CreateParams) (*models.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	List(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error)
	Submit(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Messages(ctx context.Context, id uuid.UUID) ([]*models.JobMessage, error)
}

// NewCreateJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
// A job created with "submit": true is submitted right away.
func NewCreateJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			job.CreateParams
			Submit bool `json:"submit"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
			return
		}
		if req.Type == "" {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "type is required", nil)
			return
		}

		j, err := svc.Create(r.Context(), req.CreateParams)
		if err != nil {
			writeError(w, err)
			return
		}
		if req.Submit {
			if j, err = svc.Submit(r.Context(), j.ID); err != nil {
				writeError(w, err)
				return
			}
		}
		response.Created(w, j)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter := store.JobFilter{
			Status: models.JobStatus(q.Get("status")),
			Type:   q.Get("type"),
		}
		var err error
		if v := q.Get("page"); v != "" {
			if filter.Page, err = strconv.Atoi(v); err != nil {
				response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "page must be an integer", nil)
				return
			}
		}
		if v := q.Get("limit"); v != "" {
			if filter.Limit, err = strconv.Atoi(v); err != nil {
				response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "limit must be an integer", nil)
				return
			}
		}
		filter = filter.Normalize()

		jobs, total, err := svc.List(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		if jobs == nil {
			jobs = []*models.Job{}
		}
		response.Collection(w, jobs, response.Paginate(filter.Page, filter.Limit, total))
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return jobAction(func(ctx context.Context, id uuid.UUID) (*models.Job, error) {
		return svc.Get(ctx, id)
	})
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/submit.
func NewSubmitJobHandler(svc JobService) http.HandlerFunc {
	return jobAction(svc.Submit)
}

// NewCancelJobHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/cancel.
func NewCancelJobHandler(svc JobService) http.HandlerFunc {
	return jobAction(svc.Cancel)
}

// NewDeleteJobHandler returns an http.HandlerFunc for DELETE /api/v1/jobs/{jobID}.
func NewDeleteJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "jobID")
		if !ok {
			return
		}
		if err := svc.Delete(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		response.NoContent(w)
	}
}

// NewJobMessagesHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}/messages.
func NewJobMessagesHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "jobID")
		if !ok {
			return
		}
		msgs, err := svc.Messages(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, msgs)
	}
}

func jobAction(fn func(ctx context.Context, id uuid.UUID) (*models.Job, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "jobID")
		if !ok {
			return
		}
		j, err := fn(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, j)
	}
}
