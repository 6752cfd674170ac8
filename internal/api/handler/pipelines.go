package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/assetflow/internal/api/response"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

// PipelineService defines the pipeline operations the admin handlers depend on.
type PipelineService interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Pipeline, error)
	Fail(ctx context.Context, id uuid.UUID, reason string) error
}

// TaskLister reads the task groups of a pipeline.
type TaskLister interface {
	ListPipelineGroups(ctx context.Context, pipelineID uuid.UUID) ([]*models.TaskGroup, error)
	ListGroupTasks(ctx context.Context, groupID uuid.UUID) ([]*models.Task, error)
}

type groupTasks struct {
	Group *models.TaskGroup `json:"group"`
	Tasks []*models.Task    `json:"tasks"`
}

// NewGetPipelineHandler returns an http.HandlerFunc for GET /api/v1/pipelines/{pipelineID}.
func NewGetPipelineHandler(svc PipelineService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "pipelineID")
		if !ok {
			return
		}
		p, err := svc.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, p)
	}
}

// NewPipelineTasksHandler returns an http.HandlerFunc for
// GET /api/v1/pipelines/{pipelineID}/tasks. The optional group query
// parameter narrows the result to one task group.
func NewPipelineTasksHandler(svc PipelineService, tasks TaskLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "pipelineID")
		if !ok {
			return
		}
		var only uuid.UUID
		if v := r.URL.Query().Get("group"); v != "" {
			var err error
			if only, err = uuid.Parse(v); err != nil {
				response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "group must be a UUID", nil)
				return
			}
		}

		if _, err := svc.Get(r.Context(), id); err != nil {
			writeError(w, err)
			return
		}
		groups, err := tasks.ListPipelineGroups(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}

		out := make([]groupTasks, 0, len(groups))
		for _, g := range groups {
			if only != uuid.Nil && g.ID != only {
				continue
			}
			ts, err := tasks.ListGroupTasks(r.Context(), g.ID)
			if err != nil {
				writeError(w, err)
				return
			}
			out = append(out, groupTasks{Group: g, Tasks: ts})
		}
		if only != uuid.Nil && len(out) == 0 {
			response.Error(w, http.StatusNotFound, response.CodeNotFound, "Task group not found in pipeline", nil)
			return
		}
		response.JSON(w, out)
	}
}

// NewFailPipelineHandler returns an http.HandlerFunc for
// POST /api/v1/pipelines/{pipelineID}/fail. It is the operator's way to
// release a pipeline parked by a failed state update.
func NewFailPipelineHandler(svc PipelineService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := uuidParam(w, r, "pipelineID")
		if !ok {
			return
		}
		var req struct {
			Reason string `json:"reason"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
			return
		}
		if err := svc.Fail(r.Context(), id, req.Reason); err != nil {
			writeError(w, err)
			return
		}
		p, err := svc.Get(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		response.JSON(w, p)
	}
}
