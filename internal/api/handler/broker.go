package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/assetflow/internal/api/response"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

// TaskBroker defines the broker operations the worker handlers depend on.
type TaskBroker interface {
	Poll(ctx context.Context, workerID string, capacities []models.Capacity) ([]*models.Task, error)
	ReportStatus(ctx context.Context, workerID string, taskID uuid.UUID, update models.StatusUpdate) error
}

type workerTask struct {
	ID            uuid.UUID       `json:"id"`
	Type          string          `json:"type"`
	Description   string          `json:"description"`
	Configuration json.RawMessage `json:"configuration"`
}

// NewPollTasksHandler returns an http.HandlerFunc for
// POST /broker/workers/{workerId}/tasks.
func NewPollTasksHandler(b TaskBroker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workerID := chi.URLParam(r, "workerId")

		var capacities []models.Capacity
		if err := json.NewDecoder(r.Body).Decode(&capacities); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Body must be a JSON array of capacities", nil)
			return
		}
		for _, c := range capacities {
			if c.Availability < 0 {
				response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "availability must not be negative", nil)
				return
			}
		}

		tasks, err := b.Poll(r.Context(), workerID, capacities)
		if err != nil {
			writeError(w, err)
			return
		}

		out := make([]workerTask, 0, len(tasks))
		for _, t := range tasks {
			cfg := t.Configuration
			if len(cfg) == 0 {
				cfg = json.RawMessage(`{}`)
			}
			out = append(out, workerTask{
				ID:            t.ID,
				Type:          t.Type,
				Description:   t.Description,
				Configuration: cfg,
			})
		}
		response.Raw(w, http.StatusOK, out)
	}
}

// NewReportStatusHandler returns an http.HandlerFunc for
// POST /broker/workers/{workerId}/tasks/{taskId}/status.
func NewReportStatusHandler(b TaskBroker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workerID := chi.URLParam(r, "workerId")
		taskID, ok := uuidParam(w, r, "taskId")
		if !ok {
			return
		}

		var req struct {
			Status string          `json:"status"`
			Output json.RawMessage `json:"output"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
			return
		}
		status, err := models.ParseTaskStatus(req.Status)
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, err.Error(), nil)
			return
		}

		update := models.StatusUpdate{Status: status, Output: req.Output}
		if err := b.ReportStatus(r.Context(), workerID, taskID, update); err != nil {
			writeError(w, err)
			return
		}
		response.Raw(w, http.StatusOK, map[string]string{"status": "OK"})
	}
}
