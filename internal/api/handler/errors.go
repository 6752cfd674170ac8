// Package handler implements the HTTP handlers for the worker broker and the
// job and pipeline APIs.
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/assetflow/internal/api/response"
	"github.com/kiranshivaraju/assetflow/internal/broker"
	"github.com/kiranshivaraju/assetflow/internal/job"
	"github.com/kiranshivaraju/assetflow/internal/pipeline"
	"github.com/kiranshivaraju/assetflow/internal/queue"
	"github.com/kiranshivaraju/assetflow/internal/store"
	"github.com/kiranshivaraju/assetflow/pkg/models"
)

// writeError maps a service error to an HTTP error response.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, response.CodeNotFound, "Resource not found", nil)
	case errors.Is(err, job.ErrInvalidTransition),
		errors.Is(err, job.ErrJobActive),
		errors.Is(err, pipeline.ErrInvalidInitialState),
		errors.Is(err, pipeline.ErrPipelineCompleted),
		errors.Is(err, store.ErrConflict):
		response.Error(w, http.StatusConflict, response.CodeInvalidState, err.Error(), nil)
	case errors.Is(err, job.ErrUnknownType),
		errors.Is(err, job.ErrInvalidJob),
		errors.Is(err, models.ErrInvalidStatus),
		errors.Is(err, queue.ErrInvalidPriority),
		errors.Is(err, queue.ErrInvalidTask),
		errors.Is(err, pipeline.ErrUnknownStage),
		errors.Is(err, broker.ErrInvalidWorker):
		response.Error(w, http.StatusUnprocessableEntity, response.CodeInvalidRequest, err.Error(), nil)
	default:
		slog.Error("request failed", "error", err)
		response.Error(w, http.StatusInternalServerError, response.CodeInternal,
			"An unexpected error occurred", nil)
	}
}

// uuidParam parses a UUID URL parameter, writing a 400 when it is malformed.
func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, name+" must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}
