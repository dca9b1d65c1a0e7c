package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/planvista/planvista/internal/api/middleware"
	"github.com/planvista/planvista/internal/api/response"
	"github.com/planvista/planvista/internal/ledger"
	"github.com/planvista/planvista/internal/store"
	"github.com/planvista/planvista/pkg/models"
)

// JobLedger defines the ledger surface the HTTP handlers depend on.
type JobLedger interface {
	Create(ctx context.Context, owner string, kind models.JobKind, request json.RawMessage) (*models.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	Status(ctx context.Context, id uuid.UUID) (models.JobStatus, error)
	ListByOwner(ctx context.Context, owner string, filter store.JobFilter) ([]*models.Job, int, error)
}

// NewCreateJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
// The job is accepted for asynchronous processing; the client polls for the
// result using the returned id.
func NewCreateJobHandler(l JobLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := mw.GetPrincipal(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Missing principal", nil)
			return
		}

		var req struct {
			Kind    models.JobKind  `json:"kind"`
			Request json.RawMessage `json:"request"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		job, err := l.Create(r.Context(), principal, req.Kind, req.Request)
		if err != nil {
			writeLedgerError(w, err)
			return
		}

		response.Accepted(w, job)
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
// Jobs belonging to another principal read as not found.
func NewGetJobHandler(l JobLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := mw.GetPrincipal(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Missing principal", nil)
			return
		}

		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		job, err := l.Get(r.Context(), id)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		if job.OwnerKey != principal {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
			return
		}

		response.JSON(w, job)
	}
}

// NewJobStatusHandler returns an http.HandlerFunc for
// GET /api/v1/jobs/{jobID}/status, a cache-backed fast path for polling
// clients. The returned status may trail the store by a small margin.
func NewJobStatusHandler(l JobLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID must be a valid UUID", nil)
			return
		}

		status, err := l.Status(r.Context(), id)
		if err != nil {
			writeLedgerError(w, err)
			return
		}

		response.JSON(w, map[string]any{
			"id":     id,
			"status": status,
		})
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(l JobLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := mw.GetPrincipal(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "UNAUTHENTICATED", "Missing principal", nil)
			return
		}

		q := r.URL.Query()
		filter := store.JobFilter{
			Status: models.JobStatus(q.Get("status")),
			Page:   intParam(q.Get("page"), 1),
			Limit:  intParam(q.Get("limit"), 20),
		}

		jobs, total, err := l.ListByOwner(r.Context(), principal, filter)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		if jobs == nil {
			jobs = []*models.Job{}
		}

		response.Collection(w, jobs, response.PaginationMeta{
			Page:    filter.Page,
			Limit:   filter.Limit,
			Total:   total,
			HasNext: filter.Page*filter.Limit < total,
		})
	}
}

// writeLedgerError maps ledger/store errors onto the HTTP error envelope.
func writeLedgerError(w http.ResponseWriter, err error) {
	var vErr *ledger.ValidationError
	switch {
	case errors.As(err, &vErr):
		response.Error(w, http.StatusBadRequest, "VALIDATION_ERROR", vErr.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
	case errors.Is(err, store.ErrConflict):
		response.Error(w, http.StatusConflict, "CONFLICT", "Job is not in a state that allows this operation", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

func intParam(s string, defaultVal int) int {
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	return v
}
