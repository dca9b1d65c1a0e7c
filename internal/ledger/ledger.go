// Package ledger owns the lifecycle of asynchronous analysis jobs: creation,
// state transitions, partial-result accumulation from independent producers,
// and terminal outcome recording. It is stateless logic over the store; all
// mutual exclusion comes from the store's conditional writes, so any number of
// process replicas can share one database.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/planvista/planvista/internal/cache"
	"github.com/planvista/planvista/internal/store"
	"github.com/planvista/planvista/pkg/models"
)

const statusCacheTTL = 30 * time.Minute

// ValidationError reports malformed creation or mutation input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Ledger coordinates job state against the store and keeps a best-effort
// status cache for cheap polling. Cache failures never fail an operation.
type Ledger struct {
	store store.Store
	cache cache.Cache
}

// New creates a Ledger over the given store and cache.
func New(s store.Store, c cache.Cache) *Ledger {
	return &Ledger{store: s, cache: c}
}

// Create inserts a new pending job for the given owner and returns it.
func (l *Ledger) Create(ctx context.Context, owner string, kind models.JobKind, request json.RawMessage) (*models.Job, error) {
	if owner == "" {
		return nil, &ValidationError{Field: "owner", Reason: "must not be empty"}
	}
	if !kind.Valid() {
		return nil, &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown job kind %q", kind)}
	}
	if len(request) == 0 || !json.Valid(request) {
		return nil, &ValidationError{Field: "request", Reason: "must be a valid JSON document"}
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:        uuid.New(),
		OwnerKey:  owner,
		Kind:      kind,
		Status:    models.JobStatusPending,
		Request:   request,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := l.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating job: %w", err)
	}
	l.cacheStatus(ctx, job.ID, job.Status)
	return job, nil
}

// Claim transitions a pending job to running. At most one concurrent caller
// succeeds; the rest see store.ErrConflict.
func (l *Ledger) Claim(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := l.store.ClaimJob(ctx, id)
	if err != nil {
		return nil, err
	}
	l.cacheStatus(ctx, job.ID, job.Status)
	return job, nil
}

// ClaimNext claims the oldest pending job, or returns store.ErrNotFound when
// the queue is empty.
func (l *Ledger) ClaimNext(ctx context.Context) (*models.Job, error) {
	job, err := l.store.ClaimNextJob(ctx)
	if err != nil {
		return nil, err
	}
	l.cacheStatus(ctx, job.ID, job.Status)
	return job, nil
}

// WriteResult writes one result slot on a running job. Slots are strict-once:
// a second write to a populated slot returns store.ErrConflict.
func (l *Ledger) WriteResult(ctx context.Context, id uuid.UUID, slot models.ResultSlot, payload json.RawMessage) error {
	if !slot.Valid() {
		return &ValidationError{Field: "slot", Reason: fmt.Sprintf("unknown result slot %q", slot)}
	}
	if len(payload) == 0 || !json.Valid(payload) {
		return &ValidationError{Field: "payload", Reason: "must be a valid JSON document"}
	}
	return l.store.WriteJobResult(ctx, id, slot, payload)
}

// Complete transitions a running job to completed, attaching the aggregated
// summary. A job that is not running returns store.ErrConflict.
func (l *Ledger) Complete(ctx context.Context, id uuid.UUID, summary json.RawMessage) error {
	if summary != nil && !json.Valid(summary) {
		return &ValidationError{Field: "summary", Reason: "must be a valid JSON document"}
	}
	opts := []store.FinalizeOption{}
	if summary != nil {
		opts = append(opts, store.WithSummary(summary))
	}
	if err := l.store.FinalizeJob(ctx, id, models.JobStatusCompleted, opts...); err != nil {
		return err
	}
	l.cacheStatus(ctx, id, models.JobStatusCompleted)
	return nil
}

// Fail transitions a running job to failed with the given error message.
func (l *Ledger) Fail(ctx context.Context, id uuid.UUID, errMsg string) error {
	if errMsg == "" {
		return &ValidationError{Field: "error_message", Reason: "must not be empty"}
	}
	if err := l.store.FinalizeJob(ctx, id, models.JobStatusFailed, store.WithErrorMessage(errMsg)); err != nil {
		return err
	}
	l.cacheStatus(ctx, id, models.JobStatusFailed)
	return nil
}

// Get returns a consistent snapshot of the job. Partially-populated result
// slots on a running job are expected, not an error.
func (l *Ledger) Get(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return l.store.GetJob(ctx, id)
}

// Status returns the job's status, preferring the cache. The cached value may
// trail the store by a small margin, which polling clients tolerate.
func (l *Ledger) Status(ctx context.Context, id uuid.UUID) (models.JobStatus, error) {
	if cached, found, err := l.cache.GetJobStatus(ctx, id); err == nil && found {
		return models.JobStatus(cached), nil
	}
	job, err := l.store.GetJob(ctx, id)
	if err != nil {
		return "", err
	}
	l.cacheStatus(ctx, id, job.Status)
	return job.Status, nil
}

// ListByOwner returns the owner's jobs ordered by created_at descending, plus
// the total match count for pagination.
func (l *Ledger) ListByOwner(ctx context.Context, owner string, filter store.JobFilter) ([]*models.Job, int, error) {
	if owner == "" {
		return nil, 0, &ValidationError{Field: "owner", Reason: "must not be empty"}
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", filter.Status)}
	}
	filter.OwnerKey = owner
	return l.store.ListJobsByOwner(ctx, filter)
}

func (l *Ledger) cacheStatus(ctx context.Context, id uuid.UUID, status models.JobStatus) {
	_ = l.cache.SetJobStatus(ctx, id, string(status), statusCacheTTL)
}
