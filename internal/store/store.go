package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/planvista/planvista/pkg/models"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrConflict     = errors.New("conflicting job state")
	ErrDuplicateKey = errors.New("duplicate key violation")
)

// Store is the data access interface for the job ledger. All synchronization
// is scoped to a single job's record: every transition is a conditional write
// keyed on the current status (and, for result slots, slot emptiness), so
// correctness holds across separate processes sharing one database.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)

	// ClaimJob atomically transitions a pending job to running, setting
	// started_at. Under concurrent claims exactly one caller succeeds; the
	// rest receive ErrConflict (or ErrNotFound for unknown ids).
	ClaimJob(ctx context.Context, id uuid.UUID) (*models.Job, error)

	// ClaimNextJob claims the oldest pending job. ErrNotFound means no
	// pending work.
	ClaimNextJob(ctx context.Context) (*models.Job, error)

	// WriteJobResult writes one result slot, conditional on the job being
	// running and the slot still empty.
	WriteJobResult(ctx context.Context, id uuid.UUID, slot models.ResultSlot, payload json.RawMessage) error

	// FinalizeJob transitions a running job to completed or failed, setting
	// completed_at. Not running -> ErrConflict; the first terminal write wins.
	FinalizeJob(ctx context.Context, id uuid.UUID, status models.JobStatus, opts ...FinalizeOption) error

	ListJobsByOwner(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)

	// ReapStuckJobs fails every running job whose started_at is before
	// cutoff, recording reason as the error message. Returns the number of
	// jobs reaped.
	ReapStuckJobs(ctx context.Context, cutoff time.Time, reason string) (int, error)
}

// JobFilter selects jobs for ListJobsByOwner. Status is optional; Page and
// Limit are normalized by the implementation.
type JobFilter struct {
	OwnerKey string
	Status   models.JobStatus
	Since    time.Time
	Page     int
	Limit    int
}

type finalizeParams struct {
	Summary      json.RawMessage
	ErrorMessage *string
}

type FinalizeOption func(*finalizeParams)

// WithSummary attaches the aggregated summary payload to a completed job. If a
// producer already wrote the summary slot, the existing value is kept.
func WithSummary(summary json.RawMessage) FinalizeOption {
	return func(p *finalizeParams) {
		p.Summary = summary
	}
}

// WithErrorMessage records why a job failed.
func WithErrorMessage(msg string) FinalizeOption {
	return func(p *finalizeParams) {
		p.ErrorMessage = &msg
	}
}
