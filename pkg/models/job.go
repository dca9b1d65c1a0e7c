package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a job. Transitions are strictly forward:
// pending -> running -> completed|failed.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether no further transitions are accepted from s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is a recognized job status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// JobKind is the type of analysis a job performs.
type JobKind string

const (
	JobKindPortfolioAnalysis JobKind = "portfolio_analysis"
	JobKindRebalance         JobKind = "rebalance"
	JobKindProjection        JobKind = "projection"
)

var validKinds = map[JobKind]bool{
	JobKindPortfolioAnalysis: true,
	JobKindRebalance:         true,
	JobKindProjection:        true,
}

// Valid reports whether k is a recognized job kind.
func (k JobKind) Valid() bool { return validKinds[k] }

// ResultSlot names one of the four independently-writable result fields on a
// job. Each slot is written at most once; producers for different slots run in
// parallel and never touch each other's column.
type ResultSlot string

const (
	SlotReport     ResultSlot = "report"
	SlotCharts     ResultSlot = "charts"
	SlotRetirement ResultSlot = "retirement_projection"
	SlotSummary    ResultSlot = "summary"
)

var validSlots = map[ResultSlot]bool{
	SlotReport:     true,
	SlotCharts:     true,
	SlotRetirement: true,
	SlotSummary:    true,
}

// Valid reports whether s is a recognized result slot.
func (s ResultSlot) Valid() bool { return validSlots[s] }

// Job tracks one asynchronous analysis request. The API returns a job id on
// POST /api/v1/jobs; the client polls GET /api/v1/jobs/{jobID} until status is
// completed or failed. A mid-flight job may have some result slots populated
// and others null; that is the normal state while producers run.
type Job struct {
	ID           uuid.UUID       `db:"id"                    json:"id"`
	OwnerKey     string          `db:"owner_key"             json:"owner_key"`
	Kind         JobKind         `db:"kind"                  json:"kind"`
	Status       JobStatus       `db:"status"                json:"status"`
	Request      json.RawMessage `db:"request"               json:"request"`
	Report       json.RawMessage `db:"report"                json:"report,omitempty"`
	Charts       json.RawMessage `db:"charts"                json:"charts,omitempty"`
	Retirement   json.RawMessage `db:"retirement_projection" json:"retirement_projection,omitempty"`
	Summary      json.RawMessage `db:"summary"               json:"summary,omitempty"`
	ErrorMessage *string         `db:"error_message"         json:"error_message,omitempty"`
	StartedAt    *time.Time      `db:"started_at"            json:"started_at,omitempty"`
	CompletedAt  *time.Time      `db:"completed_at"          json:"completed_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at"            json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"            json:"updated_at"`
}

// Result returns the payload stored in the given slot, or nil if unset.
func (j *Job) Result(slot ResultSlot) json.RawMessage {
	switch slot {
	case SlotReport:
		return j.Report
	case SlotCharts:
		return j.Charts
	case SlotRetirement:
		return j.Retirement
	case SlotSummary:
		return j.Summary
	}
	return nil
}
