package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/planvista/planvista/pkg/models"
)

// MemoryStore is an in-memory Store with the same conditional-write semantics
// as PostgresStore. It backs unit tests of the ledger, workers, and handlers
// without a database; a single mutex stands in for per-row conditional updates.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[uuid.UUID]*models.Job)}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// clone returns a deep-enough copy so callers never share mutable state with
// the store.
func clone(j *models.Job) *models.Job {
	c := *j
	c.Request = append(json.RawMessage(nil), j.Request...)
	c.Report = cloneRaw(j.Report)
	c.Charts = cloneRaw(j.Charts)
	c.Retirement = cloneRaw(j.Retirement)
	c.Summary = cloneRaw(j.Summary)
	if j.ErrorMessage != nil {
		msg := *j.ErrorMessage
		c.ErrorMessage = &msg
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return append(json.RawMessage(nil), r...)
}

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return ErrDuplicateKey
	}
	s.jobs[job.ID] = clone(job)
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(j), nil
}

func (s *MemoryStore) ClaimJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if j.Status != models.JobStatusPending {
		return nil, ErrConflict
	}
	now := time.Now().UTC()
	j.Status = models.JobStatusRunning
	j.StartedAt = &now
	j.UpdatedAt = now
	return clone(j), nil
}

func (s *MemoryStore) ClaimNextJob(_ context.Context) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *models.Job
	for _, j := range s.jobs {
		if j.Status != models.JobStatusPending {
			continue
		}
		if oldest == nil || j.CreatedAt.Before(oldest.CreatedAt) {
			oldest = j
		}
	}
	if oldest == nil {
		return nil, ErrNotFound
	}
	now := time.Now().UTC()
	oldest.Status = models.JobStatusRunning
	oldest.StartedAt = &now
	oldest.UpdatedAt = now
	return clone(oldest), nil
}

func (s *MemoryStore) WriteJobResult(_ context.Context, id uuid.UUID, slot models.ResultSlot, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != models.JobStatusRunning || j.Result(slot) != nil {
		return ErrConflict
	}
	now := time.Now().UTC()
	switch slot {
	case models.SlotReport:
		j.Report = cloneRaw(payload)
	case models.SlotCharts:
		j.Charts = cloneRaw(payload)
	case models.SlotRetirement:
		j.Retirement = cloneRaw(payload)
	case models.SlotSummary:
		j.Summary = cloneRaw(payload)
	default:
		return ErrConflict
	}
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) FinalizeJob(_ context.Context, id uuid.UUID, status models.JobStatus, opts ...FinalizeOption) error {
	params := &finalizeParams{}
	for _, opt := range opts {
		opt(params)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if j.Status != models.JobStatusRunning || !status.Terminal() {
		return ErrConflict
	}
	now := time.Now().UTC()
	j.Status = status
	j.CompletedAt = &now
	j.UpdatedAt = now
	if params.Summary != nil && j.Summary == nil {
		j.Summary = cloneRaw(params.Summary)
	}
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		j.ErrorMessage = &msg
	}
	return nil
}

func (s *MemoryStore) ListJobsByOwner(_ context.Context, filter JobFilter) ([]*models.Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*models.Job
	for _, j := range s.jobs {
		if j.OwnerKey != filter.OwnerKey {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		if !filter.Since.IsZero() && j.CreatedAt.Before(filter.Since) {
			continue
		}
		matched = append(matched, j)
	}
	sort.Slice(matched, func(a, b int) bool {
		return matched[a].CreatedAt.After(matched[b].CreatedAt)
	})

	total := len(matched)
	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	offset := (page - 1) * limit

	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}

	jobs := make([]*models.Job, 0, end-offset)
	for _, j := range matched[offset:end] {
		jobs = append(jobs, clone(j))
	}
	return jobs, total, nil
}

func (s *MemoryStore) ReapStuckJobs(_ context.Context, cutoff time.Time, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	reaped := 0
	for _, j := range s.jobs {
		if j.Status != models.JobStatusRunning || j.StartedAt == nil || !j.StartedAt.Before(cutoff) {
			continue
		}
		msg := reason
		j.Status = models.JobStatusFailed
		j.ErrorMessage = &msg
		j.CompletedAt = &now
		j.UpdatedAt = now
		reaped++
	}
	return reaped, nil
}
