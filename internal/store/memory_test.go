package store_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/planvista/planvista/internal/store"
	"github.com/planvista/planvista/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPendingJob(owner string) *models.Job {
	now := time.Now().UTC()
	return &models.Job{
		ID:        uuid.New(),
		OwnerKey:  owner,
		Kind:      models.JobKindPortfolioAnalysis,
		Status:    models.JobStatusPending,
		Request:   json.RawMessage(`{"holdings":[]}`),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestMemory_CreateAndGet(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	job := newPendingJob("u1")
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, got.Status)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.Report)
}

func TestMemory_CreateDuplicateID(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	job := newPendingJob("u1")
	require.NoError(t, s.CreateJob(ctx, job))

	err := s.CreateJob(ctx, job)
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

func TestMemory_GetNotFound(t *testing.T) {
	s := store.NewMemoryStore()

	_, err := s.GetJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemory_ClaimTransitionsToRunning(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	job := newPendingJob("u1")
	require.NoError(t, s.CreateJob(ctx, job))

	claimed, err := s.ClaimJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, claimed.Status)
	require.NotNil(t, claimed.StartedAt)
}

func TestMemory_ClaimNotFound(t *testing.T) {
	s := store.NewMemoryStore()

	_, err := s.ClaimJob(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemory_ClaimAlreadyRunningConflicts(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	job := newPendingJob("u1")
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.ClaimJob(ctx, job.ID)
	require.NoError(t, err)

	_, err = s.ClaimJob(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrConflict)
}

// Concurrent claims on one fresh job: exactly one caller wins.
func TestMemory_ConcurrentClaims_ExactlyOneSucceeds(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	job := newPendingJob("u1")
	require.NoError(t, s.CreateJob(ctx, job))

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.ClaimJob(ctx, job.ID)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, store.ErrConflict)
		}
	}
	assert.Equal(t, 1, successes)
}

func TestMemory_ClaimNextPicksOldestPending(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	older := newPendingJob("u1")
	older.CreatedAt = older.CreatedAt.Add(-time.Minute)
	newer := newPendingJob("u1")
	require.NoError(t, s.CreateJob(ctx, older))
	require.NoError(t, s.CreateJob(ctx, newer))

	claimed, err := s.ClaimNextJob(ctx)
	require.NoError(t, err)
	assert.Equal(t, older.ID, claimed.ID)
}

func TestMemory_ClaimNextEmptyQueue(t *testing.T) {
	s := store.NewMemoryStore()

	_, err := s.ClaimNextJob(context.Background())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// Concurrent ClaimNext over N jobs: every job is claimed exactly once.
func TestMemory_ConcurrentClaimNext_NoDoubleDelivery(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	const jobCount = 10
	for i := 0; i < jobCount; i++ {
		require.NoError(t, s.CreateJob(ctx, newPendingJob("u1")))
	}

	var mu sync.Mutex
	seen := map[uuid.UUID]int{}
	var wg sync.WaitGroup
	for i := 0; i < jobCount*2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			job, err := s.ClaimNextJob(ctx)
			if err != nil {
				return
			}
			mu.Lock()
			seen[job.ID]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, jobCount)
	for id, n := range seen {
		assert.Equal(t, 1, n, "job %s claimed more than once", id)
	}
}

func TestMemory_WriteResultBeforeClaimConflicts(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	job := newPendingJob("u1")
	require.NoError(t, s.CreateJob(ctx, job))

	err := s.WriteJobResult(ctx, job.ID, models.SlotReport, json.RawMessage(`{}`))
	assert.ErrorIs(t, err, store.ErrConflict)
}

func TestMemory_WriteResultStrictOnce(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	job := newPendingJob("u1")
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.ClaimJob(ctx, job.ID)
	require.NoError(t, err)

	first := json.RawMessage(`{"v":1}`)
	require.NoError(t, s.WriteJobResult(ctx, job.ID, models.SlotReport, first))

	err = s.WriteJobResult(ctx, job.ID, models.SlotReport, json.RawMessage(`{"v":2}`))
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(got.Report))
}

// The three producer slots are disjoint: parallel writes never lose data.
func TestMemory_ParallelSlotWrites_AllSurvive(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	job := newPendingJob("u1")
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.ClaimJob(ctx, job.ID)
	require.NoError(t, err)

	payloads := map[models.ResultSlot]json.RawMessage{
		models.SlotReport:     json.RawMessage(`{"slot":"report"}`),
		models.SlotCharts:     json.RawMessage(`{"slot":"charts"}`),
		models.SlotRetirement: json.RawMessage(`{"slot":"retirement"}`),
	}

	var wg sync.WaitGroup
	for slot, payload := range payloads {
		wg.Add(1)
		go func(slot models.ResultSlot, payload json.RawMessage) {
			defer wg.Done()
			assert.NoError(t, s.WriteJobResult(ctx, job.ID, slot, payload))
		}(slot, payload)
	}
	wg.Wait()

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"slot":"report"}`, string(got.Report))
	assert.JSONEq(t, `{"slot":"charts"}`, string(got.Charts))
	assert.JSONEq(t, `{"slot":"retirement"}`, string(got.Retirement))
}

func TestMemory_FinalizeCompleted(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	job := newPendingJob("u1")
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.ClaimJob(ctx, job.ID)
	require.NoError(t, err)

	err = s.FinalizeJob(ctx, job.ID, models.JobStatusCompleted,
		store.WithSummary(json.RawMessage(`{"headline":"ok"}`)))
	require.NoError(t, err)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.NotNil(t, got.CompletedAt)
	assert.Nil(t, got.ErrorMessage)
	assert.JSONEq(t, `{"headline":"ok"}`, string(got.Summary))
}

func TestMemory_FinalizeFailed(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	job := newPendingJob("u1")
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.ClaimJob(ctx, job.ID)
	require.NoError(t, err)

	err = s.FinalizeJob(ctx, job.ID, models.JobStatusFailed, store.WithErrorMessage("timeout"))
	require.NoError(t, err)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "timeout", *got.ErrorMessage)
	assert.NotNil(t, got.CompletedAt)
}

func TestMemory_FinalizePendingConflicts(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	job := newPendingJob("u1")
	require.NoError(t, s.CreateJob(ctx, job))

	err := s.FinalizeJob(ctx, job.ID, models.JobStatusFailed, store.WithErrorMessage("timeout"))
	assert.ErrorIs(t, err, store.ErrConflict)
}

// A second finalize after a terminal state conflicts and preserves the first
// terminal payload.
func TestMemory_SecondFinalizeConflictsAndPreservesFirst(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	job := newPendingJob("u1")
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.ClaimJob(ctx, job.ID)
	require.NoError(t, err)

	require.NoError(t, s.FinalizeJob(ctx, job.ID, models.JobStatusCompleted,
		store.WithSummary(json.RawMessage(`{"headline":"first"}`))))

	err = s.FinalizeJob(ctx, job.ID, models.JobStatusFailed, store.WithErrorMessage("late failure"))
	assert.ErrorIs(t, err, store.ErrConflict)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, got.Status)
	assert.JSONEq(t, `{"headline":"first"}`, string(got.Summary))
	assert.Nil(t, got.ErrorMessage)
}

func TestMemory_SummarySlotWinsOverFinalizeSummary(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	job := newPendingJob("u1")
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.ClaimJob(ctx, job.ID)
	require.NoError(t, err)

	require.NoError(t, s.WriteJobResult(ctx, job.ID, models.SlotSummary, json.RawMessage(`{"from":"slot"}`)))
	require.NoError(t, s.FinalizeJob(ctx, job.ID, models.JobStatusCompleted,
		store.WithSummary(json.RawMessage(`{"from":"finalize"}`))))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"from":"slot"}`, string(got.Summary))
}

func TestMemory_ListByOwner(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	base := time.Now().UTC()
	for i := 0; i < 5; i++ {
		job := newPendingJob("u1")
		job.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.CreateJob(ctx, job))
	}
	require.NoError(t, s.CreateJob(ctx, newPendingJob("u2")))

	jobs, total, err := s.ListJobsByOwner(ctx, store.JobFilter{OwnerKey: "u1", Page: 1, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, jobs, 3)

	// Newest first
	assert.True(t, jobs[0].CreatedAt.After(jobs[1].CreatedAt))
	assert.True(t, jobs[1].CreatedAt.After(jobs[2].CreatedAt))
}

func TestMemory_ListByOwnerStatusFilter(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	pending := newPendingJob("u1")
	running := newPendingJob("u1")
	require.NoError(t, s.CreateJob(ctx, pending))
	require.NoError(t, s.CreateJob(ctx, running))
	_, err := s.ClaimJob(ctx, running.ID)
	require.NoError(t, err)

	jobs, total, err := s.ListJobsByOwner(ctx, store.JobFilter{
		OwnerKey: "u1", Status: models.JobStatusRunning,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, running.ID, jobs[0].ID)
}

func TestMemory_ReapStuckJobs(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	stuck := newPendingJob("u1")
	fresh := newPendingJob("u1")
	require.NoError(t, s.CreateJob(ctx, stuck))
	require.NoError(t, s.CreateJob(ctx, fresh))
	_, err := s.ClaimJob(ctx, stuck.ID)
	require.NoError(t, err)
	_, err = s.ClaimJob(ctx, fresh.ID)
	require.NoError(t, err)

	// Only jobs started before the cutoff are reaped.
	n, err := s.ReapStuckJobs(ctx, time.Now().UTC().Add(time.Second), "job timed out")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.GetJob(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, "job timed out", *got.ErrorMessage)
}

func TestMemory_ReapSkipsFreshJobs(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	job := newPendingJob("u1")
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.ClaimJob(ctx, job.ID)
	require.NoError(t, err)

	n, err := s.ReapStuckJobs(ctx, time.Now().UTC().Add(-time.Hour), "job timed out")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, got.Status)
}
