// Package worker runs the background side of the job pipeline: a pool of
// claim-and-process workers and a reaper for abandoned jobs.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/planvista/planvista/internal/analysis"
	"github.com/planvista/planvista/internal/metrics"
	"github.com/planvista/planvista/internal/store"
	"github.com/planvista/planvista/pkg/models"
	"golang.org/x/sync/errgroup"
)

// Ledger is the slice of the job ledger the pool depends on.
type Ledger interface {
	ClaimNext(ctx context.Context) (*models.Job, error)
	WriteResult(ctx context.Context, id uuid.UUID, slot models.ResultSlot, payload json.RawMessage) error
	Complete(ctx context.Context, id uuid.UUID, summary json.RawMessage) error
	Fail(ctx context.Context, id uuid.UUID, errMsg string) error
}

// Pool claims pending jobs and processes them. Each job's three producers run
// concurrently and write their slots independently; the pool then finalizes
// with the aggregated summary, or with the first producer error.
type Pool struct {
	ledger    Ledger
	producers []analysis.Producer
	workers   int
	poll      time.Duration
	timeout   time.Duration
}

// NewPool creates a pool of n workers polling every poll interval, with a
// per-job processing timeout.
func NewPool(l Ledger, producers []analysis.Producer, n int, poll, timeout time.Duration) *Pool {
	return &Pool{
		ledger:    l,
		producers: producers,
		workers:   n,
		poll:      poll,
		timeout:   timeout,
	}
}

// Run blocks until ctx is cancelled, then waits for in-flight jobs to finish.
func (p *Pool) Run(ctx context.Context) error {
	slog.Info("worker pool starting", "workers", p.workers, "poll_interval", p.poll)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	wg.Wait()

	slog.Info("worker pool stopped")
	return ctx.Err()
}

func (p *Pool) loop(ctx context.Context, workerID int) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.ledger.ClaimNext(ctx)
		if errors.Is(err, store.ErrNotFound) {
			// Queue is empty; back off until the next poll.
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.poll):
			}
			continue
		}
		if err != nil {
			slog.Error("claim next job", "worker", workerID, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.poll):
			}
			continue
		}

		p.process(job, workerID)
	}
}

// process runs the producers for one claimed job and finalizes it. The job is
// always driven to a terminal state, including on panic; a shutdown mid-job
// leaves it running for the reaper rather than finalizing with partial work.
func (p *Pool) process(job *models.Job, workerID int) {
	// Detached from the pool context so a shutdown signal doesn't abort
	// finalization mid-write.
	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic processing job", "job_id", job.ID, "error", r)
			p.fail(ctx, job.ID, fmt.Sprintf("panic: %v", r), start)
		}
	}()

	slog.Info("job claimed", "worker", workerID, "job_id", job.ID, "kind", job.Kind)

	var mu sync.Mutex
	results := make(map[models.ResultSlot]json.RawMessage, len(p.producers))

	g, gctx := errgroup.WithContext(ctx)
	for _, prod := range p.producers {
		g.Go(func() (err error) {
			// A panicking producer fails the job, not the process.
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%s producer panicked: %v", prod.Slot(), r)
				}
			}()
			payload, err := prod.Produce(gctx, job)
			if err != nil {
				return fmt.Errorf("%s producer: %w", prod.Slot(), err)
			}
			if err := p.ledger.WriteResult(ctx, job.ID, prod.Slot(), payload); err != nil {
				return fmt.Errorf("write %s result: %w", prod.Slot(), err)
			}
			mu.Lock()
			results[prod.Slot()] = payload
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		p.fail(ctx, job.ID, err.Error(), start)
		return
	}

	summary, err := analysis.BuildSummary(results)
	if err != nil {
		p.fail(ctx, job.ID, fmt.Sprintf("build summary: %v", err), start)
		return
	}

	if err := p.ledger.Complete(ctx, job.ID, summary); err != nil {
		// A reaper may have failed the job while we were working.
		slog.Error("complete job", "job_id", job.ID, "error", err)
		return
	}

	metrics.IncJobProcessed(string(models.JobStatusCompleted))
	metrics.ObserveJobDuration(time.Since(start))
	slog.Info("job completed", "worker", workerID, "job_id", job.ID, "duration_ms", time.Since(start).Milliseconds())
}

func (p *Pool) fail(ctx context.Context, id uuid.UUID, msg string, start time.Time) {
	if err := p.ledger.Fail(ctx, id, msg); err != nil {
		slog.Error("fail job", "job_id", id, "error", err)
		return
	}
	metrics.IncJobProcessed(string(models.JobStatusFailed))
	metrics.ObserveJobDuration(time.Since(start))
	slog.Warn("job failed", "job_id", id, "reason", msg)
}
