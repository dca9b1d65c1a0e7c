package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/planvista/planvista/internal/metrics"
	"github.com/planvista/planvista/internal/store"
)

const reapReason = "job timed out: abandoned in running state"

// Reaper periodically fails jobs stuck in running past the configured
// deadline. Producers are not guaranteed idempotent, so abandoned jobs are
// failed rather than re-queued; the client decides whether to resubmit.
type Reaper struct {
	store    store.Store
	interval time.Duration
	deadline time.Duration
}

// NewReaper creates a Reaper that checks every interval for jobs running
// longer than deadline.
func NewReaper(s store.Store, interval, deadline time.Duration) *Reaper {
	return &Reaper{store: s, interval: interval, deadline: deadline}
}

// Run blocks until ctx is cancelled.
func (r *Reaper) Run(ctx context.Context) error {
	slog.Info("reaper starting", "interval", r.interval, "running_deadline", r.deadline)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reaper stopped")
			return ctx.Err()
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-r.deadline)
			n, err := r.store.ReapStuckJobs(ctx, cutoff, reapReason)
			if err != nil {
				slog.Error("reap stuck jobs", "error", err)
				continue
			}
			if n > 0 {
				metrics.AddJobsReaped(n)
				slog.Warn("stuck jobs reaped", "count", n)
			}
		}
	}
}
