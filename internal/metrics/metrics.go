// Package metrics exposes prometheus instrumentation for the job pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var jobsProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "planvista_jobs_processed_total",
		Help: "Total number of analysis jobs processed, labeled by terminal status.",
	},
	[]string{"status"}, // 'completed', 'failed'
)

var jobsReapedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "planvista_jobs_reaped_total",
		Help: "Total number of abandoned running jobs failed by the reaper.",
	},
)

var jobDurationSeconds = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name:    "planvista_job_duration_seconds",
		Help:    "Wall time from claim to finalize per job.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	},
)

func init() {
	prometheus.MustRegister(jobsProcessedTotal, jobsReapedTotal, jobDurationSeconds)
}

func IncJobProcessed(status string) {
	jobsProcessedTotal.WithLabelValues(status).Inc()
}

func AddJobsReaped(n int) {
	jobsReapedTotal.Add(float64(n))
}

func ObserveJobDuration(d time.Duration) {
	jobDurationSeconds.Observe(d.Seconds())
}
