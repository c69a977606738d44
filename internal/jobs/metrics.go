package jobs

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/impactsweep/internal/model"
)

var (
	jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "impactsweep_job_duration_seconds",
			Help:    "Wall-clock time from job submission to terminal state, in seconds.",
			Buckets: prometheus.ExponentialBuckets(30, 2, 10),
		},
	)

	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactsweep_jobs_total",
			Help: "Total number of analysis jobs by terminal status.",
		},
		[]string{"status"},
	)
)

func init() {
	prometheus.MustRegister(jobDuration)
	prometheus.MustRegister(jobsTotal)

	// Pre-initialize label values so they are exported as zero from startup.
	for _, s := range []string{model.StatusCompleted, model.StatusFailed, model.StatusTimedOut} {
		jobsTotal.WithLabelValues(s)
	}
}
