package sweep

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/seantiz/impactsweep/internal/model"
)

var (
	combinationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactsweep_combinations_total",
			Help: "Total number of combinations processed, by outcome.",
		},
		[]string{"outcome"},
	)

	combinationsRemaining = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "impactsweep_combinations_remaining",
			Help: "Combinations of the running sweep not yet attempted.",
		},
	)

	lastResidual = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "impactsweep_last_residual_velocity",
			Help: "Residual velocity of the most recent successful combination, in reporting units.",
		},
	)

	meshElements = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "impactsweep_mesh_elements",
			Help: "Element count of the plate mesh of the most recently prepared model.",
		},
	)

	lastSuccess = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "impactsweep_last_success_timestamp_seconds",
			Help: "Unix time of the most recent successful combination.",
		},
	)
)

func init() {
	prometheus.MustRegister(combinationsTotal)
	prometheus.MustRegister(combinationsRemaining)
	prometheus.MustRegister(lastResidual)
	prometheus.MustRegister(meshElements)
	prometheus.MustRegister(lastSuccess)

	for _, o := range []string{
		model.OutcomeCompleted,
		model.OutcomeMutationFailed,
		model.OutcomeJobFailed,
		model.OutcomeTimedOut,
		model.OutcomeExtractionFailed,
		model.OutcomeInterrupted,
	} {
		combinationsTotal.WithLabelValues(o)
	}
}
