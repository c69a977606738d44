package bridge

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for request results.
const (
	resultOK        = "ok"
	resultError     = "error"
	resultCancelled = "cancelled"
)

var (
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "impactsweep_bridge_request_seconds",
			Help:    "Round-trip time of kernel requests by operation, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	requestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "impactsweep_bridge_requests_total",
			Help: "Total number of kernel requests by operation and result.",
		},
		[]string{"op", "result"},
	)

	lateResponses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "impactsweep_bridge_late_responses_total",
			Help: "Results received for requests the host had already abandoned.",
		},
	)

	activeKernels = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "impactsweep_bridge_active_kernels",
			Help: "Number of running engine kernel processes.",
		},
	)
)

func init() {
	prometheus.MustRegister(requestDuration)
	prometheus.MustRegister(requestsTotal)
	prometheus.MustRegister(lateResponses)
	prometheus.MustRegister(activeKernels)

	for _, op := range allOps {
		requestsTotal.WithLabelValues(op, resultOK)
		requestsTotal.WithLabelValues(op, resultError)
		requestsTotal.WithLabelValues(op, resultCancelled)
	}
}
