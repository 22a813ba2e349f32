package circuitbreaker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for circuit breaker monitoring
var (
	// stateGauge exposes the current state per circuit (0=closed, 1=half-open, 2=open)
	stateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"circuit"},
	)

	// rejectionsTotal counts calls rejected without invoking the protected function
	rejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_rejections_total",
			Help: "Total number of calls rejected by a circuit breaker",
		},
		[]string{"circuit", "reason"}, // reason: open|half_open_limit
	)

	// failuresTotal counts failures of the protected function
	failuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failed calls through a circuit breaker",
		},
		[]string{"circuit"},
	)
)

func setStateGauge(circuit string, s State) {
	var v float64
	switch s {
	case StateHalfOpen:
		v = 1
	case StateOpen:
		v = 2
	}
	stateGauge.WithLabelValues(circuit).Set(v)
}

func recordRejection(circuit, reason string) {
	rejectionsTotal.WithLabelValues(circuit, reason).Inc()
}

func recordFailure(circuit string) {
	failuresTotal.WithLabelValues(circuit).Inc()
}
