package fanout

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// deliveries counts final per-recipient outcomes (success|retriable|permanent|timeout).
	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_deliveries_total",
			Help: "Final push delivery outcomes per recipient.",
		},
		[]string{"outcome"},
	)

	// attempts counts HTTP calls made to the push gateway, retries included.
	attempts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "push_delivery_attempts_total",
			Help: "Push gateway send attempts, including retries.",
		},
	)

	// truncated counts recipients dropped because the budget ran out.
	truncated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fanout_truncated_total",
			Help: "Recipients not attempted because the fan-out budget was exhausted.",
		},
	)

	// duration observes the wall time of the delivery phase.
	duration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fanout_duration_seconds",
			Help:    "Duration of the push delivery phase of a fan-out.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 90, 120},
		},
	)
)

func init() {
	prometheus.MustRegister(deliveries, attempts, truncated, duration)
}

const outcomeTimeout = "timeout"
