package sending

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	stateTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sendcoins_state_transitions_total",
		Help: "Number of workflow transitions by target state",
	}, []string{"state"})

	dryRunFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sendcoins_dry_run_failures_total",
		Help: "Number of failed dry runs by error kind",
	}, []string{"kind"})

	buildFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sendcoins_build_failures_total",
		Help: "Number of failed signing attempts by error kind",
	}, []string{"kind"})

	deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sendcoins_direct_payments_total",
		Help: "Number of direct payment deliveries by outcome",
	}, []string{"outcome"})

	signDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sendcoins_sign_seconds",
		Help:    "Time taken to build and sign a payment",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	})
)
