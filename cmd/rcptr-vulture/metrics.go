package main

import "github.com/prometheus/client_golang/prometheus"

const (
	namespace = "rcptr_vulture"
)

var (
	// metricErrorTotal counts invariant violations and unexpected errors.
	metricErrorTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "error_total",
			Help:      "total number of invariant violations observed",
		},
	)

	metricOpsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ops_total",
			Help:      "total number of operations performed against the library",
		},
		[]string{"op"},
	)
)

func init() {
	prometheus.MustRegister(metricErrorTotal)
	prometheus.MustRegister(metricOpsTotal)
}
