package reasoning

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// operationsTotal counts engine operations.
	// Labels: operation, outcome (ok or the error kind)
	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "thoughtgraph",
		Subsystem: "engine",
		Name:      "operations_total",
		Help:      "Total reasoning engine operations by outcome",
	}, []string{"operation", "outcome"})

	// operationDuration measures operation latency.
	// Labels: operation
	operationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "thoughtgraph",
		Subsystem: "engine",
		Name:      "operation_duration_seconds",
		Help:      "Reasoning engine operation latency in seconds",
		Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"operation"})

	// capacityEvictions counts nodes removed by automatic capacity cleanup.
	capacityEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "thoughtgraph",
		Subsystem: "engine",
		Name:      "capacity_evictions_total",
		Help:      "Nodes removed by capacity cleanup",
	})

	// confidenceUpdates tracks the size of hypothesis confidence updates.
	// Labels: relationship
	confidenceUpdates = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "thoughtgraph",
		Subsystem: "engine",
		Name:      "confidence_delta",
		Help:      "Change in hypothesis mean confidence per evidence integration",
		Buckets:   []float64{-0.3, -0.1, -0.05, -0.01, 0, 0.01, 0.05, 0.1, 0.3},
	}, []string{"relationship"})
)

func recordOperation(op string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if kind := KindOf(err); kind != "" {
			outcome = string(kind)
		}
	}
	operationsTotal.WithLabelValues(op, outcome).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
