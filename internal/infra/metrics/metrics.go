// Package metrics exposes Cirrus's Prometheus instrumentation. Metrics are
// registered on the default registry via promauto and served by the API's
// /metrics endpoint when telemetry is enabled.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Invocations counts function invocations by project, function, and
	// outcome ("success" or "error").
	Invocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cirrus",
		Name:      "invocations_total",
		Help:      "Function invocations by outcome.",
	}, []string{"project", "function", "outcome"})

	// InvokeDuration observes wall-clock invocation latency in seconds.
	InvokeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cirrus",
		Name:      "invoke_duration_seconds",
		Help:      "Function invocation latency.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
	}, []string{"project", "function"})

	// TaskTransitions counts task status transitions.
	TaskTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cirrus",
		Name:      "task_transitions_total",
		Help:      "Task status transitions by resulting status.",
	}, []string{"status"})

	// WorkersLive tracks the number of live worker processes.
	WorkersLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "cirrus",
		Name:      "workers_live",
		Help:      "Worker processes currently alive and ready.",
	})

	// WorkerRestarts counts automatic worker restarts during invocation.
	WorkerRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cirrus",
		Name:      "worker_restarts_total",
		Help:      "Automatic worker restarts by project.",
	}, []string{"project"})

	// ScheduledFirings counts cron job firings by job id.
	ScheduledFirings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cirrus",
		Name:      "scheduled_firings_total",
		Help:      "Scheduled job firings.",
	}, []string{"job"})
)
