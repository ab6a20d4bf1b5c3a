// Package metrics provides Prometheus metrics for the coordinator:
// counters, gauges, and histograms for tasks, the dispatch queue,
// circuit breakers, recovery, and self-tuning.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Tasks ──────────────────────────────────────────────────────────────────

// TasksDispatched tracks dispatched tasks by type.
var TasksDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "forge",
	Name:      "tasks_dispatched_total",
	Help:      "Total tasks dispatched to workers.",
}, []string{"type"})

// TasksCompleted tracks completed tasks by type.
var TasksCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "forge",
	Name:      "tasks_completed_total",
	Help:      "Total completed tasks.",
}, []string{"type"})

// TasksFailed tracks failed tasks by type.
var TasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "forge",
	Name:      "tasks_failed_total",
	Help:      "Total failed tasks.",
}, []string{"type"})

// QueueDepth tracks the current dispatch queue depth.
var QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "forge",
	Name:      "queue_depth",
	Help:      "Number of tasks waiting in the priority queue.",
})

// TaskLatency tracks task execution duration in seconds.
var TaskLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "forge",
	Name:      "task_latency_seconds",
	Help:      "Task execution duration in seconds.",
	Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
}, []string{"type"})

// RoutingMisses tracks dequeues that found no eligible worker.
var RoutingMisses = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "forge",
	Name:      "routing_misses_total",
	Help:      "Dequeues re-queued because no eligible worker existed.",
})

// ─── Circuit Breakers ───────────────────────────────────────────────────────

// BreakerState tracks per-worker breaker state (0=closed, 1=open, 2=half-open).
var BreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "forge",
	Name:      "breaker_state",
	Help:      "Circuit breaker state per worker (0=closed, 1=open, 2=half-open).",
}, []string{"worker"})

// BreakerTrips tracks breaker open transitions per worker.
var BreakerTrips = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "forge",
	Name:      "breaker_trips_total",
	Help:      "Total circuit breaker open transitions.",
}, []string{"worker"})

// ─── Recovery ───────────────────────────────────────────────────────────────

// RecoveryAttempts tracks recovery attempts by outcome.
var RecoveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "forge",
	Name:      "recovery_attempts_total",
	Help:      "Total recovery attempts by outcome (succeeded, cooldown, exhausted).",
}, []string{"outcome"})

// WorkerHealthScore tracks the latest computed health score per worker.
var WorkerHealthScore = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "forge",
	Name:      "worker_health_score",
	Help:      "Latest health score per worker (0-100).",
}, []string{"worker"})

// ─── Self-Tuning ────────────────────────────────────────────────────────────

// ParameterValue tracks the current value of each numeric tunable.
var ParameterValue = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "forge",
	Name:      "parameter_value",
	Help:      "Current value of each numeric tunable parameter.",
}, []string{"name"})

// CompositeScore tracks the tuner's composite performance score.
var CompositeScore = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "forge",
	Name:      "composite_score",
	Help:      "Weighted composite performance score from the tracker.",
})

// TuningRollbacks tracks tuner rollbacks to the best-known snapshot.
var TuningRollbacks = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: "forge",
	Name:      "tuning_rollbacks_total",
	Help:      "Total rollbacks to the best-known parameter snapshot.",
})
