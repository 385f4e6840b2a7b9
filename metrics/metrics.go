package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_events_processed_total",
			Help: "Total number of events processed by the engine",
		},
		[]string{"source"},
	)

	RuleEvaluations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_rule_evaluations_total",
			Help: "Total number of rule evaluations, per rule",
		},
		[]string{"rule_id"},
	)

	RuleEvaluationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_rule_evaluation_errors_total",
			Help: "Total number of rule evaluation errors, per rule",
		},
		[]string{"rule_id"},
	)

	MissingCorrelationFields = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_missing_correlation_fields_total",
			Help: "Events skipped for a correlation rule due to an absent correlation field",
		},
		[]string{"rule_id"},
	)

	ActiveWindows = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "argus_active_windows",
			Help: "Number of live correlation windows",
		},
	)

	WindowsMatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_windows_matched_total",
			Help: "Correlation windows that crossed their threshold",
		},
	)

	WindowsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_windows_expired_total",
			Help: "Correlation windows removed unmatched at expiry",
		},
	)

	WindowsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_windows_evicted_total",
			Help: "Correlation windows evicted by the per-rule capacity cap",
		},
	)

	AlertsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_alerts_emitted_total",
			Help: "Total number of alerts emitted downstream",
		},
		[]string{"severity"},
	)

	AlertsSuppressed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_alerts_suppressed_total",
			Help: "Alerts suppressed by dedupe-key state",
		},
	)

	AlertsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_alerts_dropped_total",
			Help: "Alerts dropped after emit retries were exhausted with no durability hook attached",
		},
	)

	EmitRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "argus_emit_retries_total",
			Help: "Retries against the downstream alert sink",
		},
	)

	EventProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "argus_event_processing_duration_seconds",
			Help:    "Time taken to run an event through dispatch, evaluation, and scoring",
			Buckets: prometheus.DefBuckets,
		},
	)

	WorkerPoolActiveWorkers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "argus_worker_pool_active_workers",
			Help: "Configured workers per pool",
		},
		[]string{"pool"},
	)

	WorkerPoolQueueSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "argus_worker_pool_queue_size",
			Help: "Queued tasks per pool",
		},
		[]string{"pool"},
	)

	WorkerPoolTasksProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "argus_worker_pool_tasks_processed_total",
			Help: "Tasks completed per pool",
		},
		[]string{"pool"},
	)
)
