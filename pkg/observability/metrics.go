package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// ReconciliationsTotal counts reconciler operations
	ReconciliationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookkeeping_reconciliations_total",
			Help: "Total number of effective period reconciliations",
		},
		[]string{"operation", "status"}, // operation: create, delete, reconstruct; status: success, failed, incorrect_state
	)

	// ReconciliationDuration measures reconciler operations in seconds
	ReconciliationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookkeeping_reconciliation_duration_seconds",
			Help:    "Effective period reconciliation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	// PeriodMutations counts effective period writes
	PeriodMutations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookkeeping_effective_period_mutations_total",
			Help: "Total number of effective period mutations",
		},
		[]string{"action"}, // action: deleted, updated, inserted
	)

	// GaqAggregationDuration measures GAQ timeline construction in seconds
	GaqAggregationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookkeeping_gaq_aggregation_duration_seconds",
			Help:    "GAQ timeline aggregation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10), // 1ms to ~1s
		},
		[]string{"operation"}, // operation: periods, run_summary, summary
	)

	// GaqPeriods tracks the number of GAQ periods of the last aggregation
	GaqPeriods = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bookkeeping_gaq_periods",
			Help:    "Number of GAQ periods produced per run aggregation",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// RunDefinitions counts classifications per definition
	RunDefinitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookkeeping_run_definitions_total",
			Help: "Total number of run classifications",
		},
		[]string{"definition"},
	)

	// TasksEnqueued counts total number of tasks enqueued
	TasksEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookkeeping_tasks_enqueued_total",
			Help: "Total number of tasks enqueued",
		},
		[]string{"task", "trigger"}, // trigger: schedule, api, manual
	)

	// TasksTotal tracks the total number of tasks processed
	TasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookkeeping_tasks_total",
			Help: "Total number of tasks processed",
		},
		[]string{"task", "status"},
	)

	// TaskDuration measures task execution duration in seconds
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "bookkeeping_task_duration_seconds",
			Help:    "Task execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"task", "status"},
	)

	// LockWaitDuration measures time spent acquiring scope locks
	LockWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bookkeeping_scope_lock_wait_seconds",
			Help:    "Time spent waiting for a scope lock",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
	)

	// SchedulerActive indicates whether this instance runs scheduled work
	SchedulerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bookkeeping_scheduler_active",
			Help: "Whether this instance is the scheduling leader (1=leader, 0=follower)",
		},
	)

	// ErrorsTotal counts total number of errors
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bookkeeping_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)

	// RunBoundsCacheHits tracks cache hits for run QC bounds
	RunBoundsCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookkeeping_run_bounds_cache_hits_total",
			Help: "Total number of cache hits for run QC bounds",
		},
	)

	// RunBoundsCacheMisses tracks cache misses for run QC bounds
	RunBoundsCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "bookkeeping_run_bounds_cache_misses_total",
			Help: "Total number of cache misses for run QC bounds",
		},
	)
)

// RecordReconciliation records a reconciler operation
func RecordReconciliation(operation, status string, duration float64) {
	ReconciliationsTotal.WithLabelValues(operation, status).Inc()
	ReconciliationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordPeriodMutations adds count mutations of the given action
func RecordPeriodMutations(action string, count int) {
	if count <= 0 {
		return
	}

	PeriodMutations.WithLabelValues(action).Add(float64(count))
}

// RecordGaqAggregation records a GAQ aggregation
func RecordGaqAggregation(operation string, periods int, duration float64) {
	GaqAggregationDuration.WithLabelValues(operation).Observe(duration)
	GaqPeriods.Observe(float64(periods))
}

// RecordRunDefinition records a classification
func RecordRunDefinition(definition string) {
	RunDefinitions.WithLabelValues(definition).Inc()
}

// RecordTaskEnqueued records task enqueue
func RecordTaskEnqueued(task, trigger string) {
	TasksEnqueued.WithLabelValues(task, trigger).Inc()
}

// RecordTaskComplete records task completion
func RecordTaskComplete(task, status string, duration float64) {
	TasksTotal.WithLabelValues(task, status).Inc()
	TaskDuration.WithLabelValues(task, status).Observe(duration)
}

// RecordLockWait records how long a scope lock took to acquire
func RecordLockWait(duration float64) {
	LockWaitDuration.Observe(duration)
}

// RecordSchedulerActive records the leadership state of this instance
func RecordSchedulerActive(active bool) {
	if active {
		SchedulerActive.Set(1)
		return
	}

	SchedulerActive.Set(0)
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// RecordRunBoundsCacheHit records a cache hit for run QC bounds
func RecordRunBoundsCacheHit() {
	RunBoundsCacheHits.Inc()
}

// RecordRunBoundsCacheMiss records a cache miss for run QC bounds
func RecordRunBoundsCacheMiss() {
	RunBoundsCacheMisses.Inc()
}
