// Package metrics provides Prometheus metrics for the vita health service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the vita service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	registry         prometheus.Registerer

	// Ingestion Metrics - jobs and records moving through the pipeline
	jobsTerminal         *prometheus.CounterVec
	jobDuration          prometheus.Histogram
	recordsPersisted     prometheus.Counter
	recordsSkipped       *prometheus.CounterVec
	rowsParsed           *prometheus.CounterVec
	rowsMalformed        *prometheus.CounterVec
	filesUnsupported     prometheus.Counter
	duplicateSubmissions prometheus.Counter

	// Queue Metrics - partitioned job queue health
	queueSize           prometheus.Gauge
	queueCapacity       prometheus.Gauge
	queueEnqueues       prometheus.Counter
	queueDequeues       prometheus.Counter
	queueEnqueueErrors  prometheus.Counter
	queuePartitionDepth *prometheus.GaugeVec

	// Worker Metrics - pool activity
	workerCount   prometheus.Gauge
	workerActive  prometheus.Gauge
	workerRetries prometheus.Counter
	workerErrors  prometheus.Counter

	// Store Metrics - persistence performance
	storeUpsertLatency prometheus.Histogram
	storeQueryLatency  prometheus.Histogram
	storeRecordsTotal  prometheus.Gauge

	// Insight Metrics - evaluation cycles and findings
	insightCycles        *prometheus.CounterVec
	insightCycleDuration prometheus.Histogram
	insightsEmitted      prometheus.Counter
	rulesEvaluated       prometheus.Counter
	rulesSuppressed      *prometheus.CounterVec
	anomaliesDetected    prometheus.Counter

	// HTTP Metrics - ops listener
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Error Metrics - per-component failure tracking
	errorsByComponent *prometheus.CounterVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "vita",
		subsystem:        "health",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	// Ensure metrics are registered on the configured registry (custom by default)
	auto := promauto.With(m.registry)

	// Ingestion Metrics - jobs and records moving through the pipeline
	m.jobsTerminal = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "jobs_total",
			Help:      "Total ingestion jobs reaching a terminal state, by state",
		},
		[]string{"state"},
	)

	m.jobDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "job_duration_milliseconds",
		Help:      "Histogram of end-to-end ingestion job duration in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.recordsPersisted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "records_persisted_total",
		Help:      "Total canonical records upserted into the store",
	})

	m.recordsSkipped = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "records_skipped_total",
			Help:      "Total records dropped at canonicalization, by reason",
		},
		[]string{"reason"},
	)

	m.rowsParsed = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "rows_parsed_total",
			Help:      "Total raw rows parsed out of source files, by provider",
		},
		[]string{"provider"},
	)

	m.rowsMalformed = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "rows_malformed_total",
			Help:      "Total malformed rows skipped during parsing, by provider",
		},
		[]string{"provider"},
	)

	m.filesUnsupported = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "files_unsupported_total",
		Help:      "Total files rejected because no adapter recognized the envelope",
	})

	m.duplicateSubmissions = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "duplicate_submissions_total",
		Help:      "Total submissions rejected because the same file was already in flight",
	})

	// Queue Metrics - partitioned job queue health
	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_size",
		Help:      "Current number of queued jobs across all partitions (backlog indicator)",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Maximum queue capacity across all partitions",
	})

	m.queueEnqueues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_total",
		Help:      "Total jobs enqueued",
	})

	m.queueDequeues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_dequeue_total",
		Help:      "Total jobs dequeued",
	})

	m.queueEnqueueErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_errors_total",
		Help:      "Total enqueue rejections (backpressure or closed queue)",
	})

	m.queuePartitionDepth = auto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "queue_partition_depth",
			Help:      "Queued jobs per partition",
		},
		[]string{"partition"},
	)

	// Worker Metrics - pool activity
	m.workerCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_count",
		Help:      "Configured number of workers (processing capacity)",
	})

	m.workerActive = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_active_count",
		Help:      "Workers currently executing a job",
	})

	m.workerRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_retries_total",
		Help:      "Total job attempts beyond the first",
	})

	m.workerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_errors_total",
		Help:      "Total worker-level job failures",
	})

	// Store Metrics - persistence performance
	m.storeUpsertLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_upsert_latency_milliseconds",
		Help:      "Store batch upsert latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.storeQueryLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_query_latency_milliseconds",
		Help:      "Store series/insight query latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.storeRecordsTotal = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "store_records_total",
		Help:      "Total canonical records currently in the store",
	})

	// Insight Metrics - evaluation cycles and findings
	m.insightCycles = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "insight_cycles_total",
			Help:      "Total per-user evaluation cycles, by outcome",
		},
		[]string{"outcome"},
	)

	m.insightCycleDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "insight_cycle_duration_milliseconds",
		Help:      "Per-user evaluation cycle duration in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.insightsEmitted = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "insights_emitted_total",
		Help:      "Total insight results published",
	})

	m.rulesEvaluated = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "insight_rules_evaluated_total",
		Help:      "Total rule evaluations across all cycles",
	})

	m.rulesSuppressed = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "insight_rules_suppressed_total",
			Help:      "Total rule evaluations that emitted nothing, by reason",
		},
		[]string{"reason"},
	)

	m.anomaliesDetected = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "anomalies_detected_total",
		Help:      "Total baseline anomalies detected",
	})

	// HTTP Metrics - ops listener
	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by endpoint and method",
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_duration_milliseconds",
			Help:      "HTTP request duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	// Error Metrics - per-component failure tracking
	m.errorsByComponent = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "errors_by_component_total",
			Help:      "Total number of errors by component and type",
		},
		[]string{"component", "error_type"},
	)

	// System Performance Metrics
	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_memory_usage_bytes",
		Help:      "System memory usage in bytes",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_goroutine_count",
		Help:      "Number of goroutines",
	})

	m.systemGCPauseTime = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_gc_pause_time_milliseconds",
		Help:      "GC pause time in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000},
	})
}

// Ingestion Metrics Functions.

// RecordJobTerminal counts a job reaching a terminal state.
func RecordJobTerminal(state string) {
	globalManager.jobsTerminal.WithLabelValues(state).Inc()
}

// RecordJobDuration records end-to-end job duration in milliseconds.
func RecordJobDuration(durationMs float64) {
	globalManager.jobDuration.Observe(durationMs)
}

// RecordRecordsPersisted adds to the persisted records counter.
func RecordRecordsPersisted(n int) {
	globalManager.recordsPersisted.Add(float64(n))
}

// RecordRecordsSkipped adds to the skipped records counter for a reason.
func RecordRecordsSkipped(reason string, n int) {
	globalManager.recordsSkipped.WithLabelValues(reason).Add(float64(n))
}

// RecordRowsParsed adds to the parsed rows counter for a provider.
func RecordRowsParsed(provider string, n int) {
	globalManager.rowsParsed.WithLabelValues(provider).Add(float64(n))
}

// RecordRowsMalformed adds to the malformed rows counter for a provider.
func RecordRowsMalformed(provider string, n int) {
	globalManager.rowsMalformed.WithLabelValues(provider).Add(float64(n))
}

// RecordFileUnsupported increments the unsupported files counter.
func RecordFileUnsupported() {
	globalManager.filesUnsupported.Inc()
}

// RecordDuplicateSubmission increments the duplicate submissions counter.
func RecordDuplicateSubmission() {
	globalManager.duplicateSubmissions.Inc()
}

// Queue Metrics Functions.

// UpdateQueueSize sets the current total queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueues.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeues.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// UpdateQueuePartitionDepth sets the queued job count for one partition.
func UpdateQueuePartitionDepth(partition string, depth int) {
	globalManager.queuePartitionDepth.WithLabelValues(partition).Set(float64(depth))
}

// Worker Metrics Functions.

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount sets the number of busy workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActive.Set(float64(count))
}

// RecordWorkerRetry increments the retry counter.
func RecordWorkerRetry() {
	globalManager.workerRetries.Inc()
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// Store Metrics Functions.

// RecordStoreUpsertLatency records batch upsert latency in milliseconds.
func RecordStoreUpsertLatency(latencyMs float64) {
	globalManager.storeUpsertLatency.Observe(latencyMs)
}

// RecordStoreQueryLatency records query latency in milliseconds.
func RecordStoreQueryLatency(latencyMs float64) {
	globalManager.storeQueryLatency.Observe(latencyMs)
}

// UpdateStoreRecordsTotal sets the total record count in the store.
func UpdateStoreRecordsTotal(count int) {
	globalManager.storeRecordsTotal.Set(float64(count))
}

// Insight Metrics Functions.

// RecordInsightCycle counts one evaluation cycle with its outcome.
func RecordInsightCycle(outcome string) {
	globalManager.insightCycles.WithLabelValues(outcome).Inc()
}

// RecordInsightCycleDuration records cycle duration in milliseconds.
func RecordInsightCycleDuration(durationMs float64) {
	globalManager.insightCycleDuration.Observe(durationMs)
}

// RecordInsightsEmitted adds to the published insights counter.
func RecordInsightsEmitted(n int) {
	globalManager.insightsEmitted.Add(float64(n))
}

// RecordRuleEvaluated increments the rule evaluation counter.
func RecordRuleEvaluated() {
	globalManager.rulesEvaluated.Inc()
}

// RecordRuleSuppressed counts a rule evaluation that emitted nothing.
func RecordRuleSuppressed(reason string) {
	globalManager.rulesSuppressed.WithLabelValues(reason).Inc()
}

// RecordAnomalyDetected increments the anomaly counter.
func RecordAnomalyDetected() {
	globalManager.anomaliesDetected.Inc()
}

// HTTP Metrics Functions.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Error Metrics Functions.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// System Performance Metrics Functions.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	globalManager.systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
