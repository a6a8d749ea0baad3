// Package metrics provides Prometheus metrics for the loudsound rule engine service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the loudsound service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	customLabels     map[string]string
	registry         prometheus.Registerer

	// Ingestion
	eventsSubmitted *prometheus.CounterVec
	eventsIgnored   *prometheus.CounterVec
	eventsDuplicate prometheus.Counter
	eventsOrphaned  prometheus.Counter
	songsTotal      prometheus.Gauge
	liveFacts       *prometheus.GaugeVec
	logicalClock    prometheus.Gauge

	// Rule evaluation
	ruleFirings       *prometheus.CounterVec
	passDuration      prometheus.Histogram
	passFirings       prometheus.Histogram
	statusTransitions *prometheus.CounterVec
	eventsExpired     prometheus.Counter

	// Leaderboard
	leaderboardChanges    *prometheus.CounterVec
	leaderboardViolations prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Repository
	repositoryRecordsTotal  prometheus.Gauge
	repositoryUpdateLatency prometheus.Histogram
	repositoryQueryLatency  prometheus.Histogram

	// Queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Worker
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Journal
	journalAppends  prometheus.Counter
	journalReplayed prometheus.Counter

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "loudsound",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		Buckets:     buckets,
		ConstLabels: m.customLabels,
	})
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)

	m.eventsSubmitted = m.counterVec("events_submitted_total", "Events accepted for evaluation by kind", "kind")
	m.eventsIgnored = m.counterVec("events_ignored_total", "Events dropped without evaluation by kind and reason", "kind", "reason")
	m.eventsDuplicate = m.counter("events_duplicate_total", "Events rejected by the idempotency cache")
	m.eventsOrphaned = m.counter("events_orphaned_total", "Listening ends discarded for lack of a matching start")
	m.songsTotal = m.gauge("songs_total", "Songs currently held in working memory")
	m.liveFacts = m.gaugeVec("facts", "Facts held in working memory by kind", "kind")
	m.logicalClock = m.gauge("logical_clock_seconds", "Current logical time as seconds since the engine epoch")

	m.ruleFirings = m.counterVec("rule_firings_total", "Rule activations fired by rule", "rule")
	m.passDuration = m.histogram("evaluation_pass_duration_milliseconds", "Wall time of one evaluation pass to fixpoint", m.histogramBuckets)
	m.passFirings = m.histogram("evaluation_pass_firings", "Number of firings per evaluation pass",
		[]float64{0, 1, 2, 4, 8, 16, 32, 64, 128, 256, 1024})
	m.statusTransitions = m.counterVec("status_transitions_total", "Song status transitions", "from", "to")
	m.eventsExpired = m.counter("events_expired_total", "Expired events dropped by sweeps")

	m.leaderboardChanges = m.counterVec("leaderboard_changes_total", "Leaderboard membership notifications by change", "change")
	m.leaderboardViolations = m.counter("leaderboard_violations_total", "Leaderboard ordering checks that failed")

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "Total number of HTTP requests by endpoint and method",
			ConstLabels: m.customLabels,
		},
		[]string{"endpoint", "method", "status_code"},
	)
	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   "http",
			Name:        "request_duration_milliseconds",
			Help:        "HTTP request duration in milliseconds",
			Buckets:     m.histogramBuckets,
			ConstLabels: m.customLabels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.repositoryRecordsTotal = m.gauge("repository_records_total", "Songs tracked by the ranking store")
	m.repositoryUpdateLatency = m.histogram("repository_update_latency_milliseconds", "Ranking store update latency in milliseconds", m.histogramBuckets)
	m.repositoryQueryLatency = m.histogram("repository_query_latency_milliseconds", "Ranking store query latency in milliseconds", m.histogramBuckets)

	m.queueSize = m.gauge("queue_size", "Commands waiting for the evaluation worker")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (current size / capacity)")
	m.queueEnqueueRate = m.counter("queue_enqueue_total", "Total number of commands enqueued")
	m.queueDequeueRate = m.counter("queue_dequeue_total", "Total number of commands dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total number of enqueue errors")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds", "Time a command waited in the queue in milliseconds", m.histogramBuckets)

	m.workerActiveCount = m.gauge("worker_active_count", "Number of running evaluation workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Worker command latency in milliseconds", m.histogramBuckets)
	m.workerErrorRate = m.counter("worker_errors_total", "Commands that finished with an error")

	m.journalAppends = m.counter("journal_appends_total", "Commands appended to the journal")
	m.journalReplayed = m.counter("journal_replayed_total", "Commands replayed from the journal at startup")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Total number of errors by component", "component", "error_type")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Total number of errors by endpoint", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        name,
		Help:        help,
		ConstLabels: m.customLabels,
	}, labels)
}

// Ingestion.

// RecordEventSubmitted counts an event accepted for evaluation.
func RecordEventSubmitted(kind string) {
	globalManager.eventsSubmitted.WithLabelValues(kind).Inc()
}

// RecordEventIgnored counts an event dropped before evaluation.
func RecordEventIgnored(kind, reason string) {
	globalManager.eventsIgnored.WithLabelValues(kind, reason).Inc()
}

// RecordEventDuplicate increments the duplicate events counter.
func RecordEventDuplicate() {
	globalManager.eventsDuplicate.Inc()
}

// RecordEventOrphaned counts a listening end that had no start to pair with.
func RecordEventOrphaned() {
	globalManager.eventsOrphaned.Inc()
}

// UpdateTotalSongs sets the number of songs in working memory.
func UpdateTotalSongs(count int) {
	globalManager.songsTotal.Set(float64(count))
}

// UpdateFactCount sets the number of held facts of one kind.
func UpdateFactCount(kind string, count int) {
	globalManager.liveFacts.WithLabelValues(kind).Set(float64(count))
}

// UpdateLogicalClock sets the logical clock gauge.
func UpdateLogicalClock(seconds float64) {
	globalManager.logicalClock.Set(seconds)
}

// Rule evaluation.

// RecordRuleFiring counts one firing of rule.
func RecordRuleFiring(rule string) {
	globalManager.ruleFirings.WithLabelValues(rule).Inc()
}

// RecordEvaluationPass records the duration and firing count of one pass.
func RecordEvaluationPass(durationMs float64, firings int) {
	globalManager.passDuration.Observe(durationMs)
	globalManager.passFirings.Observe(float64(firings))
}

// RecordStatusTransition counts a status change.
func RecordStatusTransition(from, to string) {
	globalManager.statusTransitions.WithLabelValues(from, to).Inc()
}

// RecordEventsExpired counts events dropped by a sweep.
func RecordEventsExpired(n int) {
	globalManager.eventsExpired.Add(float64(n))
}

// Leaderboard.

// RecordLeaderboardChange counts an entered or revoked notification.
func RecordLeaderboardChange(change string) {
	globalManager.leaderboardChanges.WithLabelValues(change).Inc()
}

// RecordLeaderboardViolation counts a failed ordering check.
func RecordLeaderboardViolation() {
	globalManager.leaderboardViolations.Inc()
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Repository.

// UpdateRepositoryRecordsTotal sets the number of ranked songs.
func UpdateRepositoryRecordsTotal(count int) {
	globalManager.repositoryRecordsTotal.Set(float64(count))
}

// RecordRepositoryUpdateLatency records repository update operation latency.
func RecordRepositoryUpdateLatency(latencyMs float64) {
	globalManager.repositoryUpdateLatency.Observe(latencyMs)
}

// RecordRepositoryQueryLatency records repository query operation latency.
func RecordRepositoryQueryLatency(latencyMs float64) {
	globalManager.repositoryQueryLatency.Observe(latencyMs)
}

// Queue.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records how long a command waited in the queue.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// Worker.

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// Journal.

// RecordJournalAppend counts one journaled command.
func RecordJournalAppend() {
	globalManager.journalAppends.Inc()
}

// RecordJournalReplayed counts commands replayed at startup.
func RecordJournalReplayed(n int) {
	globalManager.journalReplayed.Add(float64(n))
}

// Errors.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// System.

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
