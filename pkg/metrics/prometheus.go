// Package metrics provides Prometheus metrics for the attendance verification service.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the verification service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	scoreBuckets     []float64
	refreshInterval  time.Duration
	registry         prometheus.Registerer

	// Verification outcomes
	verifications         *prometheus.CounterVec
	verificationLatency   prometheus.Histogram
	overallScore          prometheus.Histogram
	dependencyUnavailable prometheus.Counter
	submissionsDuplicate  prometheus.Counter
	overrides             *prometheus.CounterVec

	// Per-check results
	checkResults  *prometheus.CounterVec
	checkScore    *prometheus.HistogramVec
	checkDegraded *prometheus.CounterVec

	// Queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueue           prometheus.Counter
	queueDequeue           prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueDequeueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Workers
	workerCount             prometheus.Gauge
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// Repository
	repositoryLatency *prometheus.HistogramVec
	repositoryErrors  *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	errorsByComponent *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
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
		namespace:        "eas",
		subsystem:        "verification",
		histogramBuckets: prometheus.DefBuckets,
		scoreBuckets:     prometheus.LinearBuckets(0.1, 0.1, 10),
		refreshInterval:  defaultRefreshInterval,
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

// RefreshInterval reports how often gauge sampling loops should run.
func (m *Manager) RefreshInterval() time.Duration { return m.refreshInterval }

// RefreshInterval reports the sampling period of the global manager.
func RefreshInterval() time.Duration { return globalManager.RefreshInterval() }

// SetRefreshInterval changes the sampling period of the global manager.
// Non-positive values are ignored. Call it before starting sampling loops.
func SetRefreshInterval(interval time.Duration) {
	WithRefreshInterval(interval)(globalManager)
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help,
	}, labels)
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, Buckets: buckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() {
	m.verifications = m.counterVec("verifications_total",
		"Total number of completed verifications by outcome", "outcome")
	m.verificationLatency = m.histogram("verification_latency_milliseconds",
		"End-to-end verification latency in milliseconds", m.histogramBuckets)
	m.overallScore = m.histogram("overall_score",
		"Distribution of aggregated verification scores", m.scoreBuckets)
	m.dependencyUnavailable = m.counter("dependency_unavailable_total",
		"Verifications aborted because a backing store was unreachable")
	m.submissionsDuplicate = m.counter("submissions_duplicate_total",
		"Submissions rejected because the same id was already in flight")
	m.overrides = m.counterVec("overrides_total",
		"Administrative overrides by decision", "decision")

	m.checkResults = m.counterVec("check_results_total",
		"Check results by check type and pass state", "check", "passed")
	m.checkScore = m.histogramVec("check_confidence",
		"Distribution of per-check confidence scores", m.scoreBuckets, "check")
	m.checkDegraded = m.counterVec("check_degraded_total",
		"Checks that degraded to zero confidence by reason", "check", "reason")

	m.queueSize = m.gauge("queue_size", "Current size of the submission queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum queue capacity")
	m.queueUtilization = m.gauge("queue_utilization_ratio", "Queue utilization ratio (current size / capacity)")
	m.queueEnqueue = m.counter("queue_enqueue_total", "Total number of jobs enqueued")
	m.queueDequeue = m.counter("queue_dequeue_total", "Total number of jobs dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Total number of enqueue errors")
	m.queueDequeueErrors = m.counter("queue_dequeue_errors_total", "Total number of dequeue errors")
	m.queueProcessingLatency = m.histogram("queue_processing_latency_milliseconds",
		"Time a job spent queued before a worker picked it up", m.histogramBuckets)

	m.workerCount = m.gauge("worker_count", "Configured number of workers")
	m.workerActiveCount = m.gauge("worker_active_count", "Number of workers currently processing a job")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds",
		"Worker processing latency in milliseconds", m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Total number of worker processing errors")

	m.repositoryLatency = m.histogramVec("repository_latency_milliseconds",
		"Repository operation latency in milliseconds", m.histogramBuckets, "driver", "op")
	m.repositoryErrors = m.counterVec("repository_errors_total",
		"Repository operation failures", "driver", "op")

	m.httpRequests = m.counterVec("http_requests_total",
		"Total number of HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds",
		"HTTP request duration in milliseconds", m.histogramBuckets, "endpoint", "method", "status_code")

	m.errorsByComponent = m.counterVec("errors_by_component_total",
		"Total number of errors by component", "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap memory in use in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// RecordVerification records a completed verification and its aggregated score.
func RecordVerification(accepted bool, score, latencyMs float64) {
	outcome := "rejected"
	if accepted {
		outcome = "accepted"
	}
	globalManager.verifications.WithLabelValues(outcome).Inc()
	globalManager.overallScore.Observe(score)
	globalManager.verificationLatency.Observe(latencyMs)
}

// RecordVerificationError records a verification that ended without an outcome.
func RecordVerificationError() {
	globalManager.verifications.WithLabelValues("error").Inc()
}

// RecordDependencyUnavailable increments the aborted-verification counter.
func RecordDependencyUnavailable() {
	globalManager.dependencyUnavailable.Inc()
}

// RecordSubmissionDuplicate increments the in-flight duplicate counter.
func RecordSubmissionDuplicate() {
	globalManager.submissionsDuplicate.Inc()
}

// RecordOverride records an administrative override.
func RecordOverride(accepted bool) {
	decision := "rejected"
	if accepted {
		decision = "accepted"
	}
	globalManager.overrides.WithLabelValues(decision).Inc()
}

// RecordCheckResult records one check outcome.
func RecordCheckResult(check string, passed bool, confidence float64) {
	globalManager.checkResults.WithLabelValues(check, strconv.FormatBool(passed)).Inc()
	globalManager.checkScore.WithLabelValues(check).Observe(confidence)
}

// RecordCheckDegraded records a check that fell back to zero confidence.
func RecordCheckDegraded(check, reason string) {
	globalManager.checkDegraded.WithLabelValues(check, reason).Inc()
}

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
	globalManager.queueEnqueue.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeue.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// RecordQueueDequeueError increments the dequeue error counter.
func RecordQueueDequeueError() {
	globalManager.queueDequeueErrors.Inc()
}

// RecordQueueProcessingLatency records how long a job waited in the queue.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// UpdateWorkerActiveCount sets the number of busy workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordRepositoryLatency records a repository operation latency.
func RecordRepositoryLatency(driver, op string, latencyMs float64) {
	globalManager.repositoryLatency.WithLabelValues(driver, op).Observe(latencyMs)
}

// RecordRepositoryError records a failed repository operation.
func RecordRepositoryError(driver, op string) {
	globalManager.repositoryErrors.WithLabelValues(driver, op).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorsByComponent.WithLabelValues(component, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the heap memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
