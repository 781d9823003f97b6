// Package metrics provides Prometheus metrics for the assignml engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager owns every Prometheus collector of the engine.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	constLabels      map[string]string
	registry         prometheus.Registerer

	// Recommendation path
	recommendationsServed *prometheus.CounterVec
	recommendLatency      prometheus.Histogram
	candidatesSkipped     prometheus.Counter
	scorerDegraded        *prometheus.CounterVec
	externalPass          *prometheus.CounterVec
	feedback              *prometheus.CounterVec

	// Event pipeline
	eventsConsumed   *prometheus.CounterVec
	eventsDuplicate  prometheus.Counter
	eventsPoisoned   prometheus.Counter
	trainingRowsMade prometheus.Counter

	// Training and registry
	trainingRuns     *prometheus.CounterVec
	trainingDuration prometheus.Histogram
	modelAccuracy    prometheus.Gauge
	modelF1          prometheus.Gauge
	modelSwaps       prometheus.Counter

	// Upstream capabilities
	breakerState *prometheus.GaugeVec

	// Prediction log queue and writers
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueue           prometheus.Counter
	queueDequeue           prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram
	workerActive           prometheus.Gauge
	workerLatency          prometheus.Histogram
	workerErrors           prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorsByComponent *prometheus.CounterVec
	errorsByEndpoint  *prometheus.CounterVec

	// Runtime
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry keeps the default Go collectors out of the exposition.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "assignml",
		subsystem:        "engine",
		histogramBuckets: []float64{1, 2, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		constLabels:      map[string]string{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.register()
	return m
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
		Buckets: buckets,
	})
}

func (m *Manager) register() { //nolint:funlen // one place for every collector
	m.recommendationsServed = m.counterVec("recommendations_served_total",
		"Recommendation requests answered, by priority", "priority")
	m.recommendLatency = m.histogram("recommendation_latency_milliseconds",
		"End-to-end recommendation latency in milliseconds", m.histogramBuckets)
	m.candidatesSkipped = m.counter("candidates_skipped_total",
		"Candidates dropped from a batch because their record was malformed")
	m.scorerDegraded = m.counterVec("scorer_degraded_total",
		"Scorer invocations that fell back to a neutral value", "scorer")
	m.externalPass = m.counterVec("external_pass_total",
		"External recommendation passes for high-priority tasks, by outcome", "outcome")
	m.feedback = m.counterVec("feedback_total",
		"Feedback submissions, by outcome", "outcome")

	m.eventsConsumed = m.counterVec("events_consumed_total",
		"Events handled by the consumer, by topic and outcome", "topic", "outcome")
	m.eventsDuplicate = m.counter("events_duplicate_total",
		"Redelivered events acknowledged without reprocessing")
	m.eventsPoisoned = m.counter("events_poisoned_total",
		"Events that exhausted retries and were moved to the poison topic")
	m.trainingRowsMade = m.counter("training_rows_created_total",
		"Labelled training rows written by the collector")

	m.trainingRuns = m.counterVec("training_runs_total",
		"Training runs, by final deployment status", "status")
	m.trainingDuration = m.histogram("training_duration_seconds",
		"Duration of training runs in seconds", []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300, 900})
	m.modelAccuracy = m.gauge("model_accuracy", "Validation accuracy of the deployed model")
	m.modelF1 = m.gauge("model_f1", "Validation F1 of the deployed model")
	m.modelSwaps = m.counter("model_swaps_total", "Live model handle replacements")

	m.breakerState = m.gaugeVec("upstream_breaker_state",
		"Circuit breaker state per upstream capability (0 closed, 1 half-open, 2 open)", "name")

	m.queueSize = m.gauge("prediction_queue_size", "Prediction logs waiting to be persisted")
	m.queueCapacity = m.gauge("prediction_queue_capacity", "Prediction log queue capacity")
	m.queueUtilization = m.gauge("prediction_queue_utilization_ratio", "Prediction log queue fill ratio")
	m.queueEnqueue = m.counter("prediction_queue_enqueue_total", "Prediction logs enqueued")
	m.queueDequeue = m.counter("prediction_queue_dequeue_total", "Prediction logs dequeued")
	m.queueEnqueueErrors = m.counter("prediction_queue_enqueue_errors_total", "Prediction logs rejected by a full or closed queue")
	m.queueProcessingLatency = m.histogram("prediction_queue_latency_milliseconds",
		"Time a prediction log spends queued", m.histogramBuckets)
	m.workerActive = m.gauge("prediction_writer_active", "Running prediction log writers")
	m.workerLatency = m.histogram("prediction_writer_latency_milliseconds",
		"Time to persist and announce one prediction log", m.histogramBuckets)
	m.workerErrors = m.counter("prediction_writer_errors_total", "Prediction logs that failed to persist")

	m.httpRequests = m.counterVec("http_requests_total",
		"HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: "http_request_duration_milliseconds",
		Help: "HTTP request duration in milliseconds", ConstLabels: m.constLabels, Buckets: m.histogramBuckets,
	}, []string{"endpoint", "method", "status_code"})

	m.errorsByComponent = m.counterVec("errors_by_component_total",
		"Errors by component and type", "component", "error_type")
	m.errorsByEndpoint = m.counterVec("errors_by_endpoint_total",
		"Errors by endpoint, method and type", "endpoint", "method", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap allocation in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

// RecordRecommendation counts one answered request and its latency.
func RecordRecommendation(priority string, latencyMs float64) {
	globalManager.recommendationsServed.WithLabelValues(priority).Inc()
	globalManager.recommendLatency.Observe(latencyMs)
}

// RecordCandidateSkipped counts a malformed candidate dropped from a batch.
func RecordCandidateSkipped() { globalManager.candidatesSkipped.Inc() }

// RecordScorerDegraded counts a scorer that returned its neutral value.
func RecordScorerDegraded(scorer string) { globalManager.scorerDegraded.WithLabelValues(scorer).Inc() }

// RecordExternalPass counts an external pass outcome (merged, failed, degraded).
func RecordExternalPass(outcome string) { globalManager.externalPass.WithLabelValues(outcome).Inc() }

// RecordFeedback counts a feedback submission outcome.
func RecordFeedback(outcome string) { globalManager.feedback.WithLabelValues(outcome).Inc() }

// RecordEventConsumed counts one consumed event.
func RecordEventConsumed(topic, outcome string) {
	globalManager.eventsConsumed.WithLabelValues(topic, outcome).Inc()
}

// RecordEventDuplicate counts a redelivery acknowledged as a no-op.
func RecordEventDuplicate() { globalManager.eventsDuplicate.Inc() }

// RecordEventPoisoned counts an event moved to the poison topic.
func RecordEventPoisoned() { globalManager.eventsPoisoned.Inc() }

// RecordTrainingRowCreated counts a labelled row written by the collector.
func RecordTrainingRowCreated() { globalManager.trainingRowsMade.Inc() }

// RecordTrainingRun counts a finished training run and its duration.
func RecordTrainingRun(status string, seconds float64) {
	globalManager.trainingRuns.WithLabelValues(status).Inc()
	globalManager.trainingDuration.Observe(seconds)
}

// RecordModelSwap publishes the metrics of a newly deployed model.
func RecordModelSwap(accuracy, f1 float64) {
	globalManager.modelSwaps.Inc()
	globalManager.modelAccuracy.Set(accuracy)
	globalManager.modelF1.Set(f1)
}

// UpdateBreakerState sets the state gauge of a named breaker.
func UpdateBreakerState(name string, state int) {
	globalManager.breakerState.WithLabelValues(name).Set(float64(state))
}

// UpdateQueueSize sets the current prediction log backlog.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the prediction log queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// UpdateQueueUtilization sets the queue fill ratio.
func UpdateQueueUtilization(utilization float64) { globalManager.queueUtilization.Set(utilization) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueue.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeue.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// RecordQueueProcessingLatency records how long an item waited in the queue.
func RecordQueueProcessingLatency(latencyMs float64) {
	globalManager.queueProcessingLatency.Observe(latencyMs)
}

// UpdateWorkerActiveCount sets the number of running writers.
func UpdateWorkerActiveCount(count int) { globalManager.workerActive.Set(float64(count)) }

// RecordWorkerProcessingLatency records one writer iteration.
func RecordWorkerProcessingLatency(latencyMs float64) { globalManager.workerLatency.Observe(latencyMs) }

// RecordWorkerError increments the writer error counter.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

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

// RecordErrorByEndpoint records an error with endpoint, method and type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// UpdateSystemMemoryUsage sets the heap allocation in bytes.
func UpdateSystemMemoryUsage(bytes uint64) { globalManager.systemMemoryUsage.Set(float64(bytes)) }

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) { globalManager.systemGoroutineCount.Set(float64(count)) }

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) { globalManager.systemGCPauseTime.Observe(pauseMs) }

// GetRegistry returns the registry backing every engine metric.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
