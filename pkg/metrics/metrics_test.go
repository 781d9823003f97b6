package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestManager(t *testing.T) {
	Convey("Given a manager on a private registry", t, func() {
		reg := prometheus.NewRegistry()
		m := NewManager(
			WithPrometheusRegistry(reg),
			WithNamespace("test"),
			WithSubsystem("unit"),
			WithConstLabels(map[string]string{"env": "ci"}),
		)

		Convey("Counters are registered under the configured namespace", func() {
			m.trainingRuns.WithLabelValues("DEPLOYED").Inc()
			m.eventsDuplicate.Inc()

			expected := `
# HELP test_unit_events_duplicate_total Redelivered events acknowledged without reprocessing
# TYPE test_unit_events_duplicate_total counter
test_unit_events_duplicate_total{env="ci"} 1
`
			So(testutil.GatherAndCompare(reg, strings.NewReader(expected), "test_unit_events_duplicate_total"), ShouldBeNil)
			So(testutil.ToFloat64(m.trainingRuns.WithLabelValues("DEPLOYED")), ShouldEqual, 1)
		})

		Convey("Empty options keep the defaults", func() {
			d := NewManager(WithPrometheusRegistry(prometheus.NewRegistry()), WithNamespace(""), WithHistogramBuckets(nil))
			So(d.namespace, ShouldEqual, "assignml")
			So(len(d.histogramBuckets), ShouldBeGreaterThan, 0)
		})
	})
}

func TestGlobalHelpers(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("Recording helpers update the shared registry", func() {
			before := testutil.ToFloat64(globalManager.feedback.WithLabelValues("recorded"))
			RecordFeedback("recorded")
			So(testutil.ToFloat64(globalManager.feedback.WithLabelValues("recorded")), ShouldEqual, before+1)

			RecordModelSwap(0.81, 0.77)
			So(testutil.ToFloat64(globalManager.modelAccuracy), ShouldEqual, 0.81)
			So(testutil.ToFloat64(globalManager.modelF1), ShouldEqual, 0.77)

			UpdateBreakerState("profiles", 2)
			So(testutil.ToFloat64(globalManager.breakerState.WithLabelValues("profiles")), ShouldEqual, 2)
		})

		Convey("None of the helpers panic", func() {
			So(func() {
				RecordRecommendation("HIGH", 12)
				RecordCandidateSkipped()
				RecordScorerDegraded("collaborative")
				RecordExternalPass("merged")
				RecordEventConsumed("task-completion", "ok")
				RecordEventDuplicate()
				RecordEventPoisoned()
				RecordTrainingRowCreated()
				RecordTrainingRun("SKIPPED", 0.4)
				UpdateQueueSize(3)
				UpdateQueueCapacity(10)
				UpdateQueueUtilization(0.3)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordQueueProcessingLatency(1)
				UpdateWorkerActiveCount(2)
				RecordWorkerProcessingLatency(2)
				RecordWorkerError()
				RecordHTTPRequest("/v1/feedback", "POST", "200")
				RecordHTTPRequestDuration("/v1/feedback", "POST", "200", 3)
				RecordErrorByComponent("collector", "store")
				RecordErrorByEndpoint("/v1/feedback", "POST", "not_found")
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(10)
				RecordSystemGCPauseTime(0.2)
			}, ShouldNotPanic)
			So(GetRegistry(), ShouldNotBeNil)
		})
	})
}
