package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be created successfully", func() {
				So(manager, ShouldNotBeNil)
				So(manager.RefreshInterval(), ShouldEqual, defaultRefreshInterval)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithHistogramBuckets([]float64{1, 10, 100}),
				WithScoreBuckets([]float64{0.5, 1}),
				WithRefreshInterval(time.Second),
				WithPrometheusRegistry(registry),
			)

			Convey("Then metrics are registered under the custom namespace", func() {
				manager.verifications.WithLabelValues("accepted").Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)

				found := false
				for _, f := range families {
					if f.GetName() == "test_unit_verifications_total" {
						found = true
					}
				}
				So(found, ShouldBeTrue)
				So(manager.RefreshInterval(), ShouldEqual, time.Second)
			})
		})

		Convey("When empty options are supplied", func() {
			manager := NewManager(
				WithNamespace(""),
				WithHistogramBuckets(nil),
				WithRefreshInterval(0),
				WithPrometheusRegistry(prometheus.NewRegistry()),
			)

			Convey("Then defaults are kept", func() {
				So(manager.namespace, ShouldEqual, "eas")
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
				So(manager.refreshInterval, ShouldEqual, defaultRefreshInterval)
			})
		})
	})
}

func TestGlobalRefreshInterval(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		original := RefreshInterval()
		Reset(func() { SetRefreshInterval(original) })

		Convey("It starts with the default sampling period", func() {
			So(original, ShouldEqual, defaultRefreshInterval)
		})

		Convey("A configured period replaces it", func() {
			SetRefreshInterval(250 * time.Millisecond)
			So(RefreshInterval(), ShouldEqual, 250*time.Millisecond)
		})

		Convey("A non-positive period is ignored", func() {
			SetRefreshInterval(0)
			So(RefreshInterval(), ShouldEqual, original)
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording verification outcomes", func() {
			before := testutil.ToFloat64(globalManager.verifications.WithLabelValues("accepted"))
			RecordVerification(true, 0.91, 12)
			RecordVerification(false, 0.31, 9)
			RecordVerificationError()

			Convey("Then the accepted counter advances", func() {
				after := testutil.ToFloat64(globalManager.verifications.WithLabelValues("accepted"))
				So(after-before, ShouldEqual, 1)
			})
		})

		Convey("When recording check results", func() {
			before := testutil.ToFloat64(globalManager.checkResults.WithLabelValues("distance", "true"))
			RecordCheckResult("distance", true, 0.5)
			RecordCheckDegraded("image_quality", "timeout")

			Convey("Then the labelled counter advances", func() {
				after := testutil.ToFloat64(globalManager.checkResults.WithLabelValues("distance", "true"))
				So(after-before, ShouldEqual, 1)
			})
		})

		Convey("When updating queue and worker gauges", func() {
			UpdateQueueSize(7)
			UpdateQueueCapacity(10)
			UpdateQueueUtilization(0.7)
			UpdateWorkerCount(4)
			UpdateWorkerActiveCount(2)

			Convey("Then the gauges reflect the latest values", func() {
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 7)
				So(testutil.ToFloat64(globalManager.queueUtilization), ShouldEqual, 0.7)
				So(testutil.ToFloat64(globalManager.workerActiveCount), ShouldEqual, 2)
			})
		})

		Convey("When recording the remaining helpers", func() {
			So(func() {
				RecordDependencyUnavailable()
				RecordSubmissionDuplicate()
				RecordOverride(true)
				RecordOverride(false)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordQueueDequeueError()
				RecordQueueProcessingLatency(3)
				RecordWorkerProcessingLatency(4)
				RecordWorkerError()
				RecordRepositoryLatency("memory", "save_verification", 1)
				RecordRepositoryError("sqlite", "count_accepted")
				RecordHTTPRequest("/v1/verifications", "POST", "200")
				RecordHTTPRequestDuration("/v1/verifications", "POST", "200", 5)
				RecordErrorByComponent("verify", "dependency_unavailable")
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(12)
			}, ShouldNotPanic)
		})

		Convey("When gathering from the custom registry", func() {
			families, err := GetRegistry().Gather()

			Convey("Then it yields the verification families", func() {
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
			})
		})
	})
}
