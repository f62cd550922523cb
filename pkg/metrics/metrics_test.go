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
		Convey("When creating with default options on a fresh registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it should be created with the service namespace", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "marksheet")
				So(manager.subsystem, ShouldEqual, "pipeline")
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test-namespace"),
				WithSubsystem("test_subsystem"),
				WithMetricPrefix("test_prefix"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithRefreshInterval(10*time.Second),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)

			Convey("Then the options should be applied", func() {
				So(manager, ShouldNotBeNil)
				So(manager.namespace, ShouldEqual, "test-namespace")
				So(manager.histogramBuckets, ShouldResemble, []float64{0.1, 0.5, 1.0})
				So(manager.name("flags_total"), ShouldEqual, "test_prefix_flags_total")
			})

			Convey("And the metrics should carry the custom labels", func() {
				manager.flags.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When creating with invalid options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace(""),
				WithHistogramBuckets(nil),
				WithRefreshInterval(-time.Second),
				WithPrometheusRegistry(registry),
			)

			Convey("Then defaults should be kept", func() {
				So(manager.namespace, ShouldEqual, "marksheet")
				So(manager.histogramBuckets, ShouldResemble, prometheus.DefBuckets)
				So(manager.refreshInterval, ShouldEqual, defaultRefreshInterval)
			})
		})

		Convey("When reading the global refresh interval", func() {
			Convey("Then it should be the positive default", func() {
				So(RefreshInterval(), ShouldEqual, defaultRefreshInterval)
				So(RefreshInterval(), ShouldBeGreaterThan, 0)
			})
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		Convey("When recording pipeline outcomes", func() {
			before := testutil.ToFloat64(globalManager.attemptsIngested.WithLabelValues("SCORED"))
			RecordAttemptIngested("SCORED")
			RecordAttemptIngested("SCORED")

			Convey("Then the labelled counter should grow", func() {
				after := testutil.ToFloat64(globalManager.attemptsIngested.WithLabelValues("SCORED"))
				So(after-before, ShouldEqual, 2)
			})
		})

		Convey("When recording skipped events", func() {
			before := testutil.ToFloat64(globalManager.eventsSkipped.WithLabelValues("malformed_timestamp"))
			RecordEventSkipped("malformed_timestamp")

			Convey("Then the reason counter should grow", func() {
				after := testutil.ToFloat64(globalManager.eventsSkipped.WithLabelValues("malformed_timestamp"))
				So(after-before, ShouldEqual, 1)
			})
		})

		Convey("When updating gauges", func() {
			UpdateEntityCounts(3, 2, 10)
			UpdateQueueSize(7)
			UpdateWorkerCount(1)

			Convey("Then the gauges should hold the latest values", func() {
				So(testutil.ToFloat64(globalManager.totalStudents), ShouldEqual, 3)
				So(testutil.ToFloat64(globalManager.totalTests), ShouldEqual, 2)
				So(testutil.ToFloat64(globalManager.totalAttempts), ShouldEqual, 10)
				So(testutil.ToFloat64(globalManager.queueSize), ShouldEqual, 7)
				So(testutil.ToFloat64(globalManager.workerCount), ShouldEqual, 1)
			})
		})

		Convey("When recording the remaining metrics", func() {
			Convey("Then none of them should panic", func() {
				So(func() {
					RecordScoringLatency(1.5)
					RecordBatchSize(25)
					RecordRecompute()
					RecordFlag()
					RecordLeaderboardCacheHit()
					RecordLeaderboardCacheMiss()
					RecordLeaderboardSize(40)
					RecordHTTPRequest("leaderboard", "GET", "200")
					RecordHTTPRequestDuration("leaderboard", "GET", "200", 3.0)
					RecordRepositoryQueryLatency("create_attempt", 0.4)
					UpdateQueueCapacity(100)
					UpdateQueueUtilization(0.07)
					RecordQueueEnqueue()
					RecordQueueDequeue()
					RecordQueueEnqueueError()
					RecordQueueProcessingLatency(0.1)
					RecordWorkerProcessingLatency(12)
					RecordWorkerError()
					RecordErrorByComponent("worker", "ingest_error")
					RecordErrorByType("ingest_error", "high")
					RecordErrorByEndpoint("ingest", "POST", "client_error")
					RecordErrorLatency("http", "client_error", 2)
					UpdateSystemMemoryUsage(1 << 20)
					UpdateSystemGoroutineCount(12)
					RecordSystemGCPauseTime(0.3)
				}, ShouldNotPanic)
			})
		})

		Convey("When reading the registry", func() {
			RecordFlag()
			families, err := GetRegistry().Gather()

			Convey("Then it should expose the service metrics", func() {
				So(err, ShouldBeNil)
				names := make([]string, 0, len(families))
				for _, f := range families {
					names = append(names, f.GetName())
				}
				So(names, ShouldContain, "marksheet_pipeline_flags_total")
			})
		})
	})
}
