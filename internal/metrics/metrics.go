// Package metrics exposes Prometheus collectors for the archiver.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	recordsTotal              *prometheus.CounterVec
	droppedFieldsTotal        *prometheus.CounterVec
	uploadAttemptsTotal       *prometheus.CounterVec
	orphanedObjectsTotal      prometheus.Counter
	navigationRetriesTotal    prometheus.Counter
	runsTotal                 *prometheus.CounterVec
	runDurationSeconds        prometheus.Histogram
	lastSuccessfulRunSeconds  prometheus.Gauge
	httpRequestsTotal         *prometheus.CounterVec
	httpRequestDurationSecond *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call repeatedly.
func Init() {
	once.Do(func() {
		recordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_records_total",
				Help: "Records examined, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		droppedFieldsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_dropped_fields_total",
				Help: "Metadata fields dropped because they could not be parsed.",
			},
			[]string{"label"},
		)

		uploadAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_upload_attempts_total",
				Help: "Object store upload attempts, labeled by result.",
			},
			[]string{"result"},
		)

		orphanedObjectsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_orphaned_objects_total",
				Help: "Objects uploaded whose catalog insert failed.",
			},
		)

		navigationRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "archiver_navigation_retries_total",
				Help: "Retried advances after a navigation fault.",
			},
		)

		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_runs_total",
				Help: "Sync runs, labeled by terminal state.",
			},
			[]string{"state"},
		)

		runDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "archiver_run_duration_seconds",
				Help:    "Wall time of sync runs.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
			},
		)

		lastSuccessfulRunSeconds = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "archiver_last_successful_run_timestamp_seconds",
				Help: "Unix time of the last run that ended without error.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "archiver_http_requests_total",
				Help: "Ops endpoint requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSecond = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "archiver_http_request_duration_seconds",
				Help:    "Ops endpoint latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveRecord counts one examined record.
func ObserveRecord(outcome string) {
	recordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDroppedField counts a metadata field that failed to parse.
func ObserveDroppedField(label string) {
	droppedFieldsTotal.WithLabelValues(label).Inc()
}

// ObserveUploadAttempt counts one upload try.
func ObserveUploadAttempt(result string) {
	uploadAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveOrphanedObject counts an uploaded object without a catalog row.
func ObserveOrphanedObject() {
	orphanedObjectsTotal.Inc()
}

// ObserveNavigationRetry counts a retried advance.
func ObserveNavigationRetry() {
	navigationRetriesTotal.Inc()
}

// ObserveRun records a finished run. ok marks a run that ended cleanly.
func ObserveRun(state string, ok bool, duration time.Duration, finished time.Time) {
	runsTotal.WithLabelValues(state).Inc()
	runDurationSeconds.Observe(duration.Seconds())
	if ok {
		lastSuccessfulRunSeconds.Set(float64(finished.Unix()))
	}
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSecond.WithLabelValues(method, route).Observe(duration.Seconds())
}
