// Package metrics exposes the Prometheus instrumentation of the ingestion
// pipeline, the loader, the upstream client and the HTTP API.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run Metrics
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gps_tracking_runs_total",
			Help: "Total number of ingestion runs by outcome",
		},
		[]string{"outcome"}, // "success", "failed", "rejected"
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gps_tracking_run_duration_seconds",
			Help:    "Duration of complete ingestion runs in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	RunLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gps_tracking_run_last_success_timestamp",
			Help: "Unix timestamp of the last successful ingestion run",
		},
	)

	// Fetch Metrics
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gps_tracking_fetch_batches_total",
			Help: "Total number of upstream batch requests by outcome",
		},
		[]string{"outcome"}, // "ok", "failed"
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gps_tracking_fetch_batch_duration_seconds",
			Help:    "Duration of upstream batch requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gps_tracking_records_total",
			Help: "Total number of reconciled device records by kind",
		},
		[]string{"kind"}, // "reported", "batch_failed", "missing"
	)

	// Load Metrics
	LoadRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gps_tracking_load_records_total",
			Help: "Total number of records handled by the upsert loader by result",
		},
		[]string{"result"}, // "created", "updated", "errored"
	)

	LoadBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gps_tracking_load_batch_duration_seconds",
			Help:    "Duration of upsert batch transactions in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Upstream Authorization Metrics
	AuthRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gps_tracking_auth_requests_total",
			Help: "Total number of authorization requests by result",
		},
		[]string{"result"}, // "success", "failure", "rejected"
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gps_tracking_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gps_tracking_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Messaging Metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gps_tracking_events_published_total",
			Help: "Total number of run events published by result",
		},
		[]string{"result"}, // "success", "failure"
	)

	TriggersConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gps_tracking_triggers_consumed_total",
			Help: "Total number of run trigger messages consumed by result",
		},
		[]string{"result"}, // "ack", "nack"
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gps_tracking_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gps_tracking_api_request_duration_seconds",
			Help:    "Duration of API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordRun records the outcome of one ingestion run
func RecordRun(outcome string, duration time.Duration) {
	RunsTotal.WithLabelValues(outcome).Inc()
	if outcome == "rejected" {
		return
	}
	RunDuration.Observe(duration.Seconds())
	if outcome == "success" {
		RunLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// RecordBatch records one upstream batch request
func RecordBatch(duration time.Duration, err error) {
	BatchDuration.Observe(duration.Seconds())
	if err != nil {
		BatchesTotal.WithLabelValues("failed").Inc()
		return
	}
	BatchesTotal.WithLabelValues("ok").Inc()
}

// RecordReconciled records the reconciled record counts of a run
func RecordReconciled(reported, batchFailed, missing int) {
	RecordsTotal.WithLabelValues("reported").Add(float64(reported))
	RecordsTotal.WithLabelValues("batch_failed").Add(float64(batchFailed))
	RecordsTotal.WithLabelValues("missing").Add(float64(missing))
}

// RecordLoad records the result of one loader batch
func RecordLoad(duration time.Duration, created, updated, errored int) {
	LoadBatchDuration.Observe(duration.Seconds())
	LoadRecordsTotal.WithLabelValues("created").Add(float64(created))
	LoadRecordsTotal.WithLabelValues("updated").Add(float64(updated))
	LoadRecordsTotal.WithLabelValues("errored").Add(float64(errored))
}

// RecordEventPublish records a run event publish attempt
func RecordEventPublish(err error) {
	if err != nil {
		EventsPublished.WithLabelValues("failure").Inc()
		return
	}
	EventsPublished.WithLabelValues("success").Inc()
}

// RecordTrigger records the acknowledgement of a trigger message
func RecordTrigger(acked bool) {
	if acked {
		TriggersConsumed.WithLabelValues("ack").Inc()
		return
	}
	TriggersConsumed.WithLabelValues("nack").Inc()
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
