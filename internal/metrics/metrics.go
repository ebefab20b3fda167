// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

// Package metrics holds the Prometheus collectors for the ingestion pipeline.
// Collectors are registered on the default registry and exposed at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync (orchestrator) metrics
	SyncDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tributary_sync_duration_seconds",
			Help:    "Duration of entity sync runs in seconds",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"entity", "mode"},
	)

	SyncRecordsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tributary_sync_records_processed_total",
			Help: "Records loaded by successful sync runs",
		},
		[]string{"entity"},
	)

	SyncErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tributary_sync_errors_total",
			Help: "Failed sync runs by stage",
		},
		[]string{"entity", "stage"},
	)

	SyncLastSuccess = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tributary_sync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful sync per entity",
		},
		[]string{"entity"},
	)

	SyncInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tributary_sync_in_progress",
			Help: "Number of sync runs currently executing",
		},
	)

	// Upstream API metrics
	UpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tributary_upstream_requests_total",
			Help: "Upstream API requests by kind and outcome",
		},
		[]string{"kind", "outcome"}, // kind: page, report, auth
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tributary_upstream_request_duration_seconds",
			Help:    "Upstream API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"kind"},
	)

	UpstreamRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tributary_upstream_retries_total",
			Help: "Retries scheduled by the backoff executor",
		},
		[]string{"operation", "reason"},
	)

	UpstreamPages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tributary_upstream_pages_total",
			Help: "Pages fetched from the upstream API",
		},
		[]string{"kind"},
	)

	RateLimiterWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tributary_rate_limiter_wait_seconds",
			Help:    "Time spent waiting for a rate limiter token",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"limiter"},
	)

	CredentialRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tributary_credential_refreshes_total",
			Help: "Credential exchanges performed, by outcome",
		},
		[]string{"outcome"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tributary_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tributary_circuit_breaker_requests_total",
			Help: "Requests through the circuit breaker by result",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tributary_circuit_breaker_consecutive_failures",
			Help: "Current consecutive failure count",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tributary_circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Load engine metrics
	LoadBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tributary_load_batches_total",
			Help: "Batches inserted into staging or target tables",
		},
		[]string{"table", "strategy"},
	)

	LoadBatchBytes = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tributary_load_batch_bytes",
			Help:    "Serialized size of inserted batches",
			Buckets: prometheus.ExponentialBuckets(1024, 4, 8), // 1KiB .. 16MiB
		},
		[]string{"table"},
	)

	LoadMergeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tributary_load_merge_duration_seconds",
			Help:    "Duration of MERGE statements",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"table"},
	)

	LoadFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tributary_load_fallbacks_total",
			Help: "Upserts that fell back to append-only insertion",
		},
		[]string{"table"},
	)

	CompactionRowsRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tributary_compaction_rows_removed_total",
			Help: "Duplicate rows removed by keep-latest compaction",
		},
		[]string{"table"},
	)

	SchemaDriftFields = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tributary_schema_drift_fields_total",
			Help: "Previously unseen upstream fields observed",
		},
		[]string{"entity"},
	)

	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "duckdb_query_duration_seconds",
			Help:    "Duration of DuckDB queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckdb_query_errors_total",
			Help: "Total number of DuckDB query errors",
		},
		[]string{"operation", "table"},
	)

	// HTTP surface
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tributary_http_requests_total",
			Help: "HTTP requests served",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tributary_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 120, 600},
		},
		[]string{"method", "route"},
	)
)

// RecordSync records the outcome of one orchestrator run.
func RecordSync(entity, mode string, duration time.Duration, records int, stage string, err error) {
	SyncDuration.WithLabelValues(entity, mode).Observe(duration.Seconds())
	if err != nil {
		SyncErrors.WithLabelValues(entity, stage).Inc()
		return
	}
	SyncRecordsProcessed.WithLabelValues(entity).Add(float64(records))
	SyncLastSuccess.WithLabelValues(entity).Set(float64(time.Now().Unix()))
}

// RecordUpstreamRequest records one HTTP exchange with the upstream API.
func RecordUpstreamRequest(kind string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	UpstreamRequests.WithLabelValues(kind, outcome).Inc()
	UpstreamRequestDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordDBQuery records a database query metric
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		DBQueryErrors.WithLabelValues(operation, table).Inc()
	}
}

// RecordHTTPRequest records a served HTTP request.
func RecordHTTPRequest(method, route, status string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, status).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
