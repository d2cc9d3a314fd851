// VeloSync - Cycling Activity Sync and Metrics for Home Automation
// Copyright 2026 VeloSync Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/velohome/velosync

// Package metrics exposes Prometheus instrumentation for the sync service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync cycle metrics
	SyncCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velosync_sync_cycles_total",
			Help: "Total number of sync cycles by outcome",
		},
		[]string{"outcome"}, // "success", "auth_error", "api_error", "forced_failure"
	)

	SyncCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "velosync_sync_cycle_duration_seconds",
			Help:    "Duration of full sync cycles in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "velosync_sync_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful sync cycle",
		},
	)

	TracesCached = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "velosync_traces_cached",
			Help: "Number of traces currently in the merged dataset",
		},
	)

	TracesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "velosync_traces_fetched_total",
			Help: "Total number of traces returned by the Geovelo API across all cycles",
		},
	)

	TracesNew = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "velosync_traces_new_total",
			Help: "Total number of traces newly added to the dataset",
		},
	)

	ZonesExplored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "velosync_zones_explored",
			Help: "Number of explored zones reported by the last sync cycle",
		},
	)

	// Geovelo API metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velosync_geovelo_requests_total",
			Help: "Total number of Geovelo API requests",
		},
		[]string{"operation", "outcome"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "velosync_geovelo_request_duration_seconds",
			Help:    "Duration of Geovelo API operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// HTTP server metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velosync_http_requests_total",
			Help: "Total number of HTTP requests served",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "velosync_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "velosync_http_active_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// Circuit breaker metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "velosync_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velosync_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velosync_circuit_breaker_requests_total",
			Help: "Total number of requests through the circuit breaker by outcome",
		},
		[]string{"name", "outcome"}, // "success", "failure", "rejected"
	)

	// Event publishing metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velosync_events_published_total",
			Help: "Total number of events published by topic",
		},
		[]string{"topic"},
	)

	EventPublishErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velosync_event_publish_errors_total",
			Help: "Total number of failed event publishes by topic",
		},
		[]string{"topic"},
	)

	// Achievement metrics
	AchievementsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "velosync_achievements_fired_total",
			Help: "Total number of achievement notifications fired by category",
		},
		[]string{"category"}, // "distance", "zones", "streak"
	)
)

// RecordSyncCycle records a finished cycle. Outcome is one of "success",
// "auth_error", "api_error" or "forced_failure".
func RecordSyncCycle(outcome string, duration time.Duration) {
	SyncCyclesTotal.WithLabelValues(outcome).Inc()
	SyncCycleDuration.Observe(duration.Seconds())
	if outcome == "success" {
		SyncLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// RecordAPIRequest records a Geovelo API operation.
func RecordAPIRequest(operation string, duration time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	APIRequestsTotal.WithLabelValues(operation, outcome).Inc()
	APIRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPRequest records a served HTTP request.
func RecordHTTPRequest(method, endpoint, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight HTTP request gauge.
func TrackActiveRequest(inc bool) {
	if inc {
		HTTPActiveRequests.Inc()
	} else {
		HTTPActiveRequests.Dec()
	}
}

// RecordEventPublish records an event publish attempt.
func RecordEventPublish(topic string, err error) {
	if err != nil {
		EventPublishErrors.WithLabelValues(topic).Inc()
		return
	}
	EventsPublished.WithLabelValues(topic).Inc()
}
