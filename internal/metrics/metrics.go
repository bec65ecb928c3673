// Daykeep - Local-First Planner with Offline Calendar Sync
// Copyright 2026 Daykeep Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/daykeep/daykeep

// Package metrics provides Prometheus instrumentation for the sync core:
// queue depth, dispatch outcomes, conflicts, and remote API behavior.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueuePending tracks pending change-queue entries per entity type.
	QueuePending = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "daykeep_queue_pending_entries",
			Help: "Number of pending change-queue entries",
		},
		[]string{"entity"},
	)

	// QueueAbandoned tracks entries retained after exhausting retries.
	QueueAbandoned = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "daykeep_queue_abandoned_entries",
			Help: "Number of abandoned change-queue entries awaiting user action",
		},
	)

	// DispatchTotal counts dispatch attempts by entity and outcome
	// (success, retry, conflict, abandoned, auth).
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daykeep_dispatch_attempts_total",
			Help: "Total queue dispatch attempts by outcome",
		},
		[]string{"entity", "outcome"},
	)

	// DrainDuration observes full drain-pass latency.
	DrainDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "daykeep_drain_duration_seconds",
			Help:    "Duration of sync queue drain passes",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ConflictsOpen tracks live conflicts awaiting resolution.
	ConflictsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "daykeep_conflicts_open",
			Help: "Number of unresolved sync conflicts",
		},
	)

	// RemoteRequests counts remote calendar API calls by method and
	// result ("ok" or the error kind).
	RemoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daykeep_remote_requests_total",
			Help: "Total remote calendar API requests by result",
		},
		[]string{"method", "result"},
	)

	// RemoteLatency observes successful remote request latency.
	RemoteLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "daykeep_remote_request_duration_seconds",
			Help:    "Duration of successful remote calendar API requests",
			Buckets: prometheus.DefBuckets,
		},
	)

	// APIRequests counts local HTTP API requests by method, path, and
	// status code.
	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "daykeep_api_requests_total",
			Help: "Total local HTTP API requests",
		},
		[]string{"method", "path", "status"},
	)

	// APIDuration observes local HTTP API request latency.
	APIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "daykeep_api_request_duration_seconds",
			Help:    "Duration of local HTTP API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// APIActiveRequests tracks in-flight local HTTP requests.
	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "daykeep_api_active_requests",
			Help: "Number of in-flight local HTTP API requests",
		},
	)
)

// RecordDispatch increments the dispatch counter for one attempt outcome.
func RecordDispatch(entity, outcome string) {
	DispatchTotal.WithLabelValues(entity, outcome).Inc()
}

// RecordRemoteRequest increments the remote request counter.
func RecordRemoteRequest(method, result string) {
	RemoteRequests.WithLabelValues(method, result).Inc()
}

// ObserveRemoteLatency records one successful remote request duration.
func ObserveRemoteLatency(seconds float64) {
	RemoteLatency.Observe(seconds)
}

// ObserveDrain records one drain-pass duration.
func ObserveDrain(seconds float64) {
	DrainDuration.Observe(seconds)
}

// SetQueueDepth updates the pending gauge for an entity type.
func SetQueueDepth(entity string, pending int) {
	QueuePending.WithLabelValues(entity).Set(float64(pending))
}

// SetAbandoned updates the abandoned-entries gauge.
func SetAbandoned(n int) {
	QueueAbandoned.Set(float64(n))
}

// SetConflicts updates the open-conflicts gauge.
func SetConflicts(n int) {
	ConflictsOpen.Set(float64(n))
}

// RecordAPIRequest records one completed local HTTP request.
func RecordAPIRequest(method, path, status string, seconds float64) {
	APIRequests.WithLabelValues(method, path, status).Inc()
	APIDuration.WithLabelValues(method, path).Observe(seconds)
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		APIActiveRequests.Inc()
		return
	}
	APIActiveRequests.Dec()
}
