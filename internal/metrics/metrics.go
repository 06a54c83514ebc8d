// Timbre - Acoustic Similarity Server for Personal Music Libraries
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/timbre

// Package metrics registers the Prometheus collectors exposed at /metrics
// and small helpers that record into them.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values.
const (
	OutcomeAccepted         = "accepted"
	OutcomeDiscarded        = "discarded"
	OutcomeFilteredSeeds    = "filtered_by_seeds"
	OutcomeFilteredCurrent  = "filtered_by_current"
	OutcomeFilteredPrevious = "filtered_by_previous"
	OutcomeBackfilled       = "backfilled"
	IngestResultAnalysed    = "analysed"
	IngestResultCached      = "cached"
	IngestResultFailed      = "failed"
	IngestResultRemoved     = "removed"
	IngestResultTagsUpdated = "tags_updated"
	BreakerResultSuccess    = "success"
	BreakerResultFailure    = "failure"
	BreakerResultRejected   = "rejected"
)

var (
	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timbre_api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "timbre_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "timbre_api_active_requests",
			Help: "Current number of active API requests",
		},
	)

	APIRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timbre_api_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Recommendation pipeline
	SimilarCandidates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timbre_similar_candidates_total",
			Help: "Neighbour candidates examined by the filter pipeline, by outcome",
		},
		[]string{"outcome"},
	)

	NeighborCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timbre_neighbor_cache_hits_total",
			Help: "Neighbour list cache hits",
		},
	)

	NeighborCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "timbre_neighbor_cache_misses_total",
			Help: "Neighbour list cache misses",
		},
	)

	// Index
	IndexTracks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "timbre_index_tracks",
			Help: "Tracks in the loaded similarity index",
		},
	)

	IndexStyleTracks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "timbre_index_style_tracks",
			Help: "Tracks in the style sample of the loaded index",
		},
	)

	IndexLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "timbre_index_load_duration_seconds",
			Help:    "Time to load or rebuild the similarity index",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300, 900},
		},
		[]string{"source"}, // "disk" or "rebuild"
	)

	// Ingestion
	IngestFiles = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timbre_ingest_files_total",
			Help: "Files processed by ingestion, by result",
		},
		[]string{"result"},
	)

	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "timbre_ingest_duration_seconds",
			Help:    "Duration of complete ingestion runs",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		},
	)

	// Circuit breaker around the external transcoder
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "timbre_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timbre_circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timbre_circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// System
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "timbre_app_info",
			Help: "Application version and engine information",
		},
		[]string{"version", "go_version", "engine"},
	)
)

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordCandidates adds n candidates with the given outcome.
func RecordCandidates(outcome string, n int) {
	if n > 0 {
		SimilarCandidates.WithLabelValues(outcome).Add(float64(n))
	}
}

// RecordIndexLoad records a finished index load.
func RecordIndexLoad(source string, tracks, styleTracks int, duration time.Duration) {
	IndexLoadDuration.WithLabelValues(source).Observe(duration.Seconds())
	IndexTracks.Set(float64(tracks))
	IndexStyleTracks.Set(float64(styleTracks))
}

// RecordIngestFile counts one ingested file.
func RecordIngestFile(result string) {
	IngestFiles.WithLabelValues(result).Inc()
}
