// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WSConnectionsActive tracks currently open streaming connections.
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "widget_ws_connections_active",
			Help: "Number of open WebSocket connections",
		},
	)

	// WSConnectAttempts tracks connection attempts by outcome.
	WSConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widget_ws_connect_attempts_total",
			Help: "Total WebSocket connect attempts",
		},
		[]string{"outcome"},
	)

	// WSReconnects tracks scheduled reconnection attempts.
	WSReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "widget_ws_reconnects_total",
			Help: "Total WebSocket reconnections scheduled",
		},
	)

	// FramesDecoded tracks inbound frames by type.
	FramesDecoded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widget_frames_decoded_total",
			Help: "Inbound protocol frames decoded",
		},
		[]string{"type"},
	)

	// FramesDropped tracks malformed or unknown frames dropped at the boundary.
	FramesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "widget_frames_dropped_total",
			Help: "Inbound frames dropped as malformed or unknown",
		},
	)

	// MergesTotal tracks reconciler merge operations by kind.
	MergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widget_cache_merges_total",
			Help: "Reconciler merge operations applied",
		},
		[]string{"kind"},
	)

	// SendsTotal tracks outbound sends by outcome.
	SendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "widget_sends_total",
			Help: "Chat message sends",
		},
		[]string{"outcome"},
	)

	// RollbacksTotal tracks optimistic-insert rollbacks.
	RollbacksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "widget_rollbacks_total",
			Help: "Optimistic sends rolled back after transmit failure",
		},
	)

	// RequestDuration tracks dev server HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "devserver_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks dev server HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "devserver_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

// RecordRequest records metrics for a dev server HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordConnectAttempt records the outcome of a connect attempt.
func RecordConnectAttempt(outcome string) {
	WSConnectAttempts.WithLabelValues(outcome).Inc()
}

// RecordMerge records a reconciler merge operation.
func RecordMerge(kind string) {
	MergesTotal.WithLabelValues(kind).Inc()
}
