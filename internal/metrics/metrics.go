// Package metrics holds the prometheus collectors shared by the engine, the
// feeds and the API. Labels are bounded: no per-cell or per-URL values.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Synchronizer metrics
	syncPassDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sync_pass_duration_seconds",
		Help:    "Time spent in one synchronization pass",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025},
	})

	synchronized = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sync_synchronized",
		Help: "1 while views are rendered from the merged world",
	})

	syncLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_lost_total",
		Help: "Times synchronization was declared lost",
	})

	missingModels = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sync_missing_models_total",
		Help: "Cells skipped by a pass because no view had a usable frame",
	})

	// World metrics
	cellCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "world_cell_count",
		Help: "Current number of cells",
	})

	viewCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "world_view_count",
		Help: "Current number of open views",
	})

	renderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "render_tick_duration_seconds",
		Help:    "Time spent interpolating all views for one render tick",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.02},
	})

	// Feed metrics
	feedMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_messages_total",
		Help: "Messages received from view feeds",
	}, []string{"kind"}) // Bounded: message kinds

	feedDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feed_dropped_total",
		Help: "Feed messages rejected before reaching the world",
	}, []string{"reason"}) // Bounded: "decode", "stopped", "unknown_view"

	inboxFull = promauto.NewCounter(prometheus.CounterOpts{
		Name: "engine_inbox_full_total",
		Help: "Feed deliveries that had to wait for room in the engine inbox",
	})

	// Event log metrics
	eventLogDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "event_log_dropped_total",
		Help: "Events dropped due to rate limiting or buffer full",
	})

	// HTTP metrics with bounded labels
	requestLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint"})

	requestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected by rate limiter or origin check",
	}, []string{"reason"})

	// WebSocket metrics
	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_total",
		Help: "Total WebSocket messages sent",
	})
)

// RecordSyncPass records one synchronization pass
func RecordSyncPass(duration time.Duration, isSynchronized bool, missing uint64) {
	syncPassDuration.Observe(duration.Seconds())
	if isSynchronized {
		synchronized.Set(1)
	} else {
		synchronized.Set(0)
	}
	if missing > 0 {
		missingModels.Add(float64(missing))
	}
}

// RecordSyncLost increments the lost-synchronization counter
func RecordSyncLost() {
	syncLost.Inc()
}

// RecordRender records render tick timing
func RecordRender(duration time.Duration) {
	renderDuration.Observe(duration.Seconds())
}

// UpdateWorld updates the cell and view gauges
func UpdateWorld(cells, views int) {
	cellCount.Set(float64(cells))
	viewCount.Set(float64(views))
}

// RecordFeedMessage counts one decoded feed message
func RecordFeedMessage(kind string) {
	feedMessages.WithLabelValues(kind).Inc()
}

// RecordFeedDropped counts one rejected feed message
// reason must be one of: "decode", "stopped", "unknown_view"
func RecordFeedDropped(reason string) {
	feedDropped.WithLabelValues(reason).Inc()
}

// RecordInboxFull counts a feed reader stalled by a full engine inbox
func RecordInboxFull() {
	inboxFull.Inc()
}

// RecordEventLogDropped counts events the event log refused
func RecordEventLogDropped() {
	eventLogDropped.Inc()
}

// RecordConnectionRejected increments the rejection counter
// reason must be one of: "rate_limit", "origin", "ws_total_limit", "ws_ip_limit"
func RecordConnectionRejected(reason string) {
	connectionRejected.WithLabelValues(reason).Inc()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, endpoint string, status int, duration time.Duration) {
	requestLatency.WithLabelValues(method, endpoint).Observe(duration.Seconds())
	requestTotal.WithLabelValues(method, endpoint, http.StatusText(status)).Inc()
}

// UpdateWSConnections updates WebSocket connection count
func UpdateWSConnections(count int) {
	wsConnectionsActive.Set(float64(count))
}

// IncrementWSMessages increments WebSocket message counter
func IncrementWSMessages() {
	wsMessagesTotal.Inc()
}
