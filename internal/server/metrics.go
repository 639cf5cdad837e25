package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpalign_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kpalign_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Rendering metrics
	renderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kpalign_render_duration_seconds",
			Help:    "Panel render duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"panel"},
	)

	// Fitting metrics
	fitTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpalign_fit_total",
			Help: "Total number of transform fits",
		},
		[]string{"class", "status"},
	)

	fitRMSE = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kpalign_fit_rmse_pixels",
			Help:    "Root mean square residual of fitted transforms in pixels",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 25, 50},
		},
		[]string{"class"},
	)

	// Live feed metrics
	feedFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpalign_feed_frames_total",
			Help: "Total number of live feed frames received",
		},
		[]string{"side"},
	)

	feedFramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpalign_feed_frames_dropped_total",
			Help: "Frames replaced by a newer frame before being applied",
		},
		[]string{"side"},
	)

	feedFramesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpalign_feed_frames_applied_total",
			Help: "Frames decoded and shown",
		},
		[]string{"side", "status"},
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kpalign_upload_size_bytes",
			Help:    "Size of uploaded images in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024, 100 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kpalign_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
		[]string{"channel"}, // channel: control, feed
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kpalign_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)
)
