package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Connection metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_active_connections",
			Help: "Currently connected WebSocket clients",
		},
	)

	SlowConsumerDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_slow_consumer_drops_total",
			Help: "Clients disconnected because their send buffer was full",
		},
	)

	RateLimitDrops = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_rate_limit_drops_total",
			Help: "Inbound events discarded by the per-connection rate limiter",
		},
	)

	// Relay metrics
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_received_total",
			Help: "Inbound events by name",
		},
		[]string{"event"},
	)

	MessagesStored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_stored_total",
			Help: "Messages appended to history",
		},
		[]string{"sender"},
	)

	AutoReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_auto_replies_total",
			Help: "Auto-replies generated",
		},
		[]string{"rule"},
	)

	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_notifications_total",
			Help: "Push notification deliveries",
		},
		[]string{"result"}, // "sent" or "failed"
	)

	// History metrics, refreshed by the stats job
	HistoryRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_history_rooms",
			Help: "Rooms with stored history",
		},
	)

	HistoryMessages = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_history_messages",
			Help: "Messages held in history",
		},
	)
)
