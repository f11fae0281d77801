package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce        sync.Once
	httpRequestsTotal   *prometheus.CounterVec
	httpLatencySeconds  *prometheus.HistogramVec
	wsConnectionsActive prometheus.Gauge
	wsConnectionsTotal  prometheus.Counter
	messagesSentTotal   *prometheus.CounterVec
	notificationsTotal  *prometheus.CounterVec
	presenceOnlineUsers prometheus.Gauge
	droppedDeliveries   *prometheus.CounterVec
	typingExpiriesTotal prometheus.Counter
)

// RegisterMetrics initialises the Prometheus collectors used by the realtime core.
func RegisterMetrics() {
	registerOnce.Do(func() {
		httpRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_http_requests_total",
			Help: "Total number of REST requests served by the realtime API.",
		}, []string{"method", "route", "status"})

		httpLatencySeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "realtime_http_latency_seconds",
			Help:    "Latency distribution for realtime REST requests.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		wsConnectionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_ws_connections_active",
			Help: "Number of websocket connections currently registered.",
		})

		wsConnectionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_ws_connections_total",
			Help: "Total number of websocket connections accepted.",
		})

		messagesSentTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_messages_sent_total",
			Help: "Total number of chat messages confirmed by the pipeline.",
		}, []string{"type"})

		notificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_notifications_published_total",
			Help: "Total number of notifications persisted by the fan-out.",
		}, []string{"type"})

		presenceOnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "realtime_presence_online_users",
			Help: "Number of users currently considered online.",
		})

		droppedDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "realtime_dropped_deliveries_total",
			Help: "Events dropped because a client send buffer was full.",
		}, []string{"event"})

		typingExpiriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "realtime_typing_expiries_total",
			Help: "Typing indicators stopped by the server-side expiry timer.",
		})

		prometheus.MustRegister(
			httpRequestsTotal,
			httpLatencySeconds,
			wsConnectionsActive,
			wsConnectionsTotal,
			messagesSentTotal,
			notificationsTotal,
			presenceOnlineUsers,
			droppedDeliveries,
			typingExpiriesTotal,
		)
	})
}

// HTTPRequests exposes the counter for REST requests.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequestsTotal
}

// HTTPLatency exposes the latency histogram for REST requests.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySeconds
}

// WSConnectionsActive exposes the active websocket connection gauge.
func WSConnectionsActive() prometheus.Gauge {
	RegisterMetrics()
	return wsConnectionsActive
}

// WSConnectionsTotal exposes the accepted websocket connection counter.
func WSConnectionsTotal() prometheus.Counter {
	RegisterMetrics()
	return wsConnectionsTotal
}

// MessagesSent exposes the confirmed message counter.
func MessagesSent() *prometheus.CounterVec {
	RegisterMetrics()
	return messagesSentTotal
}

// NotificationsPublished exposes the persisted notification counter.
func NotificationsPublished() *prometheus.CounterVec {
	RegisterMetrics()
	return notificationsTotal
}

// PresenceOnline exposes the online-user gauge.
func PresenceOnline() prometheus.Gauge {
	RegisterMetrics()
	return presenceOnlineUsers
}

// DroppedDeliveries exposes the slow-consumer drop counter.
func DroppedDeliveries() *prometheus.CounterVec {
	RegisterMetrics()
	return droppedDeliveries
}

// TypingExpiries exposes the typing auto-expiry counter.
func TypingExpiries() prometheus.Counter {
	RegisterMetrics()
	return typingExpiriesTotal
}
