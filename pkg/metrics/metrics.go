// Package metrics exposes Prometheus collectors for the chat gateway.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Connections    prometheus.Gauge
	OnlineUsers    prometheus.Gauge
	FramesReceived *prometheus.CounterVec
	FrameErrors    *prometheus.CounterVec
	Deliveries     *prometheus.CounterVec
	Dropped        *prometheus.CounterVec
	RateLimited    prometheus.Counter
	RelayErrors    *prometheus.CounterVec
	OfflineNotices *prometheus.CounterVec

	registry *prometheus.Registry
}

// New registers the collectors on a private registry so tests can build as
// many instances as they like.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat", Name: "connections",
			Help: "Open websocket connections.",
		}),
		OnlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "chat", Name: "online_users",
			Help: "Users with at least one identified connection.",
		}),
		FramesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat", Name: "frames_received_total",
			Help: "Inbound frames by operation.",
		}, []string{"op"}),
		FrameErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat", Name: "frame_errors_total",
			Help: "Inbound frames answered with an error envelope, by operation and kind.",
		}, []string{"op", "kind"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat", Name: "deliveries_total",
			Help: "Envelopes queued to a connection, by target kind.",
		}, []string{"target"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat", Name: "dropped_total",
			Help: "Envelopes dropped because a connection queue was full or closed.",
		}, []string{"target"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "chat", Name: "rate_limited_total",
			Help: "Inbound frames rejected by the per-connection limiter.",
		}),
		RelayErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat", Name: "relay_errors_total",
			Help: "Redis relay failures by stage.",
		}, []string{"stage"}),
		OfflineNotices: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "chat", Name: "offline_notices_total",
			Help: "Offline e-mail notices by result.",
		}, []string{"result"}),
		registry: reg,
	}
	reg.MustRegister(
		m.Connections, m.OnlineUsers, m.FramesReceived, m.FrameErrors,
		m.Deliveries, m.Dropped, m.RateLimited, m.RelayErrors, m.OfflineNotices,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
	return gin.WrapH(h)
}
