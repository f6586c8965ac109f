package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the server's instrumentation. All fields are safe for
// concurrent use; a nil *Metrics disables recording.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	OnlineUsers       prometheus.Gauge
	MessagesSent      prometheus.Counter
	ClientEvents      *prometheus.CounterVec
	ActionErrors      *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Name: "barterswap_socket_active_connections",
			Help: "Currently open websocket connections.",
		}),
		OnlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "barterswap_socket_online_users",
			Help: "Users with at least one open connection.",
		}),
		MessagesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "barterswap_socket_messages_sent_total",
			Help: "Messages persisted and fanned out.",
		}),
		ClientEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "barterswap_socket_client_events_total",
			Help: "Inbound client events by event name.",
		}, []string{"event"}),
		ActionErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "barterswap_socket_action_errors_total",
			Help: "Rejected client actions by error kind.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.ActiveConnections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.ActiveConnections.Dec()
	}
}

func (m *Metrics) UserOnline() {
	if m != nil {
		m.OnlineUsers.Inc()
	}
}

func (m *Metrics) UserOffline() {
	if m != nil {
		m.OnlineUsers.Dec()
	}
}

func (m *Metrics) MessageSent() {
	if m != nil {
		m.MessagesSent.Inc()
	}
}

func (m *Metrics) ClientEvent(event string) {
	if m != nil {
		m.ClientEvents.WithLabelValues(event).Inc()
	}
}

func (m *Metrics) ActionError(kind string) {
	if m != nil {
		m.ActionErrors.WithLabelValues(kind).Inc()
	}
}
