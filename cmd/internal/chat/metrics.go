package chat

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the chat-core collectors. All fields are safe for concurrent
// use; a nil *Metrics disables instrumentation (tests).
type Metrics struct {
	SessionsOpen       prometheus.Gauge
	AuthenticatedUsers prometheus.Gauge

	Logins            *prometheus.CounterVec
	MessagesBroadcast prometheus.Counter
	FramesDropped     prometheus.Counter
	ProtocolErrors    prometheus.Counter
}

// NewMetrics registers the chat collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		SessionsOpen: f.NewGauge(prometheus.GaugeOpts{
			Name: "parley_sessions_open",
			Help: "Currently open client sessions (any state).",
		}),
		AuthenticatedUsers: f.NewGauge(prometheus.GaugeOpts{
			Name: "parley_users_authenticated",
			Help: "Currently authenticated users.",
		}),
		Logins: f.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		MessagesBroadcast: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_messages_broadcast_total",
			Help: "Chat messages accepted and fanned out.",
		}),
		FramesDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_frames_dropped_total",
			Help: "Outbound frames dropped because a session queue was full.",
		}),
		ProtocolErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "parley_protocol_errors_total",
			Help: "Inbound lines dropped as malformed or unknown.",
		}),
	}
}

func (m *Metrics) sessionOpened() {
	if m != nil {
		m.SessionsOpen.Inc()
	}
}

func (m *Metrics) sessionClosed() {
	if m != nil {
		m.SessionsOpen.Dec()
	}
}

func (m *Metrics) setSessions(n int) {
	if m != nil {
		m.SessionsOpen.Set(float64(n))
	}
}

func (m *Metrics) setAuthenticated(n int) {
	if m != nil {
		m.AuthenticatedUsers.Set(float64(n))
	}
}

func (m *Metrics) loginResult(result string) {
	if m != nil {
		m.Logins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) messageBroadcast() {
	if m != nil {
		m.MessagesBroadcast.Inc()
	}
}

func (m *Metrics) frameDropped() {
	if m != nil {
		m.FramesDropped.Inc()
	}
}

func (m *Metrics) protocolError() {
	if m != nil {
		m.ProtocolErrors.Inc()
	}
}
