package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the engine's instrumentation. A nil *Metrics is valid and
// records nothing, so wiring stays optional.
type Metrics struct {
	connectionState prometheus.Gauge
	reconnects      prometheus.Counter
	framesReceived  *prometheus.CounterVec
	framesSent      *prometheus.CounterVec
	handlerPanics   prometheus.Counter
	sessionsExpired prometheus.Counter
}

// NewMetrics registers the engine collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		connectionState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "mergemeet",
			Subsystem: "realtime",
			Name:      "connection_state",
			Help:      "Current connection state (0 disconnected, 1 connecting, 2 reconnecting, 3 connected).",
		}),
		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mergemeet",
			Subsystem: "realtime",
			Name:      "reconnects_total",
			Help:      "Reconnection attempts scheduled after abnormal closes.",
		}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mergemeet",
			Subsystem: "realtime",
			Name:      "frames_received_total",
			Help:      "Inbound frames by type.",
		}, []string{"type"}),
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mergemeet",
			Subsystem: "realtime",
			Name:      "frames_sent_total",
			Help:      "Outbound frames by type.",
		}, []string{"type"}),
		handlerPanics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mergemeet",
			Subsystem: "realtime",
			Name:      "handler_panics_total",
			Help:      "Panics recovered inside subscribed frame handlers.",
		}),
		sessionsExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "mergemeet",
			Subsystem: "auth",
			Name:      "sessions_expired_total",
			Help:      "Terminal refresh failures that forced a logout.",
		}),
	}
}

func (m *Metrics) observeState(s State) {
	if m == nil {
		return
	}
	m.connectionState.Set(float64(s))
}

func (m *Metrics) incReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) incFrameReceived(frameType string) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(frameType).Inc()
}

func (m *Metrics) incFrameSent(frameType string) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(frameType).Inc()
}

func (m *Metrics) incHandlerPanic() {
	if m == nil {
		return
	}
	m.handlerPanics.Inc()
}

// IncSessionExpired is exported for the engine's session-expired hook.
func (m *Metrics) IncSessionExpired() {
	if m == nil {
		return
	}
	m.sessionsExpired.Inc()
}
