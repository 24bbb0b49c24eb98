package gosocketio

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "socketio").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Metrics holds the collectors shared by servers and managers. A nil
// *Metrics records nothing.
type Metrics struct {
	connectedSockets prometheus.Gauge
	connectionsTotal prometheus.Counter
	eventsTotal      *prometheus.CounterVec
	acksTotal        *prometheus.CounterVec
	broadcastsTotal  prometheus.Counter
	handlerFaults    *prometheus.CounterVec
	reconnectsTotal  *prometheus.CounterVec
}

// NewMetrics registers the collectors with config.Registry.
func NewMetrics(config MetricsConfig) *Metrics {
	if config.Namespace == "" {
		config.Namespace = "socketio"
	}
	if config.Registry == nil {
		config.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(config.Registry)

	return &Metrics{
		connectedSockets: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connected_sockets",
			Help:        "Number of sockets currently connected to a namespace",
			ConstLabels: config.ConstLabels,
		}),

		connectionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "connections_total",
			Help:        "Total number of namespace connections accepted",
			ConstLabels: config.ConstLabels,
		}),

		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "events_total",
			Help:        "Total number of events by direction",
			ConstLabels: config.ConstLabels,
		}, []string{"direction", "event"}),

		acksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "acks_total",
			Help:        "Acknowledgement outcomes",
			ConstLabels: config.ConstLabels,
		}, []string{"result"}),

		broadcastsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "broadcasts_total",
			Help:        "Total number of broadcast emits",
			ConstLabels: config.ConstLabels,
		}),

		handlerFaults: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "handler_faults_total",
			Help:        "Total number of event handlers that panicked",
			ConstLabels: config.ConstLabels,
		}, []string{"event"}),

		reconnectsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "reconnects_total",
			Help:        "Client reconnection attempts by outcome",
			ConstLabels: config.ConstLabels,
		}, []string{"result"}),
	}
}

func (m *Metrics) socketConnected() {
	if m == nil {
		return
	}
	m.connectedSockets.Inc()
	m.connectionsTotal.Inc()
}

func (m *Metrics) socketDisconnected() {
	if m == nil {
		return
	}
	m.connectedSockets.Dec()
}

// unhandledEvent labels inbound events nobody listens to.
const unhandledEvent = "other"

func (m *Metrics) eventReceived(event string, handled bool) {
	if m == nil {
		return
	}
	if !handled {
		event = unhandledEvent
	}
	m.eventsTotal.WithLabelValues("in", event).Inc()
}

func (m *Metrics) eventSent(event string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues("out", event).Inc()
}

func (m *Metrics) ack(result string) {
	if m == nil {
		return
	}
	m.acksTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) broadcast() {
	if m == nil {
		return
	}
	m.broadcastsTotal.Inc()
}

func (m *Metrics) handlerFault(event string) {
	if m == nil {
		return
	}
	m.handlerFaults.WithLabelValues(event).Inc()
}

func (m *Metrics) reconnect(result string) {
	if m == nil {
		return
	}
	m.reconnectsTotal.WithLabelValues(result).Inc()
}

// ackOutcome maps an acknowledgement error to a metrics label.
func ackOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAckTimeout):
		return "timeout"
	case errors.Is(err, ErrDisconnected):
		return "disconnected"
	default:
		return "canceled"
	}
}
