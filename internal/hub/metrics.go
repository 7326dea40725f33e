package hub

import "github.com/prometheus/client_golang/prometheus"

const metricsNamespace = "codecollab_hub"

// Metrics groups the hub's prometheus collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	connections     prometheus.Gauge
	framesReceived  *prometheus.CounterVec
	framesDropped   *prometheus.CounterVec
	framesDelivered *prometheus.CounterVec
	deliveryDropped prometheus.Counter
	accessDecisions *prometheus.CounterVec
}

// NewMetrics creates the hub collectors and registers them with registerer.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connections",
			Help:      "Number of open realtime connections.",
		}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_received_total",
			Help:      "Inbound frames accepted by the parser, by type.",
		}, []string{"type"}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_dropped_total",
			Help:      "Inbound frames dropped without reply, by reason.",
		}, []string{"reason"}),
		framesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_delivered_total",
			Help:      "Outbound frames queued to connections, by type.",
		}, []string{"type"}),
		deliveryDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "delivery_dropped_total",
			Help:      "Outbound frames discarded because the connection was closed or its queue was full.",
		}),
		accessDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "access_decisions_total",
			Help:      "Access control decisions, by reason.",
		}, []string{"reason"}),
	}
	if registerer == nil {
		return metrics, nil
	}
	collectors := []prometheus.Collector{
		metrics.connections,
		metrics.framesReceived,
		metrics.framesDropped,
		metrics.framesDelivered,
		metrics.deliveryDropped,
		metrics.accessDecisions,
	}
	for _, collector := range collectors {
		if err := registerer.Register(collector); err != nil {
			return nil, err
		}
	}
	return metrics, nil
}

func (m *Metrics) connectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

func (m *Metrics) connectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

func (m *Metrics) frameReceived(messageType MessageType) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(string(messageType)).Inc()
}

func (m *Metrics) frameDropped(reason string) {
	if m == nil {
		return
	}
	m.framesDropped.WithLabelValues(reason).Inc()
}

func (m *Metrics) frameDelivered(messageType MessageType) {
	if m == nil {
		return
	}
	m.framesDelivered.WithLabelValues(string(messageType)).Inc()
}

func (m *Metrics) deliveryFailed() {
	if m == nil {
		return
	}
	m.deliveryDropped.Inc()
}

func (m *Metrics) accessDecided(reason AccessReason) {
	if m == nil {
		return
	}
	m.accessDecisions.WithLabelValues(string(reason)).Inc()
}
