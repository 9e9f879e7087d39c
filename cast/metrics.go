package cast

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the counters/gauges a Channel reports. A nil *Metrics is
// valid everywhere it's used (every method is a nil-safe no-op), so callers
// that don't want instrumentation simply never construct one.
type Metrics struct {
	requestsSent     prometheus.Counter
	requestsFailed   *prometheus.CounterVec
	reconnects       prometheus.Counter
	connectionState  prometheus.Gauge
	pendingRequests  prometheus.Gauge
}

// NewMetrics registers a Channel's instrumentation with reg. Pass a fresh
// registry (or prometheus.NewRegistry()) per Channel instance to avoid
// duplicate-registration panics when running more than one Channel in the
// same process.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requestsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gocast",
			Name:      "requests_sent_total",
			Help:      "Total number of control requests sent to the receiver.",
		}),
		requestsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gocast",
			Name:      "requests_failed_total",
			Help:      "Total number of control requests that completed with an error, by reason.",
		}, []string{"reason"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "gocast",
			Name:      "reconnects_total",
			Help:      "Total number of lazy auto-reconnect attempts.",
		}),
		connectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gocast",
			Name:      "connection_state",
			Help:      "Current Channel connection state (0=disconnected,1=handshaking,2=connected,3=closing).",
		}),
		pendingRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "gocast",
			Name:      "pending_requests",
			Help:      "Number of requests currently awaiting a response.",
		}),
	}
	reg.MustRegister(m.requestsSent, m.requestsFailed, m.reconnects, m.connectionState, m.pendingRequests)
	return m
}

func connectionStateValue(s ConnectionState) float64 {
	switch s {
	case StateDisconnected:
		return 0
	case StateHandshaking:
		return 1
	case StateConnected:
		return 2
	case StateClosing:
		return 3
	default:
		return -1
	}
}

func (m *Metrics) observeState(s ConnectionState) {
	if m == nil {
		return
	}
	m.connectionState.Set(connectionStateValue(s))
}

func (m *Metrics) observeRequestSent() {
	if m == nil {
		return
	}
	m.requestsSent.Inc()
}

func (m *Metrics) observeRequestFailed(reason string) {
	if m == nil {
		return
	}
	m.requestsFailed.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *Metrics) incPendingRequests() {
	if m == nil {
		return
	}
	m.pendingRequests.Inc()
}

func (m *Metrics) decPendingRequests() {
	if m == nil {
		return
	}
	m.pendingRequests.Dec()
}
