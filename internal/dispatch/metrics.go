package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Metrics tracks the health of the delegated request pipeline.
type Metrics struct {
	pending       prometheus.Gauge
	sentTotal     *prometheus.CounterVec
	timeoutsTotal *prometheus.CounterVec
	droppedTotal  prometheus.Counter
}

// NewMetrics builds Metrics. A nil registerer falls back to the
// default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispatch_pending_requests",
			Help: "Number of delegated requests awaiting a response",
		}),
		sentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_sent_total",
			Help: "Delegated requests published to the relay",
		}, []string{"method"}),
		timeoutsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_timeouts_total",
			Help: "Delegated requests that hit their deadline",
		}, []string{"method"}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_dropped_responses_total",
			Help: "Responses with no matching pending request",
		}),
	}
	reg.MustRegister(m.pending, m.sentTotal, m.timeoutsTotal, m.droppedTotal)
	return m
}

func (m *Metrics) incPending() {
	if m == nil {
		return
	}
	m.pending.Inc()
}

func (m *Metrics) decPending() {
	if m == nil {
		return
	}
	m.pending.Dec()
}

func (m *Metrics) incSent(method string) {
	if m == nil {
		return
	}
	m.sentTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) incTimeout(method string) {
	if m == nil {
		return
	}
	m.timeoutsTotal.WithLabelValues(method).Inc()
}

func (m *Metrics) incDropped() {
	if m == nil {
		return
	}
	m.droppedTotal.Inc()
}
