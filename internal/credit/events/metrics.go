package events

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks event delivery to the broker.
type Metrics struct {
	Published    *prometheus.CounterVec
	Dropped      *prometheus.CounterVec
	BreakerState prometheus.Gauge
}

// NewMetrics registers the publisher metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Published: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credits_events_published_total",
			Help: "Total number of ledger events delivered to the broker",
		}, []string{"topic"}),
		Dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "credits_events_dropped_total",
			Help: "Total number of ledger events not delivered, by reason",
		}, []string{"topic", "reason"}),
		BreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "credits_events_circuit_breaker_state",
			Help: "Broker circuit breaker state (0=closed, 1=open)",
		}),
	}
}

func (m *Metrics) IncPublished(topic string) {
	if m == nil {
		return
	}
	m.Published.WithLabelValues(topic).Inc()
}

func (m *Metrics) IncDropped(topic, reason string) {
	if m == nil {
		return
	}
	m.Dropped.WithLabelValues(topic, reason).Inc()
}

func (m *Metrics) SetBreakerState(open bool) {
	if m == nil {
		return
	}
	if open {
		m.BreakerState.Set(1)
	} else {
		m.BreakerState.Set(0)
	}
}
