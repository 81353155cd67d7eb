package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the auction server collectors on a private registry
type Metrics struct {
	registry *prometheus.Registry

	pricesGenerated  prometheus.Counter
	currentPrice     prometheus.Gauge
	decisions        *prometheus.CounterVec
	sessionsActive   prometheus.Gauge
	broadcastSent    prometheus.Counter
	broadcastPruned  prometheus.Counter
	sessionsFinished prometheus.Counter
	malformed        prometheus.Counter
}

// New creates and registers all collectors under namespace
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		pricesGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prices_generated_total",
			Help:      "Total number of prices generated",
		}),

		currentPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "current_price",
			Help:      "Active selling price",
		}),

		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "purchase_decisions_total",
			Help:      "Purchase decisions by result",
		}, []string{"result"}),

		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of connected client sessions",
		}),

		broadcastSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_messages_sent_total",
			Help:      "Price messages delivered to sessions",
		}),

		broadcastPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_sessions_pruned_total",
			Help:      "Sessions removed after a failed price send",
		}),

		sessionsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_finished_total",
			Help:      "Sessions that reached their purchase target",
		}),

		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_messages_total",
			Help:      "Client messages that could not be decoded",
		}),
	}

	registry.MustRegister(
		m.pricesGenerated,
		m.currentPrice,
		m.decisions,
		m.sessionsActive,
		m.broadcastSent,
		m.broadcastPruned,
		m.sessionsFinished,
		m.malformed,
	)

	return m
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordPrice records a generated price
func (m *Metrics) RecordPrice(price int) {
	m.pricesGenerated.Inc()
	m.currentPrice.Set(float64(price))
}

// RecordDecision records one arbitration result
func (m *Metrics) RecordDecision(approved bool) {
	if approved {
		m.decisions.WithLabelValues("approved").Inc()
		return
	}
	m.decisions.WithLabelValues("denied").Inc()
}

// RecordBroadcast records the outcome of a broadcast pass
func (m *Metrics) RecordBroadcast(delivered, pruned int) {
	m.broadcastSent.Add(float64(delivered))
	m.broadcastPruned.Add(float64(pruned))
}

// SessionOpened increments the active session gauge
func (m *Metrics) SessionOpened() { m.sessionsActive.Inc() }

// SessionClosed decrements the active session gauge
func (m *Metrics) SessionClosed() { m.sessionsActive.Dec() }

// RecordFinished counts a completion signal
func (m *Metrics) RecordFinished() { m.sessionsFinished.Inc() }

// RecordMalformed counts an undecodable client message
func (m *Metrics) RecordMalformed() { m.malformed.Inc() }
