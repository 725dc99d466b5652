package observ

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the counters the server and the sync core report.
// A nil *Metrics is valid and records nothing, so components can be built
// without a registry in tests.
type Metrics struct {
	eventsPublished *prometheus.CounterVec
	reconciled      *prometheus.CounterVec
	historyFetches  *prometheus.CounterVec
	wsConnections   prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "echosync",
			Name:      "events_published_total",
			Help:      "Realtime events published, by event name.",
		}, []string{"event"}),
		reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "echosync",
			Name:      "reconciler_events_total",
			Help:      "Inbound events handled by the reconciler, by event name and outcome.",
		}, []string{"event", "outcome"}),
		historyFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "echosync",
			Name:      "history_fetches_total",
			Help:      "History page fetches, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		wsConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "echosync",
			Name:      "websocket_connections",
			Help:      "Open websocket connections.",
		}),
	}
	reg.MustRegister(m.eventsPublished, m.reconciled, m.historyFetches, m.wsConnections)
	return m
}

func (m *Metrics) EventPublished(event string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(event).Inc()
}

// Reconciled records what the reconciler did with one inbound event.
// outcome is one of "applied", "ignored", "discarded", "failed".
func (m *Metrics) Reconciled(event, outcome string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(event, outcome).Inc()
}

func (m *Metrics) HistoryFetched(kind string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.historyFetches.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) WSConnected() {
	if m == nil {
		return
	}
	m.wsConnections.Inc()
}

func (m *Metrics) WSDisconnected() {
	if m == nil {
		return
	}
	m.wsConnections.Dec()
}
