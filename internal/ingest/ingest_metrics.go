package ingest

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the MQTT ingest pipeline.
type Metrics struct {
	MessagesTotal *prometheus.CounterVec
	DroppedTotal  prometheus.Counter
	Disconnects   prometheus.Counter
	QueueDepth    prometheus.Gauge
}

// NewMetrics registers and returns ingest metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medevac_ingest_messages_total",
			Help: "MQTT messages consumed by event kind and outcome.",
		}, []string{"kind", "outcome"}),
		DroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medevac_ingest_dropped_total",
			Help: "Messages dropped because the ingest queue was full.",
		}),
		Disconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medevac_ingest_disconnects_total",
			Help: "Unexpected broker connection losses.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medevac_ingest_queue_depth",
			Help: "Messages waiting in the ingest queue.",
		}),
	}

	reg.MustRegister(m.MessagesTotal, m.DroppedTotal, m.Disconnects, m.QueueDepth)
	return m
}

// Nil-safe increment helpers, matching the triage metrics convention.

func (m *Metrics) message(kind, outcome string) {
	if m == nil {
		return
	}
	m.MessagesTotal.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) dropped() {
	if m == nil {
		return
	}
	m.DroppedTotal.Inc()
}

func (m *Metrics) disconnect() {
	if m == nil {
		return
	}
	m.Disconnects.Inc()
}

func (m *Metrics) queued(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}
