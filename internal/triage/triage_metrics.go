package triage

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the triage subsystem.
type Metrics struct {
	UplinksTotal         *prometheus.CounterVec
	EventsTotal          *prometheus.CounterVec
	ReadingsTotal        *prometheus.CounterVec
	AlertsTotal          *prometheus.CounterVec
	AlertsDedupedTotal   prometheus.Counter
	EvacTransitionsTotal *prometheus.CounterVec
	CasualtiesRegistered prometheus.Counter
}

// NewMetrics registers and returns triage metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UplinksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medevac_uplinks_total",
			Help: "Uplink messages processed by outcome.",
		}, []string{"outcome"}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medevac_events_total",
			Help: "Informational device events by kind.",
		}, []string{"kind"}),
		ReadingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medevac_readings_total",
			Help: "Persisted vital readings by severity.",
		}, []string{"severity"}),
		AlertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medevac_alerts_total",
			Help: "Alerts raised by kind.",
		}, []string{"kind"}),
		AlertsDedupedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medevac_alerts_deduped_total",
			Help: "Alert raises suppressed by the unread-alert dedup rule.",
		}),
		EvacTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medevac_evac_transitions_total",
			Help: "Evacuation transitions by operation and outcome.",
		}, []string{"op", "outcome"}),
		CasualtiesRegistered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medevac_casualties_registered_total",
			Help: "Casualties implicitly registered from telemetry.",
		}),
	}

	reg.MustRegister(
		m.UplinksTotal,
		m.EventsTotal,
		m.ReadingsTotal,
		m.AlertsTotal,
		m.AlertsDedupedTotal,
		m.EvacTransitionsTotal,
		m.CasualtiesRegistered,
	)
	return m
}

// Increment helpers are nil-safe so the service can run without metrics in
// tests.

func (m *Metrics) uplink(outcome string) {
	if m == nil {
		return
	}
	m.UplinksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) event(kind string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(kind).Inc()
}

func (m *Metrics) reading(sev Severity) {
	if m == nil {
		return
	}
	m.ReadingsTotal.WithLabelValues(string(sev)).Inc()
}

func (m *Metrics) alert(kind AlertKind) {
	if m == nil {
		return
	}
	m.AlertsTotal.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) alertDeduped() {
	if m == nil {
		return
	}
	m.AlertsDedupedTotal.Inc()
}

func (m *Metrics) evacTransition(op, outcome string) {
	if m == nil {
		return
	}
	m.EvacTransitionsTotal.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) registered() {
	if m == nil {
		return
	}
	m.CasualtiesRegistered.Inc()
}
