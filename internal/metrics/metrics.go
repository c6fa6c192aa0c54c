package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the fleet-level operational counters served at /metrics.
type Metrics struct {
	CyclesTotal  *prometheus.CounterVec // strategy
	CycleErrors  *prometheus.CounterVec // strategy
	TradesTotal  *prometheus.CounterVec // side
	Heartbeats   prometheus.Counter
	BotsByHealth *prometheus.GaugeVec // state
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_cycles_total",
			Help: "Executor cycles run, per strategy.",
		}, []string{"strategy"}),
		CycleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_cycle_errors_total",
			Help: "Executor cycles that ended in an error, per strategy.",
		}, []string{"strategy"}),
		TradesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "fleet_trades_total",
			Help: "Confirmed fills, per side.",
		}, []string{"side"}),
		Heartbeats: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "fleet_heartbeats_total",
			Help: "External heartbeats accepted.",
		}),
		BotsByHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "fleet_bots_health",
			Help: "Running bots per health state, refreshed every monitor tick.",
		}, []string{"state"}),
	}
	reg.MustRegister(m.CyclesTotal, m.CycleErrors, m.TradesTotal, m.Heartbeats, m.BotsByHealth)
	return m
}
