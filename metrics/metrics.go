// Package metrics exposes Prometheus series for the reconcile engine:
//
//	sentinel_cycles_total{result}          – cycles by result (ok|failed|skipped)
//	sentinel_cycle_failures_total{kind}    – failures feeding the kill switch
//	sentinel_orders_placed_total{role}     – orders placed by role
//	sentinel_orphans_cancelled_total       – stray protective orders cancelled
//	sentinel_killswitch_tripped            – 1 while tripped
//	sentinel_snapshot_sequence             – last persisted snapshot sequence
//	sentinel_drift_events_total{kind}      – reconciliation drift observations
//
// Served by the HTTP handler the run command starts at /metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Cycles = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_cycles_total",
			Help: "Reconciliation cycles by result",
		},
		[]string{"result"},
	)

	CycleFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_cycle_failures_total",
			Help: "Cycle failures by kind",
		},
		[]string{"kind"},
	)

	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_orders_placed_total",
			Help: "Orders placed by role",
		},
		[]string{"role"},
	)

	OrphansCancelled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sentinel_orphans_cancelled_total",
			Help: "Stray protective orders cancelled",
		},
	)

	KillSwitchTripped = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_killswitch_tripped",
			Help: "1 while the kill switch is tripped",
		},
	)

	SnapshotSequence = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sentinel_snapshot_sequence",
			Help: "Last persisted snapshot sequence number",
		},
	)

	DriftEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sentinel_drift_events_total",
			Help: "Drift observations by kind",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(
		Cycles,
		CycleFailures,
		OrdersPlaced,
		OrphansCancelled,
		KillSwitchTripped,
		SnapshotSequence,
		DriftEvents,
	)
}

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
