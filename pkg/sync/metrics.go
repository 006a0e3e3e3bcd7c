package sync

import "github.com/prometheus/client_golang/prometheus"

var (
	mutationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_sync_mutations_total",
		Help: "Mutations issued through conversation coordinators.",
	}, []string{"op", "outcome"})
	reconciledTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_sync_placeholders_reconciled_total",
		Help: "Optimistic placeholders replaced by authoritative records.",
	})
	timedOutTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_sync_placeholders_timedout_total",
		Help: "Optimistic placeholders that exceeded the reconcile window.",
	})
	batchesApplied = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_sync_batches_applied_total",
		Help: "Feed batches folded into conversation timelines.",
	})
	sessionsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "parley_sync_sessions_open",
		Help: "Conversation sessions currently open.",
	})
)

func init() {
	prometheus.MustRegister(
		mutationsTotal,
		reconciledTotal,
		timedOutTotal,
		batchesApplied,
		sessionsOpen,
	)
}
