package store

import "github.com/prometheus/client_golang/prometheus"

var (
	messagesCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_store_messages_created_total",
		Help: "Messages written to the store.",
	})
	messagesUpdated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_store_messages_updated_total",
		Help: "In-place message updates (edits, hides, status advances).",
	})
	messagesDeleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_store_messages_deleted_total",
		Help: "Hard deletes (delete-for-everyone and retention purges).",
	})
	changesPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_store_changes_published_total",
		Help: "Feed change events fanned out to subscribers.",
	}, []string{"kind"})
	batchesDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "parley_store_batches_delivered_total",
		Help: "Batches delivered to feed subscribers.",
	}, []string{"mode"})
	resyncsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "parley_store_subscription_resyncs_total",
		Help: "Overflow-triggered full resyncs.",
	})
)

func init() {
	prometheus.MustRegister(
		messagesCreated,
		messagesUpdated,
		messagesDeleted,
		changesPublished,
		batchesDelivered,
		resyncsTotal,
	)
}
