package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		messagesPersistedTotal,
		rateLimitRejectsTotal,
		storeErrorsTotal,
	)
}

var (
	messagesPersistedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_persisted_total",
			Help: "Messages written to the store by role.",
		},
		[]string{"role"},
	)

	rateLimitRejectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_rate_limit_rejects_total",
			Help: "Messages rejected by the per-user fixed-window limiter.",
		},
	)

	storeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_store_errors_total",
			Help: "Best-effort store writes that failed after generation succeeded.",
		},
		[]string{"op"}, // e.g. op="cache_put", op="append_assistant"
	)
)

func IncMessagePersisted(role string) {
	messagesPersistedTotal.WithLabelValues(norm(role)).Inc()
}

func IncRateLimitReject() { rateLimitRejectsTotal.Inc() }

func IncStoreError(op string) {
	storeErrorsTotal.WithLabelValues(norm(op)).Inc()
}
