package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		generationsTotal,
		generationLatency,
		streamChunksTotal,
		activeStreams,
		backendUp,
	)
}

var (
	generationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_generations_total",
			Help: "Completed generations by terminal outcome.",
		},
		[]string{"model", "outcome"}, // completed | interrupted | failed
	)

	generationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_generation_latency_ms",
			Help:    "Generation latency distribution in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000, 120000},
		},
		[]string{"model", "success"},
	)

	streamChunksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_stream_chunks_total",
			Help: "Chunks relayed from the backend to clients.",
		},
		[]string{"model"},
	)

	activeStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_active_streams",
			Help: "Live stream handles currently registered.",
		},
	)

	backendUp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_backend_up",
			Help: "1 when the inference backend answered the last health check.",
		},
	)
)

func ObserveGeneration(model, outcome string, d time.Duration) {
	generationsTotal.WithLabelValues(norm(model), norm(outcome)).Inc()
	success := strconv.FormatBool(outcome == "completed")
	generationLatency.WithLabelValues(norm(model), success).Observe(float64(d.Milliseconds()))
}

func IncStreamChunk(model string) {
	streamChunksTotal.WithLabelValues(norm(model)).Inc()
}

func SetActiveStreams(n int) {
	activeStreams.Set(float64(n))
}

func SetBackendUp(up bool) {
	if up {
		backendUp.Set(1)
	} else {
		backendUp.Set(0)
	}
}
