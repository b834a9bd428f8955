// Package metrics defines Prometheus instrumentation for crossmap.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	EmbeddingRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crossmap",
			Name:      "embedding_requests_total",
			Help:      "Total number of embedding requests",
		},
		[]string{"provider", "model", "status"},
	)

	EmbeddingRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "crossmap",
			Name:      "embedding_request_duration_seconds",
			Help:      "Embedding request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider", "model"},
	)

	EmbeddingTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crossmap",
			Name:      "embedding_tokens_total",
			Help:      "Total embedding tokens consumed",
		},
		[]string{"provider", "model", "type"},
	)

	IndexUpsertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crossmap",
			Name:      "index_upserts_total",
			Help:      "Index entries upserted, by collection and origin (build, update)",
		},
		[]string{"collection", "op"},
	)

	IndexBatchRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crossmap",
			Name:      "index_batch_retries_total",
			Help:      "Batch retries during indexing",
		},
		[]string{"collection"},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "crossmap",
			Name:      "query_duration_seconds",
			Help:      "Similarity query duration per QuerySpec",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"query"},
	)

	RerankDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "crossmap",
			Name:      "rerank_duration_seconds",
			Help:      "Cross-encoder rerank duration per QuerySpec",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"query"},
	)

	RecordsProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "crossmap",
			Name:      "records_processed_total",
			Help:      "Source records crossmapped, by status",
		},
		[]string{"status"},
	)
)

var registered bool

// Register registers all crossmap metrics. Must be called once from main
// (no init()).
func Register() {
	if registered {
		return
	}
	prometheus.MustRegister(
		EmbeddingRequestsTotal,
		EmbeddingRequestDuration,
		EmbeddingTokensTotal,
		IndexUpsertsTotal,
		IndexBatchRetriesTotal,
		QueryDuration,
		RerankDuration,
		RecordsProcessedTotal,
	)
	registered = true
}
