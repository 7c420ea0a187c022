// Package metrics provides centralized Prometheus metrics for the application.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics track HTTP request patterns and performance
var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestsInFlight is the number of requests currently being served
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests being served",
		},
	)
)

// Embedding metrics track the cache and the upstream embedding service
var (
	// EmbeddingCacheLookups counts cache lookups by result: fresh, stale, miss
	EmbeddingCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_cache_lookups_total",
			Help: "Embedding cache lookups by result",
		},
		[]string{"result"},
	)

	// EmbeddingCacheCoalesced counts callers that waited on another caller's upstream request
	EmbeddingCacheCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "embedding_cache_coalesced_total",
			Help: "Embedding requests served by an in-flight computation for the same key",
		},
	)

	// EmbeddingCacheEvictions counts removed cache entries by reason: capacity, expired
	EmbeddingCacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_cache_evictions_total",
			Help: "Embedding cache entries removed",
		},
		[]string{"reason"},
	)

	// EmbeddingCacheEntries tracks the number of cached embeddings
	EmbeddingCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "embedding_cache_entries",
			Help: "Number of entries in the embedding cache",
		},
	)

	// EmbeddingUpstreamRequests counts upstream embedding calls by status: success, failure
	EmbeddingUpstreamRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "embedding_upstream_requests_total",
			Help: "Requests sent to the embedding upstream",
		},
		[]string{"status"},
	)

	// EmbeddingUpstreamDuration measures upstream embedding latency
	EmbeddingUpstreamDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "embedding_upstream_duration_seconds",
			Help:    "Embedding upstream request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)
)

// Index and pipeline metrics
var (
	// IndexPositions tracks the number of positions ever assigned in the current generation
	IndexPositions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vector_index_positions",
			Help: "Positions assigned in the current vector index generation",
		},
	)

	// IndexLiveVectors tracks the number of searchable vectors
	IndexLiveVectors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vector_index_live_vectors",
			Help: "Searchable (non-tombstoned) vectors in the current generation",
		},
	)

	// IndexGeneration tracks the current catalog generation number
	IndexGeneration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vector_index_generation",
			Help: "Current catalog generation number",
		},
	)

	// IngestRecordsTotal counts ingested records by outcome
	IngestRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_records_total",
			Help: "Ingested records by outcome",
		},
		[]string{"outcome"}, // outcome: inserted, updated, skipped, failed
	)

	// IngestBatchDuration measures time to ingest a batch
	IngestBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_batch_duration_seconds",
			Help:    "Time taken to ingest a batch of articles",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	// QueriesTotal counts queries by status kind
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queries_total",
			Help: "Queries served by status",
		},
		[]string{"status"},
	)

	// QueryDuration measures end-to-end query latency
	QueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "query_duration_seconds",
			Help:    "Query latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	// QueryCacheLookups counts result cache lookups by result: hit, miss
	QueryCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "query_cache_lookups_total",
			Help: "Query result cache lookups",
		},
		[]string{"result"},
	)

	// ConsistencyFaults counts detected index/binding/metadata disagreements by kind
	ConsistencyFaults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consistency_faults_total",
			Help: "Detected consistency faults between index, binding and metadata",
		},
		[]string{"kind"},
	)
)

// CircuitBreakerState reports each breaker's state: 0 closed, 1 half-open, 2 open
var CircuitBreakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "circuit_breaker_state",
		Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
	},
	[]string{"name"},
)

// Store metrics track metadata store performance
var (
	// DBQueryDuration measures metadata store operation duration
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Metadata store operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"operation"},
	)
)

// RecordHTTPRequest records an HTTP request with its metadata
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement.
func TrackInFlight() func() {
	HTTPRequestsInFlight.Inc()
	return HTTPRequestsInFlight.Dec
}

// RecordDBQuery records the duration of a metadata store operation.
// Operation should describe the call (e.g., "put_article", "get_many").
func RecordDBQuery(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
