package metrics

import (
	"time"
)

// Cache lookup results.
const (
	CacheFresh = "fresh"
	CacheStale = "stale"
	CacheMiss  = "miss"
)

// RecordCacheLookup records one embedding cache lookup.
// Result should be one of CacheFresh, CacheStale or CacheMiss.
func RecordCacheLookup(result string) {
	EmbeddingCacheLookups.WithLabelValues(result).Inc()
}

// RecordCoalescedWait records a caller that shared another caller's upstream request.
func RecordCoalescedWait() {
	EmbeddingCacheCoalesced.Inc()
}

// RecordCacheEvictions records removed cache entries.
// Reason should be "capacity" or "expired".
func RecordCacheEvictions(reason string, n int) {
	if n <= 0 {
		return
	}
	EmbeddingCacheEvictions.WithLabelValues(reason).Add(float64(n))
}

// UpdateCacheEntries updates the cache size gauge.
func UpdateCacheEntries(n int) {
	EmbeddingCacheEntries.Set(float64(n))
}

// RecordUpstreamRequest records the outcome and latency of one upstream embedding call.
//
// Example:
//
//	start := time.Now()
//	vec, err := upstream.Embed(ctx, text)
//	RecordUpstreamRequest(err == nil, time.Since(start))
func RecordUpstreamRequest(success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	EmbeddingUpstreamRequests.WithLabelValues(status).Inc()
	EmbeddingUpstreamDuration.Observe(duration.Seconds())
}

// UpdateIndexStats updates the index gauges after a write or a generation swap.
func UpdateIndexStats(positions, live int, generation uint64) {
	IndexPositions.Set(float64(positions))
	IndexLiveVectors.Set(float64(live))
	IndexGeneration.Set(float64(generation))
}

// RecordIngestBatch records the outcome counts and duration of one ingestion batch.
func RecordIngestBatch(inserted, updated, skipped, failed int, duration time.Duration) {
	IngestRecordsTotal.WithLabelValues("inserted").Add(float64(inserted))
	IngestRecordsTotal.WithLabelValues("updated").Add(float64(updated))
	IngestRecordsTotal.WithLabelValues("skipped").Add(float64(skipped))
	IngestRecordsTotal.WithLabelValues("failed").Add(float64(failed))
	IngestBatchDuration.Observe(duration.Seconds())
}

// RecordQuery records one query by its status kind.
func RecordQuery(status string, duration time.Duration) {
	QueriesTotal.WithLabelValues(status).Inc()
	QueryDuration.Observe(duration.Seconds())
}

// RecordQueryCache records a result cache lookup.
func RecordQueryCache(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	QueryCacheLookups.WithLabelValues(result).Inc()
}

// RecordConsistencyFault records a detected consistency fault of the given kind.
func RecordConsistencyFault(kind string) {
	ConsistencyFaults.WithLabelValues(kind).Inc()
}
