// Package metrics provides Prometheus metrics registry and recording utilities.
//
// This package centralizes all application metrics including:
//   - HTTP request metrics (duration, count)
//   - Embedding cache and upstream metrics
//   - Vector index, ingestion and query metrics
//   - Metadata store operation metrics
//
// All metrics are automatically registered with the Prometheus default registry
// and exposed via the /metrics endpoint.
//
// Example usage:
//
//	import "article-finder/internal/observability/metrics"
//
//	func search(ctx context.Context) {
//	    start := time.Now()
//	    // ... run query ...
//	    metrics.RecordQuery("ok", time.Since(start))
//	}
package metrics
