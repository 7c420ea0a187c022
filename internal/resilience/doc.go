// Package resilience provides fault tolerance for calls that leave the process.
//
// The embedding upstream is wrapped in a circuit breaker (circuitbreaker) and
// retried with backoff (retry). When both give up, the embedding cache falls back
// to a stale entry if one exists.
//
// Usage Example:
//
//	cb := circuitbreaker.New(circuitbreaker.EmbeddingAPIConfig(), nil)
//	vec, err := retry.Do(ctx, retry.EmbeddingAPIConfig(), func() ([]float32, error) {
//	    return circuitbreaker.Execute(cb, func() ([]float32, error) { return call(ctx) })
//	})
package resilience
