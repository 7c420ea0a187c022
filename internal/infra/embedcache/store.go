package embedcache

import (
	"context"
	"time"
)

// Store is the durable backing of the embedding cache.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the entry for key. ok is false when there is none.
	Get(ctx context.Context, key string) (entry *Entry, ok bool, err error)

	// Put inserts or replaces an entry and evicts the oldest entries (by CreatedAt)
	// while the store holds more than its capacity. It returns the eviction count.
	Put(ctx context.Context, entry *Entry) (evicted int, err error)

	// Delete removes key if present.
	Delete(ctx context.Context, key string) error

	// Len returns the number of entries.
	Len(ctx context.Context) (int, error)

	// Purge removes every entry whose ValidUntil is before cutoff.
	Purge(ctx context.Context, cutoff time.Time) (removed int, err error)

	Close() error
}
