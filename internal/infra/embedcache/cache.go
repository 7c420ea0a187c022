// Package embedcache implements the content-addressed embedding cache.
//
// Entries are keyed by a hash of the model name and the normalized input text.
// Concurrent lookups of the same key share one upstream computation, and an
// expired entry is served when recomputing it fails (stale-while-error).
package embedcache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"article-finder/internal/domain/entity"
	"article-finder/internal/observability/metrics"
)

// ComputeFunc produces the embedding for text. It is called at most once per key
// at a time.
type ComputeFunc func(ctx context.Context, text string) ([]float32, error)

// Options configures a Cache.
type Options struct {
	// Model is mixed into every key so that vectors of different models never collide.
	Model string

	// TTL is how long a computed vector is served without asking the upstream.
	TTL time.Duration

	// MaxStale is how long past its TTL an entry is kept for stale-while-error.
	// Purge removes entries older than that.
	MaxStale time.Duration

	// ComputeTimeout bounds one shared computation. It is independent of the
	// callers' contexts so that one impatient caller cannot fail the others.
	ComputeTimeout time.Duration

	// Now overrides the clock in tests.
	Now func() time.Time
}

// DefaultTTL is the reference freshness window for cached embeddings.
const DefaultTTL = 30 * 24 * time.Hour

// Cache is safe for concurrent use.
type Cache struct {
	store   Store
	compute ComputeFunc
	opts    Options
	group   singleflight.Group
}

// New creates a cache over store using compute for misses.
func New(store Store, compute ComputeFunc, opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.ComputeTimeout <= 0 {
		opts.ComputeTimeout = 2 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Cache{store: store, compute: compute, opts: opts}
}

type flightResult struct {
	vector []float32
	stale  bool
}

// GetOrCompute returns the vector for text, computing and storing it on a miss.
//
// It fails with an *entity.UpstreamError only when the computation fails and no
// entry for the key exists at all.
func (c *Cache) GetOrCompute(ctx context.Context, text string) (entity.Vector, error) {
	key := Key(c.opts.Model, text)

	cached, found := c.lookup(ctx, key)
	if found && cached.Fresh(c.opts.Now()) {
		metrics.RecordCacheLookup(metrics.CacheFresh)
		return cached.Vector, nil
	}

	// the flight outlives any single caller but keeps its values (request id, trace)
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		return c.fill(flightCtx, key, text)
	})

	select {
	case <-ctx.Done():
		if found {
			metrics.RecordCacheLookup(metrics.CacheStale)
			slog.Warn("Serving stale embedding after caller deadline",
				slog.String("key", key),
				slog.Any("error", ctx.Err()))
			return cached.Vector, nil
		}
		return nil, &entity.UpstreamError{Op: "embed", Err: ctx.Err()}

	case res := <-ch:
		if res.Shared {
			metrics.RecordCoalescedWait()
		}
		if res.Err != nil {
			metrics.RecordCacheLookup(metrics.CacheMiss)
			return nil, res.Err
		}
		fr := res.Val.(flightResult)
		if fr.stale {
			metrics.RecordCacheLookup(metrics.CacheStale)
		} else {
			metrics.RecordCacheLookup(metrics.CacheMiss)
		}
		// every waiter receives the same slice; hand out private copies
		return append(entity.Vector(nil), fr.vector...), nil
	}
}

// fill runs inside the single flight for key.
func (c *Cache) fill(ctx context.Context, key, text string) (flightResult, error) {
	// a flight that finished just before this one started may already have stored it
	prev, found := c.lookup(ctx, key)
	if found && prev.Fresh(c.opts.Now()) {
		return flightResult{vector: prev.Vector}, nil
	}

	computeCtx, cancel := context.WithTimeout(ctx, c.opts.ComputeTimeout)
	defer cancel()

	vec, err := c.compute(computeCtx, text)
	if err != nil {
		if errors.Is(err, entity.ErrInvalidInput) {
			return flightResult{}, err
		}
		if found {
			slog.Warn("Embedding upstream failed, serving stale entry",
				slog.String("key", key),
				slog.Time("valid_until", prev.ValidUntil),
				slog.Any("error", err))
			return flightResult{vector: prev.Vector, stale: true}, nil
		}
		var upstreamErr *entity.UpstreamError
		if errors.As(err, &upstreamErr) {
			return flightResult{}, err
		}
		return flightResult{}, &entity.UpstreamError{Op: "embed", Err: err}
	}

	now := c.opts.Now()
	entry := &Entry{
		Key:        key,
		Vector:     vec,
		Model:      c.opts.Model,
		CreatedAt:  now,
		ValidUntil: now.Add(c.opts.TTL),
	}
	evicted, err := c.store.Put(ctx, entry)
	if err != nil {
		// the vector is still good; the next miss recomputes it
		slog.Warn("Failed to store embedding cache entry",
			slog.String("key", key),
			slog.Any("error", err))
	} else {
		metrics.RecordCacheEvictions("capacity", evicted)
		c.updateSize(ctx)
	}
	return flightResult{vector: vec}, nil
}

// lookup reads key from the store. A failing store is treated as a miss.
func (c *Cache) lookup(ctx context.Context, key string) (*Entry, bool) {
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		slog.Warn("Embedding cache read failed",
			slog.String("key", key),
			slog.Any("error", err))
		return nil, false
	}
	return entry, ok
}

// Purge removes entries that expired more than MaxStale ago and returns how many were removed.
func (c *Cache) Purge(ctx context.Context) (int, error) {
	cutoff := c.opts.Now().Add(-c.opts.MaxStale)
	removed, err := c.store.Purge(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	metrics.RecordCacheEvictions("expired", removed)
	c.updateSize(ctx)
	slog.Info("Purged expired embedding cache entries",
		slog.Int("removed", removed),
		slog.Time("cutoff", cutoff))
	return removed, nil
}

// Len returns the number of stored entries.
func (c *Cache) Len(ctx context.Context) (int, error) {
	return c.store.Len(ctx)
}

// Model returns the model name mixed into the cache keys.
func (c *Cache) Model() string {
	return c.opts.Model
}

func (c *Cache) updateSize(ctx context.Context) {
	if n, err := c.store.Len(ctx); err == nil {
		metrics.UpdateCacheEntries(n)
	}
}
