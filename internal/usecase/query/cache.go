package query

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"article-finder/internal/infra/vectorindex"
	"article-finder/internal/observability/metrics"
)

// cachedHits is the search outcome for one normalized query text. It is only
// valid against the index state it was computed from.
type cachedHits struct {
	serial    uint64
	positions int
	live      int
	k         int
	hits      []vectorindex.Hit
}

// hitCache remembers search hits, not articles, so that metadata is always read
// fresh and dangling entries are still filtered on every query.
type hitCache struct {
	lru *expirable.LRU[string, cachedHits]
}

func newHitCache(size int, ttl time.Duration) *hitCache {
	if size <= 0 {
		return nil
	}
	return &hitCache{lru: expirable.NewLRU[string, cachedHits](size, nil, ttl)}
}

// get returns hits for key when they were computed against the same loaded
// generation, in its current state, with at least k results requested.
func (c *hitCache) get(key string, gen *vectorindex.Generation, k int) ([]vectorindex.Hit, bool) {
	if c == nil {
		return nil, false
	}
	entry, ok := c.lru.Get(key)
	hit := ok &&
		entry.serial == gen.Serial() &&
		entry.positions == gen.Index.Len() &&
		entry.live == gen.Index.Live() &&
		entry.k >= k
	metrics.RecordQueryCache(hit)
	if !hit {
		return nil, false
	}
	return entry.hits, true
}

func (c *hitCache) put(key string, gen *vectorindex.Generation, positions, live, k int, hits []vectorindex.Hit) {
	if c == nil {
		return
	}
	c.lru.Add(key, cachedHits{serial: gen.Serial(), positions: positions, live: live, k: k, hits: hits})
}

func (c *hitCache) purge() {
	if c != nil {
		c.lru.Purge()
	}
}
