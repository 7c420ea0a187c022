// Package query implements the query pipeline: embed a topic, search the
// current index generation, resolve hits to article records and rank them.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"article-finder/internal/domain/entity"
	"article-finder/internal/infra/vectorindex"
	"article-finder/internal/observability/metrics"
	"article-finder/internal/observability/tracing"
	"article-finder/internal/repository"
	"article-finder/internal/utils/text"
)

const (
	// MaxTopK is the largest accepted top_k.
	MaxTopK = 20
	// DefaultOverfetchFactor multiplies top_k so that dropped dangling hits
	// rarely leave the result short.
	DefaultOverfetchFactor = 2
	// DefaultMaxFetch caps the number of hits requested from the index.
	DefaultMaxFetch = 30
	// DefaultStoreTimeout bounds the metadata lookup of one query.
	DefaultStoreTimeout = 5 * time.Second
)

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) (entity.Vector, error)
}

// Config tunes the pipeline. Zero values select the defaults.
type Config struct {
	OverfetchFactor int
	MaxFetch        int
	StoreTimeout    time.Duration
	// CacheSize is the number of query texts whose hits are remembered; 0 disables caching.
	CacheSize int
	CacheTTL  time.Duration
}

// Service answers queries. It is safe for concurrent use and never writes to
// the index.
type Service struct {
	catalog  *vectorindex.Catalog
	embedder Embedder
	store    repository.ArticleRepository
	cfg      Config
	cache    *hitCache
}

func NewService(catalog *vectorindex.Catalog, embedder Embedder, store repository.ArticleRepository, cfg Config) *Service {
	if cfg.OverfetchFactor <= 0 {
		cfg.OverfetchFactor = DefaultOverfetchFactor
	}
	if cfg.MaxFetch <= 0 {
		cfg.MaxFetch = DefaultMaxFetch
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	return &Service{
		catalog:  catalog,
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		cache:    newHitCache(cfg.CacheSize, cfg.CacheTTL),
	}
}

// Query returns up to topK articles most similar to topic, best first. Ties
// in score go to the earlier index position.
//
// topK == 0 returns an empty result; topK < 0 or topK > MaxTopK is an
// *entity.InvalidInputError. Hits whose position is unbound or whose article
// has no metadata are dropped with a warning; hits on positions tombstoned
// since the search are dropped silently. A metadata store failure fails
// the whole query; no partial result is returned.
func (s *Service) Query(ctx context.Context, topic string, topK int) (results []entity.RankedArticle, err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "query.Query", attribute.Int("top_k", topK))
	defer func() {
		metrics.RecordQuery(entity.Kind(err), time.Since(start))
		tracing.EndSpan(span, err)
	}()

	if topK < 0 || topK > MaxTopK {
		return nil, &entity.InvalidInputError{
			Field:   "top_k",
			Message: fmt.Sprintf("top_k must be between 0 and %d, got %d", MaxTopK, topK),
		}
	}
	if topK == 0 {
		return []entity.RankedArticle{}, nil
	}
	if text.IsBlank(topic) {
		return nil, &entity.InvalidInputError{Field: "query", Message: "query text is empty"}
	}

	gen := s.catalog.Current()
	hits, err := s.search(ctx, gen, topic, topK)
	if err != nil {
		return nil, err
	}

	results, dropped, err := s.resolve(ctx, gen, hits)
	if err != nil {
		return nil, err
	}
	if len(results) > topK {
		results = results[:topK]
	}

	span.SetAttributes(attribute.Int("results", len(results)), attribute.Int("dropped", dropped))
	slog.Debug("Query completed",
		slog.Int("top_k", topK),
		slog.Int("hits", len(hits)),
		slog.Int("results", len(results)),
		slog.Int("dropped", dropped),
		slog.Uint64("generation", gen.Number))
	return results, nil
}

func (s *Service) fetchK(topK int) int {
	return max(min(topK*s.cfg.OverfetchFactor, s.cfg.MaxFetch), topK)
}

// search embeds topic and runs the nearest-neighbour search against gen,
// consulting the hit cache first.
func (s *Service) search(ctx context.Context, gen *vectorindex.Generation, topic string, topK int) ([]vectorindex.Hit, error) {
	k := s.fetchK(topK)
	key := text.Normalize(topic)
	if hits, ok := s.cache.get(key, gen, k); ok {
		return hits, nil
	}

	// sampled before the search: a concurrent Add can only invalidate the entry
	positions, live := gen.Index.Len(), gen.Index.Live()
	if live == 0 {
		return []vectorindex.Hit{}, nil
	}

	vec, err := s.embedder.Embed(ctx, topic)
	if err != nil {
		return nil, err
	}
	hits, err := gen.Index.Search(vec, k)
	if err != nil {
		return nil, err
	}
	s.cache.put(key, gen, positions, live, k, hits)
	return hits, nil
}

// resolve maps hits to records through gen's binding and the metadata store.
func (s *Service) resolve(ctx context.Context, gen *vectorindex.Generation, hits []vectorindex.Hit) ([]entity.RankedArticle, int, error) {
	if len(hits) == 0 {
		return []entity.RankedArticle{}, 0, nil
	}

	positions := make([]entity.IndexPosition, len(hits))
	for i, h := range hits {
		positions[i] = h.Position
	}
	bound := gen.Binding.Resolve(positions)

	ids := make([]string, 0, len(bound))
	for _, h := range hits {
		if id, ok := bound[h.Position]; ok {
			ids = append(ids, id)
		}
	}

	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()
	records, err := s.store.GetMany(storeCtx, ids)
	if err != nil {
		return nil, 0, err
	}

	results := make([]entity.RankedArticle, 0, len(hits))
	dropped := 0
	for _, h := range hits {
		id, ok := bound[h.Position]
		if !ok {
			dropped++
			// a re-embedded article leaves its old position unbound and tombstoned
			if gen.Index.IsLive(h.Position) {
				s.dangling(entity.FaultUnboundPosition, h.Position, "", gen.Number)
			}
			continue
		}
		rec, ok := records[id]
		if !ok {
			dropped++
			s.dangling(entity.FaultMissingMetadata, h.Position, id, gen.Number)
			continue
		}
		results = append(results, entity.RankedArticle{
			Record:   *rec,
			Score:    h.Score,
			Position: h.Position,
			Excerpt:  rec.Excerpt(),
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Position < results[j].Position
	})
	return results, dropped, nil
}

func (s *Service) dangling(kind string, pos entity.IndexPosition, id string, generation uint64) {
	metrics.RecordConsistencyFault(kind)
	slog.Warn("Dropping dangling search hit",
		slog.String("kind", kind),
		slog.Int64("position", pos),
		slog.String("article_id", id),
		slog.Uint64("generation", generation))
}

// InvalidateCache forgets every cached search. Entries are also invalidated
// automatically whenever the index changes.
func (s *Service) InvalidateCache() {
	s.cache.purge()
}

// Stats describes the current index generation and the metadata store.
type Stats struct {
	Generation  uint64 `json:"generation"`
	Dimension   int    `json:"dimension"`
	Positions   int    `json:"positions"`
	LiveVectors int    `json:"live_vectors"`
	Bindings    int    `json:"bindings"`
	Articles    int64  `json:"articles"`
}

// Stats reports index and store sizes.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	gen := s.catalog.Current()
	storeCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
	defer cancel()

	n, err := s.store.Count(storeCtx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Generation:  gen.Number,
		Dimension:   gen.Index.Dimension(),
		Positions:   gen.Index.Len(),
		LiveVectors: gen.Index.Live(),
		Bindings:    gen.Binding.Len(),
		Articles:    n,
	}, nil
}
