// Package app wires the configured backends into the ingestion and query
// services shared by the binaries.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"article-finder/internal/config"
	hhttp "article-finder/internal/handler/http"
	"article-finder/internal/infra/adapter/persistence/memory"
	"article-finder/internal/infra/adapter/persistence/postgres"
	redisrepo "article-finder/internal/infra/adapter/persistence/redis"
	"article-finder/internal/infra/adapter/persistence/sqlite"
	"article-finder/internal/infra/db"
	"article-finder/internal/infra/embedcache"
	"article-finder/internal/infra/embedder"
	"article-finder/internal/infra/vectorindex"
	"article-finder/internal/observability/metrics"
	"article-finder/internal/repository"
	"article-finder/internal/resilience/retry"
	"article-finder/internal/usecase/article"
	"article-finder/internal/usecase/ingest"
	"article-finder/internal/usecase/query"
)

// Options alter how New opens the backends.
type Options struct {
	// FreshIndex starts an empty index instead of loading the file, for a
	// rebuild that will replace it.
	FreshIndex bool
	// Process names the binary. A bolt embedding cache is opened at a path
	// carrying this name, since bbolt lets one process at a time use a file.
	Process string
}

// App holds the wired components. Close releases them.
type App struct {
	Config   *config.Config
	Catalog  *vectorindex.Catalog
	Cache    *embedcache.Cache
	Client   *embedder.Client
	Store    repository.ArticleRepository
	Ingest   *ingest.Service
	Query    *query.Service
	Articles *article.Service

	redis   *goredis.Client
	checks  []hhttp.Check
	closers []func() error
}

// New opens every backend named by cfg. On error whatever was already opened is closed.
func New(ctx context.Context, cfg *config.Config, opts Options) (_ *App, err error) {
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	upstream := newUpstream(cfg.Embedding)
	if err := a.openCache(ctx, cfg, opts.Process, upstream); err != nil {
		return nil, err
	}
	a.Client = embedder.NewClient(a.Cache, embedder.Options{
		MaxInputRunes:    cfg.Embedding.MaxInputRunes,
		OverlengthPolicy: cfg.Embedding.OverlengthPolicy,
		Parallelism:      cfg.Embedding.BatchParallelism,
	})

	if err := a.openIndex(cfg.Index.Path, cfg.Embedding.Dimension, opts.FreshIndex); err != nil {
		return nil, err
	}
	if err := a.openStore(ctx, cfg.Store); err != nil {
		return nil, err
	}

	a.Ingest = ingest.NewService(a.Catalog, a.Client, a.Store, 0)
	a.Query = query.NewService(a.Catalog, a.Client, a.Store, query.Config{
		OverfetchFactor: cfg.Query.OverfetchFactor,
		MaxFetch:        cfg.Query.MaxSearchK,
		StoreTimeout:    cfg.Query.StoreTimeout,
		CacheSize:       cfg.Query.CacheSize,
		CacheTTL:        cfg.Query.CacheTTL,
	})
	a.Articles = &article.Service{Repo: a.Store}

	a.checks = append(a.checks, hhttp.Check{Name: "index", Probe: a.indexReady})
	if checker, ok := upstream.(interface{ Check(context.Context) error }); ok {
		a.checks = append(a.checks, hhttp.Check{Name: "embedding_upstream", Optional: true, Probe: checker.Check})
	}

	slog.Info("Application initialized",
		slog.String("embedding_provider", cfg.Embedding.Provider),
		slog.String("cache_backend", cfg.Cache.Backend),
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("index_path", cfg.Index.Path),
		slog.Uint64("generation", a.Catalog.Current().Number))
	return a, nil
}

// WatchIndex follows index files written by other processes until ctx is
// done. Each reloaded generation is served to new queries at once.
func (a *App) WatchIndex(ctx context.Context) {
	a.Catalog.Watch(ctx, a.Config.Index.ReloadInterval, func(gen *vectorindex.Generation) {
		a.Query.InvalidateCache()
		metrics.UpdateIndexStats(gen.Index.Len(), gen.Index.Live(), gen.Number)
	})
}

// Checks returns the health checks of the opened backends.
func (a *App) Checks() []hhttp.Check { return a.checks }

// Close releases the backends in reverse opening order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func newUpstream(cfg config.EmbeddingConfig) embedder.Upstream {
	var up embedder.Upstream
	switch cfg.Provider {
	case config.ProviderHash:
		up = embedder.NewHashUpstream(cfg.Dimension)
	default:
		policy := retry.EmbeddingAPIConfig()
		policy.MaxAttempts = cfg.MaxAttempts
		policy.InitialDelay = cfg.RetryDelay
		policy.MaxDelay = cfg.RetryDelay
		up = embedder.NewOpenAIUpstream(embedder.OpenAIConfig{
			BaseURL:      cfg.BaseURL,
			APIKey:       cfg.APIKey,
			Model:        cfg.Model,
			Timeout:      cfg.Timeout,
			Retry:        policy,
			RateLimitRPS: cfg.RateLimitRPS,
		})
	}
	return withCheck(embedder.WithDimension(up, cfg.Dimension), up)
}

// withCheck keeps the Check method of the raw upstream visible through the
// dimension guard.
func withCheck(guarded, raw embedder.Upstream) embedder.Upstream {
	checker, ok := raw.(interface{ Check(context.Context) error })
	if !ok {
		return guarded
	}
	return &checkedUpstream{Upstream: guarded, check: checker.Check}
}

type checkedUpstream struct {
	embedder.Upstream
	check func(context.Context) error
}

func (u *checkedUpstream) Check(ctx context.Context) error { return u.check(ctx) }

func (a *App) openCache(ctx context.Context, all *config.Config, process string, upstream embedder.Upstream) error {
	cfg := all.Cache
	var store embedcache.Store
	switch cfg.Backend {
	case config.CacheBackendMemory:
		store = embedcache.NewMemoryStore(cfg.MaxEntries)
	case config.CacheBackendRedis:
		client, err := a.redisClient(ctx, all.Store)
		if err != nil {
			return fmt.Errorf("open embedding cache: %w", err)
		}
		store = embedcache.NewRedisStore(client, cfg.MaxEntries)
	default:
		bolt, err := embedcache.OpenBoltStore(processPath(cfg.Path, process), cfg.MaxEntries)
		if err != nil {
			return fmt.Errorf("open embedding cache: %w", err)
		}
		store = bolt
	}
	a.closers = append(a.closers, store.Close)

	a.Cache = embedcache.New(store, upstream.Embed, embedcache.Options{
		Model:    upstream.Model(),
		TTL:      cfg.TTL,
		MaxStale: cfg.MaxStale,
	})
	return nil
}

func (a *App) openIndex(path string, dim int, fresh bool) error {
	if fresh {
		a.Catalog = vectorindex.Create(path, dim)
		return nil
	}
	catalog, err := vectorindex.Open(path, dim)
	if errors.Is(err, vectorindex.ErrNeedsRebuild) {
		return fmt.Errorf("%w; run `indexctl rebuild`", err)
	}
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}
	a.Catalog = catalog
	return nil
}

func (a *App) openStore(ctx context.Context, cfg config.StoreConfig) error {
	switch cfg.Backend {
	case config.StoreBackendPostgres:
		database, err := db.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		return a.useSQL(ctx, database, db.Postgres, postgres.NewArticleRepo)
	case config.StoreBackendSQLite:
		database, err := db.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return err
		}
		return a.useSQL(ctx, database, db.SQLite, sqlite.NewArticleRepo)
	case config.StoreBackendRedis:
		client, err := a.redisClient(ctx, cfg)
		if err != nil {
			return err
		}
		a.Store = redisrepo.NewArticleRepo(client)
		a.checks = append(a.checks, hhttp.Check{Name: "store", Probe: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}})
	default:
		a.Store = memory.NewArticleRepo()
		slog.Warn("Using in-memory metadata store; articles are lost on exit")
	}
	return nil
}

// redisClient connects once; the cache and the store share the client.
func (a *App) redisClient(ctx context.Context, cfg config.StoreConfig) (*goredis.Client, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	a.closers = append(a.closers, client.Close)
	err := retry.WithBackoff(ctx, retry.StoreConfig(), func() error { return client.Ping(ctx).Err() })
	if err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	a.redis = client
	return client, nil
}

// processPath inserts process before the extension of path:
// data/embed_cache.db becomes data/embed_cache.api.db.
func processPath(path, process string) string {
	if process == "" {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + process + ext
}

func (a *App) useSQL(ctx context.Context, database *sql.DB, dialect db.Dialect,
	newRepo func(*sql.DB) repository.ArticleRepository) error {
	a.closers = append(a.closers, database.Close)
	if err := db.MigrateUp(ctx, database, dialect); err != nil {
		return err
	}
	a.Store = newRepo(database)
	a.checks = append(a.checks, hhttp.Check{Name: "store", Probe: database.PingContext})
	return nil
}

// indexReady fails when the index file of a non-empty generation has gone missing.
func (a *App) indexReady(context.Context) error {
	gen := a.Catalog.Current()
	if gen == nil {
		return errors.New("no index generation loaded")
	}
	if a.Catalog.Path() == "" || gen.Index.Len() == 0 {
		return nil
	}
	if _, err := os.Stat(a.Catalog.Path()); err != nil {
		return fmt.Errorf("index file: %w", err)
	}
	return nil
}
