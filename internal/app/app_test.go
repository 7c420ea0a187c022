package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"article-finder/internal/config"
	"article-finder/internal/domain/entity"
	"article-finder/internal/infra/vectorindex"
	"article-finder/internal/usecase/ingest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Embedding.Provider = config.ProviderHash
	cfg.Embedding.Dimension = 64
	cfg.Cache.Backend = config.CacheBackendMemory
	cfg.Index.Path = filepath.Join(dir, "index.db")
	cfg.Store.Backend = config.StoreBackendMemory
	require.NoError(t, cfg.Validate())
	return cfg
}

func checkNames(a *App) []string {
	var names []string
	for _, c := range a.Checks() {
		names = append(names, c.Name)
	}
	return names
}

func TestNew_IngestThenQuery(t *testing.T) {
	ctx := context.Background()
	a, err := New(ctx, testConfig(t), Options{})
	require.NoError(t, err)
	defer func() { assert.NoError(t, a.Close()) }()

	report, err := a.Ingest.Ingest(ctx, []*entity.ArticleRecord{
		{ID: "go", Title: "Go", Content: "goroutines and channels in the go scheduler"},
		{ID: "pg", Title: "Postgres", Content: "vacuum and indexes in postgres"},
	}, ingest.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Inserted)

	results, err := a.Query.Query(ctx, "go scheduler goroutines", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "go", results[0].Record.ID)

	assert.Equal(t, []string{"index"}, checkNames(a))
	for _, c := range a.Checks() {
		assert.NoError(t, c.Probe(ctx), c.Name)
	}
}

func TestNew_SQLiteAndBoltSurviveRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Cache.Backend = config.CacheBackendBolt
	cfg.Cache.Path = filepath.Join(dir, "cache", "embed.db")
	cfg.Store.Backend = config.StoreBackendSQLite
	cfg.Store.SQLitePath = filepath.Join(dir, "articles.db")

	a, err := New(ctx, cfg, Options{})
	require.NoError(t, err)
	_, err = a.Ingest.Ingest(ctx, []*entity.ArticleRecord{
		{ID: "a1", Title: "Bolt", Content: "embedded key value store"},
	}, ingest.Options{})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"store", "index"}, checkNames(a))
	require.NoError(t, a.Close())

	b, err := New(ctx, cfg, Options{})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	stats, err := b.Query.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.LiveVectors)
	assert.EqualValues(t, 1, stats.Articles)

	n, err := b.Cache.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestNew_CorruptIndexNeedsRebuild(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Index.Path, []byte("not an index"), 0o600))

	_, err := New(context.Background(), cfg, Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, vectorindex.ErrNeedsRebuild)
	assert.Contains(t, err.Error(), "indexctl rebuild")

	a, err := New(context.Background(), cfg, Options{FreshIndex: true})
	require.NoError(t, err)
	defer func() { _ = a.Close() }()
	assert.Equal(t, 0, a.Catalog.Current().Index.Len())
}

func TestNew_IndexCheckFailsWhenFileRemoved(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	a, err := New(ctx, cfg, Options{})
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	_, err = a.Ingest.Ingest(ctx, []*entity.ArticleRecord{{ID: "x", Title: "X", Content: "some text"}}, ingest.Options{})
	require.NoError(t, err)
	require.NoError(t, a.indexReady(ctx))

	require.NoError(t, os.Remove(cfg.Index.Path))
	assert.Error(t, a.indexReady(ctx))
}

func TestNewUpstream_OpenAIExposesCheck(t *testing.T) {
	cfg := config.Default().Embedding
	cfg.APIKey = "sk-test"
	up := newUpstream(cfg)

	checker, ok := up.(interface{ Check(context.Context) error })
	require.True(t, ok)
	assert.NoError(t, checker.Check(context.Background()))
	assert.Equal(t, "BAAI/bge-m3", up.Model())
}

func TestProcessPath(t *testing.T) {
	assert.Equal(t, "data/embed_cache.api.db", processPath("data/embed_cache.db", "api"))
	assert.Equal(t, "cache.worker", processPath("cache", "worker"))
	assert.Equal(t, "data/embed_cache.db", processPath("data/embed_cache.db", ""))
}

// sharedConfig is the configuration of a deployment where the API, the worker
// and indexctl run as separate processes on one data directory.
func sharedConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := testConfig(t)
	cfg.Cache.Backend = config.CacheBackendBolt
	cfg.Cache.Path = filepath.Join(dir, "embed_cache.db")
	cfg.Index.Path = filepath.Join(dir, "index.db")
	cfg.Index.ReloadInterval = 20 * time.Millisecond
	cfg.Store.Backend = config.StoreBackendSQLite
	cfg.Store.SQLitePath = filepath.Join(dir, "articles.db")
	return cfg
}

func TestNew_APISeesWorkerIngestion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := sharedConfig(t)

	api, err := New(ctx, cfg, Options{Process: "api"})
	require.NoError(t, err)
	defer func() { _ = api.Close() }()
	go api.WatchIndex(ctx)

	worker, err := New(ctx, cfg, Options{Process: "worker"})
	require.NoError(t, err, "both processes must be able to open their caches")
	defer func() { _ = worker.Close() }()

	results, err := api.Query.Query(ctx, "AI ethics", 1)
	require.NoError(t, err)
	assert.Empty(t, results)

	report, err := worker.Ingest.Ingest(ctx, []*entity.ArticleRecord{
		{ID: "a1", Title: "AI ethics", Content: "AI ethics discussion"},
	}, ingest.Options{})
	require.NoError(t, err)
	require.Equal(t, 1, report.Inserted)

	require.Eventually(t, func() bool {
		results, err := api.Query.Query(ctx, "AI ethics", 1)
		return err == nil && len(results) == 1 && results[0].Record.ID == "a1"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, api.Catalog.Current().Index.Live())

	_, err = os.Stat(filepath.Join(filepath.Dir(cfg.Cache.Path), "embed_cache.api.db"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(filepath.Dir(cfg.Cache.Path), "embed_cache.worker.db"))
	assert.NoError(t, err)
}

func TestNew_APISeesRebuildFromAnotherProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := sharedConfig(t)

	writer, err := New(ctx, cfg, Options{Process: "indexctl"})
	require.NoError(t, err)
	defer func() { _ = writer.Close() }()
	_, err = writer.Ingest.Ingest(ctx, []*entity.ArticleRecord{
		{ID: "a1", Title: "AI", Content: "AI ethics discussion"},
		{ID: "b1", Title: "Sport", Content: "football league results"},
	}, ingest.Options{})
	require.NoError(t, err)

	api, err := New(ctx, cfg, Options{Process: "api"})
	require.NoError(t, err)
	defer func() { _ = api.Close() }()
	go api.WatchIndex(ctx)
	before := api.Catalog.Current().Number

	_, err = writer.Ingest.Rebuild(ctx, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return api.Catalog.Current().Number == before+1
	}, 5*time.Second, 20*time.Millisecond)
	results, err := api.Query.Query(ctx, "football league", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b1", results[0].Record.ID)
}

func TestNew_RedisCacheSharedByProcesses(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Cache.Backend = config.CacheBackendRedis
	cfg.Store.Backend = config.StoreBackendRedis
	cfg.Store.RedisAddr = mr.Addr()

	worker, err := New(ctx, cfg, Options{Process: "worker"})
	require.NoError(t, err)
	defer func() { _ = worker.Close() }()
	api, err := New(ctx, cfg, Options{Process: "api"})
	require.NoError(t, err)
	defer func() { _ = api.Close() }()

	_, err = worker.Ingest.Ingest(ctx, []*entity.ArticleRecord{
		{ID: "a1", Title: "AI", Content: "AI ethics discussion"},
	}, ingest.Options{})
	require.NoError(t, err)

	n, err := api.Cache.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.ElementsMatch(t, []string{"index", "store"}, checkNames(api))
}
