package ingest_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"article-finder/internal/domain/entity"
	"article-finder/internal/infra/adapter/persistence/memory"
	"article-finder/internal/infra/embedcache"
	"article-finder/internal/infra/embedder"
	"article-finder/internal/infra/vectorindex"
	"article-finder/internal/usecase/ingest"
)

const dim = 64

/*────────────────────  harness  ────────────────────*/

// flakyUpstream is the hashing embedder with call counting and failure switches.
type flakyUpstream struct {
	hash     *embedder.HashUpstream
	calls    atomic.Int32
	down     atomic.Bool
	mu       sync.Mutex
	failText map[string]bool
}

func (u *flakyUpstream) embed(ctx context.Context, text string) ([]float32, error) {
	u.calls.Add(1)
	if u.down.Load() {
		return nil, errors.New("upstream returned 503")
	}
	u.mu.Lock()
	fail := u.failText[text]
	u.mu.Unlock()
	if fail {
		return nil, errors.New("upstream returned 500")
	}
	return u.hash.Embed(ctx, text)
}

func (u *flakyUpstream) failOn(text string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.failText[text] = true
}

// failingStore makes Put fail once armed.
type failingStore struct {
	*memory.ArticleRepo
	failPut atomic.Bool
}

func (s *failingStore) Put(ctx context.Context, rec *entity.ArticleRecord) error {
	if s.failPut.Load() {
		return &entity.StoreError{Op: "Put", Err: errors.New("connection refused")}
	}
	return s.ArticleRepo.Put(ctx, rec)
}

type harness struct {
	catalog  *vectorindex.Catalog
	store    *failingStore
	upstream *flakyUpstream
	svc      *ingest.Service
}

func newHarness(t *testing.T, indexPath string) *harness {
	t.Helper()
	catalog, err := vectorindex.Open(indexPath, dim)
	require.NoError(t, err)
	return newHarnessWith(catalog)
}

func newHarnessWith(catalog *vectorindex.Catalog) *harness {
	up := &flakyUpstream{hash: embedder.NewHashUpstream(dim), failText: map[string]bool{}}
	cache := embedcache.New(embedcache.NewMemoryStore(0), up.embed, embedcache.Options{Model: embedder.HashModel})
	client := embedder.NewClient(cache, embedder.Options{})
	store := &failingStore{ArticleRepo: memory.NewArticleRepo()}

	return &harness{
		catalog:  catalog,
		store:    store,
		upstream: up,
		svc:      ingest.NewService(catalog, client, store, 2),
	}
}

func article(id, title, content string) *entity.ArticleRecord {
	return &entity.ArticleRecord{ID: id, Title: title, Content: content, URL: "http://x/" + id}
}

func (h *harness) position(t *testing.T, id string) entity.IndexPosition {
	t.Helper()
	pos, ok := h.catalog.Current().Binding.Position(id)
	require.True(t, ok, "no binding for %s", id)
	return pos
}

/*────────────────────  ingestion  ────────────────────*/

func TestIngest_InsertsNewRecords(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	report, err := h.svc.Ingest(ctx, []*entity.ArticleRecord{
		article("a1", "T1", "AI ethics discussion"),
		article("a2", "T2", "Football league results"),
		article("a3", "T3", "Central bank raises rates"),
	}, ingest.Options{})
	require.NoError(t, err)

	assert.Equal(t, entity.IngestionReport{Inserted: 3}, *report)
	gen := h.catalog.Current()
	assert.Equal(t, 3, gen.Index.Len())
	assert.Equal(t, 3, gen.Binding.Len())

	got, err := h.store.Get(ctx, "a2")
	require.NoError(t, err)
	assert.Equal(t, "Football league results", got.Content)
}

func TestIngest_SameBatchTwiceIsIdempotent(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	batch := []*entity.ArticleRecord{article("a1", "T1", "AI ethics discussion")}

	_, err := h.svc.Ingest(ctx, batch, ingest.Options{})
	require.NoError(t, err)
	calls := h.upstream.calls.Load()

	report, err := h.svc.Ingest(ctx, batch, ingest.Options{})
	require.NoError(t, err)

	assert.Equal(t, entity.IngestionReport{Skipped: 1}, *report)
	assert.Equal(t, 1, h.catalog.Current().Index.Len())
	n, err := h.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, calls, h.upstream.calls.Load())
}

func TestIngest_DeduplicatesLastOccurrenceWins(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	report, err := h.svc.Ingest(ctx, []*entity.ArticleRecord{
		article("a", "first", "first version"),
		article("b", "B", "other article"),
		article("a", "second", "second version"),
	}, ingest.Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Inserted)
	assert.Equal(t, 2, report.Total())
	assert.Equal(t, 2, h.catalog.Current().Index.Len())

	got, err := h.store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "second", got.Title)
	assert.Equal(t, "second version", got.Content)
	// first-seen order: a keeps position 0
	assert.Equal(t, entity.IndexPosition(0), h.position(t, "a"))
}

func TestIngest_PaddedIDsNameTheSameArticle(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	withID := func(id, title, content string) *entity.ArticleRecord {
		rec := article("a1", title, content)
		rec.ID = id
		return rec
	}
	padded := withID(" a1 ", "second", "second version")

	report, err := h.svc.Ingest(ctx, []*entity.ArticleRecord{
		withID("a1", "first", "first version"),
		padded,
	}, ingest.Options{})
	require.NoError(t, err)
	assert.Equal(t, entity.IngestionReport{Inserted: 1}, *report)
	assert.Equal(t, " a1 ", padded.ID, "caller's record must not be modified")

	got, err := h.store.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", got.ID)
	assert.Equal(t, "second", got.Title)
	_, err = h.store.Get(ctx, " a1 ")
	assert.ErrorIs(t, err, entity.ErrNotFound)

	report, err = h.svc.Ingest(ctx, []*entity.ArticleRecord{withID("\ta1", "second", "second version")}, ingest.Options{})
	require.NoError(t, err)
	assert.Equal(t, entity.IngestionReport{Skipped: 1}, *report)
	n, err := h.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, h.catalog.Current().Binding.Len())
}

func TestIngest_MetadataOnlyChangeDoesNotReembed(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	_, err := h.svc.Ingest(ctx, []*entity.ArticleRecord{article("a", "old title", "same body")}, ingest.Options{})
	require.NoError(t, err)
	calls := h.upstream.calls.Load()

	report, err := h.svc.Ingest(ctx, []*entity.ArticleRecord{article("a", "new title", "same  body")}, ingest.Options{})
	require.NoError(t, err)

	assert.Equal(t, entity.IngestionReport{Updated: 1}, *report)
	assert.Equal(t, 1, h.catalog.Current().Index.Len())
	assert.Equal(t, calls, h.upstream.calls.Load())

	got, err := h.store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "new title", got.Title)
}

func TestIngest_ContentChangeReplacesVector(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	_, err := h.svc.Ingest(ctx, []*entity.ArticleRecord{article("a", "T", "original body")}, ingest.Options{})
	require.NoError(t, err)
	oldPos := h.position(t, "a")

	report, err := h.svc.Ingest(ctx, []*entity.ArticleRecord{article("a", "T", "rewritten body")}, ingest.Options{})
	require.NoError(t, err)

	assert.Equal(t, entity.IngestionReport{Updated: 1}, *report)
	gen := h.catalog.Current()
	newPos := h.position(t, "a")
	assert.NotEqual(t, oldPos, newPos)
	assert.False(t, gen.Index.IsLive(oldPos))
	assert.True(t, gen.Index.IsLive(newPos))
	assert.Equal(t, 2, gen.Index.Len())
	assert.Equal(t, 1, gen.Index.Live())
}

func TestIngest_ForceReembed(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	batch := []*entity.ArticleRecord{article("a", "T", "body")}

	_, err := h.svc.Ingest(ctx, batch, ingest.Options{})
	require.NoError(t, err)

	report, err := h.svc.Ingest(ctx, batch, ingest.Options{ForceReembed: true})
	require.NoError(t, err)

	assert.Equal(t, entity.IngestionReport{Updated: 1}, *report)
	assert.Equal(t, 2, h.catalog.Current().Index.Len())
	assert.Equal(t, 1, h.catalog.Current().Index.Live())
}

func TestIngest_InvalidRecordsFailIndividually(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	report, err := h.svc.Ingest(ctx, []*entity.ArticleRecord{
		article("ok", "T", "fine"),
		article("", "T", "no id"),
		article("notitle", "", "body"),
		article("nobody", "T", " "),
		nil,
	}, ingest.Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Inserted)
	assert.Equal(t, 4, report.Failed)
	require.Len(t, report.Failures, 4)
	assert.Equal(t, "#1", report.Failures[0].ID)
	assert.Equal(t, 1, h.catalog.Current().Index.Len())
}

func TestIngest_EmbeddingFailureFailsOnlyThatRecord(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	h.upstream.failOn("poisoned body")

	report, err := h.svc.Ingest(ctx, []*entity.ArticleRecord{
		article("a", "T", "healthy body"),
		article("b", "T", "poisoned body"),
		article("c", "T", "another healthy body"),
	}, ingest.Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Inserted)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, "b", report.Failures[0].ID)

	_, err = h.store.Get(ctx, "b")
	assert.ErrorIs(t, err, entity.ErrNotFound)
	_, bound := h.catalog.Current().Binding.Position("b")
	assert.False(t, bound)
}

func TestIngest_StoreFailureAbortsAndLeavesOrphanBinding(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	h.store.failPut.Store(true)

	report, err := h.svc.Ingest(ctx, []*entity.ArticleRecord{
		article("a", "T", "first"),
		article("b", "T", "second"),
		article("c", "T", "third"),
	}, ingest.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrStore)
	assert.Equal(t, 0, report.Inserted)

	// chunk size 2: only the first chunk reached the index
	gen := h.catalog.Current()
	assert.Equal(t, 2, gen.Binding.Len())
	_, bound := gen.Binding.Position("c")
	assert.False(t, bound)

	faults, err := h.svc.Verify(ctx)
	require.NoError(t, err)
	require.Len(t, faults, 2)
	for _, f := range faults {
		assert.Equal(t, entity.FaultMissingMetadata, f.Kind)
	}
}

func TestIngest_PersistFailureWritesNoMetadata(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	h := newHarnessWith(vectorindex.Create(filepath.Join(blocker, "index.db"), dim))
	ctx := context.Background()

	_, err := h.svc.Ingest(ctx, []*entity.ArticleRecord{article("a", "T", "body")}, ingest.Options{})
	assert.ErrorIs(t, err, entity.ErrStore)

	n, err := h.store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIngest_PersistsIndexBeforeMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	h := newHarness(t, path)
	ctx := context.Background()

	_, err := h.svc.Ingest(ctx, []*entity.ArticleRecord{article("a", "T", "body")}, ingest.Options{})
	require.NoError(t, err)

	reopened, err := vectorindex.Open(path, dim)
	require.NoError(t, err)
	id, ok := reopened.Current().Binding.ArticleID(0)
	assert.True(t, ok)
	assert.Equal(t, "a", id)
}

func TestIngest_ReportsProgress(t *testing.T) {
	h := newHarness(t, "")
	var seen []int
	_, err := h.svc.Ingest(context.Background(), []*entity.ArticleRecord{
		article("a", "T", "one"), article("b", "T", "two"), article("c", "T", "three"),
	}, ingest.Options{Progress: func(done, total int) {
		assert.Equal(t, 3, total)
		seen = append(seen, done)
	}})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, seen)
}

func TestIngest_CancelledContext(t *testing.T) {
	h := newHarness(t, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.svc.Ingest(ctx, []*entity.ArticleRecord{article("a", "T", "body")}, ingest.Options{})
	assert.ErrorIs(t, err, context.Canceled)
}

/*────────────────────  rebuild & verify  ────────────────────*/

func TestRebuild_SwapsInCompactGeneration(t *testing.T) {
	h := newHarness(t, filepath.Join(t.TempDir(), "index.db"))
	ctx := context.Background()

	_, err := h.svc.Ingest(ctx, []*entity.ArticleRecord{
		article("a", "T", "alpha"), article("b", "T", "beta"), article("c", "T", "gamma"),
	}, ingest.Options{})
	require.NoError(t, err)
	_, err = h.svc.Ingest(ctx, []*entity.ArticleRecord{article("b", "T", "beta revised")}, ingest.Options{})
	require.NoError(t, err)

	old := h.catalog.Current()
	require.Equal(t, 4, old.Index.Len())

	var progressed []int
	report, err := h.svc.Rebuild(ctx, func(done int) { progressed = append(progressed, done) })
	require.NoError(t, err)

	assert.Equal(t, uint64(2), report.Generation)
	assert.Equal(t, 3, report.Indexed)
	assert.Equal(t, []int{2, 3}, progressed)

	gen := h.catalog.Current()
	assert.Equal(t, uint64(2), gen.Number)
	assert.Equal(t, 3, gen.Index.Len())
	assert.Equal(t, 3, gen.Index.Live())
	// the previous generation is untouched for readers still holding it
	assert.Equal(t, 4, old.Index.Len())

	faults, err := h.svc.Verify(ctx)
	require.NoError(t, err)
	assert.Empty(t, faults)
}

func TestRebuild_UpstreamDownKeepsCurrentGeneration(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	require.NoError(t, h.store.Put(ctx, article("a", "T", "never embedded")))
	h.upstream.down.Store(true)

	_, err := h.svc.Rebuild(ctx, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, entity.ErrUpstream)
	assert.Equal(t, uint64(1), h.catalog.Current().Number)
}

func TestRebuild_SkipsInvalidInput(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()
	require.NoError(t, h.store.Put(ctx, article("a", "T", "fine")))
	require.NoError(t, h.store.Put(ctx, article("blank", "T", "   ")))

	report, err := h.svc.Rebuild(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Indexed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, "blank", report.Failures[0].ID)
}

func TestVerify_ReportsUnindexedAndMissing(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	_, err := h.svc.Ingest(ctx, []*entity.ArticleRecord{article("a", "T", "alpha"), article("b", "T", "beta")}, ingest.Options{})
	require.NoError(t, err)
	h.store.Delete("a")
	require.NoError(t, h.store.Put(ctx, article("z", "T", "stored but never indexed")))

	faults, err := h.svc.Verify(ctx)
	require.NoError(t, err)

	kinds := map[string]string{}
	for _, f := range faults {
		kinds[f.ArticleID] = f.Kind
	}
	assert.Equal(t, map[string]string{
		"a": entity.FaultMissingMetadata,
		"z": entity.FaultUnindexedRecord,
	}, kinds)
}

func TestIngest_ConcurrentCallsAreSerialized(t *testing.T) {
	h := newHarness(t, "")
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := strings.Repeat("x", i+1)
			_, err := h.svc.Ingest(ctx, []*entity.ArticleRecord{article(id, "T", "body "+id)}, ingest.Options{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	gen := h.catalog.Current()
	assert.Equal(t, 8, gen.Index.Len())
	assert.Equal(t, 8, gen.Binding.Len())
}

func TestIngest_PicksUpIndexWrittenByAnotherProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	first := newHarness(t, path)
	second := newHarness(t, path)
	// both processes share one metadata store
	second.store = first.store
	second.svc = ingest.NewService(second.catalog, embedder.NewClient(
		embedcache.New(embedcache.NewMemoryStore(0), second.upstream.embed, embedcache.Options{Model: embedder.HashModel}),
		embedder.Options{}), first.store, 2)
	ctx := context.Background()

	_, err := first.svc.Ingest(ctx, []*entity.ArticleRecord{article("a1", "T1", "AI ethics discussion")}, ingest.Options{})
	require.NoError(t, err)

	report, err := second.svc.Ingest(ctx, []*entity.ArticleRecord{
		article("a1", "T1", "AI ethics discussion"),
		article("a2", "T2", "Football league results"),
	}, ingest.Options{})
	require.NoError(t, err)
	assert.Equal(t, entity.IngestionReport{Inserted: 1, Skipped: 1}, *report)

	gen := second.catalog.Current()
	assert.Equal(t, 2, gen.Index.Len())
	assert.Equal(t, 2, gen.Binding.Len())

	reopened, err := vectorindex.Open(path, dim)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Current().Binding.Len())
}
