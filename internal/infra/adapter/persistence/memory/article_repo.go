// Package memory provides an in-process metadata store for tests and
// single-process runs that rebuild everything on start.
package memory

import (
	"context"
	"maps"
	"slices"
	"sync"

	"article-finder/internal/domain/entity"
)

type record struct {
	article entity.ArticleRecord
	hash    string
}

// ArticleRepo is a map-backed metadata store. Records are copied on the way in
// and out so callers cannot mutate stored state.
type ArticleRepo struct {
	mu      sync.RWMutex
	records map[string]record
}

func NewArticleRepo() *ArticleRepo {
	return &ArticleRepo{records: make(map[string]record)}
}

func (r *ArticleRepo) Put(_ context.Context, rec *entity.ArticleRecord) error {
	stored := record{article: cloneRecord(rec), hash: rec.ContentHash()}

	r.mu.Lock()
	r.records[rec.ID] = stored
	r.mu.Unlock()
	return nil
}

func (r *ArticleRepo) Get(_ context.Context, id string) (*entity.ArticleRecord, error) {
	r.mu.RLock()
	stored, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return nil, &entity.NotFoundError{ID: id}
	}
	out := cloneRecord(&stored.article)
	return &out, nil
}

func (r *ArticleRepo) GetMany(_ context.Context, ids []string) (map[string]*entity.ArticleRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*entity.ArticleRecord, len(ids))
	for _, id := range ids {
		if stored, ok := r.records[id]; ok {
			rec := cloneRecord(&stored.article)
			out[id] = &rec
		}
	}
	return out, nil
}

func (r *ArticleRepo) ContentHash(_ context.Context, id string) (string, error) {
	r.mu.RLock()
	stored, ok := r.records[id]
	r.mu.RUnlock()
	if !ok {
		return "", &entity.NotFoundError{ID: id}
	}
	return stored.hash, nil
}

// List visits records in id order over a snapshot taken at call time.
func (r *ArticleRepo) List(ctx context.Context, fn func(*entity.ArticleRecord) error) error {
	r.mu.RLock()
	snapshot := make([]entity.ArticleRecord, 0, len(r.records))
	for _, id := range slices.Sorted(maps.Keys(r.records)) {
		stored := r.records[id]
		snapshot = append(snapshot, cloneRecord(&stored.article))
	}
	r.mu.RUnlock()

	for i := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(&snapshot[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *ArticleRepo) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int64(len(r.records)), nil
}

// Delete removes id. Only tests use it, to produce dangling index entries.
func (r *ArticleRepo) Delete(id string) {
	r.mu.Lock()
	delete(r.records, id)
	r.mu.Unlock()
}

func cloneRecord(rec *entity.ArticleRecord) entity.ArticleRecord {
	out := *rec
	if rec.Extra != nil {
		out.Extra = maps.Clone(rec.Extra)
	}
	return out
}
