package repository

import (
	"context"

	"article-finder/internal/domain/entity"
)

// ArticleRepository is the metadata store: the durable mapping from article id to
// its full record. It holds no vectors; the vector index refers to records only
// through the position binding.
type ArticleRepository interface {
	// Put inserts or overwrites the record with rec.ID. The content hash is
	// stored alongside so ingestion can detect unchanged content cheaply.
	// Returns a StoreError if the write fails.
	Put(ctx context.Context, rec *entity.ArticleRecord) error

	// Get returns the record for id.
	// Returns a NotFoundError when no such record exists.
	Get(ctx context.Context, id string) (*entity.ArticleRecord, error)

	// GetMany returns the records that exist among ids, keyed by id.
	// Missing ids are simply absent from the result; they are not an error.
	GetMany(ctx context.Context, ids []string) (map[string]*entity.ArticleRecord, error)

	// ContentHash returns the stored content hash for id.
	// Returns a NotFoundError when no such record exists.
	ContentHash(ctx context.Context, id string) (string, error)

	// List calls fn for every stored record. Iteration stops at the first error fn returns.
	List(ctx context.Context, fn func(*entity.ArticleRecord) error) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)
}
