// Package postgres provides the PostgreSQL implementation of the metadata store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"article-finder/internal/domain/entity"
	"article-finder/internal/observability/metrics"
	"article-finder/internal/repository"
)

// getManyChunk bounds the number of placeholders in one IN list.
const getManyChunk = 500

// listPageSize is the keyset page size used by List.
const listPageSize = 500

type ArticleRepo struct {
	db *sql.DB
}

func NewArticleRepo(db *sql.DB) repository.ArticleRepository {
	return &ArticleRepo{db: db}
}

const selectColumns = `article_id, title, content, publish_date, url, extra`

func (repo *ArticleRepo) Put(ctx context.Context, rec *entity.ArticleRecord) error {
	extra, err := entity.EncodeExtra(rec.Extra)
	if err != nil {
		return &entity.StoreError{Op: "Put", Err: err}
	}

	const query = `
INSERT INTO articles (article_id, title, content, publish_date, url, content_hash, extra, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, now())
ON CONFLICT (article_id) DO UPDATE SET
    title        = EXCLUDED.title,
    content      = EXCLUDED.content,
    publish_date = EXCLUDED.publish_date,
    url          = EXCLUDED.url,
    content_hash = EXCLUDED.content_hash,
    extra        = EXCLUDED.extra,
    updated_at   = now()`

	start := time.Now()
	_, err = repo.db.ExecContext(ctx, query,
		rec.ID, rec.Title, rec.Content, nullTime(rec.PublishDate), rec.URL, rec.ContentHash(), extra)
	metrics.RecordDBQuery("put", time.Since(start))
	if err != nil {
		return &entity.StoreError{Op: "Put", Err: err}
	}
	return nil
}

func (repo *ArticleRepo) Get(ctx context.Context, id string) (*entity.ArticleRecord, error) {
	const query = `SELECT ` + selectColumns + `
FROM articles
WHERE article_id = $1
LIMIT 1`

	start := time.Now()
	rec, err := scanRecord(repo.db.QueryRowContext(ctx, query, id))
	metrics.RecordDBQuery("get", time.Since(start))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &entity.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, &entity.StoreError{Op: "Get", Err: err}
	}
	return rec, nil
}

func (repo *ArticleRepo) GetMany(ctx context.Context, ids []string) (map[string]*entity.ArticleRecord, error) {
	out := make(map[string]*entity.ArticleRecord, len(ids))
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_many", time.Since(start)) }()

	for lo := 0; lo < len(ids); lo += getManyChunk {
		chunk := ids[lo:min(lo+getManyChunk, len(ids))]

		placeholders := make([]string, len(chunk))
		args := make([]any, len(chunk))
		for i, id := range chunk {
			placeholders[i] = fmt.Sprintf("$%d", i+1)
			args[i] = id
		}
		query := `SELECT ` + selectColumns + `
FROM articles
WHERE article_id IN (` + strings.Join(placeholders, ", ") + `)`

		if err := repo.queryInto(ctx, query, args, func(rec *entity.ArticleRecord) error {
			out[rec.ID] = rec
			return nil
		}); err != nil {
			return nil, &entity.StoreError{Op: "GetMany", Err: err}
		}
	}
	return out, nil
}

func (repo *ArticleRepo) ContentHash(ctx context.Context, id string) (string, error) {
	const query = `SELECT content_hash FROM articles WHERE article_id = $1`

	var hash string
	err := repo.db.QueryRowContext(ctx, query, id).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &entity.NotFoundError{ID: id}
	}
	if err != nil {
		return "", &entity.StoreError{Op: "ContentHash", Err: err}
	}
	return hash, nil
}

// List pages through the table by primary key so no connection is held while fn runs.
func (repo *ArticleRepo) List(ctx context.Context, fn func(*entity.ArticleRecord) error) error {
	const query = `SELECT ` + selectColumns + `
FROM articles
WHERE article_id > $1
ORDER BY article_id
LIMIT $2`

	after := ""
	for {
		page := make([]*entity.ArticleRecord, 0, listPageSize)
		if err := repo.queryInto(ctx, query, []any{after, listPageSize}, func(rec *entity.ArticleRecord) error {
			page = append(page, rec)
			return nil
		}); err != nil {
			return &entity.StoreError{Op: "List", Err: err}
		}

		for _, rec := range page {
			if err := fn(rec); err != nil {
				return err
			}
		}
		if len(page) < listPageSize {
			return nil
		}
		after = page[len(page)-1].ID
	}
}

func (repo *ArticleRepo) Count(ctx context.Context) (int64, error) {
	const query = `SELECT COUNT(*) FROM articles`
	var count int64
	if err := repo.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, &entity.StoreError{Op: "Count", Err: err}
	}
	return count, nil
}

func (repo *ArticleRepo) queryInto(ctx context.Context, query string, args []any, fn func(*entity.ArticleRecord) error) error {
	rows, err := repo.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("QueryContext: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return fmt.Errorf("Scan: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows.Err: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*entity.ArticleRecord, error) {
	var (
		rec     entity.ArticleRecord
		publish sql.NullTime
		extra   string
	)
	if err := row.Scan(&rec.ID, &rec.Title, &rec.Content, &publish, &rec.URL, &extra); err != nil {
		return nil, err
	}
	if publish.Valid {
		rec.PublishDate = publish.Time.UTC()
	}
	decoded, err := entity.DecodeExtra(extra)
	if err != nil {
		return nil, fmt.Errorf("article %s: %w", rec.ID, err)
	}
	rec.Extra = decoded
	return &rec, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
