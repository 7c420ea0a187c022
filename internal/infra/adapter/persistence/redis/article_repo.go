// Package redis provides a Redis implementation of the metadata store.
//
// Each article is one hash at key "article:{id}" with the fields id, title,
// content, publish_date, url, content_hash and extra.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"article-finder/internal/domain/entity"
	"article-finder/internal/observability/metrics"
	"article-finder/internal/repository"
)

const keyPrefix = "article:"

// scanBatch is both the SCAN COUNT hint and the pipeline size for bulk reads.
const scanBatch = 500

const (
	fieldID          = "id"
	fieldTitle       = "title"
	fieldContent     = "content"
	fieldPublishDate = "publish_date"
	fieldURL         = "url"
	fieldContentHash = "content_hash"
	fieldExtra       = "extra"
)

type ArticleRepo struct {
	client goredis.UniversalClient
}

func NewArticleRepo(client goredis.UniversalClient) repository.ArticleRepository {
	return &ArticleRepo{client: client}
}

func articleKey(id string) string { return keyPrefix + id }

func (repo *ArticleRepo) Put(ctx context.Context, rec *entity.ArticleRecord) error {
	extra, err := entity.EncodeExtra(rec.Extra)
	if err != nil {
		return &entity.StoreError{Op: "Put", Err: err}
	}
	publish := ""
	if !rec.PublishDate.IsZero() {
		publish = rec.PublishDate.UTC().Format(time.RFC3339Nano)
	}

	key := articleKey(rec.ID)
	start := time.Now()
	// DEL+HSET in one MULTI so readers never see a half-overwritten hash.
	_, err = repo.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldID, rec.ID,
			fieldTitle, rec.Title,
			fieldContent, rec.Content,
			fieldPublishDate, publish,
			fieldURL, rec.URL,
			fieldContentHash, rec.ContentHash(),
			fieldExtra, extra,
		)
		return nil
	})
	metrics.RecordDBQuery("put", time.Since(start))
	if err != nil {
		return &entity.StoreError{Op: "Put", Err: err}
	}
	return nil
}

func (repo *ArticleRepo) Get(ctx context.Context, id string) (*entity.ArticleRecord, error) {
	start := time.Now()
	fields, err := repo.client.HGetAll(ctx, articleKey(id)).Result()
	metrics.RecordDBQuery("get", time.Since(start))
	if err != nil {
		return nil, &entity.StoreError{Op: "Get", Err: err}
	}
	if len(fields) == 0 {
		return nil, &entity.NotFoundError{ID: id}
	}
	rec, err := decodeRecord(id, fields)
	if err != nil {
		return nil, &entity.StoreError{Op: "Get", Err: err}
	}
	return rec, nil
}

func (repo *ArticleRepo) GetMany(ctx context.Context, ids []string) (map[string]*entity.ArticleRecord, error) {
	out := make(map[string]*entity.ArticleRecord, len(ids))
	start := time.Now()
	defer func() { metrics.RecordDBQuery("get_many", time.Since(start)) }()

	for lo := 0; lo < len(ids); lo += scanBatch {
		chunk := ids[lo:min(lo+scanBatch, len(ids))]
		keys := make([]string, len(chunk))
		for i, id := range chunk {
			keys[i] = articleKey(id)
		}
		if err := repo.fetch(ctx, keys, func(rec *entity.ArticleRecord) error {
			out[rec.ID] = rec
			return nil
		}); err != nil {
			return nil, &entity.StoreError{Op: "GetMany", Err: err}
		}
	}
	return out, nil
}

func (repo *ArticleRepo) ContentHash(ctx context.Context, id string) (string, error) {
	hash, err := repo.client.HGet(ctx, articleKey(id), fieldContentHash).Result()
	if errors.Is(err, goredis.Nil) {
		return "", &entity.NotFoundError{ID: id}
	}
	if err != nil {
		return "", &entity.StoreError{Op: "ContentHash", Err: err}
	}
	return hash, nil
}

// List walks the keyspace with SCAN. A key may be reported more than once by
// SCAN, so ids already visited are skipped.
func (repo *ArticleRepo) List(ctx context.Context, fn func(*entity.ArticleRecord) error) error {
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		keys, next, err := repo.client.Scan(ctx, cursor, keyPrefix+"*", scanBatch).Result()
		if err != nil {
			return &entity.StoreError{Op: "List", Err: fmt.Errorf("Scan: %w", err)}
		}

		fresh := keys[:0]
		for _, key := range keys {
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			fresh = append(fresh, key)
		}

		var page []*entity.ArticleRecord
		if err := repo.fetch(ctx, fresh, func(rec *entity.ArticleRecord) error {
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

		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (repo *ArticleRepo) Count(ctx context.Context) (int64, error) {
	var (
		cursor uint64
		count  int64
	)
	for {
		keys, next, err := repo.client.Scan(ctx, cursor, keyPrefix+"*", scanBatch).Result()
		if err != nil {
			return 0, &entity.StoreError{Op: "Count", Err: err}
		}
		count += int64(len(keys))
		if next == 0 {
			return count, nil
		}
		cursor = next
	}
}

// fetch reads keys with one pipelined HGETALL each. Missing keys are skipped.
func (repo *ArticleRepo) fetch(ctx context.Context, keys []string, fn func(*entity.ArticleRecord) error) error {
	if len(keys) == 0 {
		return nil
	}
	cmds := make([]*goredis.MapStringStringCmd, len(keys))
	_, err := repo.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HGetAll(ctx, key)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("Pipelined: %w", err)
	}

	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := decodeRecord(strings.TrimPrefix(keys[i], keyPrefix), fields)
		if err != nil {
			return err
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}

func decodeRecord(id string, fields map[string]string) (*entity.ArticleRecord, error) {
	rec := &entity.ArticleRecord{
		ID:      id,
		Title:   fields[fieldTitle],
		Content: fields[fieldContent],
		URL:     fields[fieldURL],
	}
	if stored := fields[fieldID]; stored != "" {
		rec.ID = stored
	}
	if raw := fields[fieldPublishDate]; raw != "" {
		t, err := parsePublishDate(raw)
		if err != nil {
			return nil, fmt.Errorf("article %s: publish_date: %w", id, err)
		}
		rec.PublishDate = t
	}
	extra, err := entity.DecodeExtra(fields[fieldExtra])
	if err != nil {
		return nil, fmt.Errorf("article %s: %w", id, err)
	}
	rec.Extra = extra
	return rec, nil
}

// parsePublishDate accepts RFC 3339 timestamps and bare YYYY-MM-DD dates, which
// hashes written by the crawlers carry.
func parsePublishDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}
