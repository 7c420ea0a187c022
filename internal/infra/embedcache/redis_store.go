package embedcache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

const (
	redisEntryPrefix = "embedcache:entry:"
	redisCreatedKey  = "embedcache:created"
	redisExpiryKey   = "embedcache:expiry"
)

// RedisStore keeps cache entries in Redis so that every process of a
// deployment shares one cache.
//
// Layout:
//
//	embedcache:entry:{key}  string, encoded entry
//	embedcache:created      sorted set key -> createdAt (unix ms), drives capacity eviction
//	embedcache:expiry       sorted set key -> validUntil (unix ms), drives Purge
//
// Capacity is enforced after each Put and may briefly be exceeded while
// several processes write concurrently.
type RedisStore struct {
	client   goredis.UniversalClient
	capacity int
}

// NewRedisStore uses client, which stays owned by the caller. capacity 0 means unbounded.
func NewRedisStore(client goredis.UniversalClient, capacity int) *RedisStore {
	return &RedisStore{client: client, capacity: capacity}
}

func redisEntryKey(key string) string { return redisEntryPrefix + key }

func millis(t time.Time) float64 { return float64(t.UnixMilli()) }

func (s *RedisStore) Get(ctx context.Context, key string) (*Entry, bool, error) {
	data, err := s.client.Get(ctx, redisEntryKey(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("Get: %w", err)
	}
	entry, err := decodeEntry(key, data)
	if err != nil {
		return nil, false, fmt.Errorf("Get: entry %s: %w", key, err)
	}
	return entry, true, nil
}

func (s *RedisStore) Put(ctx context.Context, entry *Entry) (int, error) {
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, redisEntryKey(entry.Key), encodeEntry(entry), 0)
		pipe.ZAdd(ctx, redisCreatedKey, goredis.Z{Score: millis(entry.CreatedAt), Member: entry.Key})
		pipe.ZAdd(ctx, redisExpiryKey, goredis.Z{Score: millis(entry.ValidUntil), Member: entry.Key})
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("Put: %w", err)
	}
	if s.capacity <= 0 {
		return 0, nil
	}

	n, err := s.client.ZCard(ctx, redisCreatedKey).Result()
	if err != nil {
		return 0, fmt.Errorf("Put: %w", err)
	}
	excess := n - int64(s.capacity)
	if excess <= 0 {
		return 0, nil
	}
	victims, err := s.client.ZRange(ctx, redisCreatedKey, 0, excess-1).Result()
	if err != nil {
		return 0, fmt.Errorf("Put: evict: %w", err)
	}
	if err := s.remove(ctx, victims); err != nil {
		return 0, fmt.Errorf("Put: evict: %w", err)
	}
	return len(victims), nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.remove(ctx, []string{key}); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, redisCreatedKey).Result()
	if err != nil {
		return 0, fmt.Errorf("Len: %w", err)
	}
	return int(n), nil
}

func (s *RedisStore) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	victims, err := s.client.ZRangeByScore(ctx, redisExpiryKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("Purge: %w", err)
	}
	if err := s.remove(ctx, victims); err != nil {
		return 0, fmt.Errorf("Purge: %w", err)
	}
	return len(victims), nil
}

// Close is a no-op: the client belongs to the caller.
func (s *RedisStore) Close() error { return nil }

func (s *RedisStore) remove(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	entryKeys := make([]string, len(keys))
	members := make([]any, len(keys))
	for i, k := range keys {
		entryKeys[i] = redisEntryKey(k)
		members[i] = k
	}
	_, err := s.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Del(ctx, entryKeys...)
		pipe.ZRem(ctx, redisCreatedKey, members...)
		pipe.ZRem(ctx, redisExpiryKey, members...)
		return nil
	})
	return err
}
