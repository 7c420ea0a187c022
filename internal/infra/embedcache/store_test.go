package embedcache_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"article-finder/internal/infra/embedcache"
)

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func entryAt(key string, created time.Time, vec ...float32) *embedcache.Entry {
	return &embedcache.Entry{
		Key:        key,
		Vector:     vec,
		Model:      "m",
		CreatedAt:  created,
		ValidUntil: created.Add(time.Hour),
	}
}

func storeFactories(t *testing.T) map[string]func(capacity int) embedcache.Store {
	return map[string]func(int) embedcache.Store{
		"memory": func(capacity int) embedcache.Store {
			return embedcache.NewMemoryStore(capacity)
		},
		"bolt": func(capacity int) embedcache.Store {
			s, err := embedcache.OpenBoltStore(filepath.Join(t.TempDir(), "cache.db"), capacity)
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"redis": func(capacity int) embedcache.Store {
			return embedcache.NewRedisStore(newRedisClient(t, miniredis.RunT(t)), capacity)
		},
	}
}

func newRedisClient(t *testing.T, mr *miniredis.Miniredis) *goredis.Client {
	t.Helper()
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestStore_Contract(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("get missing", func(t *testing.T) {
				s := open(0)
				_, ok, err := s.Get(ctx, "nope")
				require.NoError(t, err)
				assert.False(t, ok)
			})

			t.Run("put then get", func(t *testing.T) {
				s := open(0)
				_, err := s.Put(ctx, entryAt("k", base, 0.5, -1.25, 3))
				require.NoError(t, err)

				got, ok, err := s.Get(ctx, "k")
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, []float32{0.5, -1.25, 3}, got.Vector)
				assert.Equal(t, "m", got.Model)
				assert.True(t, base.Equal(got.CreatedAt))
				assert.True(t, base.Add(time.Hour).Equal(got.ValidUntil))
			})

			t.Run("replace keeps one entry", func(t *testing.T) {
				s := open(0)
				_, err := s.Put(ctx, entryAt("k", base, 1))
				require.NoError(t, err)
				_, err = s.Put(ctx, entryAt("k", base.Add(time.Minute), 2))
				require.NoError(t, err)

				n, err := s.Len(ctx)
				require.NoError(t, err)
				assert.Equal(t, 1, n)

				got, _, err := s.Get(ctx, "k")
				require.NoError(t, err)
				assert.Equal(t, []float32{2}, got.Vector)
			})

			t.Run("capacity evicts oldest", func(t *testing.T) {
				s := open(2)
				for i, key := range []string{"a", "b", "c"} {
					evicted, err := s.Put(ctx, entryAt(key, base.Add(time.Duration(i)*time.Second), 1))
					require.NoError(t, err)
					if key == "c" {
						assert.Equal(t, 1, evicted)
					}
				}

				_, ok, err := s.Get(ctx, "a")
				require.NoError(t, err)
				assert.False(t, ok)
				_, ok, err = s.Get(ctx, "c")
				require.NoError(t, err)
				assert.True(t, ok)
			})

			t.Run("delete", func(t *testing.T) {
				s := open(0)
				_, err := s.Put(ctx, entryAt("k", base, 1))
				require.NoError(t, err)
				require.NoError(t, s.Delete(ctx, "k"))
				require.NoError(t, s.Delete(ctx, "k"))

				n, err := s.Len(ctx)
				require.NoError(t, err)
				assert.Equal(t, 0, n)
			})

			t.Run("purge removes expired", func(t *testing.T) {
				s := open(0)
				_, err := s.Put(ctx, entryAt("old", base, 1))
				require.NoError(t, err)
				_, err = s.Put(ctx, entryAt("new", base.Add(2*time.Hour), 1))
				require.NoError(t, err)

				removed, err := s.Purge(ctx, base.Add(90*time.Minute))
				require.NoError(t, err)
				assert.Equal(t, 1, removed)

				_, ok, err := s.Get(ctx, "old")
				require.NoError(t, err)
				assert.False(t, ok)
				n, err := s.Len(ctx)
				require.NoError(t, err)
				assert.Equal(t, 1, n)
			})
		})
	}
}

func TestBoltStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	s, err := embedcache.OpenBoltStore(path, 0)
	require.NoError(t, err)
	_, err = s.Put(ctx, entryAt("k", base, 1, 2, 3))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := embedcache.OpenBoltStore(path, 0)
	require.NoError(t, err)
	defer func() { _ = reopened.Close() }()

	got, ok, err := reopened.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 2, 3}, got.Vector)

	n, err := reopened.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestBoltStore_SecondOpenReportsLockedFile(t *testing.T) {
	defer embedcache.SetLockTimeout(50 * time.Millisecond)()
	path := filepath.Join(t.TempDir(), "cache.db")

	s, err := embedcache.OpenBoltStore(path, 0)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	_, err = embedcache.OpenBoltStore(path, 0)
	assert.ErrorIs(t, err, embedcache.ErrCacheLocked)
}

func TestRedisStore_SharedBetweenProcesses(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	api := embedcache.NewRedisStore(newRedisClient(t, mr), 0)
	worker := embedcache.NewRedisStore(newRedisClient(t, mr), 0)

	_, err := worker.Put(ctx, entryAt("k", base, 0.25, 0.75))
	require.NoError(t, err)

	got, ok, err := api.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float32{0.25, 0.75}, got.Vector)
	assert.NoError(t, api.Close())

	n, err := worker.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRedisStore_CorruptEntry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	s := embedcache.NewRedisStore(newRedisClient(t, mr), 0)
	require.NoError(t, mr.Set("embedcache:entry:k", "junk"))

	_, _, err := s.Get(ctx, "k")
	assert.Error(t, err)
}
