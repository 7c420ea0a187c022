package vectorindex_test

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"article-finder/internal/domain/entity"
	"article-finder/internal/infra/vectorindex"
)

// twoWriters opens the same index file from two catalogs, as two processes would.
func twoWriters(t *testing.T) (string, *vectorindex.Catalog, *vectorindex.Catalog) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	first, err := vectorindex.Open(path, 2)
	require.NoError(t, err)
	require.NoError(t, first.Persist())
	second, err := vectorindex.Open(path, 2)
	require.NoError(t, err)
	return path, first, second
}

func TestCatalog_ReloadPicksUpAnotherWriter(t *testing.T) {
	_, writer, reader := twoWriters(t)
	before := reader.Current()

	reloaded, err := reader.Reload()
	require.NoError(t, err)
	assert.False(t, reloaded, "nothing changed yet")

	mustAdd(t, writer.Current().Index, 1, 0)
	require.NoError(t, writer.Persist())

	reloaded, err = reader.Reload()
	require.NoError(t, err)
	assert.True(t, reloaded)
	assert.Equal(t, 1, reader.Current().Index.Len())
	assert.NotEqual(t, before.Serial(), reader.Current().Serial())

	// the old generation stays usable by readers that still hold it
	assert.Equal(t, 0, before.Index.Len())

	reloaded, err = reader.Reload()
	require.NoError(t, err)
	assert.False(t, reloaded, "the same file is not loaded twice")
}

func TestCatalog_ReloadOfUnreadableFileKeepsCurrent(t *testing.T) {
	path, _, reader := twoWriters(t)
	before := reader.Current()

	require.NoError(t, os.WriteFile(path, []byte("not an index"), 0o600))

	reloaded, err := reader.Reload()
	assert.Error(t, err)
	assert.False(t, reloaded)
	assert.Same(t, before, reader.Current())
}

func TestCatalog_ReloadOfMissingFile(t *testing.T) {
	c, err := vectorindex.Open(filepath.Join(t.TempDir(), "index.db"), 2)
	require.NoError(t, err)

	reloaded, err := c.Reload()
	require.NoError(t, err)
	assert.False(t, reloaded)
}

func TestCatalog_PersistRefusesToOverwriteNewerFile(t *testing.T) {
	_, first, second := twoWriters(t)

	mustAdd(t, first.Current().Index, 1, 0)
	require.NoError(t, first.Persist())

	mustAdd(t, second.Current().Index, 0, 1)
	err := second.Persist()
	assert.ErrorIs(t, err, vectorindex.ErrIndexChanged)
	assert.ErrorIs(t, err, entity.ErrStore)

	// after catching up the second writer persists on top of the first
	_, err = second.Reload()
	require.NoError(t, err)
	mustAdd(t, second.Current().Index, 0, 1)
	require.NoError(t, second.Persist())

	_, err = first.Reload()
	require.NoError(t, err)
	assert.Equal(t, 2, first.Current().Index.Len())
}

func TestCatalog_PublishReplacesNewerFile(t *testing.T) {
	path, first, second := twoWriters(t)

	mustAdd(t, first.Current().Index, 1, 0)
	require.NoError(t, first.Persist())

	next := second.Next()
	mustAdd(t, next.Index, 0, 1)
	mustAdd(t, next.Index, 1, 1)
	require.NoError(t, second.Publish(next))

	reopened, err := vectorindex.Open(path, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Current().Index.Len())
}

func TestCatalog_WatchFollowsWrites(t *testing.T) {
	_, writer, reader := twoWriters(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var calls atomic.Int32
	go func() {
		defer close(done)
		reader.Watch(ctx, 20*time.Millisecond, func(gen *vectorindex.Generation) {
			calls.Add(1)
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	mustAdd(t, writer.Current().Index, 1, 0)
	require.NoError(t, writer.Persist())

	require.Eventually(t, func() bool {
		return reader.Current().Index.Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, time.Second, 10*time.Millisecond)
}

func TestCatalog_WatchInMemoryReturns(t *testing.T) {
	c, err := vectorindex.Open("", 2)
	require.NoError(t, err)
	// returns immediately without a file to follow
	c.Watch(context.Background(), time.Millisecond, nil)
}
