package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"article-finder/internal/domain/entity"
)

// ErrNeedsRebuild is returned by Open when the index file exists but cannot be
// used as is: it is corrupt or was built for another dimension.
var ErrNeedsRebuild = errors.New("index needs rebuild")

// ErrIndexChanged is returned by Persist when another process replaced the index
// file since this catalog last read or wrote it. Reload picks up the newer file.
var ErrIndexChanged = errors.New("index file changed by another writer")

// DefaultWatchInterval bounds how long Watch can miss a replaced file.
const DefaultWatchInterval = 30 * time.Second

// Generation is one consistent pair of index and binding. Readers that loaded a
// generation keep using it even after a newer one has been published.
type Generation struct {
	Number  uint64
	Index   *Index
	Binding *Binding

	serial uint64
}

var serials atomic.Uint64

// NewGeneration creates an empty generation.
func NewGeneration(number uint64, dim int) *Generation {
	return &Generation{Number: number, Index: New(dim), Binding: NewBinding(), serial: serials.Add(1)}
}

// Serial identifies this generation value within the process. A generation
// reloaded from disk gets a new serial even when its Number is unchanged.
func (g *Generation) Serial() uint64 {
	return g.serial
}

// Catalog owns the index file and the currently published generation.
//
// Several processes may open the same file. One of them writes at a time;
// the others call Reload or Watch to follow its writes.
type Catalog struct {
	path    string
	dim     int
	mu      sync.Mutex  // serializes file reads and writes
	seen    os.FileInfo // the file as last read or written; nil when there was none
	current atomic.Pointer[Generation]
}

// Open loads the catalog stored at path, or starts an empty one when the file
// does not exist yet. An empty path keeps the catalog in memory only.
func Open(path string, dim int) (*Catalog, error) {
	c := &Catalog{path: path, dim: dim}
	if path == "" {
		c.current.Store(NewGeneration(1, dim))
		return c, nil
	}

	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Info("Starting empty vector index", slog.String("path", path), slog.Int("dimension", dim))
		c.current.Store(NewGeneration(1, dim))
		return c, nil
	}

	gen, err := readFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNeedsRebuild, err)
	}
	if gen.Index.Dimension() != dim {
		return nil, fmt.Errorf("%w: %s has dimension %d, configured %d",
			ErrNeedsRebuild, path, gen.Index.Dimension(), dim)
	}

	slog.Info("Loaded vector index",
		slog.String("path", path),
		slog.Uint64("generation", gen.Number),
		slog.Int("positions", gen.Index.Len()),
		slog.Int("live", gen.Index.Live()),
		slog.Int("bindings", gen.Binding.Len()))
	c.seen = info
	c.current.Store(gen)
	return c, nil
}

// Create starts an empty catalog at path, ignoring whatever the file holds.
// Nothing is written until the first Persist or Publish, which replace the file.
func Create(path string, dim int) *Catalog {
	c := &Catalog{path: path, dim: dim}
	if path != "" {
		if info, err := os.Stat(path); err == nil {
			c.seen = info
		}
	}
	c.current.Store(NewGeneration(1, dim))
	return c
}

// Current returns the published generation.
func (c *Catalog) Current() *Generation { return c.current.Load() }

// Next returns an empty generation numbered after the current one, to be
// filled off to the side and handed to Publish.
func (c *Catalog) Next() *Generation {
	return NewGeneration(c.Current().Number+1, c.dim)
}

// Dimension returns the configured vector length.
func (c *Catalog) Dimension() int { return c.dim }

// Path returns the index file path; empty for in-memory catalogs.
func (c *Catalog) Path() string { return c.path }

// Persist writes the current generation to disk.
func (c *Catalog) Persist() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.path == "" {
		return nil
	}
	_, changed, err := c.changedOnDisk()
	if err != nil {
		return err
	}
	if changed {
		return &entity.StoreError{Op: "persist index", Err: fmt.Errorf("%w: %s", ErrIndexChanged, c.path)}
	}
	return c.write(c.Current())
}

// Publish persists gen and then makes it the current generation. On error the
// previous generation stays current and the file is unchanged.
func (c *Catalog) Publish(gen *Generation) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen.Index.Dimension() != c.dim {
		return fmt.Errorf("publish: generation has dimension %d, catalog %d", gen.Index.Dimension(), c.dim)
	}
	if c.path != "" {
		if err := c.write(gen); err != nil {
			return err
		}
	}
	old := c.current.Swap(gen)
	slog.Info("Published vector index generation",
		slog.Uint64("previous", old.Number),
		slog.Uint64("generation", gen.Number),
		slog.Int("positions", gen.Index.Len()))
	return nil
}

// Reload swaps in the generation stored in the index file when another process
// has replaced the file since this catalog last read or wrote it. The file is
// read off to the side; on error the current generation stays published.
// It reports whether a new generation was published.
func (c *Catalog) Reload() (bool, error) {
	if c.path == "" {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	info, changed, err := c.changedOnDisk()
	if err != nil || !changed || info == nil {
		return false, err
	}

	gen, err := readFile(c.path)
	if err != nil {
		return false, err
	}
	if gen.Index.Dimension() != c.dim {
		return false, fmt.Errorf("%w: %s has dimension %d, configured %d",
			ErrNeedsRebuild, c.path, gen.Index.Dimension(), c.dim)
	}

	c.seen = info
	old := c.current.Swap(gen)
	slog.Info("Reloaded vector index",
		slog.String("path", c.path),
		slog.Uint64("previous", old.Number),
		slog.Uint64("generation", gen.Number),
		slog.Int("positions", gen.Index.Len()),
		slog.Int("live", gen.Index.Live()))
	return true, nil
}

// Watch follows writes made by other processes until ctx is done, calling
// onReload after each published reload. Replacements of the file are picked up
// from directory events; interval bounds how long a missed event goes
// unnoticed. interval <= 0 selects DefaultWatchInterval.
func (c *Catalog) Watch(ctx context.Context, interval time.Duration, onReload func(*Generation)) {
	if c.path == "" {
		return
	}
	if interval <= 0 {
		interval = DefaultWatchInterval
	}

	var events <-chan fsnotify.Event
	var watchErrs <-chan error
	if watcher, err := c.watchDir(); err != nil {
		slog.Warn("Index file events unavailable, polling only",
			slog.String("path", c.path),
			slog.Duration("interval", interval),
			slog.Any("error", err))
	} else {
		defer func() { _ = watcher.Close() }()
		events, watchErrs = watcher.Events, watcher.Errors
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	target := filepath.Clean(c.path)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			// a writer renames its temporary file over the index: Create on the path
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
		case err, ok := <-watchErrs:
			if !ok {
				watchErrs = nil
				continue
			}
			slog.Warn("Index file watch error", slog.String("path", c.path), slog.Any("error", err))
			continue
		case <-ticker.C:
		}

		reloaded, err := c.Reload()
		if err != nil {
			slog.Warn("Vector index reload failed, keeping current generation",
				slog.String("path", c.path),
				slog.Any("error", err))
			continue
		}
		if reloaded && onReload != nil {
			onReload(c.Current())
		}
	}
}

func (c *Catalog) watchDir() (*fsnotify.Watcher, error) {
	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return watcher, nil
}

// write replaces the file with gen and remembers what was written. c.mu must be held.
func (c *Catalog) write(gen *Generation) error {
	if err := writeFile(c.path, gen); err != nil {
		return err
	}
	info, err := os.Stat(c.path)
	if err != nil {
		return &entity.StoreError{Op: "persist index", Err: err}
	}
	c.seen = info
	return nil
}

// changedOnDisk compares the file with the one last read or written. A missing
// file counts as unchanged. c.mu must be held.
func (c *Catalog) changedOnDisk() (os.FileInfo, bool, error) {
	info, err := os.Stat(c.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &entity.StoreError{Op: "stat index", Err: err}
	}
	if c.seen == nil {
		return info, true, nil
	}
	// writers rename a new file over the path, but inode numbers can be reused
	same := os.SameFile(c.seen, info) &&
		c.seen.ModTime().Equal(info.ModTime()) &&
		c.seen.Size() == info.Size()
	return info, !same, nil
}
