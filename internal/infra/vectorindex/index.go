// Package vectorindex holds the embedding vectors of all ingested articles and
// answers cosine-similarity top-k searches over them.
//
// An Index is an exact flat index: vectors are L2-normalized once when added and
// the query once per search, so the inner product equals cosine similarity.
// Positions are handed out sequentially from 0 and never reused; replacing an
// article tombstones its old position.
//
// A Binding maps positions to article ids. A Generation pairs an Index with its
// Binding, and a Catalog publishes one Generation at a time so that a rebuild
// can be prepared off to the side and swapped in atomically.
package vectorindex

import (
	"container/heap"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"article-finder/internal/domain/entity"
)

// Hit is one search result.
type Hit struct {
	Position entity.IndexPosition
	Score    float32
}

// snapshot is an immutable view of the index. Writers publish a new snapshot
// after each change; readers load the current one without locking.
type snapshot struct {
	data  []float32 // n*dim normalized components, row-major
	n     int
	dead  []uint64 // tombstone bitset, copied on write
	nDead int
}

func (s *snapshot) isDead(pos int) bool {
	word := pos / 64
	return word < len(s.dead) && s.dead[word]&(1<<(uint(pos)%64)) != 0
}

// Index is safe for concurrent use. Writes are serialized; searches never block.
type Index struct {
	dim  int
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// New creates an empty index for vectors of length dim.
func New(dim int) *Index {
	idx := &Index{dim: dim}
	idx.snap.Store(&snapshot{})
	return idx
}

// Dimension returns the vector length accepted by the index.
func (idx *Index) Dimension() int { return idx.dim }

// Len returns the number of positions ever assigned, tombstoned ones included.
func (idx *Index) Len() int { return idx.snap.Load().n }

// Live returns the number of searchable positions.
func (idx *Index) Live() int {
	s := idx.snap.Load()
	return s.n - s.nDead
}

// Add normalizes vec, appends it and returns its position. The vector is
// searchable as soon as Add returns.
func (idx *Index) Add(vec []float32) (entity.IndexPosition, error) {
	normalized, err := idx.normalize(vec)
	if err != nil {
		return 0, err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.snap.Load()
	// appending past cur.n never touches memory visible to existing snapshots
	data := append(cur.data[:cur.n*idx.dim], normalized...)
	idx.snap.Store(&snapshot{data: data, n: cur.n + 1, dead: cur.dead, nDead: cur.nDead})
	return entity.IndexPosition(cur.n), nil
}

// Tombstone excludes pos from future searches. The position is not reused.
func (idx *Index) Tombstone(pos entity.IndexPosition) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	cur := idx.snap.Load()
	if pos < 0 || pos >= entity.IndexPosition(cur.n) {
		return fmt.Errorf("tombstone: position %d out of range [0,%d)", pos, cur.n)
	}
	p := int(pos)
	if cur.isDead(p) {
		return nil
	}

	words := (cur.n + 63) / 64
	dead := make([]uint64, words)
	copy(dead, cur.dead)
	dead[p/64] |= 1 << (uint(p) % 64)
	idx.snap.Store(&snapshot{data: cur.data, n: cur.n, dead: dead, nDead: cur.nDead + 1})
	return nil
}

// IsLive reports whether pos exists and is not tombstoned.
func (idx *Index) IsLive(pos entity.IndexPosition) bool {
	s := idx.snap.Load()
	return pos >= 0 && pos < entity.IndexPosition(s.n) && !s.isDead(int(pos))
}

// Vector returns a copy of the normalized vector stored at pos.
func (idx *Index) Vector(pos entity.IndexPosition) ([]float32, bool) {
	s := idx.snap.Load()
	if pos < 0 || pos >= entity.IndexPosition(s.n) {
		return nil, false
	}
	start := int(pos) * idx.dim
	return append([]float32(nil), s.data[start:start+idx.dim]...), true
}

// Search returns up to k live positions ordered by descending cosine similarity
// to q, ties broken by ascending position. An empty index or k <= 0 yields an
// empty result.
func (idx *Index) Search(q []float32, k int) ([]Hit, error) {
	s := idx.snap.Load()
	if k <= 0 || s.n-s.nDead == 0 {
		return []Hit{}, nil
	}

	query, err := idx.normalize(q)
	if err != nil {
		return nil, err
	}

	top := make(hitHeap, 0, min(k, s.n))
	for pos := 0; pos < s.n; pos++ {
		if s.isDead(pos) {
			continue
		}
		row := s.data[pos*idx.dim : (pos+1)*idx.dim]
		var dot float32
		for i, x := range row {
			dot += x * query[i]
		}
		h := Hit{Position: entity.IndexPosition(pos), Score: dot}
		if len(top) < k {
			heap.Push(&top, h)
		} else if better(h, top[0]) {
			top[0] = h
			heap.Fix(&top, 0)
		}
	}

	out := []Hit(top)
	sort.Slice(out, func(i, j int) bool { return better(out[i], out[j]) })
	return out, nil
}

func (idx *Index) normalize(vec []float32) ([]float32, error) {
	if len(vec) != idx.dim {
		return nil, &entity.InvalidInputError{
			Field:   "vector",
			Message: fmt.Sprintf("dimension %d, index expects %d", len(vec), idx.dim),
		}
	}
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if sum == 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return nil, &entity.InvalidInputError{Field: "vector", Message: "vector has no direction"}
	}
	inv := 1 / math.Sqrt(sum)
	out := make([]float32, len(vec))
	for i, x := range vec {
		out[i] = float32(float64(x) * inv)
	}
	return out, nil
}

// better orders hits by score, then by earlier position.
func better(a, b Hit) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Position < b.Position
}

// hitHeap is a min-heap whose root is the worst hit kept so far.
type hitHeap []Hit

func (h hitHeap) Len() int           { return len(h) }
func (h hitHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h hitHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x any)        { *h = append(*h, x.(Hit)) }
func (h *hitHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
