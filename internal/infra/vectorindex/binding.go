package vectorindex

import (
	"fmt"
	"sort"
	"sync"

	"article-finder/internal/domain/entity"
)

// Binding maps index positions to article ids, unique in both directions.
type Binding struct {
	mu    sync.RWMutex
	byPos map[entity.IndexPosition]string
	byID  map[string]entity.IndexPosition
}

// NewBinding creates an empty binding.
func NewBinding() *Binding {
	return &Binding{
		byPos: make(map[entity.IndexPosition]string),
		byID:  make(map[string]entity.IndexPosition),
	}
}

// Bind associates pos with id. When id was bound to another position, that
// binding is removed and its position returned so the caller can tombstone it.
// Binding a position that already belongs to a different id is an error.
func (b *Binding) Bind(pos entity.IndexPosition, id string) (prev entity.IndexPosition, replaced bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if owner, ok := b.byPos[pos]; ok {
		if owner == id {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("bind: position %d already bound to %q", pos, owner)
	}

	if old, ok := b.byID[id]; ok {
		delete(b.byPos, old)
		prev, replaced = old, true
	}
	b.byPos[pos] = id
	b.byID[id] = pos
	return prev, replaced, nil
}

// Unbind removes the binding of pos, if any.
func (b *Binding) Unbind(pos entity.IndexPosition) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if id, ok := b.byPos[pos]; ok {
		delete(b.byPos, pos)
		delete(b.byID, id)
	}
}

// ArticleID returns the id bound to pos.
func (b *Binding) ArticleID(pos entity.IndexPosition) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	id, ok := b.byPos[pos]
	return id, ok
}

// Position returns the position bound to id.
func (b *Binding) Position(id string) (entity.IndexPosition, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pos, ok := b.byID[id]
	return pos, ok
}

// Resolve looks up several positions under one lock. Unbound positions are absent.
func (b *Binding) Resolve(positions []entity.IndexPosition) map[entity.IndexPosition]string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[entity.IndexPosition]string, len(positions))
	for _, pos := range positions {
		if id, ok := b.byPos[pos]; ok {
			out[pos] = id
		}
	}
	return out
}

// Len returns the number of bindings.
func (b *Binding) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byPos)
}

// Each calls fn for every binding in ascending position order.
func (b *Binding) Each(fn func(pos entity.IndexPosition, id string) error) error {
	b.mu.RLock()
	positions := make([]entity.IndexPosition, 0, len(b.byPos))
	ids := make(map[entity.IndexPosition]string, len(b.byPos))
	for pos, id := range b.byPos {
		positions = append(positions, pos)
		ids[pos] = id
	}
	b.mu.RUnlock()

	sort.Slice(positions, func(i, j int) bool { return positions[i] < positions[j] })
	for _, pos := range positions {
		if err := fn(pos, ids[pos]); err != nil {
			return err
		}
	}
	return nil
}
