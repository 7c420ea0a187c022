package embedcache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryStore keeps entries in process memory. It is used by tests and by
// deployments that accept recomputing every embedding after a restart.
type MemoryStore struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*list.Element
	order    *list.List // oldest CreatedAt at the front
}

// NewMemoryStore creates a store holding at most capacity entries. 0 means unbounded.
func NewMemoryStore(capacity int) *MemoryStore {
	return &MemoryStore{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		order:    list.New(),
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (*Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	return cloneEntry(el.Value.(*Entry)), true, nil
}

func (s *MemoryStore) Put(_ context.Context, entry *Entry) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[entry.Key]; ok {
		s.order.Remove(el)
	}
	stored := cloneEntry(entry)

	// keep the list sorted by CreatedAt; new entries are almost always the newest
	at := s.order.Back()
	for at != nil && at.Value.(*Entry).CreatedAt.After(stored.CreatedAt) {
		at = at.Prev()
	}
	if at == nil {
		s.entries[stored.Key] = s.order.PushFront(stored)
	} else {
		s.entries[stored.Key] = s.order.InsertAfter(stored, at)
	}

	evicted := 0
	for s.capacity > 0 && s.order.Len() > s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.entries, oldest.Value.(*Entry).Key)
		evicted++
	}
	return evicted, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.entries[key]; ok {
		s.order.Remove(el)
		delete(s.entries, key)
	}
	return nil
}

func (s *MemoryStore) Len(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries), nil
}

func (s *MemoryStore) Purge(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for el := s.order.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*Entry)
		if e.ValidUntil.Before(cutoff) {
			s.order.Remove(el)
			delete(s.entries, e.Key)
			removed++
		}
		el = next
	}
	return removed, nil
}

func (s *MemoryStore) Close() error { return nil }

func cloneEntry(e *Entry) *Entry {
	c := *e
	c.Vector = append([]float32(nil), e.Vector...)
	return &c
}
