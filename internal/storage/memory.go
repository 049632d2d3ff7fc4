package storage

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/mir00r/grace-cache/internal/domain"
)

// DefaultMaxEntries bounds a MemoryStore created with a non-positive size
const DefaultMaxEntries = 100000

type memoryItem struct {
	key   domain.CacheKey
	entry *domain.CacheEntry
}

// MemoryStore is a bounded LRU of shared entry pointers. Entries past their
// Expiry are dropped on access.
type MemoryStore struct {
	mu         sync.Mutex
	maxEntries int
	items      map[domain.CacheKey]*list.Element
	order      *list.List
	now        func() time.Time
}

// NewMemoryStore creates a store holding at most maxEntries objects
func NewMemoryStore(maxEntries int) *MemoryStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryStore{
		maxEntries: maxEntries,
		items:      make(map[domain.CacheKey]*list.Element),
		order:      list.New(),
		now:        time.Now,
	}
}

// Get returns the entry for key, or nil
func (s *MemoryStore) Get(_ context.Context, key domain.CacheKey) (*domain.CacheEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return nil, nil
	}
	item := el.Value.(*memoryItem)
	if expired(item.entry, s.now()) {
		s.removeElement(el)
		return nil, nil
	}
	s.order.MoveToFront(el)
	return item.entry, nil
}

// Put stores entry, evicting the least recently used object when full
func (s *MemoryStore) Put(_ context.Context, key domain.CacheKey, entry *domain.CacheEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		el.Value.(*memoryItem).entry = entry
		s.order.MoveToFront(el)
		return nil
	}

	s.items[key] = s.order.PushFront(&memoryItem{key: key, entry: entry})
	for s.order.Len() > s.maxEntries {
		s.removeElement(s.order.Back())
	}
	return nil
}

// Purge removes key
func (s *MemoryStore) Purge(_ context.Context, key domain.CacheKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		s.removeElement(el)
	}
	return nil
}

// Sweep drops every expired entry and returns how many were removed
func (s *MemoryStore) Sweep() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for el := s.order.Back(); el != nil; {
		prev := el.Prev()
		if expired(el.Value.(*memoryItem).entry, now) {
			s.removeElement(el)
			removed++
		}
		el = prev
	}
	return removed, nil
}

func (s *MemoryStore) removeElement(el *list.Element) {
	s.order.Remove(el)
	delete(s.items, el.Value.(*memoryItem).key)
}

// Len returns the number of stored objects
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
