package remote

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type memoryEntry struct {
	value    []byte
	storedAt time.Time
}

// MemoryStore is an in-process LRU cache with a TTL window.
type MemoryStore struct {
	cache *lru.Cache[string, memoryEntry]
	ttl   time.Duration
	now   func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source (used in tests).
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewMemoryStore builds an LRU-backed TTL store holding at most maxEntries.
func NewMemoryStore(maxEntries int, ttl time.Duration, opts ...MemoryOption) (*MemoryStore, error) {
	if maxEntries <= 0 {
		maxEntries = 256
	}
	cache, err := lru.New[string, memoryEntry](maxEntries)
	if err != nil {
		return nil, err
	}
	store := &MemoryStore{cache: cache, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Get returns the cached value when present and within the TTL window.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool) {
	entry, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	if s.ttl > 0 && s.now().Sub(entry.storedAt) >= s.ttl {
		// Expired; evict so LRU bookkeeping stays clean.
		s.cache.Remove(key)
		return nil, false
	}
	return entry.value, true
}

// Set stores a value stamped with the current time.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte) {
	s.cache.Add(key, memoryEntry{value: value, storedAt: s.now()})
}
