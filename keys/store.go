package keys

import (
	"context"
	"sync"
	"time"
)

// Store caches signing keys between refreshes. Implementations must be safe
// for concurrent use. Entries expire after the ttl passed to Put; an expired
// entry behaves as a miss.
type Store interface {
	Get(ctx context.Context, kid string) (SigningKey, bool, error)
	Put(ctx context.Context, key SigningKey, ttl time.Duration) error
	// Replace installs keys as the complete cache contents, dropping any
	// entry not present in it. Readers must never observe an intermediate
	// state where previously cached keys are gone but the fresh set is not
	// yet visible.
	Replace(ctx context.Context, keys []SigningKey, ttl time.Duration) error
}

type memoryEntry struct {
	key       SigningKey
	expiresAt time.Time
}

// MemoryStore is the default in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore builds an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

// Get implements Store. Expired entries are evicted lazily.
func (s *MemoryStore) Get(_ context.Context, kid string) (SigningKey, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[kid]
	if !ok {
		return SigningKey{}, false, nil
	}
	if s.now().After(e.expiresAt) {
		delete(s.entries, kid)
		return SigningKey{}, false, nil
	}
	return e.key, true, nil
}

// Put implements Store.
func (s *MemoryStore) Put(_ context.Context, key SigningKey, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key.KeyID] = memoryEntry{key: key, expiresAt: s.now().Add(ttl)}
	return nil
}

// Replace implements Store. The swap happens under one lock acquisition so
// concurrent Gets see either the old set or the new one, never an empty
// in-between.
func (s *MemoryStore) Replace(_ context.Context, keys []SigningKey, ttl time.Duration) error {
	entries := make(map[string]memoryEntry, len(keys))
	for _, k := range keys {
		entries[k.KeyID] = memoryEntry{key: k, expiresAt: s.now().Add(ttl)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	return nil
}
