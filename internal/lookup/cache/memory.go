package cache

import (
	"context"
	"path"
	"sync"
	"time"

	"osint/internal/lookup/models"
	"osint/pkg/platform/sentinel"
)

// MemoryStore is an in-process Store. It serves as L1 when Redis is not
// configured and as a test double.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]models.CacheEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]models.CacheEntry),
		now:     time.Now,
	}
}

// NewMemoryStoreWithClock is used by tests that advance time.
func NewMemoryStoreWithClock(now func() time.Time) *MemoryStore {
	s := NewMemoryStore()
	s.now = now
	return s
}

// Get evicts the entry when it has expired.
func (s *MemoryStore) Get(_ context.Context, key string) (models.CacheEntry, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return models.CacheEntry{}, sentinel.ErrNotFound
	}
	if now := s.now(); entry.Expired(now) {
		s.mu.Lock()
		// a concurrent Set may have replaced it
		if cur, ok := s.entries[key]; ok && cur.Expired(now) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return models.CacheEntry{}, sentinel.ErrNotFound
	}
	return entry, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = models.CacheEntry{
		Key:       key,
		Payload:   append([]byte(nil), payload...),
		ExpiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) DeletePattern(_ context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for key := range s.entries {
		if matched, _ := path.Match(pattern, key); matched {
			delete(s.entries, key)
			n++
		}
	}
	return n, nil
}

// PurgeExpired drops every expired entry. The janitor calls it when memory is
// the L1 so keys that are never read again do not accumulate.
func (s *MemoryStore) PurgeExpired(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var n int64
	for key, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, key)
			n++
		}
	}
	return n, nil
}

// Count reports live entries matching pattern and drops expired ones.
func (s *MemoryStore) Count(_ context.Context, pattern string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var n int64
	for key, entry := range s.entries {
		if entry.Expired(now) {
			delete(s.entries, key)
			continue
		}
		if matched, _ := path.Match(pattern, key); matched {
			n++
		}
	}
	return n, nil
}
