package cache

import (
	"context"
	"sync"
	"time"

	"github.com/specport/podio-gateway/internal/domain/oauth"
	"github.com/specport/podio-gateway/internal/repository"
)

type memoryEntry struct {
	state     oauth.State
	expiresAt time.Time
}

// MemoryStateStore keeps authorization states in process memory. Used when
// no REDIS_ADDR is configured and by tests.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var _ repository.StateStore = (*MemoryStateStore)(nil)

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryStateStore) SaveState(_ context.Context, state oauth.State, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[state.State] = memoryEntry{
		state:     state,
		expiresAt: s.now().Add(ttl),
	}
	s.evictLocked()
	return nil
}

func (s *MemoryStateStore) ConsumeState(_ context.Context, state string) (*oauth.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[state]
	if !ok {
		return nil, nil
	}
	delete(s.entries, state)
	if s.now().After(entry.expiresAt) {
		return nil, nil
	}
	decoded := entry.state
	return &decoded, nil
}

func (s *MemoryStateStore) evictLocked() {
	now := s.now()
	for key, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, key)
		}
	}
}
