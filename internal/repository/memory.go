package repository

import (
	"context"
	"sync"
	"time"

	"github.com/specport/podio-gateway/internal/domain"
)

// MemoryTokenStore keeps the token record in process memory. Used when no
// DATABASE_URL is configured (dev mode) and by tests. Tokens do not survive
// restarts.
type MemoryTokenStore struct {
	mu     sync.RWMutex
	record *domain.TokenRecord
}

var _ TokenStore = (*MemoryTokenStore)(nil)

func NewMemoryTokenStore() *MemoryTokenStore {
	return &MemoryTokenStore{}
}

func (s *MemoryTokenStore) GetLatest(context.Context) (*domain.TokenRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.record == nil {
		return nil, nil
	}
	rec := *s.record
	return &rec, nil
}

func (s *MemoryTokenStore) Upsert(_ context.Context, record domain.TokenRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record.ID = domain.CurrentTokenID
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}
	// Last write wins on updated_at, matching the Postgres behaviour when
	// two expiring requests refresh at the same time.
	if s.record != nil && s.record.UpdatedAt.After(record.UpdatedAt) {
		return nil
	}
	s.record = &record
	return nil
}

func (s *MemoryTokenStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = nil
	return nil
}
