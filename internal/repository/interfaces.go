package repository

import (
	"context"
	"time"

	"github.com/specport/podio-gateway/internal/domain"
	"github.com/specport/podio-gateway/internal/domain/oauth"
)

// TokenStore persists the single current TokenRecord for the deployment.
type TokenStore interface {
	// GetLatest returns the current record, or nil when none exists.
	GetLatest(ctx context.Context) (*domain.TokenRecord, error)
	// Upsert writes the record under the fixed singleton identity. Writes
	// from near-simultaneous refreshes resolve last-write-wins on updated_at.
	Upsert(ctx context.Context, record domain.TokenRecord) error
	// Clear removes the record on disconnect or credential rotation.
	Clear(ctx context.Context) error
}

// StateStore persists short-lived anti-CSRF authorization states.
type StateStore interface {
	SaveState(ctx context.Context, state oauth.State, ttl time.Duration) error
	// ConsumeState atomically loads and deletes the state so a value can be
	// accepted at most once. Returns nil when the state is unknown.
	ConsumeState(ctx context.Context, state string) (*oauth.State, error)
}
