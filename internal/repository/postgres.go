package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/specport/podio-gateway/internal/domain"
)

// PostgresTokenStore implements TokenStore over a dedicated single-row table.
type PostgresTokenStore struct {
	pool *pgxpool.Pool
}

var _ TokenStore = (*PostgresTokenStore)(nil)

func NewPostgresTokenStore(pool *pgxpool.Pool) *PostgresTokenStore {
	return &PostgresTokenStore{pool: pool}
}

func (s *PostgresTokenStore) GetLatest(ctx context.Context) (*domain.TokenRecord, error) {
	const query = `
		SELECT id, access_token, refresh_token, token_type, scope, expires_at, updated_at
		FROM oauth_tokens
		WHERE id = $1`

	var rec domain.TokenRecord
	err := s.pool.QueryRow(ctx, query, domain.CurrentTokenID).Scan(
		&rec.ID,
		&rec.AccessToken,
		&rec.RefreshToken,
		&rec.TokenType,
		&rec.Scope,
		&rec.ExpiresAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return &rec, nil
}

func (s *PostgresTokenStore) Upsert(ctx context.Context, record domain.TokenRecord) error {
	const query = `
		INSERT INTO oauth_tokens (id, access_token, refresh_token, token_type, scope, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			access_token = EXCLUDED.access_token,
			refresh_token = EXCLUDED.refresh_token,
			token_type = EXCLUDED.token_type,
			scope = EXCLUDED.scope,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at`

	updatedAt := record.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, query,
		domain.CurrentTokenID,
		record.AccessToken,
		record.RefreshToken,
		record.TokenType,
		record.Scope,
		record.ExpiresAt.UTC(),
		updatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

func (s *PostgresTokenStore) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM oauth_tokens WHERE id = $1`, domain.CurrentTokenID); err != nil {
		return fmt.Errorf("clear token: %w", err)
	}
	return nil
}
