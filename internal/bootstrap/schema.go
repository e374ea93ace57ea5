package bootstrap

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// EnsureSchema creates the single-row token table if it does not exist. The
// CHECK constraint pins the row identity so the "one current token" invariant
// is enforced by the schema, not by convention.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS oauth_tokens (
			id            SMALLINT PRIMARY KEY CHECK (id = 1),
			access_token  TEXT NOT NULL,
			refresh_token TEXT NOT NULL,
			token_type    TEXT NOT NULL DEFAULT 'bearer',
			scope         TEXT NOT NULL DEFAULT '',
			expires_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL
		)`

	if _, err := pool.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("ensure oauth_tokens schema: %w", err)
	}
	if logger != nil {
		logger.Debug("oauth_tokens schema ensured")
	}
	return nil
}
