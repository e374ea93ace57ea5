package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/specport/podio-gateway/internal/domain"
)

func TestMemoryTokenStoreEmpty(t *testing.T) {
	store := NewMemoryTokenStore()

	rec, err := store.GetLatest(context.Background())
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestMemoryTokenStoreUpsertForcesSingletonID(t *testing.T) {
	store := NewMemoryTokenStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, domain.TokenRecord{ID: 99, AccessToken: "A1"}))

	rec, err := store.GetLatest(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.CurrentTokenID, rec.ID)
	require.Equal(t, "A1", rec.AccessToken)
	require.False(t, rec.UpdatedAt.IsZero())
}

func TestMemoryTokenStoreLastWriteWins(t *testing.T) {
	store := NewMemoryTokenStore()
	ctx := context.Background()

	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, store.Upsert(ctx, domain.TokenRecord{AccessToken: "newer", UpdatedAt: base.Add(time.Second)}))
	require.NoError(t, store.Upsert(ctx, domain.TokenRecord{AccessToken: "older", UpdatedAt: base}))

	rec, err := store.GetLatest(ctx)
	require.NoError(t, err)
	require.Equal(t, "newer", rec.AccessToken)
}

func TestMemoryTokenStoreClear(t *testing.T) {
	store := NewMemoryTokenStore()
	ctx := context.Background()

	require.NoError(t, store.Upsert(ctx, domain.TokenRecord{AccessToken: "A1"}))
	require.NoError(t, store.Clear(ctx))

	rec, err := store.GetLatest(ctx)
	require.NoError(t, err)
	require.Nil(t, rec)
}
