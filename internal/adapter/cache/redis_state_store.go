package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/specport/podio-gateway/internal/domain/oauth"
	"github.com/specport/podio-gateway/internal/repository"
)

const statePrefix = "oauth:state:"

// RedisStateStore implements StateStore backed by Redis.
type RedisStateStore struct {
	client redis.UniversalClient
}

var _ repository.StateStore = (*RedisStateStore)(nil)

// NewRedisStateStore constructs a Redis-backed state store.
func NewRedisStateStore(client redis.UniversalClient) *RedisStateStore {
	return &RedisStateStore{client: client}
}

// SaveState stores the encoded state payload with TTL.
func (s *RedisStateStore) SaveState(ctx context.Context, state oauth.State, ttl time.Duration) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	if err := s.client.Set(ctx, stateKey(state.State), payload, ttl).Err(); err != nil {
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

// ConsumeState loads and deletes the state in one round trip. GETDEL makes
// replay of the same state value impossible even across concurrent callbacks.
func (s *RedisStateStore) ConsumeState(ctx context.Context, state string) (*oauth.State, error) {
	bytes, err := s.client.GetDel(ctx, stateKey(state)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("consume state: %w", err)
	}
	var decoded oauth.State
	if err := json.Unmarshal(bytes, &decoded); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &decoded, nil
}

func stateKey(state string) string {
	return statePrefix + strings.TrimSpace(state)
}
