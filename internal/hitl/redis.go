package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "hitl:resume:"

// redisEnvelope carries the expiry alongside the state so the engine's
// delete-then-check contract holds even though Redis also expires the key
// natively.
type redisEnvelope struct {
	State     json.RawMessage `json:"state"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// RedisStore keeps paused state in Redis with a native TTL. GETDEL makes the
// redeem a single round trip.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a Redis-backed token store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Put(ctx context.Context, token string, state []byte, expiresAt time.Time) error {
	env, err := json.Marshal(redisEnvelope{State: state, ExpiresAt: expiresAt})
	if err != nil {
		return fmt.Errorf("hitl: encode envelope: %w", err)
	}
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.client.Set(ctx, redisKeyPrefix+token, env, ttl).Err(); err != nil {
		return fmt.Errorf("hitl: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Take(ctx context.Context, token string) ([]byte, time.Time, error) {
	raw, err := s.client.GetDel(ctx, redisKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, time.Time{}, ErrNotFound
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("hitl: redis getdel: %w", err)
	}
	var env redisEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, time.Time{}, fmt.Errorf("hitl: decode envelope: %w", err)
	}
	return env.State, env.ExpiresAt, nil
}

func (s *RedisStore) Close() error {
	return nil
}

var _ Store = (*RedisStore)(nil)
