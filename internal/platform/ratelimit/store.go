package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StateStore persists per-key limiter state so multiple instances count
// against the same budget. Any store failure must be treated as "use
// local state" by the caller — availability over strict global accuracy.
type StateStore interface {
	// Load returns the stored state for key, or (nil, false, nil) when absent.
	Load(ctx context.Context, key string) (*State, bool, error)

	// Save persists the state with the given TTL.
	Save(ctx context.Context, key string, st *State, ttl time.Duration) error

	// Clear removes stored states matching pattern (glob; empty matches
	// all) and returns the number removed.
	Clear(ctx context.Context, pattern string) (int, error)
}

// RedisStateStore persists limiter state as the fixed-shape JSON record.
type RedisStateStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStateStore wraps an existing Redis client.
func NewRedisStateStore(client *redis.Client, prefix string) *RedisStateStore {
	if prefix == "" {
		prefix = "gatekit:ratelimit:"
	}
	return &RedisStateStore{
		client: client,
		prefix: prefix,
	}
}

// Load implements StateStore.
func (s *RedisStateStore) Load(ctx context.Context, key string) (*State, bool, error) {
	val, err := s.client.Get(ctx, s.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("ratelimit state load error: %w", err)
	}

	var st State
	if err := json.Unmarshal([]byte(val), &st); err != nil {
		// Unreadable record: treat as absent so the caller starts fresh.
		return nil, false, nil
	}
	return &st, true, nil
}

// Save implements StateStore.
func (s *RedisStateStore) Save(ctx context.Context, key string, st *State, ttl time.Duration) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("ratelimit state save error: %w", err)
	}
	return nil
}

// Clear implements StateStore.
func (s *RedisStateStore) Clear(ctx context.Context, pattern string) (int, error) {
	match := s.prefix + "*"
	if pattern != "" {
		match = s.prefix + pattern
	}

	removed := 0
	iter := s.client.Scan(ctx, 0, match, 200).Iterator()
	for iter.Next(ctx) {
		n, err := s.client.Del(ctx, iter.Val()).Result()
		if err != nil {
			return removed, fmt.Errorf("ratelimit state clear error: %w", err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("ratelimit state scan error: %w", err)
	}
	return removed, nil
}
