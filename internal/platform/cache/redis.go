package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTier is the shared network tier. Entries are stored as the
// fixed-shape JSON envelope with Redis-native TTL expiry; the tier
// performs no application-level eviction of its own.
type RedisTier struct {
	client *redis.Client
	prefix string

	hits   atomic.Int64
	misses atomic.Int64
}

// NewRedisTier wraps an existing Redis client. The prefix namespaces
// cache keys away from other users of the same database.
func NewRedisTier(client *redis.Client, prefix string) *RedisTier {
	if prefix == "" {
		prefix = "gatekit:cache:"
	}
	return &RedisTier{
		client: client,
		prefix: prefix,
	}
}

// Name implements Tier.
func (t *RedisTier) Name() string { return "redis" }

func (t *RedisTier) storageKey(key string) string {
	return t.prefix + key
}

// Get implements Tier.
func (t *RedisTier) Get(ctx context.Context, key string) (*Entry, bool, error) {
	val, err := t.client.Get(ctx, t.storageKey(key)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			t.misses.Add(1)
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get error: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(val), &entry); err != nil {
		// Corrupt envelope: drop it rather than serving garbage.
		t.client.Del(ctx, t.storageKey(key))
		t.misses.Add(1)
		return nil, false, nil
	}

	// Redis expiry is authoritative, but clock skew between writers can
	// leave a logically expired envelope behind briefly.
	if entry.Expired(time.Now()) {
		t.client.Del(ctx, t.storageKey(key))
		t.misses.Add(1)
		return nil, false, nil
	}

	entry.Touch(time.Now())
	t.hits.Add(1)
	return &entry, true, nil
}

// Set implements Tier. The Redis TTL is the entry's remaining TTL.
func (t *RedisTier) Set(ctx context.Context, e *Entry) error {
	remaining := e.Remaining(time.Now())
	if remaining <= 0 {
		return nil
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}

	if err := t.client.Set(ctx, t.storageKey(e.Key), data, remaining).Err(); err != nil {
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Delete implements Tier.
func (t *RedisTier) Delete(ctx context.Context, key string) (bool, error) {
	n, err := t.client.Del(ctx, t.storageKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis delete error: %w", err)
	}
	return n > 0, nil
}

// Clear implements Tier. Uses SCAN so it never blocks the server on
// large keyspaces.
func (t *RedisTier) Clear(ctx context.Context, pattern string) (int, error) {
	match := t.prefix + "*"
	if pattern != "" {
		match = t.prefix + pattern
	}

	removed := 0
	iter := t.client.Scan(ctx, 0, match, 200).Iterator()
	for iter.Next(ctx) {
		n, err := t.client.Del(ctx, iter.Val()).Result()
		if err != nil {
			return removed, fmt.Errorf("redis clear error: %w", err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan error: %w", err)
	}
	return removed, nil
}

// Exists implements Tier.
func (t *RedisTier) Exists(ctx context.Context, key string) (bool, error) {
	n, err := t.client.Exists(ctx, t.storageKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists error: %w", err)
	}
	return n > 0, nil
}

// InvalidateTags implements Tier. Tags are not indexed in Redis, so this
// walks the namespace and inspects each envelope. Best-effort only.
func (t *RedisTier) InvalidateTags(ctx context.Context, tags []string) (int, error) {
	removed := 0
	iter := t.client.Scan(ctx, 0, t.prefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		storageKey := iter.Val()
		val, err := t.client.Get(ctx, storageKey).Result()
		if err != nil {
			continue
		}
		var entry Entry
		if err := json.Unmarshal([]byte(val), &entry); err != nil {
			continue
		}
		if hasAnyTag(entry.Tags, tags) {
			if n, err := t.client.Del(ctx, storageKey).Result(); err == nil {
				removed += int(n)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan error: %w", err)
	}
	return removed, nil
}

// Stats implements Tier. An unreachable Redis reports zero entries
// rather than an error.
func (t *RedisTier) Stats(ctx context.Context) TierStats {
	stats := TierStats{
		Name:   t.Name(),
		Hits:   t.hits.Load(),
		Misses: t.misses.Load(),
	}

	iter := t.client.Scan(ctx, 0, t.prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		stats.Entries++
	}
	if err := iter.Err(); err != nil {
		return TierStats{Name: t.Name(), Hits: stats.Hits, Misses: stats.Misses}
	}

	stats.Reachable = true
	return stats
}

// Close implements Tier. The Redis client is shared with other
// components, so the owner closes it.
func (t *RedisTier) Close() error { return nil }
