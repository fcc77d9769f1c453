package cache

import (
	"context"
	"sync"
	"time"
)

// EdgeTier is the client-/edge-facing tier: a soft byte-size ceiling
// instead of an entry count. When a write would push the tier over the
// ceiling it first purges expired entries; if still over, the write is
// refused rather than evicting live entries. Losing a write is acceptable
// for a cache.
type EdgeTier struct {
	maxBytes  int64
	items     map[string]*Entry
	usedBytes int64
	mu        sync.RWMutex

	hits      int64
	misses    int64
	evictions int64
	onEvict   func()

	now func() time.Time
}

// NewEdgeTier creates an edge tier with a soft ceiling of maxBytes.
func NewEdgeTier(maxBytes int64) *EdgeTier {
	if maxBytes <= 0 {
		maxBytes = 8 << 20 // 8 MiB
	}

	return &EdgeTier{
		maxBytes: maxBytes,
		items:    make(map[string]*Entry),
		now:      time.Now,
	}
}

// Name implements Tier.
func (t *EdgeTier) Name() string { return "edge" }

// SetEvictionHook registers fn, invoked for every expired entry the
// capacity purge drops.
func (t *EdgeTier) SetEvictionHook(fn func()) {
	t.mu.Lock()
	t.onEvict = fn
	t.mu.Unlock()
}

// Get implements Tier.
func (t *EdgeTier) Get(ctx context.Context, key string) (*Entry, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, exists := t.items[key]
	if !exists {
		t.misses++
		return nil, false, nil
	}
	if entry.Expired(t.now()) {
		t.remove(key)
		t.misses++
		return nil, false, nil
	}

	entry.Touch(t.now())
	t.hits++
	return entry.Copy(), true, nil
}

// Set implements Tier. Returns ErrCapacity when the write cannot fit
// after purging expired entries.
func (t *EdgeTier) Set(ctx context.Context, e *Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	// Replacing an existing entry frees its bytes first.
	if old, exists := t.items[e.Key]; exists {
		t.usedBytes -= old.Size
		delete(t.items, e.Key)
	}

	if t.usedBytes+e.Size > t.maxBytes {
		t.purgeExpired()
	}
	if t.usedBytes+e.Size > t.maxBytes {
		return ErrCapacity
	}

	t.items[e.Key] = e
	t.usedBytes += e.Size
	return nil
}

// Delete implements Tier.
func (t *EdgeTier) Delete(ctx context.Context, key string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, existed := t.items[key]
	t.remove(key)
	return existed, nil
}

// Clear implements Tier.
func (t *EdgeTier) Clear(ctx context.Context, pattern string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key := range t.items {
		if matchKey(pattern, key) {
			t.remove(key)
			removed++
		}
	}
	return removed, nil
}

// Exists implements Tier.
func (t *EdgeTier) Exists(ctx context.Context, key string) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	entry, exists := t.items[key]
	if !exists {
		return false, nil
	}
	return !entry.Expired(t.now()), nil
}

// InvalidateTags implements Tier.
func (t *EdgeTier) InvalidateTags(ctx context.Context, tags []string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, entry := range t.items {
		if hasAnyTag(entry.Tags, tags) {
			t.remove(key)
			removed++
		}
	}
	return removed, nil
}

// Stats implements Tier.
func (t *EdgeTier) Stats(ctx context.Context) TierStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return TierStats{
		Name:      t.Name(),
		Entries:   len(t.items),
		SizeBytes: t.usedBytes,
		Hits:      t.hits,
		Misses:    t.misses,
		Evictions: t.evictions,
		Reachable: true,
	}
}

// Close implements Tier.
func (t *EdgeTier) Close() error { return nil }

// remove removes an item and releases its bytes (caller must hold lock)
func (t *EdgeTier) remove(key string) {
	if entry, exists := t.items[key]; exists {
		t.usedBytes -= entry.Size
		delete(t.items, key)
	}
}

// purgeExpired drops all expired entries (caller must hold lock)
func (t *EdgeTier) purgeExpired() {
	now := t.now()
	for key, entry := range t.items {
		if entry.Expired(now) {
			t.remove(key)
			t.evictions++
			if t.onEvict != nil {
				t.onEvict()
			}
		}
	}
}
