package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryTier is the in-process tier: a strict LRU with a hard entry-count
// ceiling and TTL support. Eviction removes the entry with the oldest
// access when the ceiling is exceeded.
type MemoryTier struct {
	maxEntries    int
	sweepInterval time.Duration
	items         map[string]*list.Element
	lru           *list.List // front = most recently accessed
	mu            sync.RWMutex
	stopCh        chan struct{}
	stopOnce      sync.Once

	hits      int64
	misses    int64
	evictions int64
	onEvict   func()

	now func() time.Time
}

// NewMemoryTier creates a new in-process tier with a hard ceiling of
// maxEntries entries. Expired entries are swept every sweepInterval;
// zero selects a one-minute sweep.
func NewMemoryTier(maxEntries int, sweepInterval time.Duration) *MemoryTier {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	t := &MemoryTier{
		maxEntries:    maxEntries,
		sweepInterval: sweepInterval,
		items:         make(map[string]*list.Element),
		lru:           list.New(),
		stopCh:        make(chan struct{}),
		now:           time.Now,
	}

	go t.sweep()

	return t
}

// Name implements Tier.
func (t *MemoryTier) Name() string { return "memory" }

// SetEvictionHook registers fn, invoked on every capacity eviction.
func (t *MemoryTier) SetEvictionHook(fn func()) {
	t.mu.Lock()
	t.onEvict = fn
	t.mu.Unlock()
}

// Get implements Tier. Expired entries are removed before reporting a miss.
func (t *MemoryTier) Get(ctx context.Context, key string) (*Entry, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	element, exists := t.items[key]
	if !exists {
		t.misses++
		return nil, false, nil
	}

	entry := element.Value.(*Entry)
	if entry.Expired(t.now()) {
		t.remove(key)
		t.misses++
		return nil, false, nil
	}

	entry.Touch(t.now())
	t.lru.MoveToFront(element)
	t.hits++
	// The map keeps the original; callers get a copy they are free to
	// mutate or promote without holding the tier lock.
	return entry.Copy(), true, nil
}

// Set implements Tier.
func (t *MemoryTier) Set(ctx context.Context, e *Entry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if element, exists := t.items[e.Key]; exists {
		element.Value = e
		t.lru.MoveToFront(element)
		return nil
	}

	element := t.lru.PushFront(e)
	t.items[e.Key] = element

	if t.lru.Len() > t.maxEntries {
		t.evictOldest()
	}

	return nil
}

// Delete implements Tier.
func (t *MemoryTier) Delete(ctx context.Context, key string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, existed := t.items[key]
	t.remove(key)
	return existed, nil
}

// Clear implements Tier.
func (t *MemoryTier) Clear(ctx context.Context, pattern string) (int, error) {
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

// Exists implements Tier. Access metadata is not touched.
func (t *MemoryTier) Exists(ctx context.Context, key string) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	element, exists := t.items[key]
	if !exists {
		return false, nil
	}
	return !element.Value.(*Entry).Expired(t.now()), nil
}

// InvalidateTags implements Tier. In-process entries carry their tag set,
// so invalidation here is exact.
func (t *MemoryTier) InvalidateTags(ctx context.Context, tags []string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for key, element := range t.items {
		if hasAnyTag(element.Value.(*Entry).Tags, tags) {
			t.remove(key)
			removed++
		}
	}
	return removed, nil
}

// Stats implements Tier.
func (t *MemoryTier) Stats(ctx context.Context) TierStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var size int64
	for _, element := range t.items {
		size += element.Value.(*Entry).Size
	}

	return TierStats{
		Name:      t.Name(),
		Entries:   len(t.items),
		SizeBytes: size,
		Hits:      t.hits,
		Misses:    t.misses,
		Evictions: t.evictions,
		Reachable: true,
	}
}

// Close implements Tier.
func (t *MemoryTier) Close() error {
	t.stopOnce.Do(func() { close(t.stopCh) })
	return nil
}

// remove removes an item (caller must hold lock)
func (t *MemoryTier) remove(key string) {
	if element, exists := t.items[key]; exists {
		t.lru.Remove(element)
		delete(t.items, key)
	}
}

// evictOldest removes the least recently accessed entry (caller must hold lock)
func (t *MemoryTier) evictOldest() {
	element := t.lru.Back()
	if element == nil {
		return
	}
	t.remove(element.Value.(*Entry).Key)
	t.evictions++
	if t.onEvict != nil {
		t.onEvict()
	}
}

// sweep periodically removes expired entries.
func (t *MemoryTier) sweep() {
	ticker := time.NewTicker(t.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			t.sweepExpired()
		case <-t.stopCh:
			return
		}
	}
}

func (t *MemoryTier) sweepExpired() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	for key, element := range t.items {
		if element.Value.(*Entry).Expired(now) {
			t.remove(key)
		}
	}
}
