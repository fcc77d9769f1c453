package cache

import (
	"context"
	"fmt"
	"testing"
	"time"
)

// TestMemoryTierLRUEviction verifies the entry ceiling evicts the least
// recently accessed entry
func TestMemoryTierLRUEviction(t *testing.T) {
	ctx := context.Background()

	tier := NewMemoryTier(3, 0)
	defer tier.Close()

	for i := 1; i <= 3; i++ {
		entry, _ := NewEntry(fmt.Sprintf("k%d", i), i, time.Minute, nil)
		if err := tier.Set(ctx, entry); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	// Touch k1 so k2 becomes the oldest
	if _, ok, _ := tier.Get(ctx, "k1"); !ok {
		t.Fatal("Expected k1 present")
	}

	// Fourth insert must evict k2
	entry, _ := NewEntry("k4", 4, time.Minute, nil)
	if err := tier.Set(ctx, entry); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if _, ok, _ := tier.Get(ctx, "k2"); ok {
		t.Error("Expected k2 evicted as least recently accessed")
	}
	for _, key := range []string{"k1", "k3", "k4"} {
		if _, ok, _ := tier.Get(ctx, key); !ok {
			t.Errorf("Expected %s to survive eviction", key)
		}
	}

	stats := tier.Stats(ctx)
	if stats.Entries != 3 {
		t.Errorf("Expected 3 entries after eviction, got %d", stats.Entries)
	}
	if stats.Evictions != 1 {
		t.Errorf("Expected 1 eviction, got %d", stats.Evictions)
	}

	t.Log("✓ Entry ceiling evicts the least recently accessed entry")
}

// TestMemoryTierEvictionHook verifies the hook fires once per capacity
// eviction
func TestMemoryTierEvictionHook(t *testing.T) {
	ctx := context.Background()

	tier := NewMemoryTier(2, 0)
	defer tier.Close()

	evicted := 0
	tier.SetEvictionHook(func() { evicted++ })

	for i := 1; i <= 5; i++ {
		entry, _ := NewEntry(fmt.Sprintf("k%d", i), i, time.Minute, nil)
		tier.Set(ctx, entry)
	}

	if evicted != 3 {
		t.Errorf("Expected 3 hook invocations, got %d", evicted)
	}
	if n := tier.Stats(ctx).Evictions; n != 3 {
		t.Errorf("Expected 3 evictions counted, got %d", n)
	}

	t.Log("✓ Eviction hook fires once per capacity eviction")
}

// TestMemoryTierEntryCountNeverExceedsCeiling verifies the hard bound
// holds under sustained inserts
func TestMemoryTierEntryCountNeverExceedsCeiling(t *testing.T) {
	ctx := context.Background()

	tier := NewMemoryTier(10, 0)
	defer tier.Close()

	for i := 0; i < 100; i++ {
		entry, _ := NewEntry(fmt.Sprintf("k%d", i), i, time.Minute, nil)
		tier.Set(ctx, entry)

		if n := tier.Stats(ctx).Entries; n > 10 {
			t.Fatalf("Entry count %d exceeded ceiling 10 after insert %d", n, i)
		}
	}

	t.Log("✓ Entry count never exceeds the ceiling")
}

// TestMemoryTierExpiredEntryIsMiss verifies expired entries read as
// misses and are removed
func TestMemoryTierExpiredEntryIsMiss(t *testing.T) {
	ctx := context.Background()

	tier := NewMemoryTier(10, 0)
	defer tier.Close()

	base := time.Now()
	tier.now = func() time.Time { return base }

	entry, _ := NewEntry("fleeting", "v", 50*time.Millisecond, nil)
	tier.Set(ctx, entry)

	if _, ok, _ := tier.Get(ctx, "fleeting"); !ok {
		t.Fatal("Expected hit before expiry")
	}

	// Advance past expiry
	tier.now = func() time.Time { return base.Add(time.Second) }

	if _, ok, _ := tier.Get(ctx, "fleeting"); ok {
		t.Error("Expected miss after expiry")
	}
	if n := tier.Stats(ctx).Entries; n != 0 {
		t.Errorf("Expected expired entry removed, still have %d entries", n)
	}

	t.Log("✓ Expired entries read as misses and are removed")
}

// TestMemoryTierSetReplacesExisting verifies replacing a key does not
// grow the tier
func TestMemoryTierSetReplacesExisting(t *testing.T) {
	ctx := context.Background()

	tier := NewMemoryTier(10, 0)
	defer tier.Close()

	e1, _ := NewEntry("k", "old", time.Minute, nil)
	tier.Set(ctx, e1)
	e2, _ := NewEntry("k", "new", time.Minute, nil)
	tier.Set(ctx, e2)

	got, ok, _ := tier.Get(ctx, "k")
	if !ok {
		t.Fatal("Expected hit")
	}
	if got.Value != "new" {
		t.Errorf("Expected replaced value %q, got %v", "new", got.Value)
	}
	if n := tier.Stats(ctx).Entries; n != 1 {
		t.Errorf("Expected 1 entry after replace, got %d", n)
	}

	t.Log("✓ Replacing a key does not grow the tier")
}

// TestMemoryTierExistsDoesNotPromote verifies Exists leaves LRU order
// untouched
func TestMemoryTierExistsDoesNotPromote(t *testing.T) {
	ctx := context.Background()

	tier := NewMemoryTier(2, 0)
	defer tier.Close()

	e1, _ := NewEntry("k1", 1, time.Minute, nil)
	tier.Set(ctx, e1)
	e2, _ := NewEntry("k2", 2, time.Minute, nil)
	tier.Set(ctx, e2)

	// Exists on k1 must not refresh its recency
	if ok, _ := tier.Exists(ctx, "k1"); !ok {
		t.Fatal("Expected k1 to exist")
	}

	e3, _ := NewEntry("k3", 3, time.Minute, nil)
	tier.Set(ctx, e3)

	if _, ok, _ := tier.Get(ctx, "k1"); ok {
		t.Error("Expected k1 evicted despite Exists check")
	}

	t.Log("✓ Exists does not touch access metadata")
}

// TestMemoryTierClearPattern verifies glob matching on clear
func TestMemoryTierClearPattern(t *testing.T) {
	ctx := context.Background()

	tier := NewMemoryTier(10, 0)
	defer tier.Close()

	for _, key := range []string{"user:1", "user:2", "order:1"} {
		entry, _ := NewEntry(key, key, time.Minute, nil)
		tier.Set(ctx, entry)
	}

	removed, err := tier.Clear(ctx, "user:*")
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 removed, got %d", removed)
	}

	// Empty pattern clears everything
	removed, _ = tier.Clear(ctx, "")
	if removed != 1 {
		t.Errorf("Expected 1 removed by empty pattern, got %d", removed)
	}

	t.Log("✓ Clear applies glob patterns, empty pattern clears all")
}

// TestMemoryTierInvalidateTags verifies exact tag invalidation
func TestMemoryTierInvalidateTags(t *testing.T) {
	ctx := context.Background()

	tier := NewMemoryTier(10, 0)
	defer tier.Close()

	e1, _ := NewEntry("a", 1, time.Minute, []string{"users"})
	tier.Set(ctx, e1)
	e2, _ := NewEntry("b", 2, time.Minute, []string{"orders"})
	tier.Set(ctx, e2)

	removed, err := tier.InvalidateTags(ctx, []string{"users"})
	if err != nil {
		t.Fatalf("InvalidateTags failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("Expected 1 invalidated, got %d", removed)
	}
	if _, ok, _ := tier.Get(ctx, "b"); !ok {
		t.Error("Expected differently tagged entry to survive")
	}

	t.Log("✓ Tag invalidation is exact in the memory tier")
}

// TestMemoryTierSweepHonorsInterval verifies the background sweep runs
// at the configured interval
func TestMemoryTierSweepHonorsInterval(t *testing.T) {
	ctx := context.Background()

	tier := NewMemoryTier(10, 10*time.Millisecond)
	defer tier.Close()

	entry, _ := NewEntry("fleeting", "v", 5*time.Millisecond, nil)
	tier.Set(ctx, entry)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if tier.Stats(ctx).Entries == 0 {
			t.Log("✓ Background sweep runs at the configured interval")
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Expected background sweep to remove the expired entry")
}

// TestMemoryTierGetReturnsCallerOwnedEntry verifies reads hand out copies
// so callers never mutate tier-held state
func TestMemoryTierGetReturnsCallerOwnedEntry(t *testing.T) {
	ctx := context.Background()

	tier := NewMemoryTier(10, 0)
	defer tier.Close()

	entry, _ := NewEntry("k", "v", time.Minute, []string{"users"})
	tier.Set(ctx, entry)

	first, ok, _ := tier.Get(ctx, "k")
	if !ok {
		t.Fatal("Expected hit")
	}
	if first.AccessCount != 1 {
		t.Errorf("Expected tier to record the access, got count %d", first.AccessCount)
	}

	// Mutating the returned entry must not leak into the tier
	first.Value = "scribbled"
	first.Tags[0] = "scribbled"
	first.ExpiresAt = time.Time{}

	second, ok, _ := tier.Get(ctx, "k")
	if !ok {
		t.Fatal("Expected hit after caller mutation")
	}
	if second.Value != "v" {
		t.Errorf("Expected stored value %q, got %v", "v", second.Value)
	}
	if second.Tags[0] != "users" {
		t.Errorf("Expected stored tag %q, got %q", "users", second.Tags[0])
	}
	if second.AccessCount != 2 {
		t.Errorf("Expected access count 2, got %d", second.AccessCount)
	}

	t.Log("✓ Get returns caller-owned copies and records accesses in the tier")
}

// TestMemoryTierHitMissCounters verifies stats counters
func TestMemoryTierHitMissCounters(t *testing.T) {
	ctx := context.Background()

	tier := NewMemoryTier(10, 0)
	defer tier.Close()

	entry, _ := NewEntry("k", "v", time.Minute, nil)
	tier.Set(ctx, entry)

	tier.Get(ctx, "k")
	tier.Get(ctx, "k")
	tier.Get(ctx, "missing")

	stats := tier.Stats(ctx)
	if stats.Hits != 2 {
		t.Errorf("Expected 2 hits, got %d", stats.Hits)
	}
	if stats.Misses != 1 {
		t.Errorf("Expected 1 miss, got %d", stats.Misses)
	}

	t.Log("✓ Hit and miss counters track accesses")
}
