// Package cache provides a tiered key/value cache with TTL expiry,
// tag-based invalidation, and read-through promotion between tiers.
package cache

import (
	"context"
	"errors"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned when a key is not found in cache
	ErrNotFound = errors.New("cache: key not found")

	// ErrInvalidTTL is returned when an entry is stored without a positive TTL
	ErrInvalidTTL = errors.New("cache: ttl must be positive")

	// ErrCapacity is returned when a size-bounded tier refuses a write
	// rather than evicting live entries
	ErrCapacity = errors.New("cache: tier over capacity")
)

// TierStats reports per-tier statistics. An unreachable tier reports
// Reachable=false with zero entries instead of failing the stats call.
type TierStats struct {
	Name      string `json:"name"`
	Entries   int    `json:"entries"`
	SizeBytes int64  `json:"size_bytes"`
	Hits      int64  `json:"hits"`
	Misses    int64  `json:"misses"`
	Evictions int64  `json:"evictions"`
	Reachable bool   `json:"reachable"`
}

// Tier is the capability contract implemented by every storage backend.
// A miss is (nil, false, nil); an unreachable backend is an ordinary error
// value, never a panic. Implementations must be safe for concurrent use.
type Tier interface {
	// Name returns the tier's name for logging and stats.
	Name() string

	// Get returns the live entry for key, or (nil, false, nil) on a miss.
	// Expired entries are removed and reported as a miss. The returned
	// entry is owned by the caller: the tier records the access itself and
	// never hands out state it may later mutate.
	Get(ctx context.Context, key string) (*Entry, bool, error)

	// Set stores the entry. The entry's remaining TTL governs expiry.
	Set(ctx context.Context, e *Entry) error

	// Delete removes key and reports whether it was present.
	Delete(ctx context.Context, key string) (bool, error)

	// Clear removes all entries matching pattern (glob; empty matches all)
	// and returns the number removed.
	Clear(ctx context.Context, pattern string) (int, error)

	// Exists reports whether a live entry is present without mutating
	// access metadata.
	Exists(ctx context.Context, key string) (bool, error)

	// InvalidateTags removes entries carrying any of the given tags.
	// Best-effort: tags are not indexed separately.
	InvalidateTags(ctx context.Context, tags []string) (int, error)

	// Stats returns the tier's statistics.
	Stats(ctx context.Context) TierStats

	// Close releases tier resources.
	Close() error
}

// matchKey reports whether key matches the glob pattern.
// An empty pattern matches everything.
func matchKey(pattern, key string) bool {
	if pattern == "" {
		return true
	}
	// path.Match treats '/' specially; cache keys use ':' separators,
	// so fall back to a prefix check when the pattern is malformed.
	ok, err := path.Match(pattern, key)
	if err != nil {
		return strings.HasPrefix(key, strings.TrimSuffix(pattern, "*"))
	}
	return ok
}

// hasAnyTag reports whether entry tags intersect the given set.
func hasAnyTag(entryTags, tags []string) bool {
	for _, t := range tags {
		for _, et := range entryTags {
			if t == et {
				return true
			}
		}
	}
	return false
}
