package cache

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/agatticelli/gatekit/internal/platform/observability"
)

// Store composes an ordered priority list of tiers (fastest first) into a
// single cache. Reads promote hits into faster tiers carrying the
// remaining TTL; writes fan out to every tier and succeed as long as the
// fastest tier succeeds. Tier failures are logged and swallowed — the
// store degrades, it never raises.
type Store struct {
	tiers   []Tier
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  observability.Tracer

	// sf deduplicates concurrent GetOrSet factory invocations per key.
	sf singleflight.Group

	now func() time.Time
}

// evictionReporter is implemented by tiers that can report evictions as
// they happen.
type evictionReporter interface {
	SetEvictionHook(func())
}

// StoreConfig holds store construction parameters.
type StoreConfig struct {
	// Tiers in priority order, fastest first. At least one is required.
	Tiers   []Tier
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// NewStore creates a tiered cache store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if len(cfg.Tiers) == 0 {
		return nil, fmt.Errorf("cache: at least one tier is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &observability.Metrics{}
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = observability.NewNoopTracer()
	}

	// Process-local tiers report evictions as they happen.
	for _, tier := range cfg.Tiers {
		if r, ok := tier.(evictionReporter); ok {
			name := tier.Name()
			r.SetEvictionHook(func() {
				metrics.RecordCacheEviction(context.Background(), name)
			})
		}
	}

	return &Store{
		tiers:   cfg.Tiers,
		logger:  logger.WithComponent("cache"),
		metrics: metrics,
		tracer:  tracer,
		now:     time.Now,
	}, nil
}

// Get checks tiers in priority order. The first hit is promoted to all
// faster tiers with its remaining TTL and returned. Returns (nil, false)
// when no tier holds a live entry.
func (s *Store) Get(ctx context.Context, key string) (interface{}, bool) {
	ctx, span := s.tracer.StartSpan(ctx, "Store.Get",
		attribute.String("key", key),
	)
	defer span.End()

	start := s.now()
	defer func() { s.metrics.RecordCacheOp(ctx, "get", s.now().Sub(start)) }()

	for i, tier := range s.tiers {
		entry, ok, err := tier.Get(ctx, key)
		if err != nil {
			s.logger.LogWarn(ctx, "tier get failed, continuing to next tier",
				"tier", tier.Name(), "key", key, "error", err)
			s.metrics.RecordCacheTierError(ctx, tier.Name(), "get")
			continue
		}
		if !ok {
			continue
		}

		s.promote(ctx, entry, i)
		s.metrics.RecordCacheHit(ctx, tier.Name())
		span.SetAttributes(
			attribute.Bool("hit", true),
			attribute.String("tier", tier.Name()),
		)
		return entry.Value, true
	}

	s.metrics.RecordCacheMiss(ctx)
	span.SetAttributes(attribute.Bool("hit", false))
	return nil, false
}

// promote copies a hit into all tiers faster than the one that held it,
// carrying the remaining TTL rather than the original one.
func (s *Store) promote(ctx context.Context, entry *Entry, hitIndex int) {
	if hitIndex == 0 {
		return
	}
	for j := 0; j < hitIndex; j++ {
		if err := s.tiers[j].Set(ctx, entry.Copy()); err != nil {
			s.logger.LogDebug(ctx, "tier promotion failed",
				"tier", s.tiers[j].Name(), "key", entry.Key, "error", err)
			s.metrics.RecordCacheTierError(ctx, s.tiers[j].Name(), "promote")
		}
	}
}

// Set writes the entry to every tier concurrently. The write succeeds if
// the fastest tier succeeds; failures elsewhere are logged and swallowed.
// TTL must be positive — there are no infinite entries.
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration, tags ...string) error {
	ctx, span := s.tracer.StartSpan(ctx, "Store.Set",
		attribute.String("key", key),
		attribute.Int64("ttl_ms", ttl.Milliseconds()),
	)
	defer span.End()

	start := s.now()
	defer func() { s.metrics.RecordCacheOp(ctx, "set", s.now().Sub(start)) }()

	entry, err := NewEntry(key, value, ttl, tags)
	if err != nil {
		span.NoticeError(err)
		return err
	}

	tierErrs := make([]error, len(s.tiers))
	var g errgroup.Group
	for i, tier := range s.tiers {
		g.Go(func() error {
			tierErrs[i] = tier.Set(ctx, entry.Copy())
			return nil
		})
	}
	_ = g.Wait()

	for i, tierErr := range tierErrs {
		if tierErr == nil || i == 0 {
			continue
		}
		s.logger.LogWarn(ctx, "non-primary tier write failed",
			"tier", s.tiers[i].Name(), "key", key, "error", tierErr)
		s.metrics.RecordCacheTierError(ctx, s.tiers[i].Name(), "set")
	}

	if tierErrs[0] != nil {
		s.metrics.RecordCacheTierError(ctx, s.tiers[0].Name(), "set")
		err := fmt.Errorf("cache: primary tier write failed: %w", tierErrs[0])
		span.NoticeError(err)
		return err
	}
	return nil
}

// Delete removes the key from all tiers and reports whether any tier
// held it.
func (s *Store) Delete(ctx context.Context, key string) bool {
	held := false
	for _, tier := range s.tiers {
		existed, err := tier.Delete(ctx, key)
		if err != nil {
			s.logger.LogWarn(ctx, "tier delete failed",
				"tier", tier.Name(), "key", key, "error", err)
			s.metrics.RecordCacheTierError(ctx, tier.Name(), "delete")
			continue
		}
		held = held || existed
	}
	return held
}

// Clear removes all entries matching pattern (empty matches everything)
// from all tiers and returns the total removed.
func (s *Store) Clear(ctx context.Context, pattern string) int {
	total := 0
	for _, tier := range s.tiers {
		n, err := tier.Clear(ctx, pattern)
		total += n
		if err != nil {
			s.logger.LogWarn(ctx, "tier clear failed",
				"tier", tier.Name(), "pattern", pattern, "error", err)
			s.metrics.RecordCacheTierError(ctx, tier.Name(), "clear")
		}
	}
	return total
}

// Exists reports whether any tier holds a live entry for key, without
// touching access metadata.
func (s *Store) Exists(ctx context.Context, key string) bool {
	for _, tier := range s.tiers {
		ok, err := tier.Exists(ctx, key)
		if err != nil {
			s.metrics.RecordCacheTierError(ctx, tier.Name(), "exists")
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// GetOrSet returns the cached value for key, or invokes factory, stores
// the result, and returns it. Concurrent callers for the same key share
// a single in-flight factory invocation.
func (s *Store) GetOrSet(ctx context.Context, key string, factory func(ctx context.Context) (interface{}, error), ttl time.Duration, tags ...string) (interface{}, error) {
	if value, ok := s.Get(ctx, key); ok {
		return value, nil
	}

	value, err, _ := s.sf.Do(key, func() (interface{}, error) {
		// A concurrent caller may have populated the key while this
		// call waited its turn.
		if value, ok := s.Get(ctx, key); ok {
			return value, nil
		}

		value, err := factory(ctx)
		if err != nil {
			return nil, err
		}

		if err := s.Set(ctx, key, value, ttl, tags...); err != nil {
			s.logger.LogWarn(ctx, "failed to store factory result", "key", key, "error", err)
		}
		return value, nil
	})
	return value, err
}

// InvalidateByTags removes entries carrying any of the given tags from
// all tiers. Best-effort: network tiers approximate by inspecting stored
// envelopes.
func (s *Store) InvalidateByTags(ctx context.Context, tags []string) int {
	total := 0
	for _, tier := range s.tiers {
		n, err := tier.InvalidateTags(ctx, tags)
		total += n
		if err != nil {
			s.logger.LogWarn(ctx, "tier tag invalidation failed",
				"tier", tier.Name(), "error", err)
			s.metrics.RecordCacheTierError(ctx, tier.Name(), "invalidate_tags")
		}
	}
	return total
}

// Stats returns per-tier statistics. Unreachable tiers report zero
// entries with Reachable=false.
func (s *Store) Stats(ctx context.Context) []TierStats {
	stats := make([]TierStats, 0, len(s.tiers))
	for _, tier := range s.tiers {
		stats = append(stats, tier.Stats(ctx))
	}
	return stats
}

// Close closes every tier.
func (s *Store) Close() error {
	var firstErr error
	for _, tier := range s.tiers {
		if err := tier.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
