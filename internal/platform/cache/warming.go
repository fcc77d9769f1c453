package cache

import (
	"context"
	"sync"
	"time"

	"github.com/agatticelli/gatekit/internal/platform/observability"
)

// WarmupProvider pre-populates the cache with data that is expensive to
// fetch on the first request. Implementations must be idempotent.
type WarmupProvider interface {
	// Name returns a human-readable name for logging purposes
	Name() string

	// Warmup fetches and stores the provider's data.
	Warmup(ctx context.Context, store *Store) error
}

// WarmupResult contains the result of warming a single provider.
type WarmupResult struct {
	Provider string
	Duration time.Duration
	Err      error
}

// Warmer runs registered warmup providers against a store, in parallel,
// under a shared timeout. Provider failures are reported, not fatal.
type Warmer struct {
	store     *Store
	providers []WarmupProvider
	logger    *observability.Logger
	timeout   time.Duration
}

// NewWarmer creates a cache warmer for the given store.
func NewWarmer(store *Store, logger *observability.Logger, timeout time.Duration) *Warmer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Warmer{
		store:   store,
		logger:  logger.WithComponent("cache-warmer"),
		timeout: timeout,
	}
}

// Register adds a warmup provider.
func (w *Warmer) Register(provider WarmupProvider) {
	w.providers = append(w.providers, provider)
}

// Warmup executes all registered providers in parallel and returns their
// individual results.
func (w *Warmer) Warmup(ctx context.Context) []WarmupResult {
	if len(w.providers) == 0 {
		return nil
	}

	warmCtx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	results := make([]WarmupResult, len(w.providers))
	var wg sync.WaitGroup
	for i, provider := range w.providers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			start := time.Now()
			err := provider.Warmup(warmCtx, w.store)
			results[i] = WarmupResult{
				Provider: provider.Name(),
				Duration: time.Since(start),
				Err:      err,
			}
			if err != nil {
				w.logger.LogWarn(ctx, "cache warmup failed",
					"provider", provider.Name(), "error", err)
			}
		}()
	}
	wg.Wait()

	failures := 0
	for _, r := range results {
		if r.Err != nil {
			failures++
		}
	}
	w.logger.LogInfo(ctx, "cache warmup finished",
		"providers", len(results), "failures", failures)

	return results
}
