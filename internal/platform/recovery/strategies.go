package recovery

import (
	"context"
	"time"

	"github.com/agatticelli/gatekit/internal/platform/cache"
)

// Strategy attempts to recover from a classified error. CanRecover is a
// cheap predicate consulted before any attempt is counted; Recover does
// the actual work and may block (waits, refreshes, lookups). A nil
// error from Recover means the failure was handled and Result carries
// any substitute value.
type Strategy struct {
	Name       string
	CanRecover func(err *AppError) bool
	Recover    func(ctx context.Context, err *AppError) (interface{}, error)

	// MaxAttempts caps how often this strategy is tried against one
	// error instance. Zero means no per-strategy cap; the engine's
	// instance ceiling still applies.
	MaxAttempts int

	// BackoffDelay is slept before each attempt when set.
	BackoffDelay time.Duration
}

// TokenRefresher re-acquires credentials after an auth failure.
type TokenRefresher interface {
	RefreshToken(ctx context.Context) error
}

// NewTokenRefreshStrategy retries auth errors once credentials have
// been refreshed. Recovery succeeds with a nil result; the caller is
// expected to re-issue the original request with fresh credentials. A
// failed refresh is re-raised as a typed auth error.
func NewTokenRefreshStrategy(refresher TokenRefresher) Strategy {
	return Strategy{
		Name: "token_refresh",
		CanRecover: func(err *AppError) bool {
			return err.Category == CategoryAuth && refresher != nil
		},
		Recover: func(ctx context.Context, err *AppError) (interface{}, error) {
			if rerr := refresher.RefreshToken(ctx); rerr != nil {
				return nil, Wrap(rerr, "AUTH_ERROR", CategoryAuth, SeverityHigh,
					"Credentials could not be refreshed.")
			}
			return nil, nil
		},
	}
}

// NewRateLimitWaitStrategy sleeps out a rate limit window before
// declaring the error recovered. The wait comes from the error's
// retry_after metadata (milliseconds) when the upstream provided one.
func NewRateLimitWaitStrategy() Strategy {
	return Strategy{
		Name: "rate_limit_wait",
		CanRecover: func(err *AppError) bool {
			return err.Category == CategoryRateLimit
		},
		Recover: func(ctx context.Context, err *AppError) (interface{}, error) {
			wait := err.MetaDuration("retry_after", time.Second)
			select {
			case <-time.After(wait):
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
}

// NewNetworkBackoffStrategy waits with exponential backoff before
// signaling that a network call may be retried. The delay doubles per
// attempt against the same error instance and is capped at 10 seconds.
func NewNetworkBackoffStrategy() Strategy {
	const (
		baseDelay = time.Second
		maxDelay  = 10 * time.Second
	)
	name := "network_backoff"
	return Strategy{
		Name: name,
		CanRecover: func(err *AppError) bool {
			return err.Category == CategoryNetwork && err.Retryable
		},
		Recover: func(ctx context.Context, err *AppError) (interface{}, error) {
			attempt := err.attemptsFor(name)
			delay := baseDelay
			for i := 1; i < attempt; i++ {
				delay *= 2
				if delay >= maxDelay {
					delay = maxDelay
					break
				}
			}
			select {
			case <-time.After(delay):
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
}

// NewCachedFallbackStrategy serves stale data from the cache when the
// upstream API is down. The cache key is taken from the error's
// cache_key metadata; a miss converts the failure into
// SERVICE_UNAVAILABLE so callers see a stable terminal code.
func NewCachedFallbackStrategy(store *cache.Store) Strategy {
	return Strategy{
		Name: "cached_fallback",
		CanRecover: func(err *AppError) bool {
			if store == nil {
				return false
			}
			if err.Category != CategoryAPI && err.Category != CategoryNetwork {
				return false
			}
			_, ok := err.Metadata["cache_key"].(string)
			return ok
		},
		Recover: func(ctx context.Context, err *AppError) (interface{}, error) {
			key := err.Metadata["cache_key"].(string)
			val, found := store.Get(ctx, key)
			if !found {
				return nil, &AppError{
					Code:        "SERVICE_UNAVAILABLE",
					Category:    CategorySystem,
					Severity:    SeverityHigh,
					Retryable:   false,
					UserMessage: "The service is unavailable and no cached data exists.",
					Cause:       err,
				}
			}
			return val, nil
		},
	}
}
