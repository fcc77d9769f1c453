package ratelimit

import "time"

// backoffDelay computes the delay for the n-th consecutive failure
// (n >= 1): baseDelay scaled by the strategy's growth function, clamped
// to maxDelay, then optionally jittered by a uniform factor in
// [0.5, 1.0]. rng returns a uniform sample in [0, 1).
func backoffDelay(cfg BackoffConfig, failures int, rng func() float64) time.Duration {
	if failures < 1 {
		failures = 1
	}

	var factor float64
	switch cfg.Strategy {
	case BackoffLinear:
		factor = float64(failures)
	case BackoffFibonacci:
		factor = float64(fibonacci(failures))
	default: // exponential: 2^(n-1)
		factor = 1
		for i := 1; i < failures; i++ {
			factor *= 2
			if time.Duration(float64(cfg.BaseDelay)*factor) >= cfg.MaxDelay {
				break
			}
		}
	}

	delay := time.Duration(float64(cfg.BaseDelay) * factor)
	if delay > cfg.MaxDelay || delay <= 0 {
		delay = cfg.MaxDelay
	}

	if cfg.Jitter && rng != nil {
		delay = time.Duration(float64(delay) * (0.5 + 0.5*rng()))
	}

	return delay
}

// fibonacci returns the n-th Fibonacci number (1, 1, 2, 3, 5, ...).
func fibonacci(n int) int64 {
	if n <= 2 {
		return 1
	}
	a, b := int64(1), int64(1)
	for i := 3; i <= n; i++ {
		a, b = b, a+b
	}
	return b
}
