package ratelimit

import "time"

// State is the per-key mutable limiter state. It doubles as the
// fixed-shape record persisted to the shared store, so instances running
// different versions agree on the schema. Timestamps are Unix
// milliseconds for that reason.
type State struct {
	// Token bucket
	Tokens       float64 `json:"tokens"`
	LastRefillMS int64   `json:"last_refill_ms"`

	// Sliding window: admission timestamps, oldest first. Never holds
	// more than the configured request limit.
	HistoryMS []int64 `json:"history_ms,omitempty"`

	// Fixed window
	WindowStartMS int64 `json:"window_start_ms"`
	WindowCount   int   `json:"window_count"`

	// Burst pool
	BurstTokens  float64 `json:"burst_tokens"`
	BurstResetMS int64   `json:"burst_reset_ms"`

	// Backoff
	BackoffUntilMS      int64 `json:"backoff_until_ms"`
	ConsecutiveFailures int   `json:"consecutive_failures"`

	Initialized bool `json:"initialized"`
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// init primes a fresh state: full primary and burst pools.
func (s *State) init(cfg Config, now time.Time) {
	s.Tokens = float64(cfg.Requests)
	s.LastRefillMS = toMillis(now)
	s.BurstTokens = cfg.burstCapacity()
	s.Initialized = true
}
