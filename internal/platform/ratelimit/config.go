// Package ratelimit provides named-configuration request admission with
// interchangeable algorithms, burst allowances, denial backoff, and
// optional shared-store coordination across instances.
package ratelimit

import (
	"fmt"
	"time"
)

// Strategy selects the admission algorithm for a config.
type Strategy string

const (
	StrategyTokenBucket   Strategy = "token_bucket"
	StrategySlidingWindow Strategy = "sliding_window"
	StrategyFixedWindow   Strategy = "fixed_window"
)

// BackoffStrategy selects the delay growth function applied on
// consecutive denials.
type BackoffStrategy string

const (
	BackoffExponential BackoffStrategy = "exponential"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffFibonacci   BackoffStrategy = "fibonacci"
)

// BurstConfig allows short spikes above the configured rate. The burst
// pool holds Requests*(Multiplier-1) extra tokens, consumed only once
// the primary pool is exhausted, and refills after Cooldown.
type BurstConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Multiplier float64       `mapstructure:"multiplier"`
	Cooldown   time.Duration `mapstructure:"cooldown"`
}

// BackoffConfig imposes a growing delay on keys that keep hitting the
// limit. While a key is backing off, every check is denied without
// consulting the underlying algorithm.
type BackoffConfig struct {
	Enabled   bool            `mapstructure:"enabled"`
	Strategy  BackoffStrategy `mapstructure:"strategy"`
	BaseDelay time.Duration   `mapstructure:"base_delay"`
	MaxDelay  time.Duration   `mapstructure:"max_delay"`
	Jitter    bool            `mapstructure:"jitter"`
}

// Config is a named rate limit configuration. Configs are immutable once
// registered; callers select one by name per check.
type Config struct {
	// Requests admitted per Window.
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
	Strategy Strategy      `mapstructure:"strategy"`

	// PerEndpoint appends the endpoint to the derived key so distinct
	// endpoints do not share state.
	PerEndpoint bool `mapstructure:"per_endpoint"`

	Burst   BurstConfig   `mapstructure:"burst"`
	Backoff BackoffConfig `mapstructure:"backoff"`

	// Distributed persists state to the shared store so all instances
	// count against the same budget.
	Distributed bool `mapstructure:"distributed"`
}

// Validate checks the config for internal consistency.
func (c Config) Validate() error {
	if c.Requests <= 0 {
		return fmt.Errorf("ratelimit: requests must be positive")
	}
	if c.Window <= 0 {
		return fmt.Errorf("ratelimit: window must be positive")
	}
	switch c.Strategy {
	case StrategyTokenBucket, StrategySlidingWindow, StrategyFixedWindow:
	default:
		return fmt.Errorf("ratelimit: unknown strategy %q", c.Strategy)
	}
	if c.Burst.Enabled {
		if c.Strategy != StrategyTokenBucket {
			return fmt.Errorf("ratelimit: burst requires the token bucket strategy")
		}
		if c.Burst.Multiplier <= 1 {
			return fmt.Errorf("ratelimit: burst multiplier must be > 1")
		}
	}
	if c.Backoff.Enabled {
		switch c.Backoff.Strategy {
		case BackoffExponential, BackoffLinear, BackoffFibonacci:
		default:
			return fmt.Errorf("ratelimit: unknown backoff strategy %q", c.Backoff.Strategy)
		}
		if c.Backoff.BaseDelay <= 0 {
			return fmt.Errorf("ratelimit: backoff base delay must be positive")
		}
		if c.Backoff.MaxDelay < c.Backoff.BaseDelay {
			return fmt.Errorf("ratelimit: backoff max delay must be >= base delay")
		}
	}
	return nil
}

// burstCapacity returns the size of the secondary token pool.
func (c Config) burstCapacity() float64 {
	if !c.Burst.Enabled {
		return 0
	}
	return float64(c.Requests) * (c.Burst.Multiplier - 1)
}
