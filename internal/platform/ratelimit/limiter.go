package ratelimit

import (
	"context"
	"math"
	"math/rand"
	"path"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agatticelli/gatekit/internal/platform/observability"
)

// RequestContext carries the request attributes a key is derived from.
// UserID wins over IP when both are present.
type RequestContext struct {
	UserID   string
	IP       string
	Endpoint string
}

// Result reports a single admission decision. The caller decides what to
// do with a denial; the limiter never blocks.
type Result struct {
	Allowed      bool
	Limit        int
	Remaining    int
	ResetTime    time.Time
	RetryAfter   time.Duration
	BackoffDelay time.Duration

	// FromBurst reports that the admission consumed a burst token.
	FromBurst bool
}

// MetricsSnapshot is a point-in-time copy of the limiter's process-wide
// counters.
type MetricsSnapshot struct {
	Total           int64
	Allowed         int64
	Blocked         int64
	BurstAdmissions int64
	BackoffTriggers int64
	AvgRetryAfter   time.Duration
}

// keyState wraps per-key state behind its own mutex so the
// read-modify-write cycle of a check is atomic per key.
type keyState struct {
	mu sync.Mutex
	st State
}

// Limiter admits or denies requests against named, immutable configs.
// Safe for concurrent use.
type Limiter struct {
	cmu     sync.RWMutex
	configs map[string]Config

	smu    sync.Mutex
	states map[string]*keyState

	store   StateStore
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  observability.Tracer

	// Injectable for deterministic tests.
	now func() time.Time
	rng func() float64

	mmu           sync.Mutex
	total         int64
	allowed       int64
	blocked       int64
	burstAdmitted int64
	backoffs      int64
	retrySum      time.Duration
	retryCount    int64
}

// LimiterConfig holds limiter construction parameters.
type LimiterConfig struct {
	// Store is the optional shared state backend for distributed
	// configs. Absence means local-only coordination.
	Store   StateStore
	Logger  *observability.Logger
	Metrics *observability.Metrics
	Tracer  observability.Tracer
}

// NewLimiter creates a rate limiter.
func NewLimiter(cfg LimiterConfig) *Limiter {
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

	return &Limiter{
		configs: make(map[string]Config),
		states:  make(map[string]*keyState),
		store:   cfg.Store,
		logger:  logger.WithComponent("ratelimit"),
		metrics: metrics,
		tracer:  tracer,
		now:     time.Now,
		rng:     rand.Float64,
	}
}

// SetConfig registers a named config. Registered configs are immutable:
// re-registering a name replaces the config for future checks but never
// mutates the one in flight.
func (l *Limiter) SetConfig(name string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	l.cmu.Lock()
	l.configs[name] = cfg
	l.cmu.Unlock()
	return nil
}

// deriveKey builds the state key: config name plus the strongest
// available discriminator, optionally the endpoint.
func deriveKey(name string, cfg Config, rc RequestContext) string {
	discriminator := rc.UserID
	if discriminator == "" {
		discriminator = rc.IP
	}
	if discriminator == "" {
		discriminator = "anonymous"
	}
	key := name + ":" + discriminator
	if cfg.PerEndpoint && rc.Endpoint != "" {
		key += ":" + rc.Endpoint
	}
	return key
}

// CheckLimit runs one admission check against the named config. An
// unknown config name fails open: the request is allowed and a warning
// is logged — the limiter degrades, it never raises.
func (l *Limiter) CheckLimit(ctx context.Context, name string, rc RequestContext) Result {
	ctx, span := l.tracer.StartSpan(ctx, "Limiter.CheckLimit",
		attribute.String("config", name),
		attribute.String("endpoint", rc.Endpoint),
	)
	defer span.End()

	l.cmu.RLock()
	cfg, ok := l.configs[name]
	l.cmu.RUnlock()
	if !ok {
		l.logger.LogWarn(ctx, "unknown rate limit config, failing open", "config", name)
		return Result{Allowed: true}
	}

	key := deriveKey(name, cfg, rc)
	ks := l.keyState(key)

	ks.mu.Lock()
	defer ks.mu.Unlock()

	now := l.now()

	// Shared state is read before and written after each check; any
	// store failure falls back to the local copy.
	distributed := cfg.Distributed && l.store != nil
	if distributed {
		if remote, found, err := l.store.Load(ctx, key); err != nil {
			l.logger.LogDebug(ctx, "state store load failed, using local state",
				"key", key, "error", err)
			distributed = false
		} else if found {
			ks.st = *remote
		}
	}

	if !ks.st.Initialized {
		ks.st.init(cfg, now)
	}

	var res Result

	// An active backoff denies everything without consulting the
	// algorithm and without growing the failure count.
	if until := fromMillis(ks.st.BackoffUntilMS); now.Before(until) {
		res = Result{
			Allowed:    false,
			Limit:      cfg.Requests,
			ResetTime:  until,
			RetryAfter: until.Sub(now),
		}
	} else {
		res = l.admit(cfg, &ks.st, now)

		if res.Allowed {
			ks.st.ConsecutiveFailures = 0
			ks.st.BackoffUntilMS = 0
		} else if cfg.Backoff.Enabled {
			ks.st.ConsecutiveFailures++
			delay := backoffDelay(cfg.Backoff, ks.st.ConsecutiveFailures, l.rng)
			ks.st.BackoffUntilMS = toMillis(now.Add(delay))
			res.BackoffDelay = delay
			l.recordBackoff()
			l.metrics.RecordBackoffTrigger(ctx, name)
		}
	}

	if distributed {
		if err := l.store.Save(ctx, key, &ks.st, 2*cfg.Window); err != nil {
			l.logger.LogDebug(ctx, "state store save failed, keeping local state",
				"key", key, "error", err)
		}
	}

	l.recordCheck(res)
	l.metrics.RecordRateLimitCheck(ctx, name, res.Allowed)
	if res.FromBurst {
		l.metrics.RecordBurstAdmission(ctx, name)
	}

	span.SetAttributes(
		attribute.Bool("allowed", res.Allowed),
		attribute.Bool("from_burst", res.FromBurst),
		attribute.Int("remaining", res.Remaining),
	)
	return res
}

// admit runs the config's algorithm against the state. Caller holds the
// key lock.
func (l *Limiter) admit(cfg Config, st *State, now time.Time) Result {
	switch cfg.Strategy {
	case StrategySlidingWindow:
		return l.admitSlidingWindow(cfg, st, now)
	case StrategyFixedWindow:
		return l.admitFixedWindow(cfg, st, now)
	default:
		return l.admitTokenBucket(cfg, st, now)
	}
}

func (l *Limiter) admitTokenBucket(cfg Config, st *State, now time.Time) Result {
	// Refill proportionally to elapsed time, capped at the limit.
	elapsed := now.Sub(fromMillis(st.LastRefillMS))
	if elapsed > 0 {
		st.Tokens += elapsed.Seconds() / cfg.Window.Seconds() * float64(cfg.Requests)
		if st.Tokens > float64(cfg.Requests) {
			st.Tokens = float64(cfg.Requests)
		}
		st.LastRefillMS = toMillis(now)
	}

	// Burst pool refills after its cooldown.
	if cfg.Burst.Enabled && st.BurstResetMS != 0 && !now.Before(fromMillis(st.BurstResetMS)) {
		st.BurstTokens = cfg.burstCapacity()
		st.BurstResetMS = 0
	}

	timePerToken := time.Duration(float64(cfg.Window) / float64(cfg.Requests))

	if st.Tokens >= 1 {
		st.Tokens--
		return Result{
			Allowed:   true,
			Limit:     cfg.Requests,
			Remaining: int(st.Tokens) + int(st.BurstTokens),
			ResetTime: now.Add(timePerToken),
		}
	}

	// The burst pool is consumed only after the primary pool is dry and
	// is tracked separately for metrics.
	if cfg.Burst.Enabled && st.BurstTokens >= 1 {
		st.BurstTokens--
		st.BurstResetMS = toMillis(now.Add(cfg.Burst.Cooldown))
		l.recordBurst()
		return Result{
			Allowed:   true,
			Limit:     cfg.Requests,
			Remaining: int(st.BurstTokens),
			ResetTime: now.Add(timePerToken),
			FromBurst: true,
		}
	}

	wait := time.Duration((1 - st.Tokens) * float64(timePerToken))
	return Result{
		Allowed:    false,
		Limit:      cfg.Requests,
		Remaining:  0,
		ResetTime:  now.Add(wait),
		RetryAfter: wait,
	}
}

func (l *Limiter) admitSlidingWindow(cfg Config, st *State, now time.Time) Result {
	cutoff := toMillis(now.Add(-cfg.Window))

	// Drop admissions older than the trailing window.
	kept := st.HistoryMS[:0]
	for _, ts := range st.HistoryMS {
		if ts > cutoff {
			kept = append(kept, ts)
		}
	}
	st.HistoryMS = kept

	if len(st.HistoryMS) < cfg.Requests {
		st.HistoryMS = append(st.HistoryMS, toMillis(now))
		return Result{
			Allowed:   true,
			Limit:     cfg.Requests,
			Remaining: cfg.Requests - len(st.HistoryMS),
			ResetTime: fromMillis(st.HistoryMS[0]).Add(cfg.Window),
		}
	}

	oldest := fromMillis(st.HistoryMS[0])
	retryAfter := oldest.Add(cfg.Window).Sub(now)
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Result{
		Allowed:    false,
		Limit:      cfg.Requests,
		Remaining:  0,
		ResetTime:  oldest.Add(cfg.Window),
		RetryAfter: retryAfter,
	}
}

func (l *Limiter) admitFixedWindow(cfg Config, st *State, now time.Time) Result {
	windowMS := cfg.Window.Milliseconds()
	start := int64(math.Floor(float64(toMillis(now))/float64(windowMS))) * windowMS

	if st.WindowStartMS != start {
		st.WindowStartMS = start
		st.WindowCount = 0
	}

	resetTime := fromMillis(start + windowMS)

	if st.WindowCount < cfg.Requests {
		st.WindowCount++
		return Result{
			Allowed:   true,
			Limit:     cfg.Requests,
			Remaining: cfg.Requests - st.WindowCount,
			ResetTime: resetTime,
		}
	}

	return Result{
		Allowed:    false,
		Limit:      cfg.Requests,
		Remaining:  0,
		ResetTime:  resetTime,
		RetryAfter: resetTime.Sub(now),
	}
}

// keyState returns the state holder for key, creating it on first use.
func (l *Limiter) keyState(key string) *keyState {
	l.smu.Lock()
	defer l.smu.Unlock()

	ks, ok := l.states[key]
	if !ok {
		ks = &keyState{}
		l.states[key] = ks
	}
	return ks
}

// ClearStates drops local state for keys matching pattern (glob; empty
// matches all) and, when a shared store is configured, clears it too.
// Returns the number of local states removed.
func (l *Limiter) ClearStates(ctx context.Context, pattern string) int {
	l.smu.Lock()
	removed := 0
	for key := range l.states {
		if matchStateKey(pattern, key) {
			delete(l.states, key)
			removed++
		}
	}
	l.smu.Unlock()

	if l.store != nil {
		if _, err := l.store.Clear(ctx, pattern); err != nil {
			l.logger.LogWarn(ctx, "state store clear failed", "pattern", pattern, "error", err)
		}
	}
	return removed
}

// Metrics returns a snapshot of the process-wide counters.
func (l *Limiter) Metrics() MetricsSnapshot {
	l.mmu.Lock()
	defer l.mmu.Unlock()

	snap := MetricsSnapshot{
		Total:           l.total,
		Allowed:         l.allowed,
		Blocked:         l.blocked,
		BurstAdmissions: l.burstAdmitted,
		BackoffTriggers: l.backoffs,
	}
	if l.retryCount > 0 {
		snap.AvgRetryAfter = l.retrySum / time.Duration(l.retryCount)
	}
	return snap
}

// ResetMetrics zeroes the process-wide counters.
func (l *Limiter) ResetMetrics() {
	l.mmu.Lock()
	defer l.mmu.Unlock()

	l.total, l.allowed, l.blocked = 0, 0, 0
	l.burstAdmitted, l.backoffs = 0, 0
	l.retrySum, l.retryCount = 0, 0
}

func (l *Limiter) recordCheck(res Result) {
	l.mmu.Lock()
	defer l.mmu.Unlock()

	l.total++
	if res.Allowed {
		l.allowed++
		return
	}
	l.blocked++
	if res.RetryAfter > 0 {
		l.retrySum += res.RetryAfter
		l.retryCount++
	}
}

func (l *Limiter) recordBurst() {
	l.mmu.Lock()
	l.burstAdmitted++
	l.mmu.Unlock()
}

func (l *Limiter) recordBackoff() {
	l.mmu.Lock()
	l.backoffs++
	l.mmu.Unlock()
}

func matchStateKey(pattern, key string) bool {
	if pattern == "" {
		return true
	}
	ok, err := path.Match(pattern, key)
	return err == nil && ok
}
