package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agatticelli/gatekit/internal/alert"
)

// mockPublisher records alerts for inspection
type mockPublisher struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (m *mockPublisher) Publish(ctx context.Context, a alert.Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.alerts = append(m.alerts, a)
	return nil
}

func (m *mockPublisher) published() []alert.Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]alert.Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}

// countingStrategy always matches and fails or succeeds on demand
func countingStrategy(name string, calls *int, succeed bool) Strategy {
	return Strategy{
		Name:       name,
		CanRecover: func(err *AppError) bool { return err.Retryable },
		Recover: func(ctx context.Context, err *AppError) (interface{}, error) {
			*calls++
			if succeed {
				return "recovered-value", nil
			}
			return nil, errors.New("strategy failed")
		},
	}
}

// TestHandleErrorRecovers verifies a matching strategy produces a
// recovered outcome with the substitute result
func TestHandleErrorRecovers(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(EngineConfig{})

	calls := 0
	engine.RegisterStrategy(countingStrategy("fixer", &calls, true))

	out := engine.HandleError(ctx, errors.New("connection refused"), nil)
	if !out.Recovered {
		t.Fatal("Expected recovery")
	}
	if out.Result != "recovered-value" {
		t.Errorf("Expected substitute result, got %v", out.Result)
	}
	if out.FinalError == nil {
		t.Error("Expected FinalError to record the classified failure even on recovery")
	}
	if calls != 1 {
		t.Errorf("Expected 1 strategy call, got %d", calls)
	}

	t.Log("✓ Matching strategy recovers with a substitute result")
}

// TestHandleErrorAttemptCeiling verifies recovery stops after three
// attempts per error instance across all strategies
func TestHandleErrorAttemptCeiling(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(EngineConfig{})

	calls := [4]int{}
	for i := range calls {
		engine.RegisterStrategy(countingStrategy("s", &calls[i], false))
	}

	out := engine.HandleError(ctx, errors.New("connection refused"), nil)
	if out.Recovered {
		t.Fatal("Expected recovery to fail")
	}

	total := 0
	for _, c := range calls {
		total += c
	}
	if total != 3 {
		t.Errorf("Expected exactly 3 attempts across strategies, got %d", total)
	}
	if out.FinalError.Attempts() != 3 {
		t.Errorf("Expected FinalError to record 3 attempts, got %d", out.FinalError.Attempts())
	}

	t.Log("✓ Recovery is bounded at three attempts per error instance")
}

// TestHandleErrorCeilingSpansRepeatedHandling verifies re-handling the
// same error instance does not reset its attempt budget
func TestHandleErrorCeilingSpansRepeatedHandling(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(EngineConfig{})

	calls := 0
	engine.RegisterStrategy(countingStrategy("s", &calls, false))

	appErr := Classify(errors.New("connection refused"), nil)
	for i := 0; i < 10; i++ {
		engine.HandleError(ctx, appErr, nil)
	}

	if calls != 3 {
		t.Errorf("Expected 3 attempts total across repeated handling, got %d", calls)
	}

	t.Log("✓ The attempt budget follows the error instance")
}

// TestHandleErrorNonRetryableSkipsStrategies verifies non-retryable
// errors go straight to the caller
func TestHandleErrorNonRetryableSkipsStrategies(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(EngineConfig{})

	calls := 0
	engine.RegisterStrategy(Strategy{
		Name:       "eager",
		CanRecover: func(err *AppError) bool { return true },
		Recover: func(ctx context.Context, err *AppError) (interface{}, error) {
			calls++
			return nil, nil
		},
	})

	out := engine.HandleError(ctx, errors.New("invalid request payload"), nil)
	if out.Recovered {
		t.Error("Expected no recovery for validation errors")
	}
	if calls != 0 {
		t.Errorf("Expected no strategy calls, got %d", calls)
	}
	if out.FinalError == nil || out.FinalError.Category != CategoryValidation {
		t.Error("Expected the classified validation error back")
	}

	t.Log("✓ Non-retryable errors skip all strategies")
}

// TestHandleErrorStrategyOrder verifies strategies run in registration
// order and later ones are skipped after success
func TestHandleErrorStrategyOrder(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(EngineConfig{})

	var order []string
	mk := func(name string, succeed bool) Strategy {
		return Strategy{
			Name:       name,
			CanRecover: func(err *AppError) bool { return true },
			Recover: func(ctx context.Context, err *AppError) (interface{}, error) {
				order = append(order, name)
				if succeed {
					return nil, nil
				}
				return nil, errors.New("nope")
			},
		}
	}
	engine.RegisterStrategy(mk("first", false))
	engine.RegisterStrategy(mk("second", true))
	engine.RegisterStrategy(mk("third", true))

	out := engine.HandleError(ctx, errors.New("connection refused"), nil)
	if !out.Recovered {
		t.Fatal("Expected recovery by the second strategy")
	}
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("Expected [first second], got %v", order)
	}

	t.Log("✓ Strategies run in order and stop at the first success")
}

// TestHandleErrorTerminalStrategyError verifies a non-retryable error
// from a strategy replaces the original and stops further attempts
func TestHandleErrorTerminalStrategyError(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(EngineConfig{})

	engine.RegisterStrategy(Strategy{
		Name:       "fallback",
		CanRecover: func(err *AppError) bool { return true },
		Recover: func(ctx context.Context, err *AppError) (interface{}, error) {
			return nil, New("SERVICE_UNAVAILABLE", CategorySystem, SeverityHigh, "no cached data")
		},
	})
	untried := 0
	engine.RegisterStrategy(countingStrategy("later", &untried, true))

	out := engine.HandleError(ctx, errors.New("503 service unavailable"), nil)
	if out.Recovered {
		t.Fatal("Expected terminal failure")
	}
	if out.FinalError.Code != "SERVICE_UNAVAILABLE" {
		t.Errorf("Expected terminal code SERVICE_UNAVAILABLE, got %s", out.FinalError.Code)
	}
	if untried != 0 {
		t.Errorf("Expected later strategies skipped, got %d calls", untried)
	}

	t.Log("✓ Terminal strategy errors replace the original and stop recovery")
}

// TestCriticalErrorsPublishAlerts verifies critical severity triggers
// an alert without blocking the caller
func TestCriticalErrorsPublishAlerts(t *testing.T) {
	ctx := context.Background()
	pub := &mockPublisher{}
	engine := NewEngine(EngineConfig{Publisher: pub})

	critical := New("DATA_CORRUPTION", CategorySystem, SeverityCritical, "store corrupted")
	critical.Context = &ErrorContext{Operation: "GET /orders"}

	engine.HandleError(ctx, critical, nil)

	// Alert delivery is asynchronous
	deadline := time.Now().Add(2 * time.Second)
	for {
		if len(pub.published()) > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	alerts := pub.published()
	if len(alerts) != 1 {
		t.Fatalf("Expected 1 alert, got %d", len(alerts))
	}
	if alerts[0].Code != "DATA_CORRUPTION" || alerts[0].Severity != "critical" {
		t.Errorf("Unexpected alert payload: %+v", alerts[0])
	}
	if alerts[0].Endpoint != "GET /orders" {
		t.Errorf("Expected alert endpoint from error context, got %q", alerts[0].Endpoint)
	}

	t.Log("✓ Critical errors publish alerts asynchronously")
}

// TestEngineStats verifies counters by code, severity and endpoint
func TestEngineStats(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(EngineConfig{})

	calls := 0
	engine.RegisterStrategy(countingStrategy("s", &calls, true))

	engine.HandleError(ctx, errors.New("connection refused"), &ErrorContext{Operation: "GET /a"})
	engine.HandleError(ctx, errors.New("invalid input"), &ErrorContext{Operation: "GET /a"})
	engine.HandleError(ctx, errors.New("invalid input"), &ErrorContext{Operation: "GET /b"})

	stats := engine.Stats()
	if stats.TotalErrors != 3 {
		t.Errorf("Expected 3 errors, got %d", stats.TotalErrors)
	}
	if stats.ByCode["VALIDATION_ERROR"] != 2 {
		t.Errorf("Expected 2 validation errors, got %d", stats.ByCode["VALIDATION_ERROR"])
	}
	if stats.ByEndpoint["GET /a"] != 2 {
		t.Errorf("Expected 2 errors for GET /a, got %d", stats.ByEndpoint["GET /a"])
	}
	if stats.RecoveryAttempts != 1 || stats.RecoverySuccess != 1 {
		t.Errorf("Expected 1/1 recovery attempts/successes, got %d/%d",
			stats.RecoveryAttempts, stats.RecoverySuccess)
	}

	engine.ResetStats()
	if engine.Stats().TotalErrors != 0 {
		t.Error("Expected stats zeroed after reset")
	}

	t.Log("✓ Engine stats track codes, severities and endpoints")
}

// TestPerStrategyMaxAttempts verifies an exhausted strategy is skipped
// on later handling of the same instance
func TestPerStrategyMaxAttempts(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(EngineConfig{})

	capped, fallback := 0, 0
	engine.RegisterStrategy(Strategy{
		Name:        "capped",
		MaxAttempts: 1,
		CanRecover:  func(err *AppError) bool { return true },
		Recover: func(ctx context.Context, err *AppError) (interface{}, error) {
			capped++
			return nil, errors.New("still broken")
		},
	})
	engine.RegisterStrategy(Strategy{
		Name:       "fallback",
		CanRecover: func(err *AppError) bool { return true },
		Recover: func(ctx context.Context, err *AppError) (interface{}, error) {
			fallback++
			return nil, errors.New("also broken")
		},
	})

	appErr := Classify(errors.New("connection refused"), nil)
	engine.HandleError(ctx, appErr, nil)
	engine.HandleError(ctx, appErr, nil)

	if capped != 1 {
		t.Errorf("Expected capped strategy tried once, got %d", capped)
	}
	if fallback != 2 {
		t.Errorf("Expected fallback to absorb the remaining budget, got %d", fallback)
	}

	t.Log("✓ Per-strategy attempt caps are honored")
}

// TestStrategyPanicIsFailedAttempt verifies a panicking strategy counts
// as a failed attempt and recovery moves on
func TestStrategyPanicIsFailedAttempt(t *testing.T) {
	ctx := context.Background()
	engine := NewEngine(EngineConfig{})

	engine.RegisterStrategy(Strategy{
		Name:       "unstable",
		CanRecover: func(err *AppError) bool { return true },
		Recover: func(ctx context.Context, err *AppError) (interface{}, error) {
			panic("boom")
		},
	})
	engine.RegisterStrategy(Strategy{
		Name:       "stable",
		CanRecover: func(err *AppError) bool { return true },
		Recover: func(ctx context.Context, err *AppError) (interface{}, error) {
			return "saved", nil
		},
	})

	out := engine.HandleError(ctx, errors.New("connection refused"), nil)
	if !out.Recovered {
		t.Fatal("Expected recovery by the stable strategy after the panic")
	}
	if out.Result != "saved" {
		t.Errorf("Expected stable strategy result, got %v", out.Result)
	}
	if out.FinalError.Attempts() != 2 {
		t.Errorf("Expected the panic counted as an attempt, got %d", out.FinalError.Attempts())
	}

	t.Log("✓ Strategy panics count as failed attempts")
}

// TestRateLimitWaitStrategy verifies the wait honors retry_after
// metadata and context cancellation
func TestRateLimitWaitStrategy(t *testing.T) {
	s := NewRateLimitWaitStrategy()

	appErr := Classify(errors.New("429 too many requests"), nil)
	appErr.Metadata = map[string]interface{}{"retry_after": 20}

	if !s.CanRecover(appErr) {
		t.Fatal("Expected strategy to match rate limit errors")
	}

	start := time.Now()
	if _, err := s.Recover(context.Background(), appErr); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Expected wait of at least 20ms, got %v", elapsed)
	}

	// Cancellation aborts the wait
	appErr.Metadata["retry_after"] = 10_000
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	if _, err := s.Recover(ctx, appErr); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	t.Log("✓ Rate limit wait honors metadata and cancellation")
}

// TestTokenRefreshStrategy verifies auth recovery drives the refresher
func TestTokenRefreshStrategy(t *testing.T) {
	refreshed := 0
	s := NewTokenRefreshStrategy(refresherFunc(func(ctx context.Context) error {
		refreshed++
		return nil
	}))

	appErr := Classify(errors.New("401 unauthorized"), nil)
	if !s.CanRecover(appErr) {
		t.Fatal("Expected strategy to match auth errors")
	}
	if _, err := s.Recover(context.Background(), appErr); err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if refreshed != 1 {
		t.Errorf("Expected 1 refresh, got %d", refreshed)
	}

	// A failed refresh surfaces as a typed auth error
	failing := NewTokenRefreshStrategy(refresherFunc(func(ctx context.Context) error {
		return errors.New("refresh endpoint down")
	}))
	_, err := failing.Recover(context.Background(), appErr)
	var typed *AppError
	if !errors.As(err, &typed) {
		t.Fatalf("Expected typed error, got %v", err)
	}
	if typed.Category != CategoryAuth || typed.Code != "AUTH_ERROR" {
		t.Errorf("Expected AUTH_ERROR in auth category, got %s/%s", typed.Code, typed.Category)
	}
	if !typed.Retryable {
		t.Error("Expected failed refresh to stay retryable")
	}

	t.Log("✓ Token refresh strategy drives the refresher")
}

type refresherFunc func(ctx context.Context) error

func (f refresherFunc) RefreshToken(ctx context.Context) error { return f(ctx) }
