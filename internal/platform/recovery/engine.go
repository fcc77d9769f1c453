package recovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/agatticelli/gatekit/internal/alert"
	"github.com/agatticelli/gatekit/internal/platform/observability"
	"github.com/agatticelli/gatekit/internal/platform/worker"
)

// maxRecoveryAttempts bounds recovery per error instance across all
// strategies combined. Past the ceiling the error is surfaced as-is.
const maxRecoveryAttempts = 3

// Outcome is the result of running an error through the engine.
// FinalError is always non-nil: the original classified error when
// nothing recovered, or a classified wrapper when a strategy itself
// failed terminally. Callers that see Recovered true may use Result
// (possibly nil for retry-style recoveries) and treat FinalError as the
// record of what happened.
type Outcome struct {
	Recovered  bool
	Result     interface{}
	FinalError *AppError
}

// ErrorStats is a point-in-time snapshot of engine counters.
type ErrorStats struct {
	TotalErrors      int64
	ByCode           map[string]int64
	BySeverity       map[Severity]int64
	ByEndpoint       map[string]int64
	RecoveryAttempts int64
	RecoverySuccess  int64
	AvgRecoveryTime  time.Duration
}

// Engine classifies errors, drives recovery strategies in registration
// order, and emits alerts for critical failures.
type Engine struct {
	logger  *observability.Logger
	metrics *observability.Metrics
	tracer  observability.Tracer

	publisher alert.Publisher
	pool      *worker.Pool

	mu         sync.Mutex
	strategies []Strategy

	statsMu       sync.Mutex
	totalErrors   int64
	byCode        map[string]int64
	bySeverity    map[Severity]int64
	byEndpoint    map[string]int64
	attempts      int64
	successes     int64
	totalRecovery time.Duration
}

// EngineConfig wires the engine's collaborators. Publisher and Pool are
// optional; without them critical errors are only logged.
type EngineConfig struct {
	Logger    *observability.Logger
	Metrics   *observability.Metrics
	Tracer    observability.Tracer
	Publisher alert.Publisher
	Pool      *worker.Pool
}

func NewEngine(cfg EngineConfig) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = observability.NewNoopTracer()
	}
	return &Engine{
		logger:     logger.WithComponent("recovery"),
		metrics:    cfg.Metrics,
		tracer:     tracer,
		publisher:  cfg.Publisher,
		pool:       cfg.Pool,
		byCode:     make(map[string]int64),
		bySeverity: make(map[Severity]int64),
		byEndpoint: make(map[string]int64),
	}
}

// RegisterStrategy appends a strategy. Order matters: strategies are
// tried in registration order on every error.
func (e *Engine) RegisterStrategy(s Strategy) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.strategies = append(e.strategies, s)
}

// HandleError classifies err and attempts recovery. The zero-strategy
// and unrecoverable paths still record stats and fire critical alerts.
func (e *Engine) HandleError(ctx context.Context, err error, ec *ErrorContext) Outcome {
	ctx, span := e.tracer.StartSpan(ctx, "Engine.HandleError")
	defer span.End()

	appErr := Classify(err, ec)
	e.recordError(ctx, appErr)
	span.SetAttributes(
		attribute.String("code", appErr.Code),
		attribute.String("category", string(appErr.Category)),
		attribute.String("severity", string(appErr.Severity)),
	)

	e.logger.LogWarn(ctx, "handling error",
		"code", appErr.Code,
		"category", string(appErr.Category),
		"severity", string(appErr.Severity),
		"retryable", appErr.Retryable,
		"error", appErr.Error(),
	)

	if appErr.Severity == SeverityCritical {
		e.alertCritical(appErr)
	}

	if !appErr.Retryable {
		span.NoticeError(appErr)
		return Outcome{Recovered: false, FinalError: appErr}
	}

	e.mu.Lock()
	strategies := make([]Strategy, len(e.strategies))
	copy(strategies, e.strategies)
	e.mu.Unlock()

	for _, s := range strategies {
		if appErr.Attempts() >= maxRecoveryAttempts {
			e.logger.LogWarn(ctx, "recovery attempt ceiling reached",
				"code", appErr.Code, "attempts", appErr.Attempts())
			break
		}
		if s.CanRecover == nil || !s.CanRecover(appErr) {
			continue
		}
		if s.MaxAttempts > 0 && appErr.attemptsFor(s.Name) >= s.MaxAttempts {
			continue
		}

		appErr.recordAttempt(s.Name)
		e.noteAttempt()

		if s.BackoffDelay > 0 {
			select {
			case <-time.After(s.BackoffDelay):
			case <-ctx.Done():
				return Outcome{Recovered: false, FinalError: appErr}
			}
		}

		start := time.Now()
		result, rerr := e.runStrategy(ctx, s, appErr)
		elapsed := time.Since(start)

		if e.metrics != nil {
			e.metrics.RecordRecovery(ctx, s.Name, rerr == nil, elapsed)
		}

		if rerr == nil {
			e.noteSuccess(elapsed)
			e.logger.LogInfo(ctx, "error recovered",
				"code", appErr.Code, "strategy", s.Name, "duration", elapsed)
			span.SetAttributes(
				attribute.Bool("recovered", true),
				attribute.String("strategy", s.Name),
			)
			return Outcome{Recovered: true, Result: result, FinalError: appErr}
		}

		e.logger.LogWarn(ctx, "recovery strategy failed",
			"code", appErr.Code, "strategy", s.Name, "error", rerr)

		// A strategy returning a classified terminal error replaces the
		// original: further strategies would only retread the same
		// failure.
		var terminal *AppError
		if errors.As(rerr, &terminal) && !terminal.Retryable {
			e.recordError(ctx, terminal)
			span.NoticeError(terminal)
			return Outcome{Recovered: false, FinalError: terminal}
		}
	}

	span.NoticeError(appErr)
	return Outcome{Recovered: false, FinalError: appErr}
}

// runStrategy invokes a strategy, converting a panic into a failed
// attempt so one misbehaving strategy cannot take down the caller.
func (e *Engine) runStrategy(ctx context.Context, s Strategy, appErr *AppError) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("strategy %s panicked: %v", s.Name, r)
		}
	}()
	return s.Recover(ctx, appErr)
}

// alertCritical ships a critical error to the alert publisher without
// blocking the caller. Submission is best-effort: a saturated pool
// drops the alert and the drop shows up in the pool's counters.
func (e *Engine) alertCritical(appErr *AppError) {
	if e.publisher == nil {
		return
	}
	a := alert.Alert{
		Code:      appErr.Code,
		Category:  string(appErr.Category),
		Severity:  string(appErr.Severity),
		Message:   appErr.Error(),
		Timestamp: time.Now(),
	}
	if appErr.Context != nil {
		a.Endpoint = appErr.Context.Operation
	}
	if len(appErr.Metadata) > 0 {
		a.Metadata = appErr.Metadata
	}

	if e.pool == nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := e.publisher.Publish(ctx, a); err != nil {
				e.logger.LogError(ctx, "publish critical alert", err)
			}
		}()
		return
	}

	e.pool.TrySubmit(worker.Job{
		ID: "alert:" + a.Code,
		Execute: func(ctx context.Context) error {
			return e.publisher.Publish(ctx, a)
		},
	})
}

func (e *Engine) recordError(ctx context.Context, appErr *AppError) {
	endpoint := ""
	if appErr.Context != nil {
		endpoint = appErr.Context.Operation
	}
	if e.metrics != nil {
		e.metrics.RecordErrorClassified(ctx, string(appErr.Category), string(appErr.Severity), endpoint)
	}

	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.totalErrors++
	e.byCode[appErr.Code]++
	e.bySeverity[appErr.Severity]++
	if endpoint != "" {
		e.byEndpoint[endpoint]++
	}
}

func (e *Engine) noteAttempt() {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.attempts++
}

func (e *Engine) noteSuccess(d time.Duration) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.successes++
	e.totalRecovery += d
}

// Stats returns a copy of the engine's counters.
func (e *Engine) Stats() ErrorStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	stats := ErrorStats{
		TotalErrors:      e.totalErrors,
		ByCode:           make(map[string]int64, len(e.byCode)),
		BySeverity:       make(map[Severity]int64, len(e.bySeverity)),
		ByEndpoint:       make(map[string]int64, len(e.byEndpoint)),
		RecoveryAttempts: e.attempts,
		RecoverySuccess:  e.successes,
	}
	for k, v := range e.byCode {
		stats.ByCode[k] = v
	}
	for k, v := range e.bySeverity {
		stats.BySeverity[k] = v
	}
	for k, v := range e.byEndpoint {
		stats.ByEndpoint[k] = v
	}
	if e.successes > 0 {
		stats.AvgRecoveryTime = e.totalRecovery / time.Duration(e.successes)
	}
	return stats
}

// ResetStats clears all counters.
func (e *Engine) ResetStats() {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	e.totalErrors = 0
	e.byCode = make(map[string]int64)
	e.bySeverity = make(map[Severity]int64)
	e.byEndpoint = make(map[string]int64)
	e.attempts = 0
	e.successes = 0
	e.totalRecovery = 0
}
