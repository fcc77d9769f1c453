// Package recovery normalizes arbitrary failures into a typed taxonomy
// and attempts bounded automatic recovery via registered strategies.
package recovery

import (
	"fmt"
	"sync"
	"time"
)

// Severity grades how bad an error is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category places an error in the taxonomy. Retry behavior follows the
// category: validation and business errors are never retried, auth is
// retried via refresh, rate_limit after a delay, network/api with
// backoff or fallback, system only when explicitly marked.
type Category string

const (
	CategoryValidation Category = "validation"
	CategoryNetwork    Category = "network"
	CategoryAuth       Category = "auth"
	CategoryRateLimit  Category = "rate_limit"
	CategoryAPI        Category = "api"
	CategorySystem     Category = "system"
	CategoryBusiness   Category = "business"
)

// ErrorContext ties an error to the operation that raised it.
type ErrorContext struct {
	Operation   string
	Identifiers map[string]string
	Timestamp   time.Time
}

// AppError is the normalized error type. It carries user-facing
// messaging alongside machine-readable classification, and tracks its
// own recovery attempts: the count bounds retries per instance no matter
// how many strategies are registered.
type AppError struct {
	Code             string
	Severity         Severity
	Category         Category
	Retryable        bool
	UserMessage      string
	SuggestedActions []string
	Metadata         map[string]interface{}
	Context          *ErrorContext
	Cause            error

	mu               sync.Mutex
	attempts         int
	strategyAttempts map[string]int
}

// Error implements error. Format: "[CODE] message" or
// "[CODE] message: cause".
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.UserMessage, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.UserMessage)
}

// Unwrap returns the wrapped cause for errors.Is/As compatibility.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Attempts returns the total recovery attempts made against this
// instance.
func (e *AppError) Attempts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts
}

// attemptsFor returns how many times the named strategy was tried
// against this instance.
func (e *AppError) attemptsFor(strategy string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.strategyAttempts[strategy]
}

// recordAttempt increments both the instance total and the per-strategy
// count.
func (e *AppError) recordAttempt(strategy string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.strategyAttempts == nil {
		e.strategyAttempts = make(map[string]int)
	}
	e.attempts++
	e.strategyAttempts[strategy]++
}

// MetaDuration reads a millisecond duration from the metadata bag,
// falling back to def. JSON round-trips turn numbers into float64, so
// both are accepted.
func (e *AppError) MetaDuration(key string, def time.Duration) time.Duration {
	switch v := e.Metadata[key].(type) {
	case time.Duration:
		return v
	case int:
		return time.Duration(v) * time.Millisecond
	case int64:
		return time.Duration(v) * time.Millisecond
	case float64:
		return time.Duration(v) * time.Millisecond
	default:
		return def
	}
}

// New creates a typed error.
func New(code string, category Category, severity Severity, userMessage string) *AppError {
	return &AppError{
		Code:        code,
		Category:    category,
		Severity:    severity,
		UserMessage: userMessage,
		Retryable:   defaultRetryable(category),
	}
}

// Wrap creates a typed error around a cause.
func Wrap(cause error, code string, category Category, severity Severity, userMessage string) *AppError {
	e := New(code, category, severity, userMessage)
	e.Cause = cause
	return e
}

// defaultRetryable maps categories to their default retry behavior.
func defaultRetryable(category Category) bool {
	switch category {
	case CategoryNetwork, CategoryAuth, CategoryRateLimit, CategoryAPI:
		return true
	default:
		return false
	}
}
