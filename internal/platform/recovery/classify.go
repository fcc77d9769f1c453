package recovery

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Classify normalizes any error into an AppError. Errors that already
// carry a classification pass through untouched so recovery attempt
// counts survive repeated handling. Everything else is classified by
// inspecting the error chain and message.
func Classify(err error, ec *ErrorContext) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		if appErr.Context == nil {
			appErr.Context = ec
		}
		return appErr
	}

	out := classifyMessage(err)
	out.Cause = err
	out.Context = ec
	if out.Context != nil && out.Context.Timestamp.IsZero() {
		out.Context.Timestamp = time.Now()
	}
	return out
}

// classifyMessage applies ordered heuristics over the error chain and
// its text. First match wins; auth before rate limit before generic API
// because "401 rate limited" style messages should resolve to the more
// specific auth failure.
func classifyMessage(err error) *AppError {
	msg := strings.ToLower(err.Error())

	var netErr net.Error
	switch {
	case errors.As(err, &netErr), errors.Is(err, context.DeadlineExceeded),
		containsAny(msg, "connection refused", "connection reset", "timeout", "timed out", "no such host", "network is unreachable", "broken pipe", "eof"):
		return &AppError{
			Code:             "NETWORK_ERROR",
			Category:         CategoryNetwork,
			Severity:         SeverityMedium,
			Retryable:        true,
			UserMessage:      "A network error occurred. Please try again.",
			SuggestedActions: []string{"retry", "check connectivity"},
		}
	case containsAny(msg, "401", "unauthorized", "invalid token", "token expired", "authentication failed", "forbidden", "403"):
		return &AppError{
			Code:             "AUTH_ERROR",
			Category:         CategoryAuth,
			Severity:         SeverityHigh,
			Retryable:        true,
			UserMessage:      "Authentication failed. Credentials may need to be refreshed.",
			SuggestedActions: []string{"refresh token", "re-authenticate"},
		}
	case containsAny(msg, "429", "rate limit", "too many requests", "quota exceeded", "throttl"):
		return &AppError{
			Code:             "RATE_LIMIT_ERROR",
			Category:         CategoryRateLimit,
			Severity:         SeverityMedium,
			Retryable:        true,
			UserMessage:      "Too many requests. Please slow down and try again shortly.",
			SuggestedActions: []string{"wait and retry", "reduce request rate"},
		}
	case containsAny(msg, "invalid", "validation", "malformed", "missing required", "bad request", "400"):
		return &AppError{
			Code:             "VALIDATION_ERROR",
			Category:         CategoryValidation,
			Severity:         SeverityLow,
			Retryable:        false,
			UserMessage:      "The request was invalid.",
			SuggestedActions: []string{"correct the input"},
		}
	case containsAny(msg, "500", "502", "503", "504", "internal server error", "bad gateway", "service unavailable", "gateway timeout"):
		return &AppError{
			Code:             "API_ERROR",
			Category:         CategoryAPI,
			Severity:         SeverityHigh,
			Retryable:        true,
			UserMessage:      "The upstream service failed. Please try again.",
			SuggestedActions: []string{"retry with backoff", "use cached data"},
		}
	default:
		return &AppError{
			Code:             "SYSTEM_ERROR",
			Category:         CategorySystem,
			Severity:         SeverityHigh,
			Retryable:        false,
			UserMessage:      "An unexpected error occurred.",
			SuggestedActions: []string{"contact support"},
		}
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
