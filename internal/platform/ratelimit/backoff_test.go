package ratelimit

import (
	"testing"
	"time"
)

// TestExponentialBackoffMonotonic verifies the delay sequence doubles
// and saturates at the max
func TestExponentialBackoffMonotonic(t *testing.T) {
	cfg := BackoffConfig{
		Strategy:  BackoffExponential,
		BaseDelay: time.Second,
		MaxDelay:  10 * time.Second,
	}

	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second,
		10 * time.Second, 10 * time.Second, 10 * time.Second,
	}
	prev := time.Duration(0)
	for i, expected := range want {
		got := backoffDelay(cfg, i+1, nil)
		if got != expected {
			t.Errorf("Failure %d: expected %v, got %v", i+1, expected, got)
		}
		if got < prev {
			t.Errorf("Failure %d: delay %v decreased below %v", i+1, got, prev)
		}
		prev = got
	}

	t.Log("✓ Exponential delays double and saturate at the max")
}

// TestExponentialBackoffNoOverflow verifies huge failure counts still
// return the max delay rather than overflowing
func TestExponentialBackoffNoOverflow(t *testing.T) {
	cfg := BackoffConfig{
		Strategy:  BackoffExponential,
		BaseDelay: time.Second,
		MaxDelay:  time.Minute,
	}

	got := backoffDelay(cfg, 500, nil)
	if got != time.Minute {
		t.Errorf("Expected max delay for failure 500, got %v", got)
	}

	t.Log("✓ Exponential growth clamps instead of overflowing")
}

// TestLinearBackoff verifies linear growth
func TestLinearBackoff(t *testing.T) {
	cfg := BackoffConfig{
		Strategy:  BackoffLinear,
		BaseDelay: time.Second,
		MaxDelay:  5 * time.Second,
	}

	want := []time.Duration{
		time.Second, 2 * time.Second, 3 * time.Second,
		4 * time.Second, 5 * time.Second, 5 * time.Second,
	}
	for i, expected := range want {
		if got := backoffDelay(cfg, i+1, nil); got != expected {
			t.Errorf("Failure %d: expected %v, got %v", i+1, expected, got)
		}
	}

	t.Log("✓ Linear delays grow by the base each failure")
}

// TestFibonacciBackoff verifies fibonacci growth
func TestFibonacciBackoff(t *testing.T) {
	cfg := BackoffConfig{
		Strategy:  BackoffFibonacci,
		BaseDelay: time.Second,
		MaxDelay:  time.Minute,
	}

	want := []time.Duration{
		time.Second, time.Second, 2 * time.Second,
		3 * time.Second, 5 * time.Second, 8 * time.Second,
	}
	for i, expected := range want {
		if got := backoffDelay(cfg, i+1, nil); got != expected {
			t.Errorf("Failure %d: expected %v, got %v", i+1, expected, got)
		}
	}

	t.Log("✓ Fibonacci delays follow the sequence")
}

// TestBackoffJitterRange verifies jitter scales the delay into
// [0.5, 1.0] of the computed value
func TestBackoffJitterRange(t *testing.T) {
	cfg := BackoffConfig{
		Strategy:  BackoffExponential,
		BaseDelay: 10 * time.Second,
		MaxDelay:  time.Minute,
		Jitter:    true,
	}

	if got := backoffDelay(cfg, 1, func() float64 { return 0 }); got != 5*time.Second {
		t.Errorf("Expected 5s at jitter floor, got %v", got)
	}
	if got := backoffDelay(cfg, 1, func() float64 { return 0.999999 }); got < 9*time.Second || got > 10*time.Second {
		t.Errorf("Expected near-10s at jitter ceiling, got %v", got)
	}

	t.Log("✓ Jitter keeps delays within [0.5, 1.0] of the computed value")
}

// TestBackoffZeroFailuresTreatedAsFirst verifies failure counts below
// one get the base delay
func TestBackoffZeroFailuresTreatedAsFirst(t *testing.T) {
	cfg := BackoffConfig{
		Strategy:  BackoffLinear,
		BaseDelay: time.Second,
		MaxDelay:  time.Minute,
	}

	if got := backoffDelay(cfg, 0, nil); got != time.Second {
		t.Errorf("Expected base delay for failure count 0, got %v", got)
	}

	t.Log("✓ Failure counts below one use the base delay")
}
