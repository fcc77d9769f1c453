package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

// Metrics holds all application metric instruments.
// A zero-value Metrics (metrics disabled) is safe to use: every record
// method is a no-op when the instruments are nil.
type Metrics struct {
	meter metric.Meter

	// Cache metrics
	CacheHits       metric.Int64Counter
	CacheMisses     metric.Int64Counter
	CacheEvictions  metric.Int64Counter
	CacheTierErrors metric.Int64Counter
	CacheOpDuration metric.Float64Histogram

	// Rate limit metrics
	RateLimitChecks  metric.Int64Counter
	RateLimitBlocked metric.Int64Counter
	BurstAdmissions  metric.Int64Counter
	BackoffTriggers  metric.Int64Counter

	// Recovery metrics
	ErrorsClassified metric.Int64Counter
	RecoveryAttempts metric.Int64Counter
	RecoveryDuration metric.Float64Histogram

	// Alerting metrics
	AlertsPublished metric.Int64Counter

	enabled bool
}

// NewMetrics creates a new Metrics instance backed by the OTEL SDK with
// a Prometheus exporter.
func NewMetrics(serviceName string, enabled bool) (*Metrics, error) {
	if !enabled {
		return &Metrics{}, nil
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	m := &Metrics{
		meter:   provider.Meter(serviceName),
		enabled: true,
	}

	if err := m.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

// initMetrics initializes all metric instruments
func (m *Metrics) initMetrics() error {
	var err error

	m.CacheHits, err = m.meter.Int64Counter(
		"gatekit.cache.hits",
		metric.WithDescription("Total cache hits by tier"),
	)
	if err != nil {
		return err
	}

	m.CacheMisses, err = m.meter.Int64Counter(
		"gatekit.cache.misses",
		metric.WithDescription("Total cache misses"),
	)
	if err != nil {
		return err
	}

	m.CacheEvictions, err = m.meter.Int64Counter(
		"gatekit.cache.evictions",
		metric.WithDescription("Total cache entries evicted by tier"),
	)
	if err != nil {
		return err
	}

	m.CacheTierErrors, err = m.meter.Int64Counter(
		"gatekit.cache.tier.errors",
		metric.WithDescription("Total tier operation failures"),
	)
	if err != nil {
		return err
	}

	m.CacheOpDuration, err = m.meter.Float64Histogram(
		"gatekit.cache.op.duration",
		metric.WithDescription("Cache operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.RateLimitChecks, err = m.meter.Int64Counter(
		"gatekit.ratelimit.checks",
		metric.WithDescription("Total rate limit checks by config"),
	)
	if err != nil {
		return err
	}

	m.RateLimitBlocked, err = m.meter.Int64Counter(
		"gatekit.ratelimit.blocked",
		metric.WithDescription("Total rate limit denials by config"),
	)
	if err != nil {
		return err
	}

	m.BurstAdmissions, err = m.meter.Int64Counter(
		"gatekit.ratelimit.burst.admissions",
		metric.WithDescription("Total admissions served from the burst pool"),
	)
	if err != nil {
		return err
	}

	m.BackoffTriggers, err = m.meter.Int64Counter(
		"gatekit.ratelimit.backoff.triggers",
		metric.WithDescription("Total backoff activations"),
	)
	if err != nil {
		return err
	}

	m.ErrorsClassified, err = m.meter.Int64Counter(
		"gatekit.recovery.errors",
		metric.WithDescription("Total errors classified by category and severity"),
	)
	if err != nil {
		return err
	}

	m.RecoveryAttempts, err = m.meter.Int64Counter(
		"gatekit.recovery.attempts",
		metric.WithDescription("Total recovery attempts by strategy and outcome"),
	)
	if err != nil {
		return err
	}

	m.RecoveryDuration, err = m.meter.Float64Histogram(
		"gatekit.recovery.duration",
		metric.WithDescription("Recovery attempt duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	m.AlertsPublished, err = m.meter.Int64Counter(
		"gatekit.alerts.published",
		metric.WithDescription("Total critical error alerts published"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Handler returns the HTTP handler serving Prometheus metrics.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}

// RecordCacheHit records a cache hit on the named tier.
func (m *Metrics) RecordCacheHit(ctx context.Context, tier string) {
	if m.CacheHits == nil {
		return
	}
	m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordCacheMiss records a full cache miss.
func (m *Metrics) RecordCacheMiss(ctx context.Context) {
	if m.CacheMisses == nil {
		return
	}
	m.CacheMisses.Add(ctx, 1)
}

// RecordCacheEviction records an eviction on the named tier.
func (m *Metrics) RecordCacheEviction(ctx context.Context, tier string) {
	if m.CacheEvictions == nil {
		return
	}
	m.CacheEvictions.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", tier)))
}

// RecordCacheTierError records a per-tier operation failure.
func (m *Metrics) RecordCacheTierError(ctx context.Context, tier, op string) {
	if m.CacheTierErrors == nil {
		return
	}
	m.CacheTierErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tier", tier),
		attribute.String("op", op),
	))
}

// RecordCacheOp records the duration of a top-level cache operation.
func (m *Metrics) RecordCacheOp(ctx context.Context, op string, d time.Duration) {
	if m.CacheOpDuration == nil {
		return
	}
	m.CacheOpDuration.Record(ctx, float64(d.Milliseconds()),
		metric.WithAttributes(attribute.String("op", op)))
}

// RecordRateLimitCheck records a rate limit decision.
func (m *Metrics) RecordRateLimitCheck(ctx context.Context, config string, allowed bool) {
	if m.RateLimitChecks == nil {
		return
	}
	m.RateLimitChecks.Add(ctx, 1, metric.WithAttributes(attribute.String("config", config)))
	if !allowed {
		m.RateLimitBlocked.Add(ctx, 1, metric.WithAttributes(attribute.String("config", config)))
	}
}

// RecordBurstAdmission records an admission served from the burst pool.
func (m *Metrics) RecordBurstAdmission(ctx context.Context, config string) {
	if m.BurstAdmissions == nil {
		return
	}
	m.BurstAdmissions.Add(ctx, 1, metric.WithAttributes(attribute.String("config", config)))
}

// RecordBackoffTrigger records a transition into backoff.
func (m *Metrics) RecordBackoffTrigger(ctx context.Context, config string) {
	if m.BackoffTriggers == nil {
		return
	}
	m.BackoffTriggers.Add(ctx, 1, metric.WithAttributes(attribute.String("config", config)))
}

// RecordErrorClassified records a classified error.
func (m *Metrics) RecordErrorClassified(ctx context.Context, category, severity, endpoint string) {
	if m.ErrorsClassified == nil {
		return
	}
	m.ErrorsClassified.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("severity", severity),
		attribute.String("endpoint", endpoint),
	))
}

// RecordRecovery records a recovery attempt outcome and duration.
func (m *Metrics) RecordRecovery(ctx context.Context, strategy string, success bool, d time.Duration) {
	if m.RecoveryAttempts == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.RecoveryAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("outcome", outcome),
	))
	m.RecoveryDuration.Record(ctx, float64(d.Milliseconds()),
		metric.WithAttributes(attribute.String("strategy", strategy)))
}

// RecordAlertPublished records a published critical error alert.
func (m *Metrics) RecordAlertPublished(ctx context.Context, status string) {
	if m.AlertsPublished == nil {
		return
	}
	m.AlertsPublished.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}
