// Package alert publishes critical-error notifications to an external
// sink. Publishing is fire-and-forget: sink failures never affect
// request handling.
package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/agatticelli/gatekit/internal/platform/aws"
	"github.com/agatticelli/gatekit/internal/platform/observability"
)

// Alert describes a critical error worth paging on.
type Alert struct {
	Code      string                 `json:"code"`
	Category  string                 `json:"category"`
	Severity  string                 `json:"severity"`
	Message   string                 `json:"message"`
	Endpoint  string                 `json:"endpoint,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// Publisher delivers alerts to a sink.
type Publisher interface {
	Publish(ctx context.Context, a Alert) error
}

// SNSPublisher delivers alerts to an SNS topic.
type SNSPublisher struct {
	client   *aws.SNSClient
	topicARN string
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// SNSPublisherConfig holds publisher configuration.
type SNSPublisherConfig struct {
	Client   *aws.SNSClient
	TopicARN string
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// NewSNSPublisher creates an SNS-backed alert publisher.
func NewSNSPublisher(cfg SNSPublisherConfig) (*SNSPublisher, error) {
	if cfg.Client == nil {
		return nil, fmt.Errorf("alert: SNS client is required")
	}
	if cfg.TopicARN == "" {
		return nil, fmt.Errorf("alert: topic ARN is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &observability.Metrics{}
	}

	return &SNSPublisher{
		client:   cfg.Client,
		topicARN: cfg.TopicARN,
		logger:   logger.WithComponent("alert"),
		metrics:  metrics,
	}, nil
}

// Publish implements Publisher. Message attributes carry the code and
// severity so subscribers can filter.
func (p *SNSPublisher) Publish(ctx context.Context, a Alert) error {
	attributes := map[string]string{
		"code":     a.Code,
		"severity": a.Severity,
	}

	err := p.client.Publish(ctx, p.topicARN, a, attributes)
	if err != nil {
		p.metrics.RecordAlertPublished(ctx, "error")
		p.logger.LogWarn(ctx, "alert publish failed", "code", a.Code, "error", err)
		return err
	}

	p.metrics.RecordAlertPublished(ctx, "success")
	return nil
}

// Noop is a Publisher that discards alerts. Used when alerting is
// disabled.
type Noop struct{}

// Publish implements Publisher.
func (Noop) Publish(context.Context, Alert) error { return nil }
