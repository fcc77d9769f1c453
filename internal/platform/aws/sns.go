package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/agatticelli/gatekit/internal/platform/observability"
)

// SNSClient wraps the AWS SNS client with bounded retry.
type SNSClient struct {
	client      *sns.Client
	maxAttempts int
	baseDelay   time.Duration
	logger      *observability.Logger
}

// SNSClientConfig holds SNS client configuration
type SNSClientConfig struct {
	AWSConfig   aws.Config
	Logger      *observability.Logger
	MaxAttempts int
	BaseDelay   time.Duration
}

// NewSNSClient creates a new SNS client.
func NewSNSClient(cfg SNSClientConfig) *SNSClient {
	maxAttempts := cfg.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NewNopLogger()
	}

	return &SNSClient{
		client:      sns.NewFromConfig(cfg.AWSConfig),
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		logger:      logger.WithComponent("sns"),
	}
}

// Publish publishes a message to an SNS topic with exponential backoff
// retry.
func (s *SNSClient) Publish(ctx context.Context, topicARN string, message interface{}, attributes map[string]string) error {
	messageJSON, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < s.maxAttempts; attempt++ {
		if attempt > 0 {
			// Exponential backoff with jitter.
			delay := s.baseDelay << (attempt - 1)
			delay = time.Duration(float64(delay) * (0.9 + 0.2*rand.Float64()))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("publish cancelled during backoff: %w", ctx.Err())
			}
		}

		lastErr = s.publishOnce(ctx, topicARN, string(messageJSON), attributes)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("publish cancelled: %w", ctx.Err())
		}
	}

	s.logger.LogError(ctx, "SNS publish failed after retries", lastErr,
		"topic_arn", topicARN, "attempts", s.maxAttempts)
	return fmt.Errorf("max publish attempts reached: %w", lastErr)
}

func (s *SNSClient) publishOnce(ctx context.Context, topicARN, message string, attributes map[string]string) error {
	messageAttributes := make(map[string]types.MessageAttributeValue, len(attributes))
	for k, v := range attributes {
		messageAttributes[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(v),
		}
	}

	input := &sns.PublishInput{
		TopicArn:          aws.String(topicARN),
		Message:           aws.String(message),
		MessageAttributes: messageAttributes,
	}

	if _, err := s.client.Publish(ctx, input); err != nil {
		return fmt.Errorf("SNS publish failed: %w", err)
	}
	return nil
}
