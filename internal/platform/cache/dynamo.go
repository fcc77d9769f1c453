package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// dynamoRecord is the fixed-shape item written to DynamoDB. The ttl
// attribute drives DynamoDB's native item expiry.
type dynamoRecord struct {
	CacheKey     string   `dynamodbav:"cache_key"`
	Value        string   `dynamodbav:"value"` // JSON-encoded entry value
	CreatedAt    int64    `dynamodbav:"created_at"`
	ExpiresAt    int64    `dynamodbav:"expires_at"`
	AccessCount  int64    `dynamodbav:"access_count"`
	LastAccessed int64    `dynamodbav:"last_accessed"`
	Size         int64    `dynamodbav:"size"`
	Tags         []string `dynamodbav:"tags,omitempty"`
	TTL          int64    `dynamodbav:"ttl"`
}

// DynamoTier is an alternative shared tier backed by a DynamoDB table
// with a TTL attribute. DynamoDB expires items lazily, so reads still
// check logical expiry against expires_at.
type DynamoTier struct {
	client *dynamodb.Client
	table  string

	hits   atomic.Int64
	misses atomic.Int64
}

// NewDynamoTier wraps an existing DynamoDB client and table. The table
// needs cache_key as its partition key and ttl enabled as the TTL
// attribute.
func NewDynamoTier(client *dynamodb.Client, table string) *DynamoTier {
	return &DynamoTier{
		client: client,
		table:  table,
	}
}

// Name implements Tier.
func (t *DynamoTier) Name() string { return "dynamo" }

func (t *DynamoTier) keyAttr(key string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"cache_key": &types.AttributeValueMemberS{Value: key},
	}
}

// Get implements Tier.
func (t *DynamoTier) Get(ctx context.Context, key string) (*Entry, bool, error) {
	out, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(t.table),
		Key:       t.keyAttr(key),
	})
	if err != nil {
		return nil, false, fmt.Errorf("dynamo get error: %w", err)
	}
	if out.Item == nil {
		t.misses.Add(1)
		return nil, false, nil
	}

	var rec dynamoRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	entry, err := rec.toEntry()
	if err != nil {
		t.misses.Add(1)
		return nil, false, nil
	}

	if entry.Expired(time.Now()) {
		// TTL deletion is lazy; treat as a miss and clean up.
		_, _ = t.Delete(ctx, key)
		t.misses.Add(1)
		return nil, false, nil
	}

	entry.Touch(time.Now())
	t.hits.Add(1)
	return entry, true, nil
}

// Set implements Tier.
func (t *DynamoTier) Set(ctx context.Context, e *Entry) error {
	rec, err := fromEntry(e)
	if err != nil {
		return err
	}

	item, err := attributevalue.MarshalMap(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	_, err = t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.table),
		Item:      item,
	})
	if err != nil {
		return fmt.Errorf("dynamo put error: %w", err)
	}
	return nil
}

// Delete implements Tier.
func (t *DynamoTier) Delete(ctx context.Context, key string) (bool, error) {
	out, err := t.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(t.table),
		Key:          t.keyAttr(key),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return false, fmt.Errorf("dynamo delete error: %w", err)
	}
	return len(out.Attributes) > 0, nil
}

// Clear implements Tier. Scans the table and deletes matching keys.
func (t *DynamoTier) Clear(ctx context.Context, pattern string) (int, error) {
	removed := 0

	paginator := dynamodb.NewScanPaginator(t.client, &dynamodb.ScanInput{
		TableName:            aws.String(t.table),
		ProjectionExpression: aws.String("cache_key"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return removed, fmt.Errorf("dynamo scan error: %w", err)
		}
		for _, item := range page.Items {
			keyAttr, ok := item["cache_key"].(*types.AttributeValueMemberS)
			if !ok || !matchKey(pattern, keyAttr.Value) {
				continue
			}
			if deleted, err := t.Delete(ctx, keyAttr.Value); err == nil && deleted {
				removed++
			}
		}
	}
	return removed, nil
}

// Exists implements Tier.
func (t *DynamoTier) Exists(ctx context.Context, key string) (bool, error) {
	out, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:            aws.String(t.table),
		Key:                  t.keyAttr(key),
		ProjectionExpression: aws.String("expires_at"),
	})
	if err != nil {
		return false, fmt.Errorf("dynamo get error: %w", err)
	}
	if out.Item == nil {
		return false, nil
	}

	var rec struct {
		ExpiresAt int64 `dynamodbav:"expires_at"`
	}
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return false, nil
	}
	return time.Now().Unix() <= rec.ExpiresAt, nil
}

// InvalidateTags implements Tier. Full table scan; best-effort.
func (t *DynamoTier) InvalidateTags(ctx context.Context, tags []string) (int, error) {
	removed := 0

	paginator := dynamodb.NewScanPaginator(t.client, &dynamodb.ScanInput{
		TableName:            aws.String(t.table),
		ProjectionExpression: aws.String("cache_key, tags"),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return removed, fmt.Errorf("dynamo scan error: %w", err)
		}
		for _, item := range page.Items {
			var rec struct {
				CacheKey string   `dynamodbav:"cache_key"`
				Tags     []string `dynamodbav:"tags"`
			}
			if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
				continue
			}
			if hasAnyTag(rec.Tags, tags) {
				if deleted, err := t.Delete(ctx, rec.CacheKey); err == nil && deleted {
					removed++
				}
			}
		}
	}
	return removed, nil
}

// Stats implements Tier.
func (t *DynamoTier) Stats(ctx context.Context) TierStats {
	stats := TierStats{
		Name:   t.Name(),
		Hits:   t.hits.Load(),
		Misses: t.misses.Load(),
	}

	out, err := t.client.Scan(ctx, &dynamodb.ScanInput{
		TableName: aws.String(t.table),
		Select:    types.SelectCount,
	})
	if err != nil {
		return stats
	}

	stats.Entries = int(out.Count)
	stats.Reachable = true
	return stats
}

// Close implements Tier.
func (t *DynamoTier) Close() error { return nil }

func jsonMarshalString(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func jsonUnmarshalString(s string) (interface{}, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	return v, nil
}

func fromEntry(e *Entry) (*dynamoRecord, error) {
	value, err := jsonMarshalString(e.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}
	return &dynamoRecord{
		CacheKey:     e.Key,
		Value:        value,
		CreatedAt:    e.CreatedAt.Unix(),
		ExpiresAt:    e.ExpiresAt.Unix(),
		AccessCount:  e.AccessCount,
		LastAccessed: e.LastAccessed.Unix(),
		Size:         e.Size,
		Tags:         e.Tags,
		TTL:          e.ExpiresAt.Unix(),
	}, nil
}

func (r *dynamoRecord) toEntry() (*Entry, error) {
	value, err := jsonUnmarshalString(r.Value)
	if err != nil {
		return nil, err
	}
	return &Entry{
		Key:          r.CacheKey,
		Value:        value,
		CreatedAt:    time.Unix(r.CreatedAt, 0),
		ExpiresAt:    time.Unix(r.ExpiresAt, 0),
		AccessCount:  r.AccessCount,
		LastAccessed: time.Unix(r.LastAccessed, 0),
		Size:         r.Size,
		Tags:         r.Tags,
	}, nil
}
