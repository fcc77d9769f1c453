package cache

import (
	"encoding/json"
	"time"
)

// Entry is the unit of storage shared by all tiers. The same fixed-shape
// JSON record is used as the wire envelope for network-backed tiers, so
// instances running different versions agree on the schema.
type Entry struct {
	Key          string      `json:"key"`
	Value        interface{} `json:"value"`
	CreatedAt    time.Time   `json:"created_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
	AccessCount  int64       `json:"access_count"`
	LastAccessed time.Time   `json:"last_accessed"`
	Size         int64       `json:"size"`
	Tags         []string    `json:"tags,omitempty"`
}

// NewEntry builds an entry for value with the given TTL. Size is derived
// from the JSON-serialized value; values that cannot be serialized get
// size zero and are still cacheable in process-local tiers.
func NewEntry(key string, value interface{}, ttl time.Duration, tags []string) (*Entry, error) {
	if ttl <= 0 {
		return nil, ErrInvalidTTL
	}

	now := time.Now()

	var size int64
	if data, err := json.Marshal(value); err == nil {
		size = int64(len(data))
	}

	return &Entry{
		Key:          key,
		Value:        value,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
		LastAccessed: now,
		Size:         size,
		Tags:         tags,
	}, nil
}

// Expired reports whether the entry is logically absent at now.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Remaining returns the TTL left at now, never negative.
func (e *Entry) Remaining(now time.Time) time.Duration {
	if d := e.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Touch records an access.
func (e *Entry) Touch(now time.Time) {
	e.AccessCount++
	e.LastAccessed = now
}

// Copy returns a shallow copy with its own tag slice. Promotion between
// tiers uses copies so tiers never share mutable entry state.
func (e *Entry) Copy() *Entry {
	c := *e
	if e.Tags != nil {
		c.Tags = make([]string, len(e.Tags))
		copy(c.Tags, e.Tags)
	}
	return &c
}
