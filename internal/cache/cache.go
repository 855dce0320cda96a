package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Cache provides query result caching.
type Cache interface {
	// GetAnswer retrieves a cached query answer by key.
	// Returns nil on a cache miss.
	GetAnswer(ctx context.Context, key string) (*Answer, error)

	// SetAnswer stores a query answer with TTL.
	SetAnswer(ctx context.Context, key string, answer *Answer, ttl time.Duration) error

	// InvalidateAll removes all cached answers. Called when the library
	// index changes underneath previous results.
	InvalidateAll(ctx context.Context) error

	// Close closes the cache connection.
	Close() error
}

// Answer is a cached query response.
type Answer struct {
	Text    string   `json:"text"`
	Model   string   `json:"model"`
	Sources []Source `json:"sources"`
}

// Source identifies a chunk that backed a cached answer.
type Source struct {
	ChunkID string  `json:"chunk_id"`
	Title   string  `json:"title"`
	Score   float32 `json:"score"`
	Preview string  `json:"preview"`
}

// Key derives a stable cache key from the query parameters.
func Key(question, model string, topK int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d", question, model, topK))
	return hex.EncodeToString(sum[:])
}
