// Package cache provides response caching for completed upstream calls.
// Only non-streaming message responses are cached; keys are derived from a
// hash of the inbound request body.
package cache

import (
	"context"
	"time"
)

// Response is a completed upstream reply worth replaying.
type Response struct {
	Status      int
	ContentType string
	Body        []byte
}

// Cache is the interface for response caching.
type Cache interface {
	// Get retrieves a cached response by key.
	Get(ctx context.Context, key string) (Response, bool)
	// Set stores a response with the given TTL.
	Set(ctx context.Context, key string, resp Response, ttl time.Duration)
	// Delete removes a cached response.
	Delete(ctx context.Context, key string)
	// Purge removes all cached responses.
	Purge(ctx context.Context)
}
