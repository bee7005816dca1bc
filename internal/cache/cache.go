// Package cache defines the abstract caching interface shared by every edge
// service hot path. Implementations may use in-memory maps (default), Redis,
// or a two-level combination of both. The interface supports typed
// serialization via byte slices, leaving encoding to the caller; the Manager
// layers TTL-class policy and JSON encoding on top.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist in the cache.
var ErrNotFound = errors.New("cache: key not found")

// Cache abstracts a key-value cache with TTL support.
// All operations are safe for concurrent use.
type Cache interface {
	// Get retrieves the value associated with key.
	// Returns ErrNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. A zero TTL means the entry
	// does not expire (or uses the implementation's default expiration).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key from the cache. It is not an error to delete
	// a key that does not exist.
	Delete(ctx context.Context, key string) error

	// DeletePattern removes every key matching the given prefix pattern
	// (a key prefix terminated by "*"). Callers observe either the full
	// set of matching keys or none of them; partial deletion is never
	// visible through Get.
	DeletePattern(ctx context.Context, pattern string) error

	// Exists reports whether the key exists and has not expired.
	Exists(ctx context.Context, key string) (bool, error)

	// Ping verifies connectivity to the underlying cache backend.
	Ping(ctx context.Context) error

	// Close releases all resources held by the cache implementation.
	Close() error
}
