// Package ratelimit implements layered fixed-window rate limiting for the
// edge request pipeline. Four independent tiers (global, tenant, user,
// endpoint) are evaluated in order against a shared counter store; counters
// require atomic increment-with-expiry semantics because lost updates would
// silently erode enforcement.
package ratelimit

import (
	"context"
	"time"
)

// Backend provides the atomic counter primitive for fixed-window limiting.
type Backend interface {
	// IncrWindow atomically increments the counter for key and, when this
	// is the first increment of the bucket, sets its expiry to the window
	// length. It returns the post-increment count.
	IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error)
}
