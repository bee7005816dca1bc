package cache

import (
	"context"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

const (
	// InvalidationChannel is the Redis Pub/Sub channel used for cache
	// invalidation signals. When an edge instance evicts a tenant or
	// context entry it publishes the affected key (or prefix pattern)
	// to this channel. All subscribed instances delete the entry from
	// their L1 cache, ensuring cross-instance consistency without
	// waiting for TTL expiry.
	InvalidationChannel = "pulsar:cache:invalidate"
)

// Invalidator listens for invalidation signals over Redis Pub/Sub and evicts
// the corresponding keys from a local cache (typically the L1 in-memory
// cache in a tiered setup). Payloads ending in "*" are treated as prefix
// patterns.
type Invalidator struct {
	local  Cache
	client *redis.Client
	mu     sync.Mutex
	cancel context.CancelFunc
	closed bool
}

// NewInvalidator creates a cache invalidator that subscribes to Redis
// Pub/Sub and invalidates keys in the local cache when signals arrive.
func NewInvalidator(local Cache, client *redis.Client) *Invalidator {
	return &Invalidator{
		local:  local,
		client: client,
	}
}

// Start begins listening for invalidation signals. It blocks until the
// context is cancelled or Close is called.
func (iv *Invalidator) Start(ctx context.Context) {
	subCtx, cancel := context.WithCancel(ctx)
	iv.mu.Lock()
	iv.cancel = cancel
	iv.mu.Unlock()

	pubsub := iv.client.Subscribe(subCtx, InvalidationChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-subCtx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if strings.HasSuffix(msg.Payload, "*") {
				_ = iv.local.DeletePattern(subCtx, msg.Payload)
			} else {
				_ = iv.local.Delete(subCtx, msg.Payload)
			}
		}
	}
}

// Publish broadcasts an invalidation set so every instance's L1 drops the
// affected entries.
func (iv *Invalidator) Publish(ctx context.Context, inv Invalidation) error {
	for _, key := range inv.Keys {
		if err := iv.client.Publish(ctx, InvalidationChannel, key).Err(); err != nil {
			return err
		}
	}
	for _, pattern := range inv.Patterns {
		if err := iv.client.Publish(ctx, InvalidationChannel, pattern).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Close stops the invalidation listener.
func (iv *Invalidator) Close() error {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	if iv.closed {
		return nil
	}
	iv.closed = true
	if iv.cancel != nil {
		iv.cancel()
	}
	return nil
}
