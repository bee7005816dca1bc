package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript is a Redis Lua script that atomically performs
// fixed-window counting. It:
//  1. Increments the window counter
//  2. If this is the first increment of the bucket, sets the key expiry
//     to the window length
//  3. Returns the post-increment count
//
// Keys: KEYS[1] = window key ({tier}:{identity}:{bucket})
// Args: ARGV[1] = window length in milliseconds
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("PEXPIRE", KEYS[1], tonumber(ARGV[1]))
end
return count
`)

// RedisBackend implements Backend using Redis for distributed fixed-window
// counting. The Lua script keeps increment and expiry atomic, so concurrent
// requests across instances never lose updates or leave immortal keys.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a new Redis-backed rate limiting backend.
func NewRedisBackend(client *redis.Client) *RedisBackend {
	return &RedisBackend{
		client: client,
		prefix: "pulsar:rl:",
	}
}

// IncrWindow performs the atomic increment-with-expiry via the Lua script.
func (b *RedisBackend) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := fixedWindowScript.Run(ctx, b.client, []string{b.prefix + key},
		window.Milliseconds(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis window incr: %w", err)
	}
	return count, nil
}
