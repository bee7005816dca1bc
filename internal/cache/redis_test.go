package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedisCache(t *testing.T) *RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisCacheFromClient(client, "test:")
}

func TestRedisCache_SetGet(t *testing.T) {
	c := newTestRedisCache(t)
	ctx := context.Background()

	if err := c.Set(ctx, "k1", []byte("v1"), time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	val, err := c.Get(ctx, "k1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(val) != "v1" {
		t.Fatalf("expected 'v1', got '%s'", string(val))
	}
}

func TestRedisCache_GetMissing(t *testing.T) {
	c := newTestRedisCache(t)

	_, err := c.Get(context.Background(), "nope")
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRedisCache_Delete(t *testing.T) {
	c := newTestRedisCache(t)
	ctx := context.Background()

	c.Set(ctx, "k1", []byte("v1"), time.Minute)
	if err := c.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := c.Get(ctx, "k1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestRedisCache_DeletePattern(t *testing.T) {
	c := newTestRedisCache(t)
	ctx := context.Background()

	c.Set(ctx, "tenant:t1", []byte("a"), time.Minute)
	c.Set(ctx, "tenant-context:t1:u1", []byte("b"), time.Minute)
	c.Set(ctx, "tenant-context:t1:u2", []byte("c"), time.Minute)
	c.Set(ctx, "tenant-context:t2:u1", []byte("d"), time.Minute)

	if err := c.DeletePattern(ctx, "tenant-context:t1:*"); err != nil {
		t.Fatalf("DeletePattern failed: %v", err)
	}

	if _, err := c.Get(ctx, "tenant-context:t1:u1"); err != ErrNotFound {
		t.Fatal("t1:u1 should be evicted")
	}
	if _, err := c.Get(ctx, "tenant-context:t1:u2"); err != ErrNotFound {
		t.Fatal("t1:u2 should be evicted")
	}
	if _, err := c.Get(ctx, "tenant-context:t2:u1"); err != nil {
		t.Fatalf("t2:u1 should survive, got %v", err)
	}
	if _, err := c.Get(ctx, "tenant:t1"); err != nil {
		t.Fatalf("tenant record should survive a context flush, got %v", err)
	}
}

func TestRedisCache_Exists(t *testing.T) {
	c := newTestRedisCache(t)
	ctx := context.Background()

	c.Set(ctx, "k1", []byte("v1"), time.Minute)
	ok, err := c.Exists(ctx, "k1")
	if err != nil {
		t.Fatalf("Exists failed: %v", err)
	}
	if !ok {
		t.Fatal("k1 should exist")
	}
	ok, _ = c.Exists(ctx, "k2")
	if ok {
		t.Fatal("k2 should not exist")
	}
}
