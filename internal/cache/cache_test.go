package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func TestMemoryGetPutAndExpiry(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewMemory(0, clock.Now)
	ctx := context.Background()

	if _, ok, _ := c.Get(ctx, "missing"); ok {
		t.Fatal("expected miss for unknown key")
	}

	if err := c.Put(ctx, "k", "v", 10*time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || v != "v" {
		t.Fatalf("unexpected get result: v=%q ok=%v err=%v", v, ok, err)
	}

	clock.t = clock.t.Add(10 * time.Second)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected key to expire")
	}
}

func TestMemoryAppliesMinTTL(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewMemory(60*time.Second, clock.Now)
	ctx := context.Background()

	if err := c.Put(ctx, "k", "v", time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}
	clock.t = clock.t.Add(30 * time.Second)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("short TTL should have been raised to the floor")
	}
	clock.t = clock.t.Add(31 * time.Second)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected expiry after the floor elapsed")
	}
	if c.MinTTL() != 60*time.Second {
		t.Fatalf("unexpected MinTTL %v", c.MinTTL())
	}
}

func TestMemoryDelete(t *testing.T) {
	c := NewMemory(0, nil)
	ctx := context.Background()
	_ = c.Put(ctx, "k", "v", time.Minute)
	if err := c.Delete(ctx, "k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected key to be deleted")
	}
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *Redis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedis(client, "test:", 60*time.Second)
}

func TestRedisGetPut(t *testing.T) {
	mr, c := newMiniRedis(t)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	if err := c.Put(ctx, "k", `{"count":1}`, 120*time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || v != `{"count":1}` {
		t.Fatalf("unexpected get: v=%q ok=%v err=%v", v, ok, err)
	}

	if !mr.Exists("test:k") {
		t.Fatal("expected namespaced key in redis")
	}
	if ttl := mr.TTL("test:k"); ttl != 120*time.Second {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	mr.FastForward(121 * time.Second)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected key to expire")
	}
}

func TestRedisAppliesMinTTL(t *testing.T) {
	mr, c := newMiniRedis(t)
	if err := c.Put(context.Background(), "short", "1", 5*time.Second); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ttl := mr.TTL("test:short"); ttl != 60*time.Second {
		t.Fatalf("expected floor ttl of 60s, got %v", ttl)
	}
}

func TestRedisErrorsSurface(t *testing.T) {
	mr, c := newMiniRedis(t)
	mr.Close()

	if _, _, err := c.Get(context.Background(), "k"); err == nil {
		t.Fatal("expected error when redis is down")
	}
	if err := c.Put(context.Background(), "k", "v", time.Minute); err == nil {
		t.Fatal("expected error when redis is down")
	}
}

func TestNewRedisClientPing(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := NewRedisClient(context.Background(), "redis://"+mr.Addr())
	if err != nil {
		t.Fatalf("new redis client: %v", err)
	}
	if !client.Options().ContextTimeoutEnabled {
		t.Fatal("context deadlines must govern redis commands")
	}
	client.Close()

	if _, err := NewRedisClient(context.Background(), "not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}
