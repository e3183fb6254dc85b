package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T, ttl time.Duration) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedis(client, ttl), mr
}

func TestRedisCacheRoundTripAndExpiry(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := c.Set(ctx, "k", "S: bright, alert"); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	value, ok, err := c.Get(ctx, "k")
	if err != nil || !ok || value != "S: bright, alert" {
		t.Fatalf("unexpected Get(): value=%q ok=%v err=%v", value, ok, err)
	}
	if !mr.Exists(keyPrefix + "k") {
		t.Fatal("expected key to be stored under the result prefix")
	}

	mr.FastForward(2 * time.Minute)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Fatal("expected entry to expire")
	}
}

func TestRedisCacheSurfacesConnectionErrors(t *testing.T) {
	c, mr := newTestCache(t, time.Minute)
	mr.Close()

	if _, _, err := c.Get(context.Background(), "k"); err == nil {
		t.Fatal("expected error from closed server")
	}
}

func TestKeyIsStableAndSeparated(t *testing.T) {
	if Key("analyzeVitals", "m", "temp 101") != Key("analyzeVitals", "m", "temp 101") {
		t.Fatal("Key should be deterministic")
	}
	if Key("ab", "c") == Key("a", "bc") {
		t.Fatal("Key parts must be separated")
	}
	if len(Key("x")) != 16 {
		t.Fatalf("unexpected key length: %q", Key("x"))
	}
}
