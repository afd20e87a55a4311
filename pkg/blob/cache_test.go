// ABOUTME: Cache backend tests — TTL expiry, miss semantics, no List support

package blob

import (
	"context"
	"testing"
	"time"
)

func TestCachePutGet(t *testing.T) {
	c := NewCache(CacheConfig{Name: "t", DefaultTTL: time.Minute}, nil)
	ctx := context.Background()

	if _, err := c.Put(ctx, "k", []byte("v"), PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	obj, ok, err := c.Get(ctx, "k")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(obj.Data) != "v" {
		t.Fatalf("data = %q", obj.Data)
	}
}

func TestCacheExpiry(t *testing.T) {
	c := NewCache(CacheConfig{Name: "t", DefaultTTL: time.Millisecond}, nil)
	ctx := context.Background()
	c.Put(ctx, "k", []byte("v"), PutOptions{})

	time.Sleep(5 * time.Millisecond)
	_, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatal("expected entry expired")
	}
}

func TestCacheListUnsupported(t *testing.T) {
	c := NewCache(CacheConfig{Name: "t"}, nil)
	if _, err := c.List(context.Background(), ListOptions{}); err == nil {
		t.Fatal("expected error: cache does not support list")
	}
}

func TestCacheTTLClampedToMax(t *testing.T) {
	c := NewCache(CacheConfig{Name: "t", DefaultTTL: time.Hour, MaxTTL: time.Millisecond}, nil)
	c.PutWithTTL("k", []byte("v"), Meta{Size: 1}, time.Hour)

	time.Sleep(5 * time.Millisecond)
	_, ok, _ := c.Get(context.Background(), "k")
	if ok {
		t.Fatal("expected TTL clamped to MaxTTL, entry should have expired")
	}
}

func TestCacheGetRangeMiss(t *testing.T) {
	c := NewCache(CacheConfig{Name: "t"}, nil)
	_, ok, err := c.GetRange(context.Background(), "missing", 0, 10)
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if ok {
		t.Fatal("expected miss")
	}
}
