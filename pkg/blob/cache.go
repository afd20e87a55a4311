// ABOUTME: {kind: cache} — ephemeral in-process TTL cache backend
// ABOUTME: Never authoritative; entries expire and may vanish at any time

package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/fsxdb/fsx/pkg/errs"
)

// CacheConfig configures a {kind: cache} backend: a named, TTL-bounded
// in-process map sitting in front of an origin it does not itself know
// about (the composing ObjectStoreWithCache backend owns the origin).
// BaseURL is stored with the config; the cache makes no HTTP requests.
type CacheConfig struct {
	Name       string
	BaseURL    string
	DefaultTTL time.Duration
	MaxTTL     time.Duration
}

type cacheEntry struct {
	data    []byte
	meta    Meta
	expires time.Time
}

// Cache is the `{kind: cache}` backend. It is purely additive: a miss is not
// an error, and entries are dropped silently past their TTL. It does not
// implement List — cache contents are not enumerable per the port's contract
// for this backend kind.
type Cache struct {
	cfg CacheConfig
	hc  *http.Client

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache builds a cache backend. hc may be nil, in which case
// http.DefaultClient is stored; the client is kept on the Cache but no
// method of Cache sends a request through it.
func NewCache(cfg CacheConfig, hc *http.Client) *Cache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = 30 * time.Second
	}
	if cfg.MaxTTL <= 0 {
		cfg.MaxTTL = cfg.DefaultTTL
	}
	if hc == nil {
		hc = http.DefaultClient
	}
	return &Cache{cfg: cfg, hc: hc, entries: make(map[string]cacheEntry)}
}

var _ Storage = (*Cache)(nil)

func (c *Cache) ttlFor(requested time.Duration) time.Duration {
	ttl := requested
	if ttl <= 0 {
		ttl = c.cfg.DefaultTTL
	}
	if ttl > c.cfg.MaxTTL {
		ttl = c.cfg.MaxTTL
	}
	return ttl
}

// Put inserts or refreshes key with the default TTL.
func (c *Cache) Put(_ context.Context, key string, data []byte, opts PutOptions) (PutResult, error) {
	if len(key) == 0 || len(key) > MaxKeyLen {
		return PutResult{}, fmt.Errorf("blob: key length %d out of range: %w", len(key), errs.ErrInvalid)
	}
	cp := append([]byte(nil), data...)
	meta := Meta{
		Size:        int64(len(cp)),
		ContentType: opts.ContentType,
		CustomMeta:  opts.CustomMeta,
		ModTime:     time.Now(),
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{data: cp, meta: meta, expires: time.Now().Add(c.ttlFor(0))}
	c.mu.Unlock()
	return PutResult{Size: meta.Size}, nil
}

// PutWithTTL inserts key honoring an explicit TTL, clamped to MaxTTL.
func (c *Cache) PutWithTTL(key string, data []byte, meta Meta, ttl time.Duration) {
	cp := append([]byte(nil), data...)
	c.mu.Lock()
	c.entries[key] = cacheEntry{data: cp, meta: meta, expires: time.Now().Add(c.ttlFor(ttl))}
	c.mu.Unlock()
}

func (c *Cache) PutStream(ctx context.Context, key string, r io.Reader, opts PutOptions) (PutResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return PutResult{}, fmt.Errorf("blob: read stream: %w", errs.ErrIO)
	}
	return c.Put(ctx, key, data, opts)
}

func (c *Cache) get(key string) (cacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return cacheEntry{}, false
	}
	if time.Now().After(e.expires) {
		delete(c.entries, key)
		return cacheEntry{}, false
	}
	return e, true
}

func (c *Cache) Get(_ context.Context, key string) (*Object, bool, error) {
	e, ok := c.get(key)
	if !ok {
		return nil, false, nil
	}
	return &Object{Data: append([]byte(nil), e.data...), Meta: e.meta}, true, nil
}

func (c *Cache) GetStream(ctx context.Context, key string) (io.ReadCloser, *Meta, bool, error) {
	obj, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return nil, nil, ok, err
	}
	return io.NopCloser(newByteReader(obj.Data)), &obj.Meta, true, nil
}

func (c *Cache) GetRange(_ context.Context, key string, start, end int64) (*Object, bool, error) {
	if end >= 0 && start > end {
		return nil, false, fmt.Errorf("blob: range start %d > end %d: %w", start, end, errs.ErrInvalid)
	}
	e, ok := c.get(key)
	if !ok {
		return nil, false, nil
	}
	size := int64(len(e.data))
	if start >= size {
		return &Object{Data: nil, Meta: e.meta}, true, nil
	}
	stop := size
	if end >= 0 && end+1 < stop {
		stop = end + 1
	}
	return &Object{Data: append([]byte(nil), e.data[start:stop]...), Meta: e.meta}, true, nil
}

func (c *Cache) Head(_ context.Context, key string) (*Meta, bool, error) {
	e, ok := c.get(key)
	if !ok {
		return nil, false, nil
	}
	meta := e.meta
	return &meta, true, nil
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := c.Head(ctx, key)
	return ok, err
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	return nil
}

func (c *Cache) DeleteMany(_ context.Context, keys []string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	c.mu.Unlock()
	return nil
}

// List is unsupported by the cache backend: caches are not enumerable.
func (c *Cache) List(_ context.Context, _ ListOptions) (ListResult, error) {
	return ListResult{}, fmt.Errorf("blob: cache %q does not support list: %w", c.cfg.Name, errs.ErrInvalid)
}

func (c *Cache) Copy(_ context.Context, src, dst string) (PutResult, error) {
	e, ok := c.get(src)
	if !ok {
		return PutResult{}, fmt.Errorf("blob: copy source %q: %w", src, errs.ErrNotFound)
	}
	cp := append([]byte(nil), e.data...)
	c.mu.Lock()
	c.entries[dst] = cacheEntry{data: cp, meta: e.meta, expires: e.expires}
	c.mu.Unlock()
	return PutResult{Size: e.meta.Size}, nil
}
