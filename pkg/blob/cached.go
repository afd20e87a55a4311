// ABOUTME: {kind: object-store-with-read-through-cache} — composed backend
// ABOUTME: Writes go to the object store; reads probe the cache before it

package blob

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/fsxdb/fsx/pkg/errs"
)

// CachedConfig controls the read-through composition.
type CachedConfig struct {
	// WarmOnWrite also populates the cache on Put, not just on first read.
	WarmOnWrite bool
	TTL         time.Duration
}

// ObjectStoreWithCache composes an authoritative Storage (normally an
// ObjectStore) with a Cache in front of it. Range reads against a cold key
// pull the *entire* object into the cache once, then every subsequent read
// — ranged or not — is served from the cache without touching the origin
// again, until the entry expires.
type ObjectStoreWithCache struct {
	origin Storage
	cache  *Cache
	cfg    CachedConfig
}

// NewObjectStoreWithCache wires origin as the durable backend and cache as
// its ephemeral front.
func NewObjectStoreWithCache(origin Storage, cache *Cache, cfg CachedConfig) *ObjectStoreWithCache {
	return &ObjectStoreWithCache{origin: origin, cache: cache, cfg: cfg}
}

var _ Storage = (*ObjectStoreWithCache)(nil)

func (c *ObjectStoreWithCache) Put(ctx context.Context, key string, data []byte, opts PutOptions) (PutResult, error) {
	res, err := c.origin.Put(ctx, key, data, opts)
	if err != nil {
		return res, err
	}
	if c.cfg.WarmOnWrite {
		c.cache.PutWithTTL(key, data, Meta{ETag: res.ETag, Size: res.Size, ContentType: opts.ContentType, CustomMeta: opts.CustomMeta, ModTime: time.Now()}, c.cfg.TTL)
	} else {
		c.cache.Delete(ctx, key)
	}
	return res, nil
}

func (c *ObjectStoreWithCache) PutStream(ctx context.Context, key string, r io.Reader, opts PutOptions) (PutResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return PutResult{}, fmt.Errorf("blob: read stream: %w", errs.ErrIO)
	}
	return c.Put(ctx, key, data, opts)
}

// fill pulls the full object from origin into the cache and returns it. It
// is the only path that ever issues a second origin fetch for an already
// cached key: once an entry lands here, every subsequent Get/GetRange/Head
// for that key is answered purely from the cache until expiry.
func (c *ObjectStoreWithCache) fill(ctx context.Context, key string) (*Object, bool, error) {
	obj, ok, err := c.origin.Get(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	c.cache.PutWithTTL(key, obj.Data, obj.Meta, c.cfg.TTL)
	return obj, true, nil
}

func (c *ObjectStoreWithCache) Get(ctx context.Context, key string) (*Object, bool, error) {
	if obj, ok, err := c.cache.Get(ctx, key); err == nil && ok {
		return obj, true, nil
	}
	return c.fill(ctx, key)
}

func (c *ObjectStoreWithCache) GetStream(ctx context.Context, key string) (io.ReadCloser, *Meta, bool, error) {
	obj, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return nil, nil, ok, err
	}
	return io.NopCloser(newByteReader(obj.Data)), &obj.Meta, true, nil
}

// GetRange always resolves the key against the cache's full object: a cold
// key is pulled in full once via fill, then every range is sliced in-process.
func (c *ObjectStoreWithCache) GetRange(ctx context.Context, key string, start, end int64) (*Object, bool, error) {
	if end >= 0 && start > end {
		return nil, false, fmt.Errorf("blob: range start %d > end %d: %w", start, end, errs.ErrInvalid)
	}
	if _, ok, err := c.cache.Head(ctx, key); err != nil {
		return nil, false, err
	} else if !ok {
		if _, filled, err := c.fill(ctx, key); err != nil || !filled {
			return nil, filled, err
		}
	}
	return c.cache.GetRange(ctx, key, start, end)
}

func (c *ObjectStoreWithCache) Head(ctx context.Context, key string) (*Meta, bool, error) {
	if meta, ok, err := c.cache.Head(ctx, key); err == nil && ok {
		return meta, true, nil
	}
	return c.origin.Head(ctx, key)
}

func (c *ObjectStoreWithCache) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := c.Head(ctx, key)
	return ok, err
}

func (c *ObjectStoreWithCache) Delete(ctx context.Context, key string) error {
	c.cache.Delete(ctx, key)
	return c.origin.Delete(ctx, key)
}

func (c *ObjectStoreWithCache) DeleteMany(ctx context.Context, keys []string) error {
	c.cache.DeleteMany(ctx, keys)
	return c.origin.DeleteMany(ctx, keys)
}

// List bypasses the cache entirely: cache contents are not authoritative
// or enumerable, so listing always goes straight to the origin.
func (c *ObjectStoreWithCache) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	return c.origin.List(ctx, opts)
}

func (c *ObjectStoreWithCache) Copy(ctx context.Context, src, dst string) (PutResult, error) {
	res, err := c.origin.Copy(ctx, src, dst)
	if err != nil {
		return res, err
	}
	c.cache.Delete(ctx, dst)
	return res, nil
}
