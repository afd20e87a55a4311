// ABOUTME: BlobStorage port — the opaque key/value contract the engine consumes
// ABOUTME: Pluggable backends implement Storage; the engine only sees this interface

package blob

import (
	"context"
	"io"
	"time"
)

// MaxKeyLen is the longest key accepted by any backend.
const MaxKeyLen = 1024

// Meta describes a stored object without transferring its body.
type Meta struct {
	ETag        string
	Size        int64
	ContentType string
	CustomMeta  map[string]string
	ModTime     time.Time
}

// Object is a fetched blob: its bytes plus metadata.
type Object struct {
	Data []byte
	Meta Meta
}

// PutOptions carries optional metadata and an MD5 integrity check for Put.
type PutOptions struct {
	ContentType string
	CustomMeta  map[string]string
	// MD5 is the expected MD5 of the bytes, base64 or hex depending on backend;
	// a mismatch is reported as errs.ErrInvalid.
	MD5 string
}

// PutResult is returned by a successful Put.
type PutResult struct {
	ETag string
	Size int64
}

// ListOptions controls List's pagination and key filtering.
type ListOptions struct {
	Prefix string
	Limit  int
	Cursor string
}

// ListResult is one page of List results; lexically ordered by key.
type ListResult struct {
	Objects   []ListEntry
	Cursor    string
	Truncated bool
}

// ListEntry is one key returned by List.
type ListEntry struct {
	Key  string
	Meta Meta
}

// Storage is the capability every backend implements. Keys are opaque,
// UTF-8, and at most MaxKeyLen bytes. All methods return a wrapped error
// from pkg/errs's taxonomy; callers should use errors.Is against those
// sentinels rather than comparing backend-specific error values.
type Storage interface {
	// Put writes bytes at key, atomically replacing any prior value.
	Put(ctx context.Context, key string, data []byte, opts PutOptions) (PutResult, error)

	// PutStream writes a fully-consumed stream at key.
	PutStream(ctx context.Context, key string, r io.Reader, opts PutOptions) (PutResult, error)

	// Get returns a fresh independent copy of the object, or (nil, false) if absent.
	Get(ctx context.Context, key string) (*Object, bool, error)

	// GetStream returns a reader and metadata for large blobs, or (nil, nil, false) if absent.
	GetStream(ctx context.Context, key string) (io.ReadCloser, *Meta, bool, error)

	// GetRange returns the inclusive byte range [start, end] of key. end < 0 means
	// open-ended (to the end of the object). Meta.Size is always the full object
	// size, not the slice length. start beyond the object's size returns an empty
	// payload, not an error.
	GetRange(ctx context.Context, key string, start, end int64) (*Object, bool, error)

	// Head returns metadata without transferring the body.
	Head(ctx context.Context, key string) (*Meta, bool, error)

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteMany removes every key in keys, best-effort per key.
	DeleteMany(ctx context.Context, keys []string) error

	// List enumerates keys in lexical order under opts.Prefix.
	List(ctx context.Context, opts ListOptions) (ListResult, error)

	// Copy duplicates src to dst. Returns errs.ErrNotFound if src is absent.
	Copy(ctx context.Context, src, dst string) (PutResult, error)
}
