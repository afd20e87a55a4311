// ABOUTME: In-memory BlobStorage backend — test/reference implementation
// ABOUTME: Guarantees read-after-write within one process, per the port's ordering rule

package blob

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsxdb/fsx/pkg/errs"
)

type memEntry struct {
	data []byte
	meta Meta
}

// Memory is an in-process BlobStorage backend backed by a map. It never
// drops data itself; it exists for tests and as the reference
// implementation the other backends are checked against.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memEntry
}

// NewMemory constructs an empty in-memory backend.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memEntry)}
}

var _ Storage = (*Memory)(nil)

func (m *Memory) Put(_ context.Context, key string, data []byte, opts PutOptions) (PutResult, error) {
	if len(key) == 0 || len(key) > MaxKeyLen {
		return PutResult{}, fmt.Errorf("blob: key length %d out of range: %w", len(key), errs.ErrInvalid)
	}
	sum := md5.Sum(data)
	etag := hex.EncodeToString(sum[:])
	if opts.MD5 != "" && !strings.EqualFold(opts.MD5, etag) {
		return PutResult{}, fmt.Errorf("blob: md5 mismatch: %w", errs.ErrInvalid)
	}

	cp := append([]byte(nil), data...)

	m.mu.Lock()
	m.objects[key] = memEntry{
		data: cp,
		meta: Meta{
			ETag:        etag,
			Size:        int64(len(cp)),
			ContentType: opts.ContentType,
			CustomMeta:  opts.CustomMeta,
			ModTime:     time.Now(),
		},
	}
	m.mu.Unlock()

	return PutResult{ETag: etag, Size: int64(len(cp))}, nil
}

func (m *Memory) PutStream(ctx context.Context, key string, r io.Reader, opts PutOptions) (PutResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return PutResult{}, fmt.Errorf("blob: read stream: %w", errs.ErrIO)
	}
	return m.Put(ctx, key, data, opts)
}

func (m *Memory) Get(_ context.Context, key string) (*Object, bool, error) {
	m.mu.RLock()
	e, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return &Object{Data: append([]byte(nil), e.data...), Meta: e.meta}, true, nil
}

func (m *Memory) GetStream(ctx context.Context, key string) (io.ReadCloser, *Meta, bool, error) {
	obj, ok, err := m.Get(ctx, key)
	if err != nil || !ok {
		return nil, nil, ok, err
	}
	return io.NopCloser(newByteReader(obj.Data)), &obj.Meta, true, nil
}

func (m *Memory) GetRange(_ context.Context, key string, start, end int64) (*Object, bool, error) {
	if end >= 0 && start > end {
		return nil, false, fmt.Errorf("blob: range start %d > end %d: %w", start, end, errs.ErrInvalid)
	}
	m.mu.RLock()
	e, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	full := e.meta
	size := int64(len(e.data))
	if start >= size {
		return &Object{Data: nil, Meta: full}, true, nil
	}
	stop := size
	if end >= 0 && end+1 < stop {
		stop = end + 1
	}
	return &Object{Data: append([]byte(nil), e.data[start:stop]...), Meta: full}, true, nil
}

func (m *Memory) Head(_ context.Context, key string) (*Meta, bool, error) {
	m.mu.RLock()
	e, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	meta := e.meta
	return &meta, true, nil
}

func (m *Memory) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := m.Head(ctx, key)
	return ok, err
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) DeleteMany(_ context.Context, keys []string) error {
	m.mu.Lock()
	for _, k := range keys {
		delete(m.objects, k)
	}
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(_ context.Context, opts ListOptions) (ListResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		if opts.Prefix != "" && !strings.HasPrefix(k, opts.Prefix) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	start := 0
	if opts.Cursor != "" {
		start = sort.SearchStrings(keys, opts.Cursor)
		if start < len(keys) && keys[start] == opts.Cursor {
			start++
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = len(keys)
	}

	result := ListResult{}
	end := start
	for end < len(keys) && len(result.Objects) < limit {
		k := keys[end]
		result.Objects = append(result.Objects, ListEntry{Key: k, Meta: m.objects[k].meta})
		end++
	}
	if end < len(keys) {
		result.Truncated = true
		result.Cursor = keys[end-1]
	}
	return result, nil
}

func (m *Memory) Copy(_ context.Context, src, dst string) (PutResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.objects[src]
	if !ok {
		return PutResult{}, fmt.Errorf("blob: copy source %q: %w", src, errs.ErrNotFound)
	}
	cp := append([]byte(nil), e.data...)
	meta := e.meta
	meta.ModTime = time.Now()
	m.objects[dst] = memEntry{data: cp, meta: meta}
	return PutResult{ETag: meta.ETag, Size: meta.Size}, nil
}

type byteReader struct {
	data []byte
	pos  int
}

func newByteReader(data []byte) *byteReader { return &byteReader{data: data} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.data) {
		return 0, io.EOF
	}
	n := copy(p, r.data[r.pos:])
	r.pos += n
	return n, nil
}
