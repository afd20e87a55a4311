package extentstore

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/fsxdb/fsx/pkg/errs"
)

// ExtentStorage buffers page writes, packs them into immutable extents on
// flush, and resolves reads from the dirty buffer, the extent cache, or the
// blob backend in that order. One instance owns one (backend-prefix,
// catalog) pair; BranchManager gives each branch its own instance.
type ExtentStorage struct {
	cfg            Config
	pagesPerExtent int

	mu     sync.Mutex
	dirty  map[string]map[int64][]byte // file_id -> page_num -> payload, authoritative in-memory buffer
	synced map[string]map[int64]bool   // file_id -> page_num -> mirrored to catalog.dirty_pages
	ranges map[string][]extentRange   // file_id -> cached extents' page ranges, for ReadPageSync

	cache     *lru.Cache[string, cachedExtent]
	cacheHits int64
	cacheMiss int64

	initialized bool
}

// New constructs an ExtentStorage from cfg, filling in documented defaults.
// Init must be called before any other method.
func New(cfg Config) (*ExtentStorage, error) {
	if err := cfg.setDefaults(); err != nil {
		return nil, err
	}
	cache, err := newCache(cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("extentstore: new cache: %w", err)
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = cfg.pagesPerExtent()
	}
	return &ExtentStorage{
		cfg:            cfg,
		pagesPerExtent: cfg.pagesPerExtent(),
		dirty:          make(map[string]map[int64][]byte),
		synced:         make(map[string]map[int64]bool),
		ranges:         make(map[string][]extentRange),
		cache:          cache,
	}, nil
}

// extentRange indexes one cached extent's page coverage within a file, so
// ReadPageSync can locate it without consulting the catalog.
type extentRange struct {
	startPage int64
	pageCount uint32
	extentID  string
}

// indexRange records that r.extentID now covers the page span starting at
// r.startPage. A re-flush packs the same span into a new, differently
// content-addressed extent, so the match is on startPage, not extentID:
// keying on extentID would leave the superseded entry in place alongside
// the new one, and ReadPageSync's first-match scan would keep returning
// the stale extent's bytes.
func (e *ExtentStorage) indexRange(fileID string, r extentRange) {
	e.mu.Lock()
	defer e.mu.Unlock()
	ranges := e.ranges[fileID]
	for i, existing := range ranges {
		if existing.startPage == r.startPage {
			ranges[i] = r
			return
		}
	}
	e.ranges[fileID] = append(ranges, r)
}

// Init creates the shared catalog schema (idempotent; safe to call once per
// branch sharing one catalog.Catalog).
func (e *ExtentStorage) Init(ctx context.Context) error {
	if err := e.cfg.Catalog.Init(ctx); err != nil {
		return err
	}
	e.mu.Lock()
	e.initialized = true
	e.mu.Unlock()
	return nil
}

func (e *ExtentStorage) requireInit() error {
	e.mu.Lock()
	ok := e.initialized
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("extentstore: use before Init: %w", errs.ErrNotInitialized)
	}
	return nil
}

func (e *ExtentStorage) extentKey(extentID string) string {
	return e.cfg.ExtentPrefix + extentID
}

// WritePage buffers a page write and mirrors it to the catalog's
// dirty_pages table. Init does not reload those rows, so a page that is
// not yet flushed is not restored after a restart. If
// auto_flush is enabled and the file's dirty count reaches FlushThreshold,
// it triggers a flush of that file.
func (e *ExtentStorage) WritePage(ctx context.Context, fileID string, pageNum int64, payload []byte) error {
	if err := e.requireInit(); err != nil {
		return err
	}
	if len(payload) != int(e.cfg.PageSize) {
		return fmt.Errorf("extentstore: payload length %d, want %d: %w", len(payload), e.cfg.PageSize, errs.ErrInvalid)
	}
	if pageNum < 0 {
		return fmt.Errorf("extentstore: negative page number: %w", errs.ErrInvalid)
	}

	if _, err := e.cfg.Catalog.EnsureFile(ctx, fileID, e.cfg.PageSize); err != nil {
		return err
	}
	if err := e.cfg.Catalog.GrowFileSize(ctx, fileID, (pageNum+1)*int64(e.cfg.PageSize)); err != nil {
		return err
	}
	if err := e.cfg.Catalog.UpsertDirtyPage(ctx, fileID, pageNum, payload); err != nil {
		return err
	}

	dirtyCount := e.bufferWrite(fileID, pageNum, payload, true)

	if e.cfg.AutoFlush && dirtyCount >= e.cfg.FlushThreshold {
		if err := e.FlushFile(ctx, fileID); err != nil {
			return err
		}
	}
	return nil
}

// WritePageSync buffers a page write in memory only — it never touches the
// catalog or blob backend, so it never suspends. Intended for callers that
// cannot await, e.g. a VFS page-fault handler (spec §5). The page reaches
// the catalog only when a flush of the file (explicit or auto_flush) runs
// syncPending, which also creates the file row and raises file_size.
func (e *ExtentStorage) WritePageSync(fileID string, pageNum int64, payload []byte) error {
	if err := e.requireInit(); err != nil {
		return err
	}
	if len(payload) != int(e.cfg.PageSize) {
		return fmt.Errorf("extentstore: payload length %d, want %d: %w", len(payload), e.cfg.PageSize, errs.ErrInvalid)
	}
	e.bufferWrite(fileID, pageNum, payload, false)
	return nil
}

// bufferWrite stores payload in the in-memory dirty map (the authoritative
// buffer) and records whether it is already mirrored to the catalog. It
// returns the file's current dirty page count.
func (e *ExtentStorage) bufferWrite(fileID string, pageNum int64, payload []byte, synced bool) int {
	cp := append([]byte(nil), payload...)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dirty[fileID] == nil {
		e.dirty[fileID] = make(map[int64][]byte)
		e.synced[fileID] = make(map[int64]bool)
	}
	e.dirty[fileID][pageNum] = cp
	e.synced[fileID][pageNum] = synced
	return len(e.dirty[fileID])
}

// syncPending mirrors any WritePageSync-only pages of fileID into the
// catalog's dirty_pages table, ensures the file row exists, and grows
// file_size to cover them, as WritePage does. Flush calls this first.
func (e *ExtentStorage) syncPending(ctx context.Context, fileID string) error {
	e.mu.Lock()
	var toSync []struct {
		pageNum int64
		payload []byte
	}
	for pn, payload := range e.dirty[fileID] {
		if !e.synced[fileID][pn] {
			toSync = append(toSync, struct {
				pageNum int64
				payload []byte
			}{pn, append([]byte(nil), payload...)})
		}
	}
	e.mu.Unlock()

	maxPage := int64(-1)
	for _, p := range toSync {
		if err := e.cfg.Catalog.UpsertDirtyPage(ctx, fileID, p.pageNum, p.payload); err != nil {
			return err
		}
		e.mu.Lock()
		e.synced[fileID][p.pageNum] = true
		e.mu.Unlock()
		if p.pageNum > maxPage {
			maxPage = p.pageNum
		}
	}
	if maxPage >= 0 {
		if _, err := e.cfg.Catalog.EnsureFile(ctx, fileID, e.cfg.PageSize); err != nil {
			return err
		}
		return e.cfg.Catalog.GrowFileSize(ctx, fileID, (maxPage+1)*int64(e.cfg.PageSize))
	}
	return nil
}

// dirtyCount returns the number of dirty pages held for fileID.
func (e *ExtentStorage) dirtyCount(fileID string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.dirty[fileID])
}

// ListFiles returns every known file id, lexically ordered.
func (e *ExtentStorage) ListFiles(ctx context.Context) ([]string, error) {
	if err := e.requireInit(); err != nil {
		return nil, err
	}
	return e.cfg.Catalog.ListFiles(ctx)
}

// GetFileSize returns a file's size, or 0 if unknown.
func (e *ExtentStorage) GetFileSize(ctx context.Context, fileID string) (int64, error) {
	if err := e.requireInit(); err != nil {
		return 0, err
	}
	rec, ok, err := e.cfg.Catalog.GetFile(ctx, fileID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return rec.FileSize, nil
}

// ClearCache drops every cached parsed extent. Eviction here never does I/O.
func (e *ExtentStorage) ClearCache() {
	e.cache.Purge()
	e.mu.Lock()
	e.ranges = make(map[string][]extentRange)
	e.mu.Unlock()
}

// PreloadExtents fetches every extent of fileID into the cache.
func (e *ExtentStorage) PreloadExtents(ctx context.Context, fileID string) error {
	if err := e.requireInit(); err != nil {
		return err
	}
	recs, err := e.cfg.Catalog.ListExtents(ctx, fileID)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if _, err := e.loadExtent(ctx, rec.ExtentID); err != nil {
			return err
		}
		e.indexRange(fileID, extentRange{startPage: rec.StartPage, pageCount: rec.PageCount, extentID: rec.ExtentID})
	}
	return nil
}
