package extentstore

import (
	"context"
	"fmt"

	"github.com/fsxdb/fsx/pkg/errs"
	"github.com/fsxdb/fsx/pkg/extent"
)

// ReadPage resolves a page: dirty buffer first, then the extent cache, then
// the backend (spec §4.3.2). It returns (nil, false, nil) when the file is
// unknown, the page lies at or beyond the file's current size, no extent
// covers the page, or the page's bitmap bit is clear.
func (e *ExtentStorage) ReadPage(ctx context.Context, fileID string, pageNum int64) ([]byte, bool, error) {
	if err := e.requireInit(); err != nil {
		return nil, false, err
	}

	fileRec, ok, err := e.cfg.Catalog.GetFile(ctx, fileID)
	if err != nil {
		return nil, false, err
	}
	if !ok || pageNum >= pageBoundary(fileRec.FileSize, e.cfg.PageSize) {
		return nil, false, nil
	}

	if payload, ok := e.dirtyLookup(fileID, pageNum); ok {
		return payload, true, nil
	}

	rec, ok, err := e.cfg.Catalog.FindExtentForPage(ctx, fileID, pageNum)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	data, _, err := e.fetchExtentBytes(ctx, rec.ExtentID)
	if err != nil {
		return nil, false, err
	}
	e.indexRange(fileID, extentRange{startPage: rec.StartPage, pageCount: rec.PageCount, extentID: rec.ExtentID})

	inner := uint32(pageNum - rec.StartPage)
	payload, present, err := extent.ExtractPage(data, inner, e.cfg.PageSize)
	if err != nil {
		return nil, false, err
	}
	if !present {
		return nil, false, nil
	}
	return payload, true, nil
}

// ReadPageSync serves strictly from memory: the dirty buffer and the extent
// cache. It never calls the catalog or the blob backend, so it never
// suspends — suitable for callers that cannot await (spec §4.3.2, §5). It
// locates a covering cached extent via the in-memory range index populated
// as a side effect of ReadPage/Flush loading extents; a page whose extent
// hasn't been loaded into the cache yet returns (nil, false) even if it
// exists on the backend.
func (e *ExtentStorage) ReadPageSync(fileID string, pageNum int64) ([]byte, bool) {
	if payload, ok := e.dirtyLookup(fileID, pageNum); ok {
		return payload, true
	}

	e.mu.Lock()
	var extentID string
	var startPage int64
	found := false
	for _, r := range e.ranges[fileID] {
		if pageNum >= r.startPage && pageNum < r.startPage+int64(r.pageCount) {
			extentID, startPage, found = r.extentID, r.startPage, true
			break
		}
	}
	e.mu.Unlock()
	if !found {
		return nil, false
	}

	cached, ok := e.cache.Get(extentID)
	if !ok {
		return nil, false
	}
	inner := uint32(pageNum - startPage)
	if !extent.IsBitSet(cached.parsed.Bitmap, int(inner)) {
		return nil, false
	}
	data := rebuild(cached.parsed)
	payload, present, err := extent.ExtractPage(data, inner, e.cfg.PageSize)
	if err != nil || !present {
		return nil, false
	}
	return payload, true
}

func (e *ExtentStorage) dirtyLookup(fileID string, pageNum int64) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	pages, ok := e.dirty[fileID]
	if !ok {
		return nil, false
	}
	payload, ok := pages[pageNum]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), payload...), true
}

// fetchExtentBytes serves an extent's raw bytes from the cache, or loads
// and caches it from the backend on a miss.
func (e *ExtentStorage) fetchExtentBytes(ctx context.Context, extentID string) ([]byte, extent.Parsed, error) {
	if cached, ok := e.cache.Get(extentID); ok {
		e.mu.Lock()
		e.cacheHits++
		e.mu.Unlock()
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.ExtentCacheHitsTotal.Inc()
		}
		return rebuild(cached.parsed), cached.parsed, nil
	}

	e.mu.Lock()
	e.cacheMiss++
	e.mu.Unlock()
	if e.cfg.Metrics != nil {
		e.cfg.Metrics.ExtentCacheMissTotal.Inc()
	}

	parsed, err := e.loadExtent(ctx, extentID)
	if err != nil {
		return nil, extent.Parsed{}, err
	}
	return rebuild(parsed), parsed, nil
}

// loadExtent fetches extentID from the backend, validates its checksum, and
// caches the parsed form.
func (e *ExtentStorage) loadExtent(ctx context.Context, extentID string) (extent.Parsed, error) {
	obj, ok, err := e.cfg.Backend.Get(ctx, e.extentKey(extentID))
	if err != nil {
		return extent.Parsed{}, err
	}
	if !ok {
		return extent.Parsed{}, fmt.Errorf("extentstore: extent %s missing from backend: %w", extentID, errs.ErrNotFound)
	}
	if !extent.Validate(obj.Data) {
		if e.cfg.Metrics != nil {
			e.cfg.Metrics.ExtentChecksumErrors.Inc()
		}
		return extent.Parsed{}, fmt.Errorf("extentstore: extent %s failed checksum: %w", extentID, errs.ErrChecksum)
	}
	parsed, err := extent.Parse(obj.Data)
	if err != nil {
		return extent.Parsed{}, err
	}
	e.cache.Add(extentID, cachedExtent{parsed: parsed})
	return parsed, nil
}

// rebuild re-serializes a parsed extent back to its header bytes so callers
// can reuse extent.ExtractPage's single entry point; cheap relative to a
// backend fetch and keeps one bitmap/offset implementation.
func rebuild(p extent.Parsed) []byte {
	pages := make(map[uint32][]byte)
	for i := uint32(0); i < p.Header.PageCount; i++ {
		if extent.IsBitSet(p.Bitmap, int(i)) {
			off := 0
			for j := uint32(0); j < i; j++ {
				if extent.IsBitSet(p.Bitmap, int(j)) {
					off += int(p.Header.PageSize)
				}
			}
			pages[i] = p.PageData[off : off+int(p.Header.PageSize)]
		}
	}
	built, err := extent.Build(pages, p.Header.PageSize, extent.BuildOptions{Compress: p.IsCompressed})
	if err != nil {
		// Re-encoding a just-parsed extent cannot fail: same pages, same
		// page size, valid by construction.
		panic(fmt.Sprintf("extentstore: rebuild failed: %v", err))
	}
	return built
}

// pageBoundary returns the first page index that lies at or beyond fileSize
// bytes — the gate ReadPage and Truncate both use to keep post-truncation
// pages from leaking back out (spec §4.3.2, §9).
func pageBoundary(fileSize int64, pageSize uint16) int64 {
	return (fileSize + int64(pageSize) - 1) / int64(pageSize)
}

// DeleteFile removes a file's dirty pages, its extents (from both the
// backend and the catalog), and its file row.
func (e *ExtentStorage) DeleteFile(ctx context.Context, fileID string) error {
	if err := e.requireInit(); err != nil {
		return err
	}
	recs, err := e.cfg.Catalog.DeleteExtentsForFile(ctx, fileID)
	if err != nil {
		return err
	}
	keys := make([]string, len(recs))
	for i, rec := range recs {
		keys[i] = e.extentKey(rec.ExtentID)
	}
	if len(keys) > 0 {
		if err := e.cfg.Backend.DeleteMany(ctx, keys); err != nil {
			return err
		}
	}
	if err := e.cfg.Catalog.DeleteDirtyPagesForFile(ctx, fileID); err != nil {
		return err
	}
	if err := e.cfg.Catalog.DeleteFile(ctx, fileID); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.dirty, fileID)
	delete(e.synced, fileID)
	delete(e.ranges, fileID)
	e.mu.Unlock()
	return nil
}

// Truncate shrinks or grows fileID to newSize. Growing only raises
// file_size. Shrinking drops dirty pages and whole extents past the new
// boundary; an extent straddling the boundary is kept as-is and relies on
// file_size to gate visibility of its tail pages (spec §4.3.2, §9).
func (e *ExtentStorage) Truncate(ctx context.Context, fileID string, newSize int64) error {
	if err := e.requireInit(); err != nil {
		return err
	}
	if newSize < 0 {
		return fmt.Errorf("extentstore: negative truncate size: %w", errs.ErrInvalid)
	}

	rec, ok, err := e.cfg.Catalog.GetFile(ctx, fileID)
	if err != nil {
		return err
	}
	currentSize := int64(0)
	if ok {
		currentSize = rec.FileSize
	}

	if newSize >= currentSize {
		if _, err := e.cfg.Catalog.EnsureFile(ctx, fileID, e.cfg.PageSize); err != nil {
			return err
		}
		return e.cfg.Catalog.SetFileSize(ctx, fileID, newSize)
	}

	boundaryPage := pageBoundary(newSize, e.cfg.PageSize)
	boundaryExtentIdx := boundaryPage / int64(e.pagesPerExtent)
	// Only extents entirely at or past the boundary are dropped; the extent
	// at boundaryExtentIdx is dropped only when it starts exactly at the
	// boundary page, and kept when it starts before it (it still holds live
	// pages before the boundary).
	dropFrom := boundaryExtentIdx
	if boundaryExtentIdx*int64(e.pagesPerExtent) < boundaryPage {
		dropFrom = boundaryExtentIdx + 1
	}

	recs, err := e.cfg.Catalog.DeleteExtentsFromIndex(ctx, fileID, dropFrom)
	if err != nil {
		return err
	}
	keys := make([]string, len(recs))
	dropped := make(map[string]bool, len(recs))
	for i, r := range recs {
		keys[i] = e.extentKey(r.ExtentID)
		dropped[r.ExtentID] = true
	}
	if len(keys) > 0 {
		if err := e.cfg.Backend.DeleteMany(ctx, keys); err != nil {
			return err
		}
	}

	e.mu.Lock()
	kept := e.ranges[fileID][:0]
	for _, r := range e.ranges[fileID] {
		if !dropped[r.extentID] {
			kept = append(kept, r)
		}
	}
	e.ranges[fileID] = kept
	e.mu.Unlock()

	if err := e.cfg.Catalog.DeleteDirtyPagesFrom(ctx, fileID, boundaryPage); err != nil {
		return err
	}
	e.mu.Lock()
	for pn := range e.dirty[fileID] {
		if pn >= boundaryPage {
			delete(e.dirty[fileID], pn)
			delete(e.synced[fileID], pn)
		}
	}
	e.mu.Unlock()

	return e.cfg.Catalog.SetFileSize(ctx, fileID, newSize)
}
