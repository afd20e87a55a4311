package extentstore

import "context"

// Stats returns a point-in-time snapshot of the engine's state, and mirrors
// it into Prometheus gauges when metrics are configured (spec §12).
func (e *ExtentStorage) Stats(ctx context.Context) (Stats, error) {
	if err := e.requireInit(); err != nil {
		return Stats{}, err
	}
	files, err := e.cfg.Catalog.ListFiles(ctx)
	if err != nil {
		return Stats{}, err
	}
	extentCount, err := e.cfg.Catalog.CountExtents(ctx)
	if err != nil {
		return Stats{}, err
	}
	dirtyCount, err := e.cfg.Catalog.CountAllDirtyPages(ctx)
	if err != nil {
		return Stats{}, err
	}
	storedBytes, err := e.cfg.Catalog.SumStoredBytes(ctx)
	if err != nil {
		return Stats{}, err
	}

	e.mu.Lock()
	hits, miss := e.cacheHits, e.cacheMiss
	inMemoryDirty := 0
	for _, pages := range e.dirty {
		inMemoryDirty += len(pages)
	}
	e.mu.Unlock()

	hitRate := 0.0
	if total := hits + miss; total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	// Dirty pages held only in memory (WritePageSync, not yet mirrored) are
	// not in the catalog's count; report whichever is larger so a caller
	// never under-counts pending work.
	dirty := dirtyCount
	if inMemoryDirty > dirty {
		dirty = inMemoryDirty
	}

	stats := Stats{
		Files:        len(files),
		Extents:      extentCount,
		DirtyPages:   dirty,
		StoredBytes:  storedBytes,
		CacheSize:    e.cache.Len(),
		CacheHitRate: hitRate,
	}

	if e.cfg.Metrics != nil {
		e.cfg.Metrics.DirtyPagesTotal.Set(float64(stats.DirtyPages))
		e.cfg.Metrics.ExtentCacheSize.Set(float64(stats.CacheSize))
	}

	return stats, nil
}
