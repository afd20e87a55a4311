// ABOUTME: Reconcile — standalone GC sweep for orphaned extent blobs
// ABOUTME: Never invoked by core operations; spec.md treats GC as external (§7)

package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/fsxdb/fsx/pkg/blob"
)

// Reconcile lists every key under extentPrefix in backend and deletes any
// that has no corresponding row in the extents table. It is a maintenance
// entry point, not part of the read/write/flush path: a flush puts the blob
// before it upserts the catalog row, so an orphan arises when a re-flush of
// the same extent index replaces the row and leaves the old blob behind, on
// a crash between the blob Put and the row upsert, or from external tooling
// poking at the bucket directly.
func Reconcile(ctx context.Context, c *Catalog, backend blob.Storage, extentPrefix string) (int, error) {
	known, err := c.allExtentIDs(ctx)
	if err != nil {
		return 0, err
	}

	var orphans []string
	cursor := ""
	for {
		page, err := backend.List(ctx, blob.ListOptions{Prefix: extentPrefix, Cursor: cursor, Limit: 1000})
		if err != nil {
			return 0, fmt.Errorf("catalog: reconcile list: %w", err)
		}
		for _, entry := range page.Objects {
			id := strings.TrimPrefix(entry.Key, extentPrefix)
			if !known[id] {
				orphans = append(orphans, entry.Key)
			}
		}
		if !page.Truncated || page.Cursor == "" {
			break
		}
		cursor = page.Cursor
	}

	if len(orphans) == 0 {
		return 0, nil
	}
	if err := backend.DeleteMany(ctx, orphans); err != nil {
		return 0, fmt.Errorf("catalog: reconcile delete orphans: %w", err)
	}
	return len(orphans), nil
}

func (c *Catalog) allExtentIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT extent_id FROM extents`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list all extent ids: %w", classify(err))
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("catalog: scan extent id: %w", classify(err))
		}
		out[id] = true
	}
	return out, rows.Err()
}
