package catalog

import (
	"context"
	"fmt"
	"time"
)

// UpsertDirtyPage records a write-page in the dirty_pages table. The
// extentstore engine does not read these rows back after a restart, so a
// page still unflushed at a crash is not re-packed. Primary key (file_id, page_num)
// means a second write overwrites the first, per spec §3.
func (c *Catalog) UpsertDirtyPage(ctx context.Context, fileID string, pageNum int64, data []byte) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO dirty_pages (file_id, page_num, data, modified_at)
		VALUES (?, ?, ?, ?)`, fileID, pageNum, data, unixMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("catalog: upsert dirty page %s/%d: %w", fileID, pageNum, classify(err))
	}
	return nil
}

// ListDirtyPages returns every buffered page of fileID, page_num -> payload.
func (c *Catalog) ListDirtyPages(ctx context.Context, fileID string) (map[int64][]byte, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT page_num, data FROM dirty_pages WHERE file_id = ? ORDER BY page_num ASC`, fileID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list dirty pages %s: %w", fileID, classify(err))
	}
	defer rows.Close()
	out := make(map[int64][]byte)
	for rows.Next() {
		var pageNum int64
		var data []byte
		if err := rows.Scan(&pageNum, &data); err != nil {
			return nil, fmt.Errorf("catalog: scan dirty page: %w", classify(err))
		}
		out[pageNum] = data
	}
	return out, rows.Err()
}

// ListDirtyFiles returns the distinct file ids with at least one dirty page.
func (c *Catalog) ListDirtyFiles(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT DISTINCT file_id FROM dirty_pages ORDER BY file_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list dirty files: %w", classify(err))
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("catalog: scan dirty file id: %w", classify(err))
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// CountDirtyPages returns the number of buffered pages for fileID.
func (c *Catalog) CountDirtyPages(ctx context.Context, fileID string) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dirty_pages WHERE file_id = ?`, fileID).Scan(&n); err != nil {
		return 0, fmt.Errorf("catalog: count dirty pages %s: %w", fileID, classify(err))
	}
	return n, nil
}

// CountAllDirtyPages returns the number of buffered pages across every file.
func (c *Catalog) CountAllDirtyPages(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dirty_pages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("catalog: count all dirty pages: %w", classify(err))
	}
	return n, nil
}

// DeleteDirtyPages removes specific pages of fileID once they are sealed
// into an extent.
func (c *Catalog) DeleteDirtyPages(ctx context.Context, fileID string, pageNums []int64) error {
	if len(pageNums) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin delete dirty pages: %w", classify(err))
	}
	stmt, err := tx.PrepareContext(ctx, `DELETE FROM dirty_pages WHERE file_id = ? AND page_num = ?`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("catalog: prepare delete dirty pages: %w", classify(err))
	}
	defer stmt.Close()
	for _, pn := range pageNums {
		if _, err := stmt.ExecContext(ctx, fileID, pn); err != nil {
			tx.Rollback()
			return fmt.Errorf("catalog: delete dirty page %s/%d: %w", fileID, pn, classify(err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: commit delete dirty pages: %w", classify(err))
	}
	return nil
}

// DeleteDirtyPagesFrom drops every dirty page of fileID with page_num >= from
// (truncation past the boundary).
func (c *Catalog) DeleteDirtyPagesFrom(ctx context.Context, fileID string, from int64) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM dirty_pages WHERE file_id = ? AND page_num >= ?`, fileID, from)
	if err != nil {
		return fmt.Errorf("catalog: delete dirty pages from %s/%d: %w", fileID, from, classify(err))
	}
	return nil
}

// DeleteDirtyPagesForFile drops every dirty page of fileID.
func (c *Catalog) DeleteDirtyPagesForFile(ctx context.Context, fileID string) error {
	return c.DeleteDirtyPagesFrom(ctx, fileID, 0)
}
