package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// FileRecord mirrors one row of the files table.
type FileRecord struct {
	FileID      string
	PageSize    uint16
	FileSize    int64
	ExtentCount int
	CreatedAt   time.Time
	ModifiedAt  time.Time
}

// EnsureFile creates the file row if absent, leaving an existing row
// untouched. It reports whether a row was created.
func (c *Catalog) EnsureFile(ctx context.Context, fileID string, pageSize uint16) (bool, error) {
	now := unixMillis(time.Now())
	res, err := c.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO files (file_id, page_size, file_size, extent_count, created_at, modified_at)
		VALUES (?, ?, 0, 0, ?, ?)`, fileID, pageSize, now, now)
	if err != nil {
		return false, fmt.Errorf("catalog: ensure file %s: %w", fileID, classify(err))
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// GrowFileSize raises files.file_size to max(current, size) and bumps
// modified_at. Never shrinks — only Truncate sets an absolute size.
func (c *Catalog) GrowFileSize(ctx context.Context, fileID string, size int64) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE files SET file_size = MAX(file_size, ?), modified_at = ?
		WHERE file_id = ?`, size, unixMillis(time.Now()), fileID)
	if err != nil {
		return fmt.Errorf("catalog: grow file size %s: %w", fileID, classify(err))
	}
	return nil
}

// SetFileSize sets files.file_size to an absolute value (truncate).
func (c *Catalog) SetFileSize(ctx context.Context, fileID string, size int64) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE files SET file_size = ?, modified_at = ? WHERE file_id = ?`,
		size, unixMillis(time.Now()), fileID)
	if err != nil {
		return fmt.Errorf("catalog: set file size %s: %w", fileID, classify(err))
	}
	return nil
}

// SetExtentCount updates files.extent_count after a flush.
func (c *Catalog) SetExtentCount(ctx context.Context, fileID string, count int) error {
	_, err := c.db.ExecContext(ctx, `
		UPDATE files SET extent_count = ?, modified_at = ? WHERE file_id = ?`,
		count, unixMillis(time.Now()), fileID)
	if err != nil {
		return fmt.Errorf("catalog: set extent count %s: %w", fileID, classify(err))
	}
	return nil
}

// GetFile returns the file's row, or (nil, false) if unknown.
func (c *Catalog) GetFile(ctx context.Context, fileID string) (*FileRecord, bool, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT file_id, page_size, file_size, extent_count, created_at, modified_at
		FROM files WHERE file_id = ?`, fileID)
	var rec FileRecord
	var created, modified int64
	err := row.Scan(&rec.FileID, &rec.PageSize, &rec.FileSize, &rec.ExtentCount, &created, &modified)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("catalog: get file %s: %w", fileID, classify(err))
	}
	rec.CreatedAt = fromMillis(created)
	rec.ModifiedAt = fromMillis(modified)
	return &rec, true, nil
}

// ListFiles returns every known file id, lexically ordered.
func (c *Catalog) ListFiles(ctx context.Context) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT file_id FROM files ORDER BY file_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list files: %w", classify(err))
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("catalog: scan file id: %w", classify(err))
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeleteFile removes a file's row. Callers are responsible for clearing its
// extents and dirty pages first.
func (c *Catalog) DeleteFile(ctx context.Context, fileID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM files WHERE file_id = ?`, fileID)
	if err != nil {
		return fmt.Errorf("catalog: delete file %s: %w", fileID, classify(err))
	}
	return nil
}

// ExtentRecord mirrors one row of the extents table.
type ExtentRecord struct {
	ExtentID     string
	FileID       string
	ExtentIndex  int64
	StartPage    int64
	PageCount    uint32
	Compressed   bool
	OriginalSize int64
	StoredSize   int64
	Checksum     uint64
}

// UpsertExtent replaces whatever extent previously occupied
// (file_id, extent_index), per the flush algorithm's tie-break.
func (c *Catalog) UpsertExtent(ctx context.Context, rec ExtentRecord) error {
	compressed := 0
	if rec.Compressed {
		compressed = 1
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO extents
			(extent_id, file_id, extent_index, start_page, page_count, compressed, original_size, stored_size, checksum)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ExtentID, rec.FileID, rec.ExtentIndex, rec.StartPage, rec.PageCount,
		compressed, rec.OriginalSize, rec.StoredSize, int64(rec.Checksum))
	if err != nil {
		return fmt.Errorf("catalog: upsert extent %s: %w", rec.ExtentID, classify(err))
	}
	return nil
}

// GetExtentByIndex finds the extent row for (fileID, extentIndex), if any.
func (c *Catalog) GetExtentByIndex(ctx context.Context, fileID string, extentIndex int64) (*ExtentRecord, bool, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT extent_id, file_id, extent_index, start_page, page_count, compressed, original_size, stored_size, checksum
		FROM extents WHERE file_id = ? AND extent_index = ?`, fileID, extentIndex)
	return scanExtent(row)
}

// FindExtentForPage locates the extent whose range covers pageNum, per the
// read path's "start_page <= page_num < start_page + page_count" rule.
func (c *Catalog) FindExtentForPage(ctx context.Context, fileID string, pageNum int64) (*ExtentRecord, bool, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT extent_id, file_id, extent_index, start_page, page_count, compressed, original_size, stored_size, checksum
		FROM extents
		WHERE file_id = ? AND start_page <= ? AND start_page + page_count > ?
		ORDER BY start_page DESC LIMIT 1`, fileID, pageNum, pageNum)
	return scanExtent(row)
}

func scanExtent(row *sql.Row) (*ExtentRecord, bool, error) {
	var rec ExtentRecord
	var compressed int
	var checksum int64
	err := row.Scan(&rec.ExtentID, &rec.FileID, &rec.ExtentIndex, &rec.StartPage, &rec.PageCount,
		&compressed, &rec.OriginalSize, &rec.StoredSize, &checksum)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("catalog: scan extent: %w", classify(err))
	}
	rec.Compressed = compressed != 0
	rec.Checksum = uint64(checksum)
	return &rec, true, nil
}

// ListExtents returns every extent of fileID, ascending by start_page.
func (c *Catalog) ListExtents(ctx context.Context, fileID string) ([]ExtentRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT extent_id, file_id, extent_index, start_page, page_count, compressed, original_size, stored_size, checksum
		FROM extents WHERE file_id = ? ORDER BY start_page ASC`, fileID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list extents %s: %w", fileID, classify(err))
	}
	defer rows.Close()
	var out []ExtentRecord
	for rows.Next() {
		var rec ExtentRecord
		var compressed int
		var checksum int64
		if err := rows.Scan(&rec.ExtentID, &rec.FileID, &rec.ExtentIndex, &rec.StartPage, &rec.PageCount,
			&compressed, &rec.OriginalSize, &rec.StoredSize, &checksum); err != nil {
			return nil, fmt.Errorf("catalog: scan extent row: %w", classify(err))
		}
		rec.Compressed = compressed != 0
		rec.Checksum = uint64(checksum)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteExtentsFromIndex removes and returns every extent of fileID whose
// extent_index is >= fromIndex (truncation past the boundary).
func (c *Catalog) DeleteExtentsFromIndex(ctx context.Context, fileID string, fromIndex int64) ([]ExtentRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT extent_id, file_id, extent_index, start_page, page_count, compressed, original_size, stored_size, checksum
		FROM extents WHERE file_id = ? AND extent_index >= ?`, fileID, fromIndex)
	if err != nil {
		return nil, fmt.Errorf("catalog: select extents to drop %s: %w", fileID, classify(err))
	}
	var out []ExtentRecord
	for rows.Next() {
		var rec ExtentRecord
		var compressed int
		var checksum int64
		if err := rows.Scan(&rec.ExtentID, &rec.FileID, &rec.ExtentIndex, &rec.StartPage, &rec.PageCount,
			&compressed, &rec.OriginalSize, &rec.StoredSize, &checksum); err != nil {
			rows.Close()
			return nil, fmt.Errorf("catalog: scan extent to drop: %w", classify(err))
		}
		rec.Compressed = compressed != 0
		rec.Checksum = uint64(checksum)
		out = append(out, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := c.db.ExecContext(ctx, `DELETE FROM extents WHERE file_id = ? AND extent_index >= ?`, fileID, fromIndex); err != nil {
		return nil, fmt.Errorf("catalog: delete extents %s: %w", fileID, classify(err))
	}
	return out, nil
}

// DeleteExtentsForFile removes and returns every extent of fileID.
func (c *Catalog) DeleteExtentsForFile(ctx context.Context, fileID string) ([]ExtentRecord, error) {
	return c.DeleteExtentsFromIndex(ctx, fileID, 0)
}

// CountExtents returns the total number of extent rows (all files).
func (c *Catalog) CountExtents(ctx context.Context) (int64, error) {
	var n int64
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM extents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("catalog: count extents: %w", classify(err))
	}
	return n, nil
}

// SumStoredBytes returns SUM(stored_size) across every extent.
func (c *Catalog) SumStoredBytes(ctx context.Context) (int64, error) {
	var sum sql.NullInt64
	if err := c.db.QueryRowContext(ctx, `SELECT SUM(stored_size) FROM extents`).Scan(&sum); err != nil {
		return 0, fmt.Errorf("catalog: sum stored bytes: %w", classify(err))
	}
	return sum.Int64, nil
}
