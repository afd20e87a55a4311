// ABOUTME: Catalog helpers for BranchManager's tables — branches, commits,
// ABOUTME: branch-scoped page presence and per-branch file records

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// BranchRecord mirrors one row of the branches table.
type BranchRecord struct {
	ID             string
	Name           string
	ParentBranchID *string
	BaseCommitID   *string
	HeadCommitID   *string
	CreatedAt      time.Time
}

// InsertBranch creates a branch row. name must be unique; a collision fails
// the sqlite UNIQUE constraint, which the classify wrapper reports as
// errs.ErrIO, not errs.ErrExists — callers that need EEXIST pre-check with
// GetBranchByName.
func (c *Catalog) InsertBranch(ctx context.Context, rec BranchRecord) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO branches (id, name, parent_branch_id, base_commit_id, head_commit_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Name, rec.ParentBranchID, rec.BaseCommitID, rec.HeadCommitID, unixMillis(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("catalog: insert branch %s: %w", rec.Name, classify(err))
	}
	return nil
}

func scanBranch(row *sql.Row) (*BranchRecord, bool, error) {
	var rec BranchRecord
	var created int64
	err := row.Scan(&rec.ID, &rec.Name, &rec.ParentBranchID, &rec.BaseCommitID, &rec.HeadCommitID, &created)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("catalog: scan branch: %w", classify(err))
	}
	rec.CreatedAt = fromMillis(created)
	return &rec, true, nil
}

// GetBranchByName looks up a branch by its unique name.
func (c *Catalog) GetBranchByName(ctx context.Context, name string) (*BranchRecord, bool, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, name, parent_branch_id, base_commit_id, head_commit_id, created_at
		FROM branches WHERE name = ?`, name)
	return scanBranch(row)
}

// GetBranchByID looks up a branch by its id.
func (c *Catalog) GetBranchByID(ctx context.Context, id string) (*BranchRecord, bool, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, name, parent_branch_id, base_commit_id, head_commit_id, created_at
		FROM branches WHERE id = ?`, id)
	return scanBranch(row)
}

// ListBranches returns every branch, ordered by creation time.
func (c *Catalog) ListBranches(ctx context.Context) ([]BranchRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, parent_branch_id, base_commit_id, head_commit_id, created_at
		FROM branches ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list branches: %w", classify(err))
	}
	defer rows.Close()
	var out []BranchRecord
	for rows.Next() {
		var rec BranchRecord
		var created int64
		if err := rows.Scan(&rec.ID, &rec.Name, &rec.ParentBranchID, &rec.BaseCommitID, &rec.HeadCommitID, &created); err != nil {
			return nil, fmt.Errorf("catalog: scan branch row: %w", classify(err))
		}
		rec.CreatedAt = fromMillis(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// SetBranchHead updates a branch's head_commit_id after a commit.
func (c *Catalog) SetBranchHead(ctx context.Context, branchID, commitID string) error {
	_, err := c.db.ExecContext(ctx, `UPDATE branches SET head_commit_id = ? WHERE id = ?`, commitID, branchID)
	if err != nil {
		return fmt.Errorf("catalog: set branch head %s: %w", branchID, classify(err))
	}
	return nil
}

// DeleteBranch removes a branch row. Caller must already have removed its
// scoped data (branch_files, branch_pages, extents, dirty_pages, commits).
func (c *Catalog) DeleteBranch(ctx context.Context, branchID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM branches WHERE id = ?`, branchID)
	if err != nil {
		return fmt.Errorf("catalog: delete branch %s: %w", branchID, classify(err))
	}
	return nil
}

// CommitRecord mirrors one row of the commits table.
type CommitRecord struct {
	ID             string
	BranchID       string
	Message        string
	Timestamp      time.Time
	ParentCommitID *string
	SnapshotJSON   string
}

// InsertCommit records an immutable commit.
func (c *Catalog) InsertCommit(ctx context.Context, rec CommitRecord) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO commits (id, branch_id, message, timestamp, parent_commit_id, snapshot_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.BranchID, rec.Message, unixMillis(rec.Timestamp), rec.ParentCommitID, rec.SnapshotJSON)
	if err != nil {
		return fmt.Errorf("catalog: insert commit %s: %w", rec.ID, classify(err))
	}
	return nil
}

// GetCommit looks up one commit by id.
func (c *Catalog) GetCommit(ctx context.Context, id string) (*CommitRecord, bool, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT id, branch_id, message, timestamp, parent_commit_id, snapshot_json
		FROM commits WHERE id = ?`, id)
	var rec CommitRecord
	var ts int64
	err := row.Scan(&rec.ID, &rec.BranchID, &rec.Message, &ts, &rec.ParentCommitID, &rec.SnapshotJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("catalog: get commit %s: %w", id, classify(err))
	}
	rec.Timestamp = fromMillis(ts)
	return &rec, true, nil
}

// ListCommits returns a branch's commits newest-first.
func (c *Catalog) ListCommits(ctx context.Context, branchID string) ([]CommitRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, branch_id, message, timestamp, parent_commit_id, snapshot_json
		FROM commits WHERE branch_id = ? ORDER BY timestamp DESC`, branchID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list commits %s: %w", branchID, classify(err))
	}
	defer rows.Close()
	var out []CommitRecord
	for rows.Next() {
		var rec CommitRecord
		var ts int64
		if err := rows.Scan(&rec.ID, &rec.BranchID, &rec.Message, &ts, &rec.ParentCommitID, &rec.SnapshotJSON); err != nil {
			return nil, fmt.Errorf("catalog: scan commit row: %w", classify(err))
		}
		rec.Timestamp = fromMillis(ts)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteCommitsForBranch removes every commit of a deleted branch.
func (c *Catalog) DeleteCommitsForBranch(ctx context.Context, branchID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM commits WHERE branch_id = ?`, branchID)
	if err != nil {
		return fmt.Errorf("catalog: delete commits %s: %w", branchID, classify(err))
	}
	return nil
}

// BranchFileRecord mirrors one row of the branch_files table.
type BranchFileRecord struct {
	BranchID   string
	FileID     string
	Size       int64
	Deleted    bool
	ModifiedAt time.Time
}

// UpsertBranchFile records a branch-scoped file's size and liveness.
func (c *Catalog) UpsertBranchFile(ctx context.Context, branchID, fileID string, size int64, deleted bool) error {
	del := 0
	if deleted {
		del = 1
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO branch_files (branch_id, file_id, size, deleted, modified_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(branch_id, file_id) DO UPDATE SET size = excluded.size, deleted = excluded.deleted, modified_at = excluded.modified_at`,
		branchID, fileID, size, del, unixMillis(time.Now()))
	if err != nil {
		return fmt.Errorf("catalog: upsert branch file %s/%s: %w", branchID, fileID, classify(err))
	}
	return nil
}

// GetBranchFile returns the branch-scoped record for (branchID, fileID).
func (c *Catalog) GetBranchFile(ctx context.Context, branchID, fileID string) (*BranchFileRecord, bool, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT branch_id, file_id, size, deleted, modified_at
		FROM branch_files WHERE branch_id = ? AND file_id = ?`, branchID, fileID)
	var rec BranchFileRecord
	var deleted int
	var modified int64
	err := row.Scan(&rec.BranchID, &rec.FileID, &rec.Size, &deleted, &modified)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("catalog: get branch file %s/%s: %w", branchID, fileID, classify(err))
	}
	rec.Deleted = deleted != 0
	rec.ModifiedAt = fromMillis(modified)
	return &rec, true, nil
}

// ListBranchFiles returns every branch_files row for branchID, including
// tombstoned ones — callers filter by Deleted as needed.
func (c *Catalog) ListBranchFiles(ctx context.Context, branchID string) ([]BranchFileRecord, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT branch_id, file_id, size, deleted, modified_at
		FROM branch_files WHERE branch_id = ? ORDER BY file_id ASC`, branchID)
	if err != nil {
		return nil, fmt.Errorf("catalog: list branch files %s: %w", branchID, classify(err))
	}
	defer rows.Close()
	var out []BranchFileRecord
	for rows.Next() {
		var rec BranchFileRecord
		var deleted int
		var modified int64
		if err := rows.Scan(&rec.BranchID, &rec.FileID, &rec.Size, &deleted, &modified); err != nil {
			return nil, fmt.Errorf("catalog: scan branch file row: %w", classify(err))
		}
		rec.Deleted = deleted != 0
		rec.ModifiedAt = fromMillis(modified)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteBranchFiles removes every branch_files row scoped to branchID.
func (c *Catalog) DeleteBranchFiles(ctx context.Context, branchID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM branch_files WHERE branch_id = ?`, branchID)
	if err != nil {
		return fmt.Errorf("catalog: delete branch files %s: %w", branchID, classify(err))
	}
	return nil
}

// MarkBranchPage records that (fileID, pageNum) was written in branchID.
func (c *Catalog) MarkBranchPage(ctx context.Context, branchID, fileID string, pageNum int64) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO branch_pages (branch_id, file_id, page_num) VALUES (?, ?, ?)`,
		branchID, fileID, pageNum)
	if err != nil {
		return fmt.Errorf("catalog: mark branch page %s/%s/%d: %w", branchID, fileID, pageNum, classify(err))
	}
	return nil
}

// HasBranchPage reports whether (fileID, pageNum) has a presence marker in branchID.
func (c *Catalog) HasBranchPage(ctx context.Context, branchID, fileID string, pageNum int64) (bool, error) {
	var one int
	err := c.db.QueryRowContext(ctx, `
		SELECT 1 FROM branch_pages WHERE branch_id = ? AND file_id = ? AND page_num = ?`,
		branchID, fileID, pageNum).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("catalog: has branch page %s/%s/%d: %w", branchID, fileID, pageNum, classify(err))
	}
	return true, nil
}

// DeleteBranchPages removes every branch_pages row scoped to branchID.
func (c *Catalog) DeleteBranchPages(ctx context.Context, branchID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM branch_pages WHERE branch_id = ?`, branchID)
	if err != nil {
		return fmt.Errorf("catalog: delete branch pages %s: %w", branchID, classify(err))
	}
	return nil
}

// DeleteBranchPagesForFile removes branch_pages rows for one file within a branch.
func (c *Catalog) DeleteBranchPagesForFile(ctx context.Context, branchID, fileID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM branch_pages WHERE branch_id = ? AND file_id = ?`, branchID, fileID)
	if err != nil {
		return fmt.Errorf("catalog: delete branch pages for file %s/%s: %w", branchID, fileID, classify(err))
	}
	return nil
}
