// ABOUTME: SQL metadata catalog — files, extents, and the dirty-page buffer
// ABOUTME: Narrow adapter over database/sql per spec §6.3: Exec/Query plus typed helpers

package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fsxdb/fsx/pkg/errs"
)

// Catalog is the metadata store the ExtentStorage engine and BranchManager
// speak to. It wraps a single *sql.DB; callers never see driver-specific
// types past this package.
type Catalog struct {
	db *sql.DB
}

// Open opens a sqlite3-backed catalog at path. Use ":memory:" for an
// ephemeral, process-local catalog (handy for tests).
func Open(path string) (*Catalog, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	// sqlite3 serializes writers internally; a single connection avoids
	// "database is locked" errors under concurrent callers.
	db.SetMaxOpenConns(1)
	return &Catalog{db: db}, nil
}

// New wraps an already-open *sql.DB (e.g. a test fixture) as a Catalog.
func New(db *sql.DB) *Catalog {
	return &Catalog{db: db}
}

// Close closes the underlying database handle.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Exec runs a write statement through the narrow adapter spec §6.3 names:
// exec(sql, params) -> rows_affected/last_insert_id. Exposed for callers
// (tests, maintenance tooling) that want the raw SQL surface instead of the
// typed helpers below.
func (c *Catalog) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := c.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: exec: %w", classify(err))
	}
	return res, nil
}

// Query runs a read statement through the same narrow adapter.
func (c *Catalog) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("catalog: query: %w", classify(err))
	}
	return rows, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS files (
	file_id      TEXT PRIMARY KEY,
	page_size    INTEGER NOT NULL,
	file_size    INTEGER NOT NULL DEFAULT 0,
	extent_count INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL,
	modified_at  INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS extents (
	extent_id     TEXT PRIMARY KEY,
	file_id       TEXT NOT NULL,
	extent_index  INTEGER NOT NULL,
	start_page    INTEGER NOT NULL,
	page_count    INTEGER NOT NULL,
	compressed    INTEGER NOT NULL DEFAULT 0,
	original_size INTEGER NOT NULL,
	stored_size   INTEGER NOT NULL,
	checksum      INTEGER NOT NULL,
	UNIQUE(file_id, extent_index)
);
CREATE INDEX IF NOT EXISTS idx_extents_file ON extents(file_id, start_page);

CREATE TABLE IF NOT EXISTS dirty_pages (
	file_id     TEXT NOT NULL,
	page_num    INTEGER NOT NULL,
	data        BLOB NOT NULL,
	modified_at INTEGER NOT NULL,
	PRIMARY KEY (file_id, page_num)
);

CREATE TABLE IF NOT EXISTS branches (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL UNIQUE,
	parent_branch_id TEXT,
	base_commit_id   TEXT,
	head_commit_id   TEXT,
	created_at       INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS commits (
	id               TEXT PRIMARY KEY,
	branch_id        TEXT NOT NULL,
	message          TEXT NOT NULL,
	timestamp        INTEGER NOT NULL,
	parent_commit_id TEXT,
	snapshot_json    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commits_branch ON commits(branch_id, timestamp DESC);

CREATE TABLE IF NOT EXISTS branch_files (
	branch_id   TEXT NOT NULL,
	file_id     TEXT NOT NULL,
	size        INTEGER NOT NULL DEFAULT 0,
	deleted     INTEGER NOT NULL DEFAULT 0,
	modified_at INTEGER NOT NULL,
	PRIMARY KEY (branch_id, file_id)
);

CREATE TABLE IF NOT EXISTS branch_pages (
	branch_id TEXT NOT NULL,
	file_id   TEXT NOT NULL,
	page_num  INTEGER NOT NULL,
	PRIMARY KEY (branch_id, file_id, page_num)
);
`

// Init creates every table this package owns, idempotently. Both
// ExtentStorage and BranchManager call Init on startup; running it twice
// (e.g. one per branch sharing a catalog) is harmless.
func (c *Catalog) Init(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("catalog: init schema: %w", classify(err))
	}
	return nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if err == sql.ErrNoRows {
		return fmt.Errorf("%w", errs.ErrNotFound)
	}
	return fmt.Errorf("%v: %w", err, errs.ErrIO)
}

func unixMillis(t time.Time) int64 { return t.UnixMilli() }
func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }
