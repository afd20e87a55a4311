package branch

import (
	"context"
)

// WritePage always targets the current branch's own storage namespace,
// never its parents (copy-on-write, spec §4.4.2).
func (m *Manager) WritePage(ctx context.Context, fileID string, pageNum int64, payload []byte) error {
	m.mu.Lock()
	branchID := m.current
	m.mu.Unlock()

	store, err := m.storeFor(ctx, branchID)
	if err != nil {
		return err
	}
	if err := store.WritePage(ctx, scope(branchID, fileID), pageNum, payload); err != nil {
		return err
	}
	return m.recordWrite(ctx, branchID, fileID, pageNum)
}

// WritePageSync is the non-suspending counterpart of WritePage: it only
// touches the current branch's in-memory dirty buffer, not the catalog's
// branch-scoped presence rows.
func (m *Manager) WritePageSync(fileID string, pageNum int64, payload []byte) error {
	m.mu.Lock()
	branchID := m.current
	m.mu.Unlock()

	store, err := m.storeFor(context.Background(), branchID)
	if err != nil {
		return err
	}
	return store.WritePageSync(scope(branchID, fileID), pageNum, payload)
}

func (m *Manager) recordWrite(ctx context.Context, branchID, fileID string, pageNum int64) error {
	if err := m.cfg.Catalog.MarkBranchPage(ctx, branchID, fileID, pageNum); err != nil {
		return err
	}
	size := (pageNum + 1) * int64(m.cfg.PageSize)
	existing, ok, err := m.cfg.Catalog.GetBranchFile(ctx, branchID, fileID)
	if err != nil {
		return err
	}
	if ok && existing.Size > size {
		size = existing.Size
	}
	return m.cfg.Catalog.UpsertBranchFile(ctx, branchID, fileID, size, false)
}

// ReadPage walks up the branch's parent chain until it finds the page, a
// tombstone, or exhausts the root (spec §4.4.1).
func (m *Manager) ReadPage(ctx context.Context, fileID string, pageNum int64) ([]byte, bool, error) {
	m.mu.Lock()
	branchID := m.current
	m.mu.Unlock()
	return m.readFrom(ctx, branchID, fileID, pageNum)
}

func (m *Manager) readFrom(ctx context.Context, branchID, fileID string, pageNum int64) ([]byte, bool, error) {
	for branchID != "" {
		bf, ok, err := m.cfg.Catalog.GetBranchFile(ctx, branchID, fileID)
		if err != nil {
			return nil, false, err
		}
		if ok && bf.Deleted {
			return nil, false, nil
		}

		has, err := m.cfg.Catalog.HasBranchPage(ctx, branchID, fileID, pageNum)
		if err != nil {
			return nil, false, err
		}
		if has {
			store, err := m.storeFor(ctx, branchID)
			if err != nil {
				return nil, false, err
			}
			return store.ReadPage(ctx, scope(branchID, fileID), pageNum)
		}

		rec, ok, err := m.cfg.Catalog.GetBranchByID(ctx, branchID)
		if err != nil {
			return nil, false, err
		}
		if !ok || rec.ParentBranchID == nil {
			return nil, false, nil
		}
		branchID = *rec.ParentBranchID
	}
	return nil, false, nil
}

// ReadPageSync is ReadPage's counterpart without a context: page data is
// resolved only through whatever is already in each branch's in-memory dirty
// buffer and extent cache, via ExtentStorage.ReadPageSync. It reads each
// branch's tombstone row and parent link from the catalog and stops at a
// tombstone, but does not consult the catalog's page presence markers.
func (m *Manager) ReadPageSync(fileID string, pageNum int64) ([]byte, bool) {
	m.mu.Lock()
	branchID := m.current
	m.mu.Unlock()

	for branchID != "" {
		bf, ok, err := m.cfg.Catalog.GetBranchFile(context.Background(), branchID, fileID)
		if err != nil || (ok && bf.Deleted) {
			return nil, false
		}
		store, err := m.storeFor(context.Background(), branchID)
		if err != nil {
			return nil, false
		}
		if payload, ok := store.ReadPageSync(scope(branchID, fileID), pageNum); ok {
			return payload, true
		}
		rec, ok, err := m.cfg.Catalog.GetBranchByID(context.Background(), branchID)
		if err != nil || !ok || rec.ParentBranchID == nil {
			return nil, false
		}
		branchID = *rec.ParentBranchID
	}
	return nil, false
}

// GetFileSize walks up; the first branch with a matching branch_files row
// wins. A tombstoned row reports size 0.
func (m *Manager) GetFileSize(ctx context.Context, fileID string) (int64, error) {
	m.mu.Lock()
	branchID := m.current
	m.mu.Unlock()

	for branchID != "" {
		bf, ok, err := m.cfg.Catalog.GetBranchFile(ctx, branchID, fileID)
		if err != nil {
			return 0, err
		}
		if ok {
			if bf.Deleted {
				return 0, nil
			}
			return bf.Size, nil
		}
		rec, ok, err := m.cfg.Catalog.GetBranchByID(ctx, branchID)
		if err != nil {
			return 0, err
		}
		if !ok || rec.ParentBranchID == nil {
			return 0, nil
		}
		branchID = *rec.ParentBranchID
	}
	return 0, nil
}

// ListFiles unions the files visible at every level of the current
// branch's parent chain; a child's record (including a tombstone) always
// wins over a parent's for the same file id.
func (m *Manager) ListFiles(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	branchID := m.current
	m.mu.Unlock()

	seen := make(map[string]bool) // file id -> resolved (live or tombstoned)
	var live []string

	for branchID != "" {
		files, err := m.cfg.Catalog.ListBranchFiles(ctx, branchID)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if seen[f.FileID] {
				continue
			}
			seen[f.FileID] = true
			if !f.Deleted {
				live = append(live, f.FileID)
			}
		}
		rec, ok, err := m.cfg.Catalog.GetBranchByID(ctx, branchID)
		if err != nil {
			return nil, err
		}
		if !ok || rec.ParentBranchID == nil {
			break
		}
		branchID = *rec.ParentBranchID
	}
	return live, nil
}

// DeleteFile tombstones fileID in the current branch. Parent branches are
// never touched — their own branch_files rows still show the file live.
func (m *Manager) DeleteFile(ctx context.Context, fileID string) error {
	m.mu.Lock()
	branchID := m.current
	m.mu.Unlock()

	store, err := m.storeFor(ctx, branchID)
	if err != nil {
		return err
	}
	if err := store.DeleteFile(ctx, scope(branchID, fileID)); err != nil {
		return err
	}
	if err := m.cfg.Catalog.DeleteBranchPagesForFile(ctx, branchID, fileID); err != nil {
		return err
	}
	return m.cfg.Catalog.UpsertBranchFile(ctx, branchID, fileID, 0, true)
}
