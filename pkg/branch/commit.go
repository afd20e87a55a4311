package branch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fsxdb/fsx/pkg/catalog"
	"github.com/fsxdb/fsx/pkg/errs"
)

// snapshotWire is the JSON-serialized form of a commit's snapshot, keyed by
// file id. Kept deliberately small and decoupled from extent-id layout
// (spec §9).
type snapshotWire map[string]SnapshotEntry

// Commit flushes the current branch, records a snapshot of its live files,
// and advances the branch's head_commit_id (spec §4.4.4).
func (m *Manager) Commit(ctx context.Context, message string) (Commit, error) {
	m.mu.Lock()
	branchID := m.current
	m.mu.Unlock()

	store, err := m.storeFor(ctx, branchID)
	if err != nil {
		return Commit{}, err
	}
	if err := store.Flush(ctx); err != nil {
		return Commit{}, err
	}

	files, err := m.cfg.Catalog.ListBranchFiles(ctx, branchID)
	if err != nil {
		return Commit{}, err
	}
	snapshot := make(snapshotWire)
	for _, f := range files {
		if f.Deleted {
			continue
		}
		snapshot[f.FileID] = SnapshotEntry{Size: f.Size}
	}
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		return Commit{}, fmt.Errorf("branch: marshal snapshot: %w", err)
	}

	branchRec, ok, err := m.cfg.Catalog.GetBranchByID(ctx, branchID)
	if err != nil {
		return Commit{}, err
	}
	if !ok {
		return Commit{}, fmt.Errorf("branch: %s: %w", branchID, errs.ErrNotFound)
	}

	rec := catalog.CommitRecord{
		ID:             uuid.NewString(),
		BranchID:       branchID,
		Message:        message,
		Timestamp:      time.Now(),
		ParentCommitID: branchRec.HeadCommitID,
		SnapshotJSON:   string(snapshotJSON),
	}
	if err := m.cfg.Catalog.InsertCommit(ctx, rec); err != nil {
		return Commit{}, err
	}
	if err := m.cfg.Catalog.SetBranchHead(ctx, branchID, rec.ID); err != nil {
		return Commit{}, err
	}

	if m.cfg.Metrics != nil {
		m.cfg.Metrics.BranchCommitsTotal.Inc()
	}
	if m.cfg.Logger != nil {
		m.cfg.Logger.BranchLogger(branchRec.Name).Info("commit recorded").Str("commit_id", rec.ID).Send()
	}

	return commitFromRecord(rec, snapshot), nil
}

func commitFromRecord(rec catalog.CommitRecord, snapshot snapshotWire) Commit {
	return Commit{
		ID:             rec.ID,
		BranchID:       rec.BranchID,
		Message:        rec.Message,
		Timestamp:      rec.Timestamp,
		ParentCommitID: rec.ParentCommitID,
		Snapshot:       snapshot,
	}
}

// Checkout moves "current" to ref, which may name a branch or a commit. A
// commit id points "current" at that commit's branch without rewinding its
// live extent state — detached-HEAD semantics are advisory (spec §4.4.4).
func (m *Manager) Checkout(ctx context.Context, ref string) error {
	if _, ok, err := m.cfg.Catalog.GetBranchByName(ctx, ref); err != nil {
		return err
	} else if ok {
		return m.Switch(ctx, ref)
	}

	commit, ok, err := m.cfg.Catalog.GetCommit(ctx, ref)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("branch: checkout target %s: %w", ref, errs.ErrNotFound)
	}

	branchRec, ok, err := m.cfg.Catalog.GetBranchByID(ctx, commit.BranchID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("branch: commit %s's branch %s: %w", ref, commit.BranchID, errs.ErrNotFound)
	}
	return m.Switch(ctx, branchRec.Name)
}

// GetCommitHistory returns branchName's commits, newest first. An empty
// branchName uses the current branch.
func (m *Manager) GetCommitHistory(ctx context.Context, branchName string) ([]Commit, error) {
	var branchID string
	if branchName == "" {
		m.mu.Lock()
		branchID = m.current
		m.mu.Unlock()
	} else {
		rec, ok, err := m.cfg.Catalog.GetBranchByName(ctx, branchName)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("branch: %s: %w", branchName, errs.ErrNotFound)
		}
		branchID = rec.ID
	}

	recs, err := m.cfg.Catalog.ListCommits(ctx, branchID)
	if err != nil {
		return nil, err
	}
	out := make([]Commit, 0, len(recs))
	for _, rec := range recs {
		var snapshot snapshotWire
		if err := json.Unmarshal([]byte(rec.SnapshotJSON), &snapshot); err != nil {
			return nil, fmt.Errorf("branch: unmarshal snapshot for commit %s: %w", rec.ID, err)
		}
		out = append(out, commitFromRecord(rec, snapshot))
	}
	return out, nil
}
