// ABOUTME: BranchManager tests — COW isolation, parent-chain reads, commits, tombstones

package branch

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/fsxdb/fsx/pkg/blob"
	"github.com/fsxdb/fsx/pkg/catalog"
	"github.com/fsxdb/fsx/pkg/extentstore"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	cat, err := catalog.Open(filepath.Join(t.TempDir(), "fsx.db"))
	if err != nil {
		t.Fatalf("catalog.Open: %v", err)
	}
	t.Cleanup(func() { cat.Close() })

	m, err := New(Config{
		PageSize:    4096,
		ExtentSize:  extentstore.DefaultExtentSize,
		Compression: extentstore.CompressionNone,
		Backend:     blob.NewMemory(),
		Catalog:     cat,
		AutoFlush:   true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return m
}

func page(fill byte) []byte {
	p := make([]byte, 4096)
	for i := range p {
		p[i] = fill
	}
	return p
}

func TestMainBranchExistsAfterInit(t *testing.T) {
	m := newTestManager(t)
	b, err := m.CurrentBranch(context.Background())
	if err != nil {
		t.Fatalf("CurrentBranch: %v", err)
	}
	if b.Name != "main" {
		t.Fatalf("Name = %q, want main", b.Name)
	}
	if b.CreatedAt.IsZero() {
		t.Fatal("expected main branch CreatedAt to be set")
	}
}

func TestWriteReadOnMain(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.WritePage(ctx, "f1", 0, page(1)); err != nil {
		t.Fatalf("WritePage: %v", err)
	}
	got, ok, err := m.ReadPage(ctx, "f1", 0)
	if err != nil || !ok {
		t.Fatalf("ReadPage: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, page(1)) {
		t.Fatal("roundtrip mismatch")
	}
}

func TestCreateBranchCopyOnWriteIsolation(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	m.WritePage(ctx, "f1", 0, page(1))

	if _, err := m.CreateBranch(ctx, "feature", "main"); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if err := m.Switch(ctx, "feature"); err != nil {
		t.Fatalf("Switch: %v", err)
	}

	// Feature branch inherits main's data via the parent-chain read.
	got, ok, err := m.ReadPage(ctx, "f1", 0)
	if err != nil || !ok || !bytes.Equal(got, page(1)) {
		t.Fatalf("expected inherited page 0 on feature branch: ok=%v err=%v", ok, err)
	}

	// Writing on feature must not affect main (copy-on-write).
	if err := m.WritePage(ctx, "f1", 0, page(2)); err != nil {
		t.Fatalf("WritePage on feature: %v", err)
	}
	if err := m.Switch(ctx, "main"); err != nil {
		t.Fatalf("Switch back to main: %v", err)
	}
	got, ok, err = m.ReadPage(ctx, "f1", 0)
	if err != nil || !ok || !bytes.Equal(got, page(1)) {
		t.Fatalf("main branch must be unaffected by feature's write: ok=%v err=%v got=%v", ok, err, got)
	}
}

func TestDeleteBranchForbidsCurrentAndMain(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if err := m.DeleteBranch(ctx, "main"); err == nil {
		t.Fatal("expected error deleting main")
	}

	if _, err := m.CreateBranch(ctx, "feature", "main"); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if err := m.Switch(ctx, "feature"); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if err := m.DeleteBranch(ctx, "feature"); err == nil {
		t.Fatal("expected error deleting the current branch")
	}
}

func TestDeleteFileTombstoneDoesNotAffectParent(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	m.WritePage(ctx, "f1", 0, page(1))

	if _, err := m.CreateBranch(ctx, "feature", "main"); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if err := m.Switch(ctx, "feature"); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	if err := m.DeleteFile(ctx, "f1"); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}

	_, ok, err := m.ReadPage(ctx, "f1", 0)
	if err != nil {
		t.Fatalf("ReadPage on feature: %v", err)
	}
	if ok {
		t.Fatal("expected tombstone to hide f1 on feature branch")
	}

	if err := m.Switch(ctx, "main"); err != nil {
		t.Fatalf("Switch back: %v", err)
	}
	_, ok, err = m.ReadPage(ctx, "f1", 0)
	if err != nil || !ok {
		t.Fatalf("main branch's f1 must survive feature's tombstone: ok=%v err=%v", ok, err)
	}
}

func TestCommitAndHistory(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	m.WritePage(ctx, "f1", 0, page(1))

	c1, err := m.Commit(ctx, "first commit")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if c1.Timestamp.IsZero() {
		t.Fatal("expected commit Timestamp to be set")
	}
	if c1.Snapshot["f1"].Size != 4096 {
		t.Fatalf("snapshot size = %d, want 4096", c1.Snapshot["f1"].Size)
	}

	m.WritePage(ctx, "f1", 1, page(2))
	c2, err := m.Commit(ctx, "second commit")
	if err != nil {
		t.Fatalf("second Commit: %v", err)
	}
	if c2.ParentCommitID == nil || *c2.ParentCommitID != c1.ID {
		t.Fatalf("ParentCommitID = %v, want %s", c2.ParentCommitID, c1.ID)
	}

	history, err := m.GetCommitHistory(ctx, "main")
	if err != nil {
		t.Fatalf("GetCommitHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
	if history[0].ID != c2.ID {
		t.Fatalf("history[0].ID = %s, want newest-first %s", history[0].ID, c2.ID)
	}
}

func TestCheckoutByBranchNameAndCommitID(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	m.WritePage(ctx, "f1", 0, page(1))
	c1, err := m.Commit(ctx, "on main")
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}

	if _, err := m.CreateBranch(ctx, "feature", "main"); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if err := m.Checkout(ctx, "feature"); err != nil {
		t.Fatalf("Checkout by name: %v", err)
	}
	b, err := m.CurrentBranch(ctx)
	if err != nil || b.Name != "feature" {
		t.Fatalf("CurrentBranch after checkout = %+v, err=%v", b, err)
	}

	if err := m.Checkout(ctx, c1.ID); err != nil {
		t.Fatalf("Checkout by commit id: %v", err)
	}
	b, err = m.CurrentBranch(ctx)
	if err != nil || b.Name != "main" {
		t.Fatalf("Checkout by commit id should land on its branch: %+v, err=%v", b, err)
	}
}

func TestGetFileSizeWalksParentChain(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	m.WritePage(ctx, "f1", 0, page(1))
	m.WritePage(ctx, "f1", 1, page(1))

	if _, err := m.CreateBranch(ctx, "feature", "main"); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if err := m.Switch(ctx, "feature"); err != nil {
		t.Fatalf("Switch: %v", err)
	}

	size, err := m.GetFileSize(ctx, "f1")
	if err != nil {
		t.Fatalf("GetFileSize: %v", err)
	}
	if size != 2*4096 {
		t.Fatalf("size = %d, want %d (inherited from main)", size, 2*4096)
	}
}

func TestListFilesUnionsAcrossParentChain(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	m.WritePage(ctx, "f1", 0, page(1))

	if _, err := m.CreateBranch(ctx, "feature", "main"); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if err := m.Switch(ctx, "feature"); err != nil {
		t.Fatalf("Switch: %v", err)
	}
	m.WritePage(ctx, "f2", 0, page(1))

	files, err := m.ListFiles(ctx)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	seen := map[string]bool{}
	for _, f := range files {
		seen[f] = true
	}
	if !seen["f1"] || !seen["f2"] {
		t.Fatalf("ListFiles = %v, want both f1 (inherited) and f2 (own)", files)
	}
}

func TestWritePageSyncAndReadPageSync(t *testing.T) {
	m := newTestManager(t)
	if err := m.WritePageSync("f1", 0, page(7)); err != nil {
		t.Fatalf("WritePageSync: %v", err)
	}
	got, ok := m.ReadPageSync("f1", 0)
	if !ok {
		t.Fatal("expected ReadPageSync hit")
	}
	if !bytes.Equal(got, page(7)) {
		t.Fatal("ReadPageSync data mismatch")
	}
}

func TestCreateBranchRejectsDuplicateName(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()
	if _, err := m.CreateBranch(ctx, "feature", "main"); err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	if _, err := m.CreateBranch(ctx, "feature", "main"); err == nil {
		t.Fatal("expected error creating a branch with a duplicate name")
	}
}

func TestCreateBranchUnknownParent(t *testing.T) {
	m := newTestManager(t)
	if _, err := m.CreateBranch(context.Background(), "feature", "nonexistent"); err == nil {
		t.Fatal("expected error for unknown parent branch")
	}
}
