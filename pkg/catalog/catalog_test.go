// ABOUTME: catalog tests — sqlite schema, file/extent/dirty-page/branch rows

package catalog

import (
	"context"
	"path/filepath"
	"testing"
)

func openTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "fsx.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return c
}

func TestInitIdempotent(t *testing.T) {
	c := openTestCatalog(t)
	if err := c.Init(context.Background()); err != nil {
		t.Fatalf("second Init: %v", err)
	}
}

func TestEnsureFileAndGrow(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	created, err := c.EnsureFile(ctx, "f1", 4096)
	if err != nil {
		t.Fatalf("EnsureFile: %v", err)
	}
	if !created {
		t.Fatal("expected created=true on first call")
	}
	created, err = c.EnsureFile(ctx, "f1", 4096)
	if err != nil {
		t.Fatalf("EnsureFile again: %v", err)
	}
	if created {
		t.Fatal("expected created=false on second call")
	}

	if err := c.GrowFileSize(ctx, "f1", 8192); err != nil {
		t.Fatalf("GrowFileSize: %v", err)
	}
	if err := c.GrowFileSize(ctx, "f1", 100); err != nil {
		t.Fatalf("GrowFileSize shrink attempt: %v", err)
	}

	rec, ok, err := c.GetFile(ctx, "f1")
	if err != nil || !ok {
		t.Fatalf("GetFile: ok=%v err=%v", ok, err)
	}
	if rec.FileSize != 8192 {
		t.Fatalf("FileSize = %d, want 8192 (GrowFileSize must never shrink)", rec.FileSize)
	}
}

func TestGetFileNotFound(t *testing.T) {
	c := openTestCatalog(t)
	_, ok, err := c.GetFile(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for unknown file")
	}
}

func TestUpsertAndFindExtentForPage(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	c.EnsureFile(ctx, "f1", 4096)

	ext := ExtentRecord{
		ExtentID: "abc123", FileID: "f1", ExtentIndex: 0,
		StartPage: 0, PageCount: 512, OriginalSize: 512 * 4096, StoredSize: 512 * 4096,
		Checksum: 0xdeadbeef,
	}
	if err := c.UpsertExtent(ctx, ext); err != nil {
		t.Fatalf("UpsertExtent: %v", err)
	}

	rec, ok, err := c.FindExtentForPage(ctx, "f1", 10)
	if err != nil || !ok {
		t.Fatalf("FindExtentForPage: ok=%v err=%v", ok, err)
	}
	if rec.ExtentID != "abc123" {
		t.Fatalf("ExtentID = %q", rec.ExtentID)
	}

	_, ok, err = c.FindExtentForPage(ctx, "f1", 999)
	if err != nil {
		t.Fatalf("FindExtentForPage out of range: %v", err)
	}
	if ok {
		t.Fatal("expected no extent covering page 999")
	}
}

func TestDeleteExtentsFromIndex(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	c.EnsureFile(ctx, "f1", 4096)

	for i := int64(0); i < 3; i++ {
		c.UpsertExtent(ctx, ExtentRecord{
			ExtentID: "e" + string(rune('0'+i)), FileID: "f1", ExtentIndex: i,
			StartPage: i * 512, PageCount: 512,
		})
	}

	removed, err := c.DeleteExtentsFromIndex(ctx, "f1", 1)
	if err != nil {
		t.Fatalf("DeleteExtentsFromIndex: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("removed %d extents, want 2", len(removed))
	}

	n, err := c.CountExtents(ctx)
	if err != nil {
		t.Fatalf("CountExtents: %v", err)
	}
	if n != 1 {
		t.Fatalf("CountExtents = %d, want 1", n)
	}
}

func TestDirtyPagesRoundtrip(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	c.EnsureFile(ctx, "f1", 4096)

	payload := make([]byte, 4096)
	payload[0] = 0xAB
	if err := c.UpsertDirtyPage(ctx, "f1", 5, payload); err != nil {
		t.Fatalf("UpsertDirtyPage: %v", err)
	}

	pages, err := c.ListDirtyPages(ctx, "f1")
	if err != nil {
		t.Fatalf("ListDirtyPages: %v", err)
	}
	if len(pages) != 1 || pages[5][0] != 0xAB {
		t.Fatalf("ListDirtyPages = %+v", pages)
	}

	if err := c.DeleteDirtyPages(ctx, "f1", []int64{5}); err != nil {
		t.Fatalf("DeleteDirtyPages: %v", err)
	}
	pages, err = c.ListDirtyPages(ctx, "f1")
	if err != nil {
		t.Fatalf("ListDirtyPages after delete: %v", err)
	}
	if len(pages) != 0 {
		t.Fatalf("expected no dirty pages after delete, got %d", len(pages))
	}
}

func TestBranchAndCommitRoundtrip(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()

	main := BranchRecord{ID: "main-id", Name: "main"}
	if err := c.InsertBranch(ctx, main); err != nil {
		t.Fatalf("InsertBranch: %v", err)
	}

	child := BranchRecord{ID: "child-id", Name: "child", ParentBranchID: &main.ID}
	if err := c.InsertBranch(ctx, child); err != nil {
		t.Fatalf("InsertBranch child: %v", err)
	}

	got, ok, err := c.GetBranchByName(ctx, "child")
	if err != nil || !ok {
		t.Fatalf("GetBranchByName: ok=%v err=%v", ok, err)
	}
	if got.ParentBranchID == nil || *got.ParentBranchID != "main-id" {
		t.Fatalf("ParentBranchID = %v, want main-id", got.ParentBranchID)
	}

	commit := CommitRecord{ID: "c1", BranchID: "child-id", Message: "first", SnapshotJSON: "{}"}
	if err := c.InsertCommit(ctx, commit); err != nil {
		t.Fatalf("InsertCommit: %v", err)
	}
	if err := c.SetBranchHead(ctx, "child-id", "c1"); err != nil {
		t.Fatalf("SetBranchHead: %v", err)
	}

	got, ok, err = c.GetBranchByID(ctx, "child-id")
	if err != nil || !ok {
		t.Fatalf("GetBranchByID: ok=%v err=%v", ok, err)
	}
	if got.HeadCommitID == nil || *got.HeadCommitID != "c1" {
		t.Fatalf("HeadCommitID = %v, want c1", got.HeadCommitID)
	}
}

func TestBranchFileAndPageMarkers(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	c.InsertBranch(ctx, BranchRecord{ID: "b1", Name: "b1"})

	if err := c.UpsertBranchFile(ctx, "b1", "f1", 4096, false); err != nil {
		t.Fatalf("UpsertBranchFile: %v", err)
	}
	bf, ok, err := c.GetBranchFile(ctx, "b1", "f1")
	if err != nil || !ok {
		t.Fatalf("GetBranchFile: ok=%v err=%v", ok, err)
	}
	if bf.Size != 4096 || bf.Deleted {
		t.Fatalf("GetBranchFile = %+v", bf)
	}

	if err := c.UpsertBranchFile(ctx, "b1", "f1", 0, true); err != nil {
		t.Fatalf("UpsertBranchFile tombstone: %v", err)
	}
	bf, _, _ = c.GetBranchFile(ctx, "b1", "f1")
	if !bf.Deleted {
		t.Fatal("expected tombstone after second UpsertBranchFile")
	}

	if err := c.MarkBranchPage(ctx, "b1", "f1", 0); err != nil {
		t.Fatalf("MarkBranchPage: %v", err)
	}
	has, err := c.HasBranchPage(ctx, "b1", "f1", 0)
	if err != nil || !has {
		t.Fatalf("HasBranchPage: has=%v err=%v", has, err)
	}
	has, err = c.HasBranchPage(ctx, "b1", "f1", 1)
	if err != nil || has {
		t.Fatalf("HasBranchPage for unmarked page: has=%v err=%v", has, err)
	}
}
