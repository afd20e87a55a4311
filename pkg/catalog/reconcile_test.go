package catalog

import (
	"context"
	"testing"

	"github.com/fsxdb/fsx/pkg/blob"
)

func TestReconcileDeletesOnlyOrphans(t *testing.T) {
	c := openTestCatalog(t)
	ctx := context.Background()
	backend := blob.NewMemory()

	backend.Put(ctx, "extent/known", []byte("x"), blob.PutOptions{})
	backend.Put(ctx, "extent/orphan", []byte("y"), blob.PutOptions{})

	c.EnsureFile(ctx, "f1", 4096)
	if err := c.UpsertExtent(ctx, ExtentRecord{ExtentID: "known", FileID: "f1", ExtentIndex: 0, StartPage: 0, PageCount: 1}); err != nil {
		t.Fatalf("UpsertExtent: %v", err)
	}

	removed, err := Reconcile(ctx, c, backend, "extent/")
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}

	if ok, _ := backend.Exists(ctx, "extent/orphan"); ok {
		t.Fatal("expected orphan deleted")
	}
	if ok, _ := backend.Exists(ctx, "extent/known"); !ok {
		t.Fatal("expected known extent to survive reconcile")
	}
}
