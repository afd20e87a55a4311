// ABOUTME: ObjectStore tests against a fake S3API, no live bucket required
// ABOUTME: Exercises put/get/range/list/delete/copy translation to the port

package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeObj struct {
	data []byte
	etag string
}

// fakeS3 is a minimal in-memory stand-in for the S3API the object-store
// backend needs, enough to exercise request/response translation without a
// live bucket.
type fakeS3 struct {
	objects map[string]fakeObj
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string]fakeObj)} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	etag := fmt.Sprintf("%x", len(data))
	f.objects[aws.ToString(in.Key)] = fakeObj{data: data, etag: etag}
	return &s3.PutObjectOutput{ETag: aws.String(etag)}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	data := obj.data
	start, end := int64(0), int64(len(data))
	contentRange := ""
	if in.Range != nil {
		s, e, ok := parseTestRange(*in.Range, int64(len(data)))
		if !ok || s >= int64(len(data)) {
			return nil, fmt.Errorf("InvalidRange: 416")
		}
		start, end = s, e
		contentRange = fmt.Sprintf("bytes %d-%d/%d", start, end-1, len(data))
	}
	body := data[start:end]
	out := &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: aws.Int64(int64(len(body))),
		ETag:          aws.String(obj.etag),
	}
	if contentRange != "" {
		out.ContentRange = aws.String(contentRange)
	}
	return out, nil
}

func parseTestRange(header string, size int64) (int64, int64, bool) {
	header = strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(header, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	var start, end int64
	fmt.Sscanf(parts[0], "%d", &start)
	if parts[1] == "" {
		end = size
	} else {
		fmt.Sscanf(parts[1], "%d", &end)
		end++
	}
	return start, end, true
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(obj.data))), ETag: aws.String(obj.etag)}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	for _, o := range in.Delete.Objects {
		delete(f.objects, aws.ToString(o.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(in.Prefix)
	var contents []types.Object
	for k, v := range f.objects {
		if prefix != "" && !strings.HasPrefix(k, prefix) {
			continue
		}
		contents = append(contents, types.Object{
			Key:  aws.String(k),
			Size: aws.Int64(int64(len(v.data))),
			ETag: aws.String(v.etag),
		})
	}
	return &s3.ListObjectsV2Output{Contents: contents, IsTruncated: aws.Bool(false)}, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	src := strings.SplitN(aws.ToString(in.CopySource), "/", 2)[1]
	obj, ok := f.objects[src]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	f.objects[aws.ToString(in.Key)] = obj
	return &s3.CopyObjectOutput{CopyObjectResult: &types.CopyObjectResult{ETag: aws.String(obj.etag)}}, nil
}

func newTestObjectStore() (*ObjectStore, *fakeS3) {
	f := newFakeS3()
	return NewObjectStoreWithClient(f, ObjectStoreConfig{Bucket: "test-bucket"}), f
}

func TestObjectStorePutGet(t *testing.T) {
	store, _ := newTestObjectStore()
	ctx := context.Background()

	if _, err := store.Put(ctx, "a.txt", []byte("hello world"), PutOptions{}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	obj, ok, err := store.Get(ctx, "a.txt")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if string(obj.Data) != "hello world" {
		t.Fatalf("data = %q", obj.Data)
	}
}

func TestObjectStoreGetMissing(t *testing.T) {
	store, _ := newTestObjectStore()
	_, ok, err := store.Get(context.Background(), "nope")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if ok {
		t.Fatal("expected absent")
	}
}

func TestObjectStoreGetRange(t *testing.T) {
	store, _ := newTestObjectStore()
	ctx := context.Background()
	store.Put(ctx, "k", []byte("0123456789"), PutOptions{})

	obj, ok, err := store.GetRange(ctx, "k", 2, 4)
	if err != nil || !ok {
		t.Fatalf("GetRange: ok=%v err=%v", ok, err)
	}
	if string(obj.Data) != "234" {
		t.Fatalf("data = %q, want 234", obj.Data)
	}
	if obj.Meta.Size != 10 {
		t.Fatalf("full size = %d, want 10", obj.Meta.Size)
	}
}

func TestObjectStoreGetRangeStartBeyondSize(t *testing.T) {
	store, _ := newTestObjectStore()
	ctx := context.Background()
	store.Put(ctx, "k", []byte("short"), PutOptions{})

	obj, ok, err := store.GetRange(ctx, "k", 100, 200)
	if err != nil || !ok {
		t.Fatalf("GetRange: ok=%v err=%v", ok, err)
	}
	if len(obj.Data) != 0 {
		t.Fatalf("expected empty payload, got %d bytes", len(obj.Data))
	}
	if obj.Meta.Size != 5 {
		t.Fatalf("full size = %d, want 5", obj.Meta.Size)
	}
}

func TestObjectStoreDeleteAndList(t *testing.T) {
	store, _ := newTestObjectStore()
	ctx := context.Background()
	store.Put(ctx, "dir/a", []byte("1"), PutOptions{})
	store.Put(ctx, "dir/b", []byte("2"), PutOptions{})
	store.Put(ctx, "other", []byte("3"), PutOptions{})

	res, err := store.List(ctx, ListOptions{Prefix: "dir/"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(res.Objects) != 2 {
		t.Fatalf("got %d objects, want 2", len(res.Objects))
	}

	if err := store.Delete(ctx, "dir/a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := store.Exists(ctx, "dir/a"); ok {
		t.Fatal("expected dir/a deleted")
	}
}

func TestObjectStoreCopy(t *testing.T) {
	store, _ := newTestObjectStore()
	ctx := context.Background()
	store.Put(ctx, "src", []byte("payload"), PutOptions{})

	if _, err := store.Copy(ctx, "src", "dst"); err != nil {
		t.Fatalf("Copy: %v", err)
	}
	obj, ok, err := store.Get(ctx, "dst")
	if err != nil || !ok {
		t.Fatalf("Get dst: ok=%v err=%v", ok, err)
	}
	if string(obj.Data) != "payload" {
		t.Fatalf("copied data = %q", obj.Data)
	}
}

func TestObjectStoreCopyMissingSource(t *testing.T) {
	store, _ := newTestObjectStore()
	if _, err := store.Copy(context.Background(), "missing", "dst"); err == nil {
		t.Fatal("expected error for missing source")
	}
}
