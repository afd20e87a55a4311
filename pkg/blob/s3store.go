// ABOUTME: object-store BlobStorage backend over an S3-compatible API
// ABOUTME: The authoritative external store; cache backends read through it

package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/fsxdb/fsx/pkg/errs"
)

// S3API is the subset of the AWS SDK S3 client this backend needs, so tests
// can substitute a fake without standing up a real bucket.
type S3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	DeleteObjects(ctx context.Context, in *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

// ObjectStoreConfig configures the object-store backend ({kind: object-store}).
type ObjectStoreConfig struct {
	Bucket string
	Prefix string
}

// ObjectStore is the `{kind: object-store}` backend: the authoritative,
// durable store behind every other backend composition.
type ObjectStore struct {
	api    S3API
	bucket string
	prefix string
}

// NewObjectStore builds an S3-backed store from ambient AWS credentials
// (environment, shared config, or instance role), following the same
// config-loading idiom as the rest of the aws-sdk-go-v2 ecosystem.
func NewObjectStore(ctx context.Context, cfg ObjectStoreConfig) (*ObjectStore, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("blob: load aws config: %w", errs.ErrIO)
	}
	return NewObjectStoreWithClient(s3.NewFromConfig(awsCfg), cfg), nil
}

// NewObjectStoreWithClient builds an object-store backend around an already
// constructed client (or the S3API fake used in tests).
func NewObjectStoreWithClient(api S3API, cfg ObjectStoreConfig) *ObjectStore {
	return &ObjectStore{api: api, bucket: cfg.Bucket, prefix: cfg.Prefix}
}

var _ Storage = (*ObjectStore)(nil)

func (s *ObjectStore) fullKey(key string) string {
	return s.prefix + key
}

func (s *ObjectStore) Put(ctx context.Context, key string, data []byte, opts PutOptions) (PutResult, error) {
	return s.PutStream(ctx, key, bytes.NewReader(data), opts)
}

func (s *ObjectStore) PutStream(ctx context.Context, key string, r io.Reader, opts PutOptions) (PutResult, error) {
	if len(key) == 0 || len(key) > MaxKeyLen {
		return PutResult{}, fmt.Errorf("blob: key length %d out of range: %w", len(key), errs.ErrInvalid)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return PutResult{}, fmt.Errorf("blob: read stream: %w", errs.ErrIO)
	}

	in := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
		Body:   bytes.NewReader(data),
	}
	if opts.ContentType != "" {
		in.ContentType = aws.String(opts.ContentType)
	}
	if len(opts.CustomMeta) > 0 {
		in.Metadata = opts.CustomMeta
	}
	if opts.MD5 != "" {
		in.ContentMD5 = aws.String(opts.MD5)
	}

	out, err := s.api.PutObject(ctx, in)
	if err != nil {
		return PutResult{}, translateS3Error(err)
	}

	etag := ""
	if out.ETag != nil {
		etag = strings.Trim(*out.ETag, `"`)
	}
	return PutResult{ETag: etag, Size: int64(len(data))}, nil
}

func (s *ObjectStore) Get(ctx context.Context, key string) (*Object, bool, error) {
	return s.GetRange(ctx, key, 0, -1)
}

func (s *ObjectStore) GetStream(ctx context.Context, key string) (io.ReadCloser, *Meta, bool, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if isNotFound(err) {
		return nil, nil, false, nil
	}
	if err != nil {
		return nil, nil, false, translateS3Error(err)
	}
	meta := metaFromOutput(out.ETag, out.ContentLength, out.ContentType, out.Metadata, out.LastModified)
	return out.Body, &meta, true, nil
}

func (s *ObjectStore) GetRange(ctx context.Context, key string, start, end int64) (*Object, bool, error) {
	if end >= 0 && start > end {
		return nil, false, fmt.Errorf("blob: range start %d > end %d: %w", start, end, errs.ErrInvalid)
	}

	rangeHeader := formatRange(start, end)
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
		Range:  rangeHeader,
	})
	if isNotFound(err) {
		return nil, false, nil
	}
	if isInvalidRange(err) {
		// start beyond the object's size: fetch the full size via Head and
		// return an empty payload rather than propagating the 416.
		headMeta, ok, herr := s.Head(ctx, key)
		if herr != nil || !ok {
			return nil, false, herr
		}
		return &Object{Data: nil, Meta: *headMeta}, true, nil
	}
	if err != nil {
		return nil, false, translateS3Error(err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("blob: read body: %w", errs.ErrIO)
	}

	fullSize := int64(0)
	if out.ContentRange != nil {
		fullSize = parseContentRangeSize(*out.ContentRange)
	}
	if fullSize == 0 && out.ContentLength != nil {
		fullSize = *out.ContentLength
	}

	meta := metaFromOutput(out.ETag, &fullSize, out.ContentType, out.Metadata, out.LastModified)
	return &Object{Data: data, Meta: meta}, true, nil
}

func (s *ObjectStore) Head(ctx context.Context, key string) (*Meta, bool, error) {
	out, err := s.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if isNotFound(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, translateS3Error(err)
	}
	meta := metaFromOutput(out.ETag, out.ContentLength, out.ContentType, out.Metadata, out.LastModified)
	return &meta, true, nil
}

func (s *ObjectStore) Exists(ctx context.Context, key string) (bool, error) {
	_, ok, err := s.Head(ctx, key)
	return ok, err
}

func (s *ObjectStore) Delete(ctx context.Context, key string) error {
	_, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil && !isNotFound(err) {
		return translateS3Error(err)
	}
	return nil
}

func (s *ObjectStore) DeleteMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	objs := make([]types.ObjectIdentifier, len(keys))
	for i, k := range keys {
		objs[i] = types.ObjectIdentifier{Key: aws.String(s.fullKey(k))}
	}
	_, err := s.api.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &types.Delete{Objects: objs},
	})
	if err != nil {
		return translateS3Error(err)
	}
	return nil
}

func (s *ObjectStore) List(ctx context.Context, opts ListOptions) (ListResult, error) {
	in := &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.fullKey(opts.Prefix)),
	}
	if opts.Limit > 0 {
		in.MaxKeys = aws.Int32(int32(opts.Limit))
	}
	if opts.Cursor != "" {
		in.StartAfter = aws.String(s.fullKey(opts.Cursor))
	}

	out, err := s.api.ListObjectsV2(ctx, in)
	if err != nil {
		return ListResult{}, translateS3Error(err)
	}

	result := ListResult{Truncated: aws.ToBool(out.IsTruncated)}
	for _, obj := range out.Contents {
		key := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
		meta := Meta{Size: aws.ToInt64(obj.Size)}
		if obj.ETag != nil {
			meta.ETag = strings.Trim(*obj.ETag, `"`)
		}
		if obj.LastModified != nil {
			meta.ModTime = *obj.LastModified
		}
		result.Objects = append(result.Objects, ListEntry{Key: key, Meta: meta})
	}
	if len(result.Objects) > 0 {
		result.Cursor = result.Objects[len(result.Objects)-1].Key
	}
	return result, nil
}

func (s *ObjectStore) Copy(ctx context.Context, src, dst string) (PutResult, error) {
	source := s.bucket + "/" + s.fullKey(src)
	out, err := s.api.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.fullKey(dst)),
		CopySource: aws.String(source),
	})
	if isNotFound(err) {
		return PutResult{}, fmt.Errorf("blob: copy source %q: %w", src, errs.ErrNotFound)
	}
	if err != nil {
		return PutResult{}, translateS3Error(err)
	}
	etag := ""
	if out.CopyObjectResult != nil && out.CopyObjectResult.ETag != nil {
		etag = strings.Trim(*out.CopyObjectResult.ETag, `"`)
	}
	return PutResult{ETag: etag}, nil
}

func metaFromOutput(etag *string, size *int64, contentType *string, metadata map[string]string, modTime *time.Time) Meta {
	m := Meta{CustomMeta: metadata}
	if etag != nil {
		m.ETag = strings.Trim(*etag, `"`)
	}
	if size != nil {
		m.Size = *size
	}
	if contentType != nil {
		m.ContentType = *contentType
	}
	if modTime != nil {
		m.ModTime = *modTime
	}
	return m
}

func formatRange(start, end int64) *string {
	if start == 0 && end < 0 {
		return nil
	}
	if end < 0 {
		return aws.String(fmt.Sprintf("bytes=%d-", start))
	}
	return aws.String(fmt.Sprintf("bytes=%d-%d", start, end))
}

func parseContentRangeSize(contentRange string) int64 {
	idx := strings.LastIndex(contentRange, "/")
	if idx < 0 || idx+1 >= len(contentRange) {
		return 0
	}
	n, err := strconv.ParseInt(contentRange[idx+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	var nf *types.NoSuchKey
	if errors.As(err, &nf) {
		return true
	}
	return strings.Contains(err.Error(), "NotFound") || strings.Contains(err.Error(), "NoSuchKey")
}

func isInvalidRange(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "InvalidRange") || strings.Contains(err.Error(), "416")
}

func translateS3Error(err error) error {
	switch {
	case isNotFound(err):
		return fmt.Errorf("blob: %w: %v", errs.ErrNotFound, err)
	case strings.Contains(err.Error(), "AccessDenied"):
		return fmt.Errorf("blob: %w: %v", errs.ErrAccessDenied, err)
	case strings.Contains(err.Error(), "RequestTimeout"), strings.Contains(err.Error(), "SlowDown"):
		return errs.TimedOut("blob: s3 request", 0)
	default:
		return fmt.Errorf("blob: %w: %v", errs.ErrIO, err)
	}
}
