package objstore

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config configures the S3/MinIO-compatible durable backend. Mirrors
// the shape of the teacher's storage.Config (platform submodule).
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	UseSSL          bool
}

// S3 is a Store backed by an S3-compatible bucket via minio-go. Each
// document and each index entry is one object under Bucket.
type S3 struct {
	client *minio.Client
	core   *minio.Core
	bucket string
}

// NewS3 connects to the configured endpoint and returns a Store. It does
// not create the bucket; callers are expected to provision it out of
// band (this adapter's contract is get/put/head/list/delete only).
func NewS3(cfg S3Config) (*S3, error) {
	opts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	}
	client, err := minio.New(cfg.Endpoint, opts)
	if err != nil {
		return nil, err
	}
	core, err := minio.NewCore(cfg.Endpoint, opts)
	if err != nil {
		return nil, err
	}
	return &S3{client: client, core: core, bucket: cfg.Bucket}, nil
}

func (s *S3) Get(ctx context.Context, key string) (Object, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return Object{}, classifyMinioErr(err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		return Object{}, classifyMinioErr(err)
	}

	body, err := io.ReadAll(obj)
	if err != nil {
		return Object{}, classifyMinioErr(err)
	}
	return Object{Body: body, ETag: info.ETag}, nil
}

func (s *S3) GetIfNoneMatch(ctx context.Context, key, etag string) (Object, error) {
	opts := minio.GetObjectOptions{}
	if etag != "" {
		if err := opts.SetMatchETagExcept(etag); err != nil {
			return Object{}, err
		}
	}

	obj, err := s.client.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		return Object{}, classifyMinioErr(err)
	}
	defer obj.Close()

	info, err := obj.Stat()
	if err != nil {
		if isNotModified(err) {
			return Object{}, ErrNotModified
		}
		return Object{}, classifyMinioErr(err)
	}

	body, err := io.ReadAll(obj)
	if err != nil {
		return Object{}, classifyMinioErr(err)
	}
	return Object{Body: body, ETag: info.ETag}, nil
}

func (s *S3) Head(ctx context.Context, key string) (string, error) {
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return "", classifyMinioErr(err)
	}
	return info.ETag, nil
}

// Put writes body to key. Conditional writes (ifMatch/If-None-Match)
// are not part of minio.Client's high-level PutObject, so we go through
// minio.Core and pass the precondition headers through its metadata
// map, which minio-go forwards verbatim as request headers for
// non-x-amz-meta-prefixed keys.
func (s *S3) Put(ctx context.Context, key string, body []byte, ifMatch string) (string, error) {
	meta := map[string]string{"Content-Type": "application/json"}
	if ifMatch != "" {
		meta["If-Match"] = ifMatch
	} else {
		meta["If-None-Match"] = "*"
	}

	info, err := s.core.PutObject(ctx, s.bucket, key, bytes.NewReader(body), int64(len(body)), "", "", meta, nil)
	if err != nil {
		return "", classifyMinioErr(err)
	}
	return info.ETag, nil
}

func (s *S3) List(ctx context.Context, prefix, delimiter string) ([]Listing, error) {
	ch := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: delimiter == "",
	})
	var out []Listing
	for obj := range ch {
		if obj.Err != nil {
			return nil, classifyMinioErr(obj.Err)
		}
		out = append(out, Listing{Key: obj.Key, ETag: obj.ETag, LastModified: obj.LastModified})
	}
	return out, nil
}

func (s *S3) Delete(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	existed := err == nil

	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return existed, classifyMinioErr(err)
	}
	return existed, nil
}

func classifyMinioErr(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return ErrNotFound
	case "PreconditionFailed":
		return ErrPreconditionFailed
	}
	if resp.StatusCode == 404 {
		return ErrNotFound
	}
	if resp.StatusCode == 412 {
		return ErrPreconditionFailed
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "no such host") || strings.Contains(msg, "eof") {
		return ErrTransientNetwork
	}
	return err
}

func isNotModified(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.StatusCode == 304
}
