// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

// Package s3blob implements the blob backend contract against any
// S3-compatible object store.
package s3blob

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	minio "github.com/minio/minio-go"
	"github.com/minio/minio-go/pkg/credentials"
	"github.com/zeebo/errs"

	"github.com/dbal-labs/dbal/storage"
)

// Error is the default s3blob error class.
var Error = errs.Class("s3blob error")

const defaultMaxKeys = 1000

// Config selects the remote store.
type Config struct {
	// Endpoint is the service URL, e.g. https://s3.amazonaws.com or
	// http://127.0.0.1:9000 for a local gateway.
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
	// PathStyle forces path-style bucket addressing.
	PathStyle bool
}

// Store implements storage.Blobs against an S3-compatible service.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the configured endpoint. The bucket must already exist.
func New(config Config) (*Store, error) {
	endpoint, secure, err := splitEndpoint(config.Endpoint)
	if err != nil {
		return nil, err
	}
	lookup := minio.BucketLookupAuto
	if config.PathStyle {
		lookup = minio.BucketLookupPath
	}
	client, err := minio.NewWithOptions(endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure:       secure,
		Region:       config.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Store{client: client, bucket: config.Bucket}, nil
}

func splitEndpoint(raw string) (endpoint string, secure bool, err error) {
	if raw == "" {
		return "", false, storage.NewError(storage.CodeValidation, "s3 endpoint is not configured")
	}
	if !strings.Contains(raw, "://") {
		return raw, true, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", false, storage.NewError(storage.CodeValidation, "malformed s3 endpoint: %v", err)
	}
	return u.Host, u.Scheme != "http", nil
}

func (store *Store) classify(key string, err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NotFound":
		return storage.NewError(storage.CodeNotFound, "blob %q not found", key)
	case "AccessDenied":
		return storage.NewError(storage.CodeForbidden, "access denied for blob %q", key)
	case "RequestTimeout":
		return storage.NewError(storage.CodeTimeout, "s3 request timed out")
	}
	return storage.NewError(storage.CodeDatabase, "s3: %v", err)
}

func infoFromObject(obj minio.ObjectInfo) storage.BlobInfo {
	meta := map[string]string{}
	for header, values := range obj.Metadata {
		if strings.HasPrefix(http.CanonicalHeaderKey(header), "X-Amz-Meta-") && len(values) > 0 {
			name := strings.TrimPrefix(http.CanonicalHeaderKey(header), "X-Amz-Meta-")
			meta[strings.ToLower(name)] = values[0]
		}
	}
	if len(meta) == 0 {
		meta = nil
	}
	return storage.BlobInfo{
		Key:          obj.Key,
		Size:         obj.Size,
		ContentType:  obj.ContentType,
		ETag:         strings.Trim(obj.ETag, `"`),
		LastModified: obj.LastModified,
		Metadata:     meta,
	}
}

// Put implements storage.Blobs.
func (store *Store) Put(ctx context.Context, key string, body io.Reader, opts storage.PutBlobOptions) (storage.BlobInfo, error) {
	if !opts.Overwrite {
		if _, err := store.Stat(ctx, key); err == nil {
			return storage.BlobInfo{}, storage.NewError(storage.CodeConflict, "blob %q already exists", key)
		} else if !storage.IsCode(err, storage.CodeNotFound) {
			return storage.BlobInfo{}, err
		}
	}
	_, err := store.client.PutObjectWithContext(ctx, store.bucket, key, body, -1, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return storage.BlobInfo{}, store.classify(key, err)
	}
	return store.Stat(ctx, key)
}

// Get implements storage.Blobs.
func (store *Store) Get(ctx context.Context, key string) (io.ReadCloser, storage.BlobInfo, error) {
	info, err := store.Stat(ctx, key)
	if err != nil {
		return nil, storage.BlobInfo{}, err
	}
	obj, err := store.client.GetObjectWithContext(ctx, store.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, storage.BlobInfo{}, store.classify(key, err)
	}
	return obj, info, nil
}

// Stat implements storage.Blobs.
func (store *Store) Stat(ctx context.Context, key string) (storage.BlobInfo, error) {
	obj, err := store.client.StatObject(store.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return storage.BlobInfo{}, store.classify(key, err)
	}
	return infoFromObject(obj), nil
}

// Delete implements storage.Blobs.
func (store *Store) Delete(ctx context.Context, key string) error {
	if _, err := store.Stat(ctx, key); err != nil {
		return err
	}
	return store.classify(key, store.client.RemoveObject(store.bucket, key))
}

// List implements storage.Blobs.
func (store *Store) List(ctx context.Context, opts storage.ListBlobsOptions) (storage.BlobList, error) {
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}

	done := make(chan struct{})
	defer close(done)

	var infos []storage.BlobInfo
	for obj := range store.client.ListObjectsV2(store.bucket, opts.Prefix, true, done) {
		if obj.Err != nil {
			return storage.BlobList{}, store.classify(opts.Prefix, obj.Err)
		}
		if obj.Key <= opts.ContinuationToken {
			continue
		}
		infos = append(infos, infoFromObject(obj))
	}
	sort.Slice(infos, func(i, k int) bool { return infos[i].Key < infos[k].Key })

	var list storage.BlobList
	for _, info := range infos {
		if len(list.Items) >= maxKeys {
			list.Truncated = true
			list.NextContinuationToken = list.Items[len(list.Items)-1].Key
			break
		}
		list.Items = append(list.Items, info)
	}
	return list, nil
}

// Stats implements storage.Blobs.
func (store *Store) Stats(ctx context.Context, prefix string) (storage.BlobStats, error) {
	done := make(chan struct{})
	defer close(done)

	var stats storage.BlobStats
	for obj := range store.client.ListObjectsV2(store.bucket, prefix, true, done) {
		if obj.Err != nil {
			return storage.BlobStats{}, store.classify(prefix, obj.Err)
		}
		stats.ObjectCount++
		stats.TotalSize += obj.Size
	}
	return stats, nil
}

// Copy implements storage.Blobs.
func (store *Store) Copy(ctx context.Context, srcKey, destKey string) (storage.BlobInfo, error) {
	src := minio.NewSourceInfo(store.bucket, srcKey, nil)
	dst, err := minio.NewDestinationInfo(store.bucket, destKey, nil, nil)
	if err != nil {
		return storage.BlobInfo{}, Error.Wrap(err)
	}
	if err := store.client.CopyObject(dst, src); err != nil {
		return storage.BlobInfo{}, store.classify(srcKey, err)
	}
	return store.Stat(ctx, destKey)
}

// Presign implements storage.Blobs.
func (store *Store) Presign(ctx context.Context, key string, expires time.Duration) (string, error) {
	if _, err := store.Stat(ctx, key); err != nil {
		return "", err
	}
	u, err := store.client.PresignedGetObject(store.bucket, key, expires, url.Values{})
	if err != nil {
		return "", store.classify(key, err)
	}
	return u.String(), nil
}

// Close implements storage.Blobs.
func (store *Store) Close() error { return nil }
