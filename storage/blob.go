// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package storage

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored blob. ETag is opaque but stable across
// non-mutating reads.
type BlobInfo struct {
	Key          string
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
	Metadata     map[string]string
}

// PutBlobOptions control a blob upload.
type PutBlobOptions struct {
	ContentType string
	Metadata    map[string]string
	// Overwrite allows replacing an existing blob; when false a Put over an
	// existing key fails with Conflict.
	Overwrite bool
}

// ListBlobsOptions control a prefix listing.
type ListBlobsOptions struct {
	Prefix string
	// ContinuationToken resumes listing after the named key.
	ContinuationToken string
	// MaxKeys caps the page size; zero means backend default.
	MaxKeys int
}

// BlobList is one page of a listing.
type BlobList struct {
	Items     []BlobInfo
	Truncated bool
	// NextContinuationToken is set when Truncated is true.
	NextContinuationToken string
}

// BlobStats aggregates usage over all blobs in a backend.
type BlobStats struct {
	TotalSize   int64
	ObjectCount int64
}

// Blobs is the blob storage backend contract. Keys are full storage keys;
// tenant/package namespacing happens in the HTTP facade. Backends that do
// not support an operation return CapabilityNotSupported.
type Blobs interface {
	// Put stores the body under key and returns the resulting metadata.
	Put(ctx context.Context, key string, body io.Reader, opts PutBlobOptions) (BlobInfo, error)
	// Get opens the blob for reading.
	Get(ctx context.Context, key string) (io.ReadCloser, BlobInfo, error)
	// Stat returns blob metadata without the body.
	Stat(ctx context.Context, key string) (BlobInfo, error)
	// Delete removes the blob.
	Delete(ctx context.Context, key string) error
	// List returns one page of keys under a prefix.
	List(ctx context.Context, opts ListBlobsOptions) (BlobList, error)
	// Stats aggregates size and count under a prefix.
	Stats(ctx context.Context, prefix string) (BlobStats, error)
	// Copy duplicates a blob within the backend.
	Copy(ctx context.Context, srcKey, destKey string) (BlobInfo, error)
	// Presign returns a time-limited direct download URL.
	Presign(ctx context.Context, key string, expires time.Duration) (string, error)

	Close() error
}
