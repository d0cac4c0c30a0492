// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

// Package memblob implements the blob backend contract in process memory.
// It is the default backend and the one tests run against.
package memblob

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dbal-labs/dbal/storage"
)

const defaultMaxKeys = 1000

type blob struct {
	data []byte
	info storage.BlobInfo
}

// Store implements storage.Blobs in memory.
type Store struct {
	mu    sync.Mutex
	blobs map[string]blob
	nowFn func() time.Time
}

// New creates an empty in-memory blob store.
func New() *Store {
	return &Store{blobs: map[string]blob{}, nowFn: time.Now}
}

// SetNow overrides the clock; used by tests.
func (store *Store) SetNow(nowFn func() time.Time) { store.nowFn = nowFn }

// Put implements storage.Blobs.
func (store *Store) Put(ctx context.Context, key string, body io.Reader, opts storage.PutBlobOptions) (storage.BlobInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.BlobInfo{}, storage.NewError(storage.CodeInternal, "reading upload body: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()

	if _, exists := store.blobs[key]; exists && !opts.Overwrite {
		return storage.BlobInfo{}, storage.NewError(storage.CodeConflict, "blob %q already exists", key)
	}

	sum := md5.Sum(data)
	info := storage.BlobInfo{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(sum[:]),
		LastModified: store.nowFn().UTC(),
		Metadata:     copyMeta(opts.Metadata),
	}
	store.blobs[key] = blob{data: data, info: info}
	return info, nil
}

// Get implements storage.Blobs.
func (store *Store) Get(ctx context.Context, key string) (io.ReadCloser, storage.BlobInfo, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	b, ok := store.blobs[key]
	if !ok {
		return nil, storage.BlobInfo{}, storage.NewError(storage.CodeNotFound, "blob %q not found", key)
	}
	return io.NopCloser(bytes.NewReader(b.data)), b.info, nil
}

// Stat implements storage.Blobs.
func (store *Store) Stat(ctx context.Context, key string) (storage.BlobInfo, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	b, ok := store.blobs[key]
	if !ok {
		return storage.BlobInfo{}, storage.NewError(storage.CodeNotFound, "blob %q not found", key)
	}
	return b.info, nil
}

// Delete implements storage.Blobs.
func (store *Store) Delete(ctx context.Context, key string) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	if _, ok := store.blobs[key]; !ok {
		return storage.NewError(storage.CodeNotFound, "blob %q not found", key)
	}
	delete(store.blobs, key)
	return nil
}

// List implements storage.Blobs.
func (store *Store) List(ctx context.Context, opts storage.ListBlobsOptions) (storage.BlobList, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	var keys []string
	for key := range store.blobs {
		if strings.HasPrefix(key, opts.Prefix) && key > opts.ContinuationToken {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}

	var list storage.BlobList
	for _, key := range keys {
		if len(list.Items) >= maxKeys {
			list.Truncated = true
			list.NextContinuationToken = list.Items[len(list.Items)-1].Key
			break
		}
		list.Items = append(list.Items, store.blobs[key].info)
	}
	return list, nil
}

// Stats implements storage.Blobs.
func (store *Store) Stats(ctx context.Context, prefix string) (storage.BlobStats, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var stats storage.BlobStats
	for key, b := range store.blobs {
		if strings.HasPrefix(key, prefix) {
			stats.ObjectCount++
			stats.TotalSize += b.info.Size
		}
	}
	return stats, nil
}

// Copy implements storage.Blobs.
func (store *Store) Copy(ctx context.Context, srcKey, destKey string) (storage.BlobInfo, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	src, ok := store.blobs[srcKey]
	if !ok {
		return storage.BlobInfo{}, storage.NewError(storage.CodeNotFound, "blob %q not found", srcKey)
	}
	info := src.info
	info.Key = destKey
	info.LastModified = store.nowFn().UTC()
	info.Metadata = copyMeta(src.info.Metadata)
	store.blobs[destKey] = blob{data: src.data, info: info}
	return info, nil
}

// Presign implements storage.Blobs. Memory blobs have no external URL.
func (store *Store) Presign(ctx context.Context, key string, expires time.Duration) (string, error) {
	return "", storage.NewError(storage.CodeCapability, "memory blob backend cannot presign URLs")
}

// Close implements storage.Blobs.
func (store *Store) Close() error { return nil }

func copyMeta(meta map[string]string) map[string]string {
	if meta == nil {
		return nil
	}
	dup := make(map[string]string, len(meta))
	for k, v := range meta {
		dup[k] = v
	}
	return dup
}
