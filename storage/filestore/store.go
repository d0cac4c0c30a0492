// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

// Package filestore implements the blob backend contract on the local
// filesystem. Each blob is a file under the configured root; its metadata
// lives in a sidecar JSON file written before the data file is committed,
// and uploads go through a temporary file plus rename so readers never
// observe a half-written blob.
package filestore

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/zeebo/errs"

	"github.com/dbal-labs/dbal/storage"
)

// Error is the default filestore error class.
var Error = errs.Class("filestore error")

const (
	metaSuffix     = ".dbalmeta"
	defaultMaxKeys = 1000
	dirMode        = 0700
	fileMode       = 0600
)

// Store implements storage.Blobs on a directory tree.
type Store struct {
	root string
}

// NewAt creates a blob store rooted at path, creating it when missing.
func NewAt(path string) (*Store, error) {
	if err := os.MkdirAll(path, dirMode); err != nil {
		return nil, Error.Wrap(err)
	}
	return &Store{root: path}, nil
}

// sidecar is the persisted blob metadata.
type sidecar struct {
	ContentType  string            `json:"contentType"`
	ETag         string            `json:"etag"`
	LastModified time.Time         `json:"lastModified"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

func (store *Store) pathFor(key string) (string, error) {
	if key == "" {
		return "", storage.NewError(storage.CodeValidation, "blob key must not be empty")
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." {
			return "", storage.NewError(storage.CodeValidation, "invalid blob key %q", key)
		}
	}
	return filepath.Join(store.root, filepath.FromSlash(key)), nil
}

func (store *Store) readSidecar(path string) (sidecar, error) {
	raw, err := os.ReadFile(path + metaSuffix)
	if err != nil {
		return sidecar{}, err
	}
	var meta sidecar
	if err := json.Unmarshal(raw, &meta); err != nil {
		return sidecar{}, err
	}
	return meta, nil
}

func (store *Store) info(key, path string) (storage.BlobInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return storage.BlobInfo{}, storage.NewError(storage.CodeNotFound, "blob %q not found", key)
		}
		return storage.BlobInfo{}, Error.Wrap(err)
	}
	meta, err := store.readSidecar(path)
	if err != nil {
		return storage.BlobInfo{}, Error.Wrap(err)
	}
	return storage.BlobInfo{
		Key:          key,
		Size:         stat.Size(),
		ContentType:  meta.ContentType,
		ETag:         meta.ETag,
		LastModified: meta.LastModified,
		Metadata:     meta.Metadata,
	}, nil
}

// Put implements storage.Blobs.
func (store *Store) Put(ctx context.Context, key string, body io.Reader, opts storage.PutBlobOptions) (storage.BlobInfo, error) {
	path, err := store.pathFor(key)
	if err != nil {
		return storage.BlobInfo{}, err
	}
	if !opts.Overwrite {
		if _, err := os.Stat(path); err == nil {
			return storage.BlobInfo{}, storage.NewError(storage.CodeConflict, "blob %q already exists", key)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return storage.BlobInfo{}, Error.Wrap(err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".upload-*")
	if err != nil {
		return storage.BlobInfo{}, Error.Wrap(err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	hash := md5.New()
	size, err := io.Copy(io.MultiWriter(tmp, hash), body)
	if err != nil {
		_ = tmp.Close()
		return storage.BlobInfo{}, Error.Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		return storage.BlobInfo{}, Error.Wrap(err)
	}

	meta := sidecar{
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(hash.Sum(nil)),
		LastModified: time.Now().UTC(),
		Metadata:     opts.Metadata,
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return storage.BlobInfo{}, Error.Wrap(err)
	}
	if err := os.WriteFile(path+metaSuffix, raw, fileMode); err != nil {
		return storage.BlobInfo{}, Error.Wrap(err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return storage.BlobInfo{}, Error.Wrap(err)
	}

	return storage.BlobInfo{
		Key:          key,
		Size:         size,
		ContentType:  meta.ContentType,
		ETag:         meta.ETag,
		LastModified: meta.LastModified,
		Metadata:     meta.Metadata,
	}, nil
}

// Get implements storage.Blobs.
func (store *Store) Get(ctx context.Context, key string) (io.ReadCloser, storage.BlobInfo, error) {
	path, err := store.pathFor(key)
	if err != nil {
		return nil, storage.BlobInfo{}, err
	}
	info, err := store.info(key, path)
	if err != nil {
		return nil, storage.BlobInfo{}, err
	}
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.BlobInfo{}, storage.NewError(storage.CodeNotFound, "blob %q not found", key)
		}
		return nil, storage.BlobInfo{}, Error.Wrap(err)
	}
	return file, info, nil
}

// Stat implements storage.Blobs.
func (store *Store) Stat(ctx context.Context, key string) (storage.BlobInfo, error) {
	path, err := store.pathFor(key)
	if err != nil {
		return storage.BlobInfo{}, err
	}
	return store.info(key, path)
}

// Delete implements storage.Blobs.
func (store *Store) Delete(ctx context.Context, key string) error {
	path, err := store.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return storage.NewError(storage.CodeNotFound, "blob %q not found", key)
		}
		return Error.Wrap(err)
	}
	_ = os.Remove(path + metaSuffix)
	return nil
}

func (store *Store) walkKeys(prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(store.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || strings.HasSuffix(path, metaSuffix) || strings.HasPrefix(entry.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(store.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	sort.Strings(keys)
	return keys, nil
}

// List implements storage.Blobs.
func (store *Store) List(ctx context.Context, opts storage.ListBlobsOptions) (storage.BlobList, error) {
	keys, err := store.walkKeys(opts.Prefix)
	if err != nil {
		return storage.BlobList{}, err
	}

	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}

	var list storage.BlobList
	for _, key := range keys {
		if key <= opts.ContinuationToken {
			continue
		}
		if len(list.Items) >= maxKeys {
			list.Truncated = true
			list.NextContinuationToken = list.Items[len(list.Items)-1].Key
			break
		}
		path, err := store.pathFor(key)
		if err != nil {
			return storage.BlobList{}, err
		}
		info, err := store.info(key, path)
		if err != nil {
			return storage.BlobList{}, err
		}
		list.Items = append(list.Items, info)
	}
	return list, nil
}

// Stats implements storage.Blobs.
func (store *Store) Stats(ctx context.Context, prefix string) (storage.BlobStats, error) {
	keys, err := store.walkKeys(prefix)
	if err != nil {
		return storage.BlobStats{}, err
	}
	var stats storage.BlobStats
	for _, key := range keys {
		path, err := store.pathFor(key)
		if err != nil {
			return storage.BlobStats{}, err
		}
		stat, err := os.Stat(path)
		if err != nil {
			continue
		}
		stats.ObjectCount++
		stats.TotalSize += stat.Size()
	}
	return stats, nil
}

// Copy implements storage.Blobs.
func (store *Store) Copy(ctx context.Context, srcKey, destKey string) (storage.BlobInfo, error) {
	reader, info, err := store.Get(ctx, srcKey)
	if err != nil {
		return storage.BlobInfo{}, err
	}
	defer func() { _ = reader.Close() }()
	return store.Put(ctx, destKey, reader, storage.PutBlobOptions{
		ContentType: info.ContentType,
		Metadata:    info.Metadata,
		Overwrite:   true,
	})
}

// Presign implements storage.Blobs. Local files have no external URL.
func (store *Store) Presign(ctx context.Context, key string, expires time.Duration) (string, error) {
	return "", storage.NewError(storage.CodeCapability, "filesystem blob backend cannot presign URLs")
}

// Close implements storage.Blobs.
func (store *Store) Close() error { return nil }
