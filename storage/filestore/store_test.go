// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package filestore

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbal-labs/dbal/internal/testcontext"
	"github.com/dbal-labs/dbal/storage"
)

func newStore(t *testing.T, ctx *testcontext.Context) *Store {
	store, err := NewAt(ctx.Dir("blobs"))
	require.NoError(t, err)
	return store
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	store := newStore(t, ctx)

	payload := []byte("file payload")
	info, err := store.Put(ctx, "docs/readme.txt", bytes.NewReader(payload), storage.PutBlobOptions{
		ContentType: "text/plain",
		Metadata:    map[string]string{"owner": "bob"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), info.Size)

	reader, got, err := store.Get(ctx, "docs/readme.txt")
	require.NoError(t, err)
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.NoError(t, reader.Close())

	assert.Equal(t, payload, data)
	assert.Equal(t, "text/plain", got.ContentType)
	assert.Equal(t, info.ETag, got.ETag)
	assert.Equal(t, "bob", got.Metadata["owner"])
}

func TestKeyValidation(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	store := newStore(t, ctx)

	for _, key := range []string{"", "../escape", "a//b", "a/./b", "a/../b"} {
		_, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), storage.PutBlobOptions{})
		assert.Equal(t, storage.CodeValidation, storage.ErrCode(err), "key %q", key)
	}
}

func TestListSkipsSidecars(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	store := newStore(t, ctx)

	for _, key := range []string{"a/1", "a/2", "b/3"} {
		_, err := store.Put(ctx, key, bytes.NewReader([]byte("x")), storage.PutBlobOptions{})
		require.NoError(t, err)
	}

	list, err := store.List(ctx, storage.ListBlobsOptions{Prefix: "a/"})
	require.NoError(t, err)
	require.Len(t, list.Items, 2)
	assert.Equal(t, "a/1", list.Items[0].Key)
	assert.Equal(t, "a/2", list.Items[1].Key)

	stats, err := store.Stats(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.ObjectCount)
	assert.Equal(t, int64(3), stats.TotalSize)
}

func TestDeleteRemovesSidecar(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	store := newStore(t, ctx)

	_, err := store.Put(ctx, "k", bytes.NewReader([]byte("x")), storage.PutBlobOptions{})
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "k"))

	_, err = store.Stat(ctx, "k")
	assert.Equal(t, storage.CodeNotFound, storage.ErrCode(err))

	list, err := store.List(ctx, storage.ListBlobsOptions{})
	require.NoError(t, err)
	assert.Empty(t, list.Items)
}

func TestOverwriteConflict(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	store := newStore(t, ctx)

	_, err := store.Put(ctx, "k", bytes.NewReader([]byte("one")), storage.PutBlobOptions{})
	require.NoError(t, err)

	_, err = store.Put(ctx, "k", bytes.NewReader([]byte("two")), storage.PutBlobOptions{})
	assert.Equal(t, storage.CodeConflict, storage.ErrCode(err))
}

func TestCopyPreservesMetadata(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()
	store := newStore(t, ctx)

	_, err := store.Put(ctx, "src", bytes.NewReader([]byte("data")), storage.PutBlobOptions{
		ContentType: "application/octet-stream",
		Metadata:    map[string]string{"k": "v"},
	})
	require.NoError(t, err)

	info, err := store.Copy(ctx, "src", "dst")
	require.NoError(t, err)
	assert.Equal(t, "dst", info.Key)
	assert.Equal(t, "application/octet-stream", info.ContentType)
	assert.Equal(t, "v", info.Metadata["k"])
}
