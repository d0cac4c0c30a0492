// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

// Package testsuite runs common storage.Adapter conformance tests.
package testsuite

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbal-labs/dbal/internal/testcontext"
	"github.com/dbal-labs/dbal/storage"
)

// RunTests runs common storage.Adapter tests. Each subtest uses its own
// entity so adapters with shared state can run the whole suite on one
// connection.
func RunTests(t *testing.T, adapter storage.Adapter) {
	t.Run("CRUD", func(t *testing.T) { testCRUD(t, adapter) })
	t.Run("Constraints", func(t *testing.T) { testConstraints(t, adapter) })
	t.Run("List", func(t *testing.T) { testList(t, adapter) })
	t.Run("TransactionCommit", func(t *testing.T) { testCommit(t, adapter) })
	t.Run("TransactionRollback", func(t *testing.T) { testRollback(t, adapter) })
	t.Run("TransactionTerminal", func(t *testing.T) { testTerminal(t, adapter) })
}

func testCRUD(t *testing.T, adapter storage.Adapter) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	created, err := adapter.Create(ctx, "suite_crud", storage.Record{"title": "x", "tenantId": "acme"})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID(), "create assigns an id when the doc has none")

	read, err := adapter.Read(ctx, "suite_crud", created.ID())
	require.NoError(t, err)
	assert.Equal(t, "x", read["title"])
	assert.Equal(t, "acme", read.TenantID())

	updated, err := adapter.Update(ctx, "suite_crud", created.ID(), storage.Record{"title": "y"})
	require.NoError(t, err)
	assert.Equal(t, "y", updated["title"])
	assert.Equal(t, created.ID(), updated.ID(), "update never changes the id")
	assert.Equal(t, "acme", updated.TenantID(), "update merges, does not replace")

	require.NoError(t, adapter.Remove(ctx, "suite_crud", created.ID()))
	_, err = adapter.Read(ctx, "suite_crud", created.ID())
	assert.Equal(t, storage.CodeNotFound, storage.ErrCode(err))
	assert.Equal(t, storage.CodeNotFound, storage.ErrCode(adapter.Remove(ctx, "suite_crud", created.ID())))
}

func testConstraints(t *testing.T, adapter storage.Adapter) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, err := adapter.Create(ctx, "suite_constraints", storage.Record{})
	assert.Equal(t, storage.CodeValidation, storage.ErrCode(err), "empty doc is rejected")

	_, err = adapter.Create(ctx, "suite_constraints", storage.Record{"id": "c1", "title": "a"})
	require.NoError(t, err)
	_, err = adapter.Create(ctx, "suite_constraints", storage.Record{"id": "c1", "title": "b"})
	assert.Equal(t, storage.CodeConflict, storage.ErrCode(err), "duplicate id conflicts")

	_, err = adapter.Read(ctx, "suite_constraints", "ghost")
	assert.Equal(t, storage.CodeNotFound, storage.ErrCode(err))
	_, err = adapter.Update(ctx, "suite_constraints", "ghost", storage.Record{"title": "x"})
	assert.Equal(t, storage.CodeNotFound, storage.ErrCode(err))
}

func testList(t *testing.T, adapter storage.Adapter) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	for _, doc := range []storage.Record{
		{"id": "1", "title": "c", "tenantId": "acme", "kind": "note"},
		{"id": "2", "title": "a", "tenantId": "acme", "kind": "note"},
		{"id": "3", "title": "b", "tenantId": "acme", "kind": "note"},
		{"id": "4", "title": "z", "tenantId": "beta", "kind": "note"},
		{"id": "5", "title": "d", "tenantId": "acme", "kind": "draft"},
	} {
		_, err := adapter.Create(ctx, "suite_list", doc)
		require.NoError(t, err)
	}

	result, err := adapter.List(ctx, "suite_list", storage.ListOptions{
		Filter: map[string]string{"tenantId": "acme", "kind": "note"},
		Sort:   []storage.SortOrder{{Field: "title"}},
		Limit:  2,
		Page:   1,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total, "total counts all filtered records, not one page")
	require.Len(t, result.Records, 2)
	assert.Equal(t, "a", result.Records[0]["title"])
	assert.Equal(t, "b", result.Records[1]["title"])

	result, err = adapter.List(ctx, "suite_list", storage.ListOptions{
		Filter: map[string]string{"tenantId": "acme", "kind": "note"},
		Sort:   []storage.SortOrder{{Field: "title"}},
		Limit:  2,
		Page:   2,
	})
	require.NoError(t, err)
	require.Len(t, result.Records, 1)
	assert.Equal(t, "c", result.Records[0]["title"])
}

func testCommit(t *testing.T, adapter storage.Adapter) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	tx, err := adapter.BeginTransaction(ctx)
	require.NoError(t, err)
	_, err = tx.Create(ctx, "suite_commit", storage.Record{"id": "p1", "title": "a"})
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	read, err := adapter.Read(ctx, "suite_commit", "p1")
	require.NoError(t, err)
	assert.Equal(t, "a", read["title"])
}

func testRollback(t *testing.T, adapter storage.Adapter) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, err := adapter.Create(ctx, "suite_rollback", storage.Record{"id": "keep", "title": "old"})
	require.NoError(t, err)

	tx, err := adapter.BeginTransaction(ctx)
	require.NoError(t, err)
	_, err = tx.Create(ctx, "suite_rollback", storage.Record{"id": "new", "title": "a"})
	require.NoError(t, err)
	_, err = tx.Update(ctx, "suite_rollback", "keep", storage.Record{"title": "changed"})
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	_, err = adapter.Read(ctx, "suite_rollback", "new")
	assert.Equal(t, storage.CodeNotFound, storage.ErrCode(err))
	read, err := adapter.Read(ctx, "suite_rollback", "keep")
	require.NoError(t, err)
	assert.Equal(t, "old", read["title"])
}

func testTerminal(t *testing.T, adapter storage.Adapter) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	tx, err := adapter.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	_, err = tx.Create(ctx, "suite_terminal", storage.Record{"title": "a"})
	assert.Error(t, err, "terminal scope rejects operations")
	assert.Error(t, tx.Commit())
	assert.Error(t, tx.Rollback())

	tx, err = adapter.BeginTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.Error(t, tx.Rollback())
}
