// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package registry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dbal-labs/dbal/internal/testcontext"
	"github.com/dbal-labs/dbal/storage"
	"github.com/dbal-labs/dbal/storage/registry"
	"github.com/dbal-labs/dbal/storage/teststore"
)

func TestNormalizeAndIsSupported(t *testing.T) {
	assert.Equal(t, "postgres", registry.Normalize("PostgreSQL"))
	assert.Equal(t, "elasticsearch", registry.Normalize("es"))
	assert.Equal(t, "surrealdb", registry.Normalize("surreal"))
	assert.Equal(t, "sqlite", registry.Normalize("SQLite"))

	assert.True(t, registry.IsSupported("postgresql"))
	assert.True(t, registry.IsSupported("tidb"))
	assert.False(t, registry.IsSupported("oracle"))

	assert.Len(t, registry.Names(), 13)
}

func TestProtocolOf(t *testing.T) {
	proto, err := registry.ProtocolOf("postgresql://localhost/db")
	require.NoError(t, err)
	assert.Equal(t, "postgres", proto)

	_, err = registry.ProtocolOf("oracle://localhost/db")
	require.Error(t, err)
	assert.Equal(t, storage.CodeValidation, storage.ErrCode(err))
}

func TestOpenRejectsMismatchedProtocol(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, err := registry.Open(ctx, zaptest.NewLogger(t), "postgres", "mysql://localhost/db")
	require.Error(t, err)
	assert.Equal(t, storage.CodeValidation, storage.ErrCode(err))
}

func TestOpenUnbuiltDriver(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	_, err := registry.Open(ctx, zaptest.NewLogger(t), "cassandra", "cassandra://localhost")
	require.Error(t, err)
	assert.Equal(t, storage.CodeCapability, storage.ErrCode(err))
}

func TestSwitchFailureKeepsActiveAdapter(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	reg := registry.New(zaptest.NewLogger(t), registry.Config{})
	store := teststore.New()
	reg.Install("memory", "memory://local", store)

	err := reg.Switch(ctx, "postgres", "mysql://localhost/db")
	require.Error(t, err)

	adapter, databaseURL := reg.Config()
	assert.Equal(t, "memory", adapter)
	assert.Equal(t, "memory://local", databaseURL)
	assert.Zero(t, store.CallCount.Close, "a failed switch never closes the active handle")

	active, err := reg.EnsureClient(ctx)
	require.NoError(t, err)
	assert.Same(t, store, active.(*teststore.Client))
}

func TestInstallClosesPrevious(t *testing.T) {
	reg := registry.New(zaptest.NewLogger(t), registry.Config{})
	first := teststore.New()
	second := teststore.New()

	reg.Install("memory", "memory://1", first)
	reg.Install("memory", "memory://2", second)
	assert.Equal(t, 1, first.CallCount.Close)

	require.NoError(t, reg.Close())
	assert.Equal(t, 1, second.CallCount.Close)
}

func TestTestConnectionDoesNotTouchActive(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	reg := registry.New(zaptest.NewLogger(t), registry.Config{})
	store := teststore.New()
	reg.Install("memory", "memory://local", store)

	err := reg.TestConnection(ctx, "sqlite", "sqlite://:memory:")
	require.NoError(t, err)

	adapter, _ := reg.Config()
	assert.Equal(t, "memory", adapter)
	assert.Zero(t, store.CallCount.Close)
}
