// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dbal-labs/dbal/internal/testcontext"
	"github.com/dbal-labs/dbal/storage"
)

func TestNewRegistryDefaultsToSandbox(t *testing.T) {
	ctx := testcontext.New(t)
	defer ctx.Cleanup()

	reg := newRegistry(zaptest.NewLogger(t), runConfig{Mode: "dev"})
	defer func() { _ = reg.Close() }()

	assert.True(t, reg.Sandbox())
	name, url := reg.Config()
	assert.Equal(t, "sandbox", name)
	assert.Empty(t, url)

	// The installed store serves requests without any database behind it.
	adapter, err := reg.EnsureClient(ctx)
	require.NoError(t, err)
	assert.Equal(t, "memory", adapter.Name())

	created, err := adapter.Create(ctx, "posts", storage.Record{"title": "hello"})
	require.NoError(t, err)
	read, err := adapter.Read(ctx, "posts", created.ID())
	require.NoError(t, err)
	assert.Equal(t, "hello", read["title"])
}

func TestNewRegistryExplicitSandboxWinsOverAdapter(t *testing.T) {
	reg := newRegistry(zaptest.NewLogger(t), runConfig{
		Mode:        "dev",
		Adapter:     "sqlite",
		DatabaseURL: "sqlite://:memory:",
		Sandbox:     true,
	})
	defer func() { _ = reg.Close() }()

	assert.True(t, reg.Sandbox())
	name, _ := reg.Config()
	assert.Equal(t, "sandbox", name)
}

func TestNewRegistryConfiguredAdapterStaysLazy(t *testing.T) {
	reg := newRegistry(zaptest.NewLogger(t), runConfig{
		Mode:        "prod",
		Adapter:     "sqlite",
		DatabaseURL: "sqlite://:memory:",
	})
	defer func() { _ = reg.Close() }()

	assert.False(t, reg.Sandbox())
	name, url := reg.Config()
	assert.Equal(t, "sqlite", name)
	assert.Equal(t, "sqlite://:memory:", url)
}
