// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package server_test

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dbal-labs/dbal/schemas"
	"github.com/dbal-labs/dbal/server"
	"github.com/dbal-labs/dbal/storage/memblob"
	"github.com/dbal-labs/dbal/storage/registry"
	"github.com/dbal-labs/dbal/storage/teststore"
)

func newSchemaTestServer(t *testing.T, config schemas.Config) *testServer {
	log := zaptest.NewLogger(t)

	reg := registry.New(log, registry.Config{Adapter: "sqlite", DatabaseURL: "sqlite://:memory:"})
	store := teststore.New()
	reg.Install("memory", "memory://local", store)

	schemaRegistry, err := schemas.NewRegistry(log, config)
	require.NoError(t, err)

	srv := server.New(log, server.Config{}, reg, memblob.New(), schemaRegistry, nil)
	t.Cleanup(func() { _ = srv.Close() })
	return &testServer{handler: srv.Router(), store: store, registry: reg}
}

func TestSchemaScanApproveGenerate(t *testing.T) {
	packages := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(packages, "forum"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(packages, "forum", "posts.yaml"), []byte(
		"entity: posts\nfields:\n  - name: title\n    type: string\n    required: true\n"), 0600))

	output := filepath.Join(t.TempDir(), "generated.prisma")
	ts := newSchemaTestServer(t, schemas.Config{
		PackagesPath: packages,
		RegistryPath: filepath.Join(t.TempDir(), "registry.yaml"),
		OutputPath:   output,
	})

	w, env := ts.json(t, http.MethodPost, "/api/dbal/schema", map[string]interface{}{"action": "scan"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var scan struct {
		Pending []schemas.Migration `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &scan))
	require.Len(t, scan.Pending, 1)
	assert.Equal(t, "create", scan.Pending[0].Kind)
	migrationID := scan.Pending[0].ID

	w, _ = ts.json(t, http.MethodPost, "/api/dbal/schema", map[string]interface{}{
		"action": "approve",
		"id":     migrationID,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w, env = ts.json(t, http.MethodGet, "/api/dbal/schema", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Schemas []schemas.EntitySchema `json:"schemas"`
		Pending []schemas.Migration    `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &listing))
	require.Len(t, listing.Schemas, 1)
	assert.Equal(t, "posts", listing.Schemas[0].Entity)
	assert.Empty(t, listing.Pending)

	w, _ = ts.json(t, http.MethodPost, "/api/dbal/schema", map[string]interface{}{"action": "generate"})
	require.Equal(t, http.StatusOK, w.Code)

	rendered, err := os.ReadFile(output)
	require.NoError(t, err)
	assert.Contains(t, string(rendered), "model posts")
	assert.Contains(t, string(rendered), "title String")
}

func TestSchemaActionValidation(t *testing.T) {
	ts := newSchemaTestServer(t, schemas.Config{})

	w, _ := ts.json(t, http.MethodPost, "/api/dbal/schema", map[string]interface{}{"action": "approve"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, _ = ts.json(t, http.MethodPost, "/api/dbal/schema", map[string]interface{}{"action": "approve", "id": "mig-ffffff"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = ts.json(t, http.MethodPost, "/api/dbal/schema", map[string]interface{}{"action": "explode"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
