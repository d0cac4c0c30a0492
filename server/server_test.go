// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package server_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/dbal-labs/dbal/schemas"
	"github.com/dbal-labs/dbal/server"
	"github.com/dbal-labs/dbal/storage"
	"github.com/dbal-labs/dbal/storage/memblob"
	"github.com/dbal-labs/dbal/storage/registry"
	"github.com/dbal-labs/dbal/storage/teststore"
)

type testServer struct {
	handler  http.Handler
	store    *teststore.Client
	registry *registry.Registry
}

func newTestServer(t *testing.T, config server.Config) *testServer {
	log := zaptest.NewLogger(t)

	reg := registry.New(log, registry.Config{
		Adapter:     "sqlite",
		DatabaseURL: "sqlite://:memory:",
		Mode:        "test",
	})
	store := teststore.New()
	reg.Install("memory", "memory://local", store)

	schemaRegistry, err := schemas.NewRegistry(log, schemas.Config{})
	require.NoError(t, err)

	srv := server.New(log, config, reg, memblob.New(), schemaRegistry, nil)
	t.Cleanup(func() { _ = srv.Close() })
	return &testServer{
		handler:  srv.Router(),
		store:    store,
		registry: reg,
	}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

func (ts *testServer) request(t *testing.T, method, path string, body []byte, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader(body)
	}
	r := httptest.NewRequest(method, path, reader)
	for key, values := range header {
		for _, value := range values {
			r.Header.Add(key, value)
		}
	}
	w := httptest.NewRecorder()
	ts.handler.ServeHTTP(w, r)
	return w
}

func (ts *testServer) json(t *testing.T, method, path string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	w := ts.request(t, method, path, raw, nil)
	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), "body: %s", w.Body.String())
	}
	return w, env
}

func dataRecord(t *testing.T, env envelope) storage.Record {
	t.Helper()
	var record storage.Record
	require.NoError(t, json.Unmarshal(env.Data, &record))
	return record
}

func TestCreateInjectsTenant(t *testing.T) {
	ts := newTestServer(t, server.Config{})

	w, env := ts.json(t, http.MethodPost, "/acme/forum/posts", map[string]interface{}{"title": "x"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.True(t, env.Success)
	assert.Equal(t, server.Version, "1.0.0")
	assert.Equal(t, "DBAL/1.0.0", w.Header().Get("Server"))

	record := dataRecord(t, env)
	assert.Equal(t, "acme", record.TenantID())
	assert.NotEmpty(t, record.ID())
}

func TestTenantIsolationOnRead(t *testing.T) {
	ts := newTestServer(t, server.Config{})

	_, env := ts.json(t, http.MethodPost, "/acme/forum/posts", map[string]interface{}{"title": "x"})
	id := dataRecord(t, env).ID()

	w, got := ts.json(t, http.MethodGet, "/acme/forum/posts/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "x", dataRecord(t, got)["title"])

	// Another tenant sees NotFound, not Forbidden.
	w, got = ts.json(t, http.MethodGet, "/other/forum/posts/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.False(t, got.Success)
}

func TestTenantIsolationOnMutation(t *testing.T) {
	ts := newTestServer(t, server.Config{})

	_, env := ts.json(t, http.MethodPost, "/acme/forum/posts", map[string]interface{}{"title": "x"})
	id := dataRecord(t, env).ID()

	w, _ := ts.json(t, http.MethodPut, "/other/forum/posts/"+id, map[string]interface{}{"title": "stolen"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = ts.json(t, http.MethodDelete, "/other/forum/posts/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// The record is untouched.
	w, got := ts.json(t, http.MethodGet, "/acme/forum/posts/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "x", dataRecord(t, got)["title"])
}

func TestUpdateSemantics(t *testing.T) {
	ts := newTestServer(t, server.Config{})

	_, env := ts.json(t, http.MethodPost, "/acme/forum/posts", map[string]interface{}{"title": "x", "views": 1})
	id := dataRecord(t, env).ID()

	w, got := ts.json(t, http.MethodPut, "/acme/forum/posts/"+id, map[string]interface{}{"title": "y"})
	require.Equal(t, http.StatusOK, w.Code)
	record := dataRecord(t, got)
	assert.Equal(t, "y", record["title"])
	assert.NotNil(t, record["views"])

	// Updating twice with the same body is idempotent.
	w2, got2 := ts.json(t, http.MethodPut, "/acme/forum/posts/"+id, map[string]interface{}{"title": "y"})
	require.Equal(t, w.Code, w2.Code)
	assert.Equal(t, string(got.Data), string(got2.Data))

	// Empty body is a validation error.
	w, _ = ts.json(t, http.MethodPut, "/acme/forum/posts/"+id, map[string]interface{}{})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestDispatcherRejectsPostWithID(t *testing.T) {
	ts := newTestServer(t, server.Config{})

	w, env := ts.json(t, http.MethodPost, "/acme/forum/posts/some_id", map[string]interface{}{"title": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Error, "PUT")
}

func TestDispatcherRejectsUnknownAction(t *testing.T) {
	ts := newTestServer(t, server.Config{})

	w, _ := ts.json(t, http.MethodGet, "/acme/forum/posts/p1/publish", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouteValidationOverHTTP(t *testing.T) {
	ts := newTestServer(t, server.Config{})

	w, _ := ts.json(t, http.MethodGet, "/invalid/forum/posts", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListFilterSortPaginate(t *testing.T) {
	ts := newTestServer(t, server.Config{})

	for _, title := range []string{"c", "a", "b"} {
		w, _ := ts.json(t, http.MethodPost, "/acme/forum/posts", map[string]interface{}{"title": title, "kind": "note"})
		require.Equal(t, http.StatusOK, w.Code)
	}
	w, _ := ts.json(t, http.MethodPost, "/acme/forum/posts", map[string]interface{}{"title": "z", "kind": "draft"})
	require.Equal(t, http.StatusOK, w.Code)
	// A record owned by another tenant never shows up.
	w, _ = ts.json(t, http.MethodPost, "/beta/forum/posts", map[string]interface{}{"title": "hidden", "kind": "note"})
	require.Equal(t, http.StatusOK, w.Code)

	w, env := ts.json(t, http.MethodGet, "/acme/forum/posts?filter.kind=note&sort.title=asc&limit=2&page=1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var listing struct {
		Data  []storage.Record `json:"data"`
		Total int              `json:"total"`
		Page  int              `json:"page"`
		Limit int              `json:"limit"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &listing))
	assert.Equal(t, 3, listing.Total)
	assert.Equal(t, 1, listing.Page)
	assert.Equal(t, 2, listing.Limit)
	require.Len(t, listing.Data, 2)
	assert.Equal(t, "a", listing.Data[0]["title"])
	assert.Equal(t, "b", listing.Data[1]["title"])

	// offset converts to a page when page is absent.
	w, env = ts.json(t, http.MethodGet, "/acme/forum/posts?filter.kind=note&sort.title=asc&limit=2&offset=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &listing))
	assert.Equal(t, 2, listing.Page)
	require.Len(t, listing.Data, 1)
	assert.Equal(t, "c", listing.Data[0]["title"])
}

func TestListRejectsInvalidParams(t *testing.T) {
	ts := newTestServer(t, server.Config{})

	for _, query := range []string{"limit=0", "limit=-3", "limit=abc", "page=0", "skip=-1", "sort.title=upwards"} {
		w, _ := ts.json(t, http.MethodGet, "/acme/forum/posts?"+query, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, "query %q", query)
	}
}

func TestHealthAndVersion(t *testing.T) {
	ts := newTestServer(t, server.Config{})

	for _, path := range []string{"/health", "/healthz"} {
		w, env := ts.json(t, http.MethodGet, path, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.True(t, env.Success)
	}

	w, env := ts.json(t, http.MethodGet, "/api/version", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(env.Data), "1.0.0")

	w, _ = ts.json(t, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = ts.request(t, http.MethodOptions, "/health", nil, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestReadRateLimit(t *testing.T) {
	ts := newTestServer(t, server.Config{})

	for i := 0; i < 100; i++ {
		w, _ := ts.json(t, http.MethodGet, "/a/b/c", nil)
		require.NotEqual(t, http.StatusTooManyRequests, w.Code, "request %d", i)
	}
	w, _ := ts.json(t, http.MethodGet, "/a/b/c", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Zero(t, w.Body.Len())

	// Mutations run on an independent limiter and still pass.
	w, _ = ts.json(t, http.MethodPost, "/a/b/c", map[string]interface{}{"k": "v"})
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPreflightDoesNotConsumeMutationBudget(t *testing.T) {
	ts := newTestServer(t, server.Config{})

	// CORS preflights land on the read limiter, so a chatty browser cannot
	// starve the mutation window for the same client.
	for i := 0; i < 60; i++ {
		w := ts.request(t, http.MethodOptions, "/acme/forum/blob/x.bin", nil, nil)
		require.NotEqual(t, http.StatusTooManyRequests, w.Code, "preflight %d", i)
	}

	w := ts.request(t, http.MethodPut, "/acme/forum/blob/x.bin", []byte("data"), nil)
	assert.Equal(t, http.StatusCreated, w.Code)
}
