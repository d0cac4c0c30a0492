// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package server_test

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbal-labs/dbal/server"
	"github.com/dbal-labs/dbal/storage"
)

func listTitles(t *testing.T, ts *testServer, path string) []string {
	t.Helper()
	w, env := ts.json(t, http.MethodGet, path+"?limit=100", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var listing struct {
		Data []storage.Record `json:"data"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &listing))
	titles := make([]string, 0, len(listing.Data))
	for _, record := range listing.Data {
		if title, ok := record["title"].(string); ok {
			titles = append(titles, title)
		}
	}
	return titles
}

func TestBulkCreate(t *testing.T) {
	ts := newTestServer(t, server.Config{})

	w, env := ts.json(t, http.MethodPost, "/acme/forum/posts/_bulk/create", []map[string]interface{}{
		{"title": "a"}, {"title": "b"},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result struct {
		Count   int              `json:"count"`
		Records []storage.Record `json:"records"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, 2, result.Count)
	require.Len(t, result.Records, 2)
	for _, record := range result.Records {
		assert.Equal(t, "acme", record.TenantID())
		assert.NotEmpty(t, record.ID())
	}
}

func TestBulkCreateIsAtomic(t *testing.T) {
	ts := newTestServer(t, server.Config{})

	// The empty object fails adapter validation at index 2; nothing from
	// the request survives the rollback.
	w, env := ts.json(t, http.MethodPost, "/acme/forum/posts/_bulk/create", []map[string]interface{}{
		{"title": "a"}, {"title": "b"}, {},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, env.Error, "index 2")

	assert.Empty(t, listTitles(t, ts, "/acme/forum/posts"))
}

func TestBulkUpdateAndDelete(t *testing.T) {
	ts := newTestServer(t, server.Config{})

	_, env := ts.json(t, http.MethodPost, "/acme/forum/posts", map[string]interface{}{"title": "a"})
	id := dataRecord(t, env).ID()

	w, env := ts.json(t, http.MethodPost, "/acme/forum/posts/_bulk/update", []map[string]interface{}{
		{"id": id, "data": map[string]interface{}{"title": "a2"}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, []string{"a2"}, listTitles(t, ts, "/acme/forum/posts"))

	w, env = ts.json(t, http.MethodPost, "/acme/forum/posts/_bulk/delete", []string{id})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result struct {
		Count int      `json:"count"`
		IDs   []string `json:"ids"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, []string{id}, result.IDs)
	assert.Empty(t, listTitles(t, ts, "/acme/forum/posts"))
}

func TestBulkRollsBackOnMissingID(t *testing.T) {
	ts := newTestServer(t, server.Config{})

	_, env := ts.json(t, http.MethodPost, "/acme/forum/posts", map[string]interface{}{"title": "a"})
	id := dataRecord(t, env).ID()

	w, got := ts.json(t, http.MethodPost, "/acme/forum/posts/_bulk/delete", []string{id, "missing"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, got.Error, "index 1")

	// The first delete was rolled back.
	assert.Equal(t, []string{"a"}, listTitles(t, ts, "/acme/forum/posts"))
}

func TestBulkValidatesEnvelope(t *testing.T) {
	ts := newTestServer(t, server.Config{})

	w, _ := ts.json(t, http.MethodPost, "/acme/forum/posts/_bulk/create", []map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.json(t, http.MethodPost, "/acme/forum/posts/_bulk/create", map[string]interface{}{"title": "not-an-array"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = ts.json(t, http.MethodPost, "/acme/forum/posts/_bulk/upsert", []map[string]interface{}{{"title": "a"}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Zero(t, ts.store.CallCount.Begin, "no transaction opens for malformed envelopes")
}

func TestBatchMixedOperations(t *testing.T) {
	ts := newTestServer(t, server.Config{})

	_, env := ts.json(t, http.MethodPost, "/acme/forum/comments", map[string]interface{}{"title": "old"})
	commentID := dataRecord(t, env).ID()

	w, env := ts.json(t, http.MethodPost, "/acme/forum/_batch", map[string]interface{}{
		"operations": []map[string]interface{}{
			{"action": "create", "entity": "posts", "data": map[string]interface{}{"title": "t"}},
			{"action": "update", "entity": "comments", "id": commentID, "data": map[string]interface{}{"title": "new"}},
			{"action": "delete", "entity": "comments", "id": commentID},
		},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var result struct {
		Count   int `json:"count"`
		Results []struct {
			Action string `json:"action"`
			Entity string `json:"entity"`
			ID     string `json:"id"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &result))
	require.Equal(t, 3, result.Count)
	// Results preserve operation order.
	assert.Equal(t, "create", result.Results[0].Action)
	assert.Equal(t, "posts", result.Results[0].Entity)
	assert.Equal(t, commentID, result.Results[1].ID)
	assert.Equal(t, "delete", result.Results[2].Action)

	assert.Equal(t, []string{"t"}, listTitles(t, ts, "/acme/forum/posts"))
	assert.Empty(t, listTitles(t, ts, "/acme/forum/comments"))
}

func TestBatchRollsBackAllEntities(t *testing.T) {
	ts := newTestServer(t, server.Config{})

	w, env := ts.json(t, http.MethodPost, "/acme/forum/_batch", map[string]interface{}{
		"operations": []map[string]interface{}{
			{"action": "create", "entity": "posts", "data": map[string]interface{}{"title": "t"}},
			{"action": "delete", "entity": "comments", "id": "nope"},
		},
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, env.Error, "index 1")
	assert.Contains(t, env.Error, "comments")

	// The created post is not visible after the rollback.
	assert.Empty(t, listTitles(t, ts, "/acme/forum/posts"))
}

func TestBatchValidatesOperations(t *testing.T) {
	ts := newTestServer(t, server.Config{})

	bad := []map[string]interface{}{
		{"entity": "posts", "data": map[string]interface{}{"a": 1}},
		{"action": "create", "data": map[string]interface{}{"a": 1}},
		{"action": "create", "entity": "posts"},
		{"action": "update", "entity": "posts", "data": map[string]interface{}{"a": 1}},
		{"action": "delete", "entity": "posts"},
		{"action": "upsert", "entity": "posts", "id": "x"},
	}
	for i, op := range bad {
		w, _ := ts.json(t, http.MethodPost, "/acme/forum/_batch", map[string]interface{}{
			"operations": []map[string]interface{}{op},
		})
		assert.Equal(t, http.StatusBadRequest, w.Code, "operation %d", i)
	}
	assert.Zero(t, ts.store.CallCount.Begin)
}
