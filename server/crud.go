// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package server

import (
	"net/http"

	"github.com/dbal-labs/dbal/storage"
)

// handleEntity is the generic entity dispatcher. It re-parses the path so
// the route model, not the mux pattern, decides validity, then picks the
// handler family from the method and the presence of an id.
func (server *Server) handleEntity(w http.ResponseWriter, r *http.Request, adapter storage.Adapter) {
	route := ParseRoute(r.URL.Path)
	if !route.Valid {
		writeErrorStatus(w, http.StatusBadRequest, route.Message)
		return
	}

	// Custom actions are reserved; until they are wired the path is unknown.
	if route.Action != "" {
		writeErrorStatus(w, http.StatusNotFound, "unknown action "+route.Action)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if route.ID == "" {
			server.handleList(w, r, adapter, route)
			return
		}
		server.handleRead(w, r, adapter, route)
	case http.MethodPost:
		if route.ID != "" {
			writeErrorStatus(w, http.StatusBadRequest, "use PUT or PATCH to update an existing record")
			return
		}
		server.handleCreate(w, r, adapter, route)
	case http.MethodPut, http.MethodPatch:
		server.handleUpdate(w, r, adapter, route)
	case http.MethodDelete:
		server.handleDelete(w, r, adapter, route)
	default:
		writeErrorStatus(w, http.StatusMethodNotAllowed, "method "+r.Method+" not allowed")
	}
}

// injectTenant sets the top-level tenantId when the route carries a tenant
// and the document has none.
func injectTenant(doc storage.Record, tenant string) {
	if tenant == "" {
		return
	}
	if _, ok := doc["tenantId"]; !ok {
		doc["tenantId"] = tenant
	}
}

// checkTenant enforces tenant isolation. A record owned by another tenant
// reads as NotFound so tenant existence is never leaked.
func checkTenant(record storage.Record, tenant string) error {
	owner := record.TenantID()
	if owner != "" && owner != tenant {
		return storage.ErrNotFound("record", record.ID())
	}
	return nil
}

func (server *Server) handleCreate(w http.ResponseWriter, r *http.Request, adapter storage.Adapter, route Route) {
	ctx := r.Context()

	var doc storage.Record
	if err := decodeJSON(r, &doc); err != nil {
		writeError(w, err)
		return
	}
	injectTenant(doc, route.Tenant)

	created, err := adapter.Create(ctx, route.Entity, doc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, created)
}

func (server *Server) handleRead(w http.ResponseWriter, r *http.Request, adapter storage.Adapter, route Route) {
	ctx := r.Context()

	record, err := adapter.Read(ctx, route.Entity, route.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := checkTenant(record, route.Tenant); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, record)
}

// handleUpdate reads the record first so the tenant check runs before any
// mutation touches the store.
func (server *Server) handleUpdate(w http.ResponseWriter, r *http.Request, adapter storage.Adapter, route Route) {
	ctx := r.Context()

	if route.ID == "" {
		writeError(w, storage.NewError(storage.CodeValidation, "update requires an id"))
		return
	}
	var doc storage.Record
	if err := decodeJSON(r, &doc); err != nil {
		writeError(w, err)
		return
	}
	if len(doc) == 0 {
		writeError(w, storage.NewError(storage.CodeValidation, "update body must not be empty"))
		return
	}

	existing, err := adapter.Read(ctx, route.Entity, route.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := checkTenant(existing, route.Tenant); err != nil {
		writeError(w, err)
		return
	}

	updated, err := adapter.Update(ctx, route.Entity, route.ID, doc)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, updated)
}

func (server *Server) handleDelete(w http.ResponseWriter, r *http.Request, adapter storage.Adapter, route Route) {
	ctx := r.Context()

	if route.ID == "" {
		writeError(w, storage.NewError(storage.CodeValidation, "delete requires an id"))
		return
	}

	existing, err := adapter.Read(ctx, route.Entity, route.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := checkTenant(existing, route.Tenant); err != nil {
		writeError(w, err)
		return
	}

	if err := adapter.Remove(ctx, route.Entity, route.ID); err != nil {
		writeError(w, err)
		return
	}
	writeData(w, map[string]interface{}{"id": route.ID, "deleted": true})
}
