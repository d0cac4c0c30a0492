// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package server

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/dbal-labs/dbal/storage"
)

// batchOperation is one element of a heterogeneous batch.
type batchOperation struct {
	Action string         `json:"action"`
	Entity string         `json:"entity"`
	ID     string         `json:"id,omitempty"`
	Data   storage.Record `json:"data,omitempty"`
}

type batchRequest struct {
	Operations []batchOperation `json:"operations"`
}

// validate checks the per-operation shape rules before any transaction
// work happens.
func (op batchOperation) validate() error {
	if op.Action == "" {
		return storage.NewError(storage.CodeValidation, "operation action is required")
	}
	if op.Entity == "" || !validIdentifier(op.Entity) {
		return storage.NewError(storage.CodeValidation, "operation entity is required")
	}
	switch op.Action {
	case "create":
		if len(op.Data) == 0 {
			return storage.NewError(storage.CodeValidation, "create requires a data object")
		}
	case "update":
		if op.ID == "" {
			return storage.NewError(storage.CodeValidation, "update requires an id")
		}
		if len(op.Data) == 0 {
			return storage.NewError(storage.CodeValidation, "update requires a data object")
		}
	case "delete":
		if op.ID == "" {
			return storage.NewError(storage.CodeValidation, "delete requires an id")
		}
	default:
		return storage.NewError(storage.CodeValidation, "unknown action %q", op.Action)
	}
	return nil
}

// handleBatch runs mixed create/update/delete operations across entities of
// one tenant and package in a single transaction. The response preserves
// operation order so callers can correlate results.
func (server *Server) handleBatch(w http.ResponseWriter, r *http.Request, adapter storage.Adapter) {
	ctx := r.Context()
	vars := mux.Vars(r)

	tenant, pkg := vars["tenant"], vars["package"]
	if !validIdentifier(tenant) || !validIdentifier(pkg) || reservedTenants[tenant] {
		writeErrorStatus(w, http.StatusBadRequest, "invalid tenant or package")
		return
	}

	var request batchRequest
	if err := decodeJSON(r, &request); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, errorMessage(err))
		return
	}
	if len(request.Operations) == 0 {
		writeErrorStatus(w, http.StatusBadRequest, "operations array must not be empty")
		return
	}
	for i, op := range request.Operations {
		if err := op.validate(); err != nil {
			writeErrorStatus(w, http.StatusBadRequest,
				"operation "+strconv.Itoa(i)+": "+errorMessage(err))
			return
		}
	}

	tx, err := adapter.BeginTransaction(ctx)
	if err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, "could not open transaction: "+errorMessage(err))
		return
	}

	results := make([]map[string]interface{}, 0, len(request.Operations))
	for i, op := range request.Operations {
		route := Route{Valid: true, Tenant: tenant, Package: pkg, Entity: op.Entity}
		result := map[string]interface{}{
			"action": op.Action,
			"entity": op.Entity,
		}

		var opErr error
		switch op.Action {
		case "create":
			doc := op.Data.Copy()
			injectTenant(doc, tenant)
			var created storage.Record
			created, opErr = tx.Create(ctx, op.Entity, doc)
			if opErr == nil {
				result["id"] = created.ID()
				result["record"] = created
			}
		case "update":
			opErr = verifyTenant(ctx, tx, route, op.ID)
			if opErr == nil {
				var updated storage.Record
				updated, opErr = tx.Update(ctx, op.Entity, op.ID, op.Data)
				if opErr == nil {
					result["id"] = op.ID
					result["record"] = updated
				}
			}
		case "delete":
			opErr = verifyTenant(ctx, tx, route, op.ID)
			if opErr == nil {
				opErr = tx.Remove(ctx, op.Entity, op.ID)
				if opErr == nil {
					result["id"] = op.ID
				}
			}
		}

		if opErr != nil {
			_ = tx.Rollback()
			wrapped := storage.WrapCode(opErr,
				"batch "+op.Action+" failed at index "+strconv.Itoa(i)+" on entity "+op.Entity)
			writeError(w, wrapped)
			return
		}
		results = append(results, result)
	}

	if err := tx.Commit(); err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, "could not commit transaction: "+errorMessage(err))
		return
	}
	writeData(w, map[string]interface{}{
		"count":   len(results),
		"results": results,
	})
}
