// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/dbal-labs/dbal/storage"
)

// handleBulk applies a homogeneous operation array to one entity inside a
// single transaction. The body is validated before the transaction opens;
// the first failing element rolls everything back.
func (server *Server) handleBulk(w http.ResponseWriter, r *http.Request, adapter storage.Adapter) {
	ctx := r.Context()
	vars := mux.Vars(r)

	route := ParseRoute("/" + vars["tenant"] + "/" + vars["package"] + "/" + vars["entity"])
	if !route.Valid {
		writeErrorStatus(w, http.StatusBadRequest, route.Message)
		return
	}
	op := vars["op"]
	if op != "create" && op != "update" && op != "delete" {
		writeErrorStatus(w, http.StatusBadRequest, "unknown bulk operation "+strconv.Quote(op))
		return
	}

	var elements []json.RawMessage
	if err := decodeJSON(r, &elements); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "bulk body must be a JSON array")
		return
	}
	if len(elements) == 0 {
		writeErrorStatus(w, http.StatusBadRequest, "bulk body must not be empty")
		return
	}

	tx, err := adapter.BeginTransaction(ctx)
	if err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, "could not open transaction: "+errorMessage(err))
		return
	}

	var docs []storage.Record
	var ids []string
	for i, raw := range elements {
		var elemErr error
		switch op {
		case "create":
			docs, elemErr = bulkCreate(ctx, tx, route, raw, docs)
		case "update":
			docs, elemErr = bulkUpdate(ctx, tx, route, raw, docs)
		case "delete":
			ids, elemErr = bulkDelete(ctx, tx, route, raw, ids)
		}
		if elemErr != nil {
			_ = tx.Rollback()
			writeErrorStatus(w, http.StatusBadRequest,
				fmt.Sprintf("bulk %s failed at index %d: %s", op, i, errorMessage(elemErr)))
			return
		}
	}

	if err := tx.Commit(); err != nil {
		writeErrorStatus(w, http.StatusInternalServerError, "could not commit transaction: "+errorMessage(err))
		return
	}

	data := map[string]interface{}{"count": len(elements)}
	switch op {
	case "create", "update":
		data["records"] = docs
	case "delete":
		data["ids"] = ids
	}
	writeData(w, data)
}

func bulkCreate(ctx context.Context, tx storage.Tx, route Route, raw json.RawMessage, out []storage.Record) ([]storage.Record, error) {
	var doc storage.Record
	if err := json.Unmarshal(raw, &doc); err != nil || doc == nil {
		return out, storage.NewError(storage.CodeValidation, "element must be an object")
	}
	injectTenant(doc, route.Tenant)
	created, err := tx.Create(ctx, route.Entity, doc)
	if err != nil {
		return out, err
	}
	return append(out, created), nil
}

func bulkUpdate(ctx context.Context, tx storage.Tx, route Route, raw json.RawMessage, out []storage.Record) ([]storage.Record, error) {
	var element struct {
		ID   string         `json:"id"`
		Data storage.Record `json:"data"`
	}
	if err := json.Unmarshal(raw, &element); err != nil {
		return out, storage.NewError(storage.CodeValidation, "element must be an object with id and data")
	}
	if element.ID == "" {
		return out, storage.NewError(storage.CodeValidation, "element id must not be empty")
	}
	if len(element.Data) == 0 {
		return out, storage.NewError(storage.CodeValidation, "element data must be a non-empty object")
	}
	if err := verifyTenant(ctx, tx, route, element.ID); err != nil {
		return out, err
	}
	updated, err := tx.Update(ctx, route.Entity, element.ID, element.Data)
	if err != nil {
		return out, err
	}
	return append(out, updated), nil
}

func bulkDelete(ctx context.Context, tx storage.Tx, route Route, raw json.RawMessage, out []string) ([]string, error) {
	var id string
	if err := json.Unmarshal(raw, &id); err != nil || id == "" {
		return out, storage.NewError(storage.CodeValidation, "element must be a non-empty id string")
	}
	if err := verifyTenant(ctx, tx, route, id); err != nil {
		return out, err
	}
	if err := tx.Remove(ctx, route.Entity, id); err != nil {
		return out, err
	}
	return append(out, id), nil
}

// verifyTenant reads the record inside the transaction and applies the
// isolation check before a mutation.
func verifyTenant(ctx context.Context, ops storage.Ops, route Route, id string) error {
	record, err := ops.Read(ctx, route.Entity, id)
	if err != nil {
		return err
	}
	return checkTenant(record, route.Tenant)
}
