// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package server

import (
	"net/http"

	"github.com/dbal-labs/dbal/storage"
)

// handleSchema exposes the schema registry: listing known schemas and
// pending migrations, and dispatching scan/approve/reject/generate.
func (server *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		server.handleSchemaList(w, r)
	case http.MethodPost:
		server.handleSchemaAction(w, r)
	}
}

func (server *Server) handleSchemaList(w http.ResponseWriter, r *http.Request) {
	writeData(w, map[string]interface{}{
		"schemas": server.schemas.Approved(),
		"pending": server.schemas.Pending(),
	})
}

func (server *Server) handleSchemaAction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Action string `json:"action"`
		ID     string `json:"id,omitempty"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}

	switch body.Action {
	case "scan":
		pending, err := server.schemas.Scan(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, map[string]interface{}{"pending": pending})
	case "approve", "reject":
		if body.ID == "" {
			writeError(w, storage.NewError(storage.CodeValidation, "%s requires a migration id", body.Action))
			return
		}
		var err error
		if body.Action == "approve" {
			err = server.schemas.Approve(ctx, body.ID)
		} else {
			err = server.schemas.Reject(ctx, body.ID)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, map[string]interface{}{"id": body.ID, "action": body.Action})
	case "generate":
		rendered, err := server.schemas.Generate(ctx)
		if err != nil {
			writeError(w, err)
			return
		}
		writeData(w, map[string]interface{}{"generated": rendered})
	default:
		writeError(w, storage.NewError(storage.CodeValidation, "unknown schema action %q", body.Action))
	}
}
