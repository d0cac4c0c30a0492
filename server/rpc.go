// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dbal-labs/dbal/storage"
)

// maxRPCBody caps legacy RPC request bodies at 10 MB.
const maxRPCBody = 10 << 20

// rpcRequest is the legacy JSON-envelope RPC body.
type rpcRequest struct {
	Entity   string          `json:"entity"`
	Action   string          `json:"action"`
	Payload  json.RawMessage `json:"payload"`
	Options  json.RawMessage `json:"options,omitempty"`
	TenantID string          `json:"tenantId,omitempty"`
}

// handleRPC serves the legacy POST /api/dbal envelope. Only the user entity
// is wired; entity and action are normalized to lower case.
func (server *Server) handleRPC(w http.ResponseWriter, r *http.Request, adapter storage.Adapter) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, maxRPCBody)
	var request rpcRequest
	if err := decodeJSON(r, &request); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			writeErrorStatus(w, http.StatusRequestEntityTooLarge, "request body exceeds 10MB")
			return
		}
		writeError(w, err)
		return
	}

	entity := strings.ToLower(request.Entity)
	action := strings.ToLower(request.Action)
	if entity != "user" {
		writeErrorStatus(w, http.StatusBadRequest, "unsupported entity "+strings.TrimSpace(entity))
		return
	}

	data, err := userAction(ctx, adapter, action, request)
	if err != nil {
		var domain *storage.Error
		if errors.As(err, &domain) {
			writeError(w, err)
			return
		}
		writeErrorStatus(w, http.StatusBadRequest, err.Error())
		return
	}
	writeData(w, data)
}

// userAction validates required fields per action and maps adapter results
// back to the envelope.
func userAction(ctx context.Context, adapter storage.Adapter, action string, request rpcRequest) (interface{}, error) {
	const entity = "user"

	switch action {
	case "list":
		opts := storage.ListOptions{Filter: map[string]string{}, Limit: defaultListLimit, Page: 1}
		if len(request.Options) > 0 {
			var listOptions struct {
				Limit  int               `json:"limit"`
				Page   int               `json:"page"`
				Filter map[string]string `json:"filter"`
			}
			if err := json.Unmarshal(request.Options, &listOptions); err != nil {
				return nil, storage.NewError(storage.CodeValidation, "invalid list options: %v", err)
			}
			if listOptions.Limit > 0 {
				opts.Limit = listOptions.Limit
			}
			if listOptions.Page > 0 {
				opts.Page = listOptions.Page
			}
			for field, value := range listOptions.Filter {
				opts.Filter[field] = value
			}
		}
		if request.TenantID != "" {
			opts.Filter["tenantId"] = request.TenantID
		}
		result, err := adapter.List(ctx, entity, opts)
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"data": result.Records, "total": result.Total}, nil

	case "get", "read":
		id, err := payloadID(request.Payload)
		if err != nil {
			return nil, err
		}
		record, err := adapter.Read(ctx, entity, id)
		if err != nil {
			return nil, err
		}
		if request.TenantID != "" {
			if err := checkTenant(record, request.TenantID); err != nil {
				return nil, err
			}
		}
		return record, nil

	case "create":
		var doc storage.Record
		if err := json.Unmarshal(request.Payload, &doc); err != nil || len(doc) == 0 {
			return nil, storage.NewError(storage.CodeValidation, "create payload must be a non-empty object")
		}
		injectTenant(doc, request.TenantID)
		return adapter.Create(ctx, entity, doc)

	case "update":
		var payload struct {
			ID   string         `json:"id"`
			Data storage.Record `json:"data"`
		}
		if err := json.Unmarshal(request.Payload, &payload); err != nil || payload.ID == "" {
			return nil, storage.NewError(storage.CodeValidation, "update payload must carry an id")
		}
		if len(payload.Data) == 0 {
			return nil, storage.NewError(storage.CodeValidation, "update payload must carry a data object")
		}
		if request.TenantID != "" {
			record, err := adapter.Read(ctx, entity, payload.ID)
			if err != nil {
				return nil, err
			}
			if err := checkTenant(record, request.TenantID); err != nil {
				return nil, err
			}
		}
		return adapter.Update(ctx, entity, payload.ID, payload.Data)

	case "delete", "remove":
		id, err := payloadID(request.Payload)
		if err != nil {
			return nil, err
		}
		if request.TenantID != "" {
			record, err := adapter.Read(ctx, entity, id)
			if err != nil {
				return nil, err
			}
			if err := checkTenant(record, request.TenantID); err != nil {
				return nil, err
			}
		}
		if err := adapter.Remove(ctx, entity, id); err != nil {
			return nil, err
		}
		return map[string]interface{}{"id": id, "deleted": true}, nil

	default:
		return nil, storage.NewError(storage.CodeValidation, "unknown action %q", action)
	}
}

// payloadID accepts either a bare id string or an object with an id field.
func payloadID(payload json.RawMessage) (string, error) {
	var id string
	if err := json.Unmarshal(payload, &id); err == nil && id != "" {
		return id, nil
	}
	var object struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &object); err == nil && object.ID != "" {
		return object.ID, nil
	}
	return "", storage.NewError(storage.CodeValidation, "payload must carry an id")
}
