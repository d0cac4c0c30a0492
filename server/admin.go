// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package server

import (
	"crypto/subtle"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/dbal-labs/dbal/schemas"
	"github.com/dbal-labs/dbal/storage"
	"github.com/dbal-labs/dbal/storage/registry"
)

// passwordSegment matches the password between ':' and '@' in a connection
// URL's userinfo part.
var passwordSegment = regexp.MustCompile(`(://[^:/@]+):([^@]*)@`)

// redactURL replaces the password in a connection URL with ***.
func redactURL(rawurl string) string {
	return passwordSegment.ReplaceAllString(rawurl, "$1:***@")
}

// adminGate enforces the two admin gates in order: a token must be
// configured at all, then the bearer header must match exactly. OPTIONS
// preflight passes through with CORS headers and no auth.
func (server *Server) adminGate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		server.setCORS(w)
		if r.Method == http.MethodOptions {
			w.Header().Set("Allow", "GET, POST, OPTIONS")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !server.limiters.Admin.Allow(clientIP(r)) {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		if server.config.AdminToken == "" {
			writeError(w, storage.NewError(storage.CodeForbidden, "admin endpoints disabled"))
			return
		}
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if header == token ||
			subtle.ConstantTimeCompare([]byte(token), []byte(server.config.AdminToken)) != 1 {
			writeError(w, storage.NewError(storage.CodeUnauthorized, "invalid admin token"))
			return
		}
		next(w, r)
	}
}

func (server *Server) handleAdminConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		adapter, databaseURL := server.registry.Config()
		writeData(w, map[string]interface{}{
			"adapter":      adapter,
			"database_url": redactURL(databaseURL),
			"status":       "connected",
		})
	case http.MethodPost:
		server.handleAdminSwitch(w, r)
	}
}

// handleAdminSwitch validates the requested backend and hot-swaps the
// active adapter. On failure the old adapter stays active.
func (server *Server) handleAdminSwitch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Adapter     string `json:"adapter"`
		DatabaseURL string `json:"database_url"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Adapter == "" || body.DatabaseURL == "" {
		writeError(w, storage.NewError(storage.CodeValidation, "adapter and database_url are required"))
		return
	}
	if !registry.IsSupported(body.Adapter) {
		writeError(w, storage.NewError(storage.CodeValidation, "unsupported adapter %q", body.Adapter))
		return
	}

	if err := server.registry.Switch(ctx, body.Adapter, body.DatabaseURL); err != nil {
		server.log.Warn("adapter switch failed", zap.String("adapter", body.Adapter), zap.Error(err))
		writeErrorStatus(w, http.StatusInternalServerError, errorMessage(err))
		return
	}
	adapter, databaseURL := server.registry.Config()
	writeData(w, map[string]interface{}{
		"adapter":      adapter,
		"database_url": redactURL(databaseURL),
		"status":       "switched",
	})
}

func (server *Server) handleAdminAdapters(w http.ResponseWriter, r *http.Request) {
	active, _ := server.registry.Config()

	adapters := make([]map[string]interface{}, 0)
	for _, name := range registry.Names() {
		adapters = append(adapters, map[string]interface{}{
			"name":      name,
			"supported": true,
			"active":    name == active,
		})
	}
	writeData(w, map[string]interface{}{"adapters": adapters})
}

func (server *Server) handleAdminTestConnection(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body struct {
		Adapter     string `json:"adapter"`
		DatabaseURL string `json:"database_url"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.Adapter == "" || body.DatabaseURL == "" {
		writeError(w, storage.NewError(storage.CodeValidation, "adapter and database_url are required"))
		return
	}

	if err := server.registry.TestConnection(ctx, body.Adapter, body.DatabaseURL); err != nil {
		writeErrorStatus(w, http.StatusUnprocessableEntity, errorMessage(err))
		return
	}
	writeData(w, map[string]interface{}{"status": "ok"})
}

func (server *Server) handleAdminSeed(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	adapter, err := server.registry.EnsureClient(ctx)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := schemas.LoadSeeds(ctx, server.log.Named("seed"), server.config.SeedDir, adapter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, result)
}
