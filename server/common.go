// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

// Package server implements the HTTP surface: the router, the generic
// entity dispatcher, bulk and batch transactions, the blob facade and the
// admin, schema and RPC endpoints.
package server

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	monkit "github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/dbal-labs/dbal/storage"
)

var (
	mon = monkit.Package()

	// Error is the default server error class.
	Error = errs.Class("server error")
)

// Version identifies the service build.
const Version = "1.0.0"

const serverHeader = "DBAL/" + Version

// statusFor maps the closed domain error-code set onto HTTP statuses.
func statusFor(code storage.Code) int {
	switch code {
	case storage.CodeNotFound:
		return http.StatusNotFound
	case storage.CodeConflict:
		return http.StatusConflict
	case storage.CodeUnauthorized:
		return http.StatusUnauthorized
	case storage.CodeForbidden:
		return http.StatusForbidden
	case storage.CodeValidation:
		return http.StatusUnprocessableEntity
	case storage.CodeRateLimited:
		return http.StatusTooManyRequests
	case storage.CodeCapability:
		return http.StatusNotImplemented
	case storage.CodeTimeout:
		return http.StatusGatewayTimeout
	case storage.CodeDatabase:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Server", serverHeader)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeData writes the uniform success envelope.
func writeData(w http.ResponseWriter, data interface{}) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "data": data})
}

// writeDataStatus writes the success envelope with a non-200 status.
func writeDataStatus(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{"success": true, "data": data})
}

// writeErrorStatus writes the error envelope with an explicit status. It is
// used for malformed-request failures that the route catalog pins to 400
// rather than to the domain-code table.
func writeErrorStatus(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{"success": false, "error": message})
}

// writeError maps a domain error onto the error envelope.
func writeError(w http.ResponseWriter, err error) {
	writeErrorStatus(w, statusFor(storage.ErrCode(err)), errorMessage(err))
}

// writeBlobError writes the blob error shape with the code visible.
func writeBlobError(w http.ResponseWriter, err error) {
	code := storage.ErrCode(err)
	writeJSON(w, statusFor(code), map[string]interface{}{
		"error": map[string]interface{}{
			"code":    string(code),
			"message": errorMessage(err),
		},
	})
}

// errorMessage extracts the user-visible message, stripping the code prefix
// that Error.Error() renders.
func errorMessage(err error) string {
	var domain *storage.Error
	if errors.As(err, &domain) {
		return domain.Message
	}
	if err != nil {
		return err.Error()
	}
	return "unknown error"
}

// decodeJSON decodes the request body into dst, rejecting syntax errors.
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return storage.NewError(storage.CodeValidation, "invalid JSON body: %v", err)
	}
	return nil
}

// clientIP extracts the client address for rate-limit accounting.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// withRecover converts handler panics into a generic 500 without leaking
// internals.
func (server *Server) withRecover(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				server.log.Error("handler panic",
					zap.Any("panic", rec),
					zap.String("path", r.URL.Path))
				writeErrorStatus(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next(w, r)
	}
}
