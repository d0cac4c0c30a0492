// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/dbal-labs/dbal/storage"
)

const defaultPresignExpiry = 3600

// blobScope resolves the tenant/package prefix for a blob request. Every
// storage key is prefixed so each {tenant, package} pair sees a private
// bucket.
func blobScope(r *http.Request) (prefix string, err error) {
	vars := mux.Vars(r)
	tenant, pkg := vars["tenant"], vars["package"]
	if !validIdentifier(tenant) || !validIdentifier(pkg) || reservedTenants[tenant] {
		return "", storage.NewError(storage.CodeValidation, "invalid tenant or package")
	}
	return tenant + "/" + pkg + "/", nil
}

func blobInfoPayload(prefix string, info storage.BlobInfo) map[string]interface{} {
	payload := map[string]interface{}{
		"key":          strings.TrimPrefix(info.Key, prefix),
		"size":         info.Size,
		"contentType":  info.ContentType,
		"etag":         info.ETag,
		"lastModified": info.LastModified.UTC().Format(time.RFC3339),
	}
	if len(info.Metadata) > 0 {
		payload["metadata"] = info.Metadata
	}
	return payload
}

// handleBlobObject serves upload, download, delete and metadata for one key.
func (server *Server) handleBlobObject(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		server.setCORS(w)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	prefix, err := blobScope(r)
	if err != nil {
		writeBlobError(w, err)
		return
	}
	key := prefix + mux.Vars(r)["key"]

	switch r.Method {
	case http.MethodPut:
		server.blobUpload(w, r, prefix, key)
	case http.MethodGet:
		server.blobDownload(w, r, key)
	case http.MethodHead:
		server.blobHead(w, r, key)
	case http.MethodDelete:
		server.blobDelete(w, r, key)
	}
}

func (server *Server) blobUpload(w http.ResponseWriter, r *http.Request, prefix, key string) {
	ctx := r.Context()

	opts := storage.PutBlobOptions{
		ContentType: r.Header.Get("Content-Type"),
		Overwrite:   true,
	}
	if strings.EqualFold(r.Header.Get("X-Blob-Overwrite"), "false") {
		opts.Overwrite = false
	}
	if raw := r.Header.Get("X-Blob-Metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &opts.Metadata); err != nil {
			writeBlobError(w, storage.NewError(storage.CodeValidation,
				"X-Blob-Metadata must be a JSON object of strings"))
			return
		}
	}

	info, err := server.blobs.Put(ctx, key, r.Body, opts)
	if err != nil {
		writeBlobError(w, err)
		return
	}
	writeDataStatus(w, http.StatusCreated, blobInfoPayload(prefix, info))
}

func (server *Server) blobDownload(w http.ResponseWriter, r *http.Request, key string) {
	ctx := r.Context()

	body, info, err := server.blobs.Get(ctx, key)
	if err != nil {
		writeBlobError(w, err)
		return
	}
	defer func() { _ = body.Close() }()

	setBlobHeaders(w, info)
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, body)
}

func (server *Server) blobHead(w http.ResponseWriter, r *http.Request, key string) {
	ctx := r.Context()

	info, err := server.blobs.Stat(ctx, key)
	if err != nil {
		// HEAD responses have no body; the status alone reports the error.
		w.Header().Set("Server", serverHeader)
		w.WriteHeader(statusFor(storage.ErrCode(err)))
		return
	}
	setBlobHeaders(w, info)
	w.WriteHeader(http.StatusOK)
}

func setBlobHeaders(w http.ResponseWriter, info storage.BlobInfo) {
	w.Header().Set("Server", serverHeader)
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	if info.ETag != "" {
		w.Header().Set("ETag", `"`+info.ETag+`"`)
	}
	if !info.LastModified.IsZero() {
		w.Header().Set("Last-Modified", info.LastModified.UTC().Format(http.TimeFormat))
	}
	if len(info.Metadata) > 0 {
		if raw, err := json.Marshal(info.Metadata); err == nil {
			w.Header().Set("X-Blob-Metadata", string(raw))
		}
	}
}

func (server *Server) blobDelete(w http.ResponseWriter, r *http.Request, key string) {
	ctx := r.Context()

	if err := server.blobs.Delete(ctx, key); err != nil {
		writeBlobError(w, err)
		return
	}
	writeData(w, map[string]interface{}{"deleted": true})
}

// handleBlobList lists keys under the scope prefix, stripping the prefix so
// clients see their private namespace.
func (server *Server) handleBlobList(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		server.setCORS(w)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	ctx := r.Context()

	prefix, err := blobScope(r)
	if err != nil {
		writeBlobError(w, err)
		return
	}

	query := r.URL.Query()
	opts := storage.ListBlobsOptions{
		Prefix: prefix + query.Get("prefix"),
	}
	if token := query.Get("continuationToken"); token != "" {
		opts.ContinuationToken = prefix + token
	}
	if raw := query.Get("maxKeys"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeBlobError(w, storage.NewError(storage.CodeValidation,
				"maxKeys must be a positive integer, got %q", raw))
			return
		}
		opts.MaxKeys = n
	}

	listing, err := server.blobs.List(ctx, opts)
	if err != nil {
		writeBlobError(w, err)
		return
	}

	objects := make([]map[string]interface{}, 0, len(listing.Items))
	for _, info := range listing.Items {
		objects = append(objects, blobInfoPayload(prefix, info))
	}
	data := map[string]interface{}{
		"objects":   objects,
		"truncated": listing.Truncated,
	}
	if listing.Truncated {
		data["nextContinuationToken"] = strings.TrimPrefix(listing.NextContinuationToken, prefix)
	}
	writeData(w, data)
}

func (server *Server) handleBlobStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	prefix, err := blobScope(r)
	if err != nil {
		writeBlobError(w, err)
		return
	}
	stats, err := server.blobs.Stats(ctx, prefix)
	if err != nil {
		writeBlobError(w, err)
		return
	}
	writeData(w, map[string]interface{}{
		"totalSize":   stats.TotalSize,
		"objectCount": stats.ObjectCount,
	})
}

func (server *Server) handleBlobPresign(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	prefix, err := blobScope(r)
	if err != nil {
		writeBlobError(w, err)
		return
	}
	key := prefix + mux.Vars(r)["key"]

	expires := defaultPresignExpiry
	if raw := r.URL.Query().Get("expires"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeBlobError(w, storage.NewError(storage.CodeValidation,
				"expires must be a positive number of seconds, got %q", raw))
			return
		}
		expires = n
	}

	url, err := server.blobs.Presign(ctx, key, time.Duration(expires)*time.Second)
	if err != nil {
		writeBlobError(w, err)
		return
	}
	writeData(w, map[string]interface{}{
		"url":       url,
		"expiresIn": expires,
	})
}

func (server *Server) handleBlobCopy(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	prefix, err := blobScope(r)
	if err != nil {
		writeBlobError(w, err)
		return
	}
	srcKey := prefix + mux.Vars(r)["key"]

	var body struct {
		DestKey string `json:"destKey"`
	}
	if err := decodeJSON(r, &body); err != nil || body.DestKey == "" {
		writeBlobError(w, storage.NewError(storage.CodeValidation, "body must contain a destKey string"))
		return
	}

	info, err := server.blobs.Copy(ctx, srcKey, prefix+body.DestKey)
	if err != nil {
		writeBlobError(w, err)
		return
	}
	writeData(w, blobInfoPayload(prefix, info))
}
