// Copyright (C) 2025 DBAL Labs, Inc.
// See LICENSE for copying information.

package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dbal-labs/dbal/internal/ratelimit"
	"github.com/dbal-labs/dbal/schemas"
	"github.com/dbal-labs/dbal/storage"
	"github.com/dbal-labs/dbal/storage/registry"
)

// Config holds the HTTP surface configuration.
type Config struct {
	// Address is the bind address, e.g. "127.0.0.1:8080".
	Address string

	// AdminToken enables the admin endpoints when non-empty.
	AdminToken string

	// CORSOrigin is reflected on preflight responses; empty means "*".
	CORSOrigin string

	// SeedDir holds YAML seed files loaded by POST /admin/seed.
	SeedDir string
}

// Server is the DBAL HTTP service. It borrows the adapter registry, the
// blob backend and the schema registry; request handlers hold no state of
// their own.
type Server struct {
	log      *zap.Logger
	config   Config
	registry *registry.Registry
	blobs    storage.Blobs
	schemas  *schemas.Registry
	limiters *ratelimit.Limiters

	started time.Time
	router  *mux.Router
	http    http.Server
	public  net.Listener
}

// New creates the server and registers every route.
func New(log *zap.Logger, config Config, reg *registry.Registry, blobs storage.Blobs, schemaRegistry *schemas.Registry, listener net.Listener) *Server {
	server := &Server{
		log:      log,
		config:   config,
		registry: reg,
		blobs:    blobs,
		schemas:  schemaRegistry,
		limiters: ratelimit.NewLimiters(),
		started:  time.Now(),
		router:   mux.NewRouter(),
		public:   listener,
	}
	server.http = http.Server{
		Handler: server.withLogging(server.router),
	}
	server.registerRoutes()
	return server
}

// Router exposes the route table; used by tests to drive the server with
// httptest without a listener.
func (server *Server) Router() http.Handler {
	return server.withLogging(server.router)
}

// registerRoutes wires the full route catalog. Order matters: literal
// segments (health, admin, blob, _bulk, _batch) must register before the
// generic entity wildcard so they win the match.
func (server *Server) registerRoutes() {
	router := server.router

	for _, path := range []string{"/health", "/healthz"} {
		router.HandleFunc(path, server.handleHealth).Methods(http.MethodGet, http.MethodOptions)
	}
	for _, path := range []string{"/version", "/api/version"} {
		router.HandleFunc(path, server.handleVersion).Methods(http.MethodGet, http.MethodOptions)
	}
	for _, path := range []string{"/status", "/api/status"} {
		router.HandleFunc(path, server.handleStatus).Methods(http.MethodGet, http.MethodOptions)
	}

	router.HandleFunc("/api/dbal/schema", server.gate(server.handleSchema)).
		Methods(http.MethodGet, http.MethodPost)
	router.HandleFunc("/api/dbal", server.gate(server.withClient(server.handleRPC))).
		Methods(http.MethodPost)

	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return server.withRecover(server.adminGate(h))
	}
	router.HandleFunc("/admin/config", admin(server.handleAdminConfig)).
		Methods(http.MethodGet, http.MethodPost, http.MethodOptions)
	router.HandleFunc("/admin/adapters", admin(server.handleAdminAdapters)).
		Methods(http.MethodGet, http.MethodOptions)
	router.HandleFunc("/admin/test-connection", admin(server.handleAdminTestConnection)).
		Methods(http.MethodPost, http.MethodOptions)
	router.HandleFunc("/admin/seed", admin(server.handleAdminSeed)).
		Methods(http.MethodPost, http.MethodOptions)

	// Blob routes. The reserved _stats segment and the presign/copy action
	// paths register before the greedy key pattern.
	router.HandleFunc("/{tenant}/{package}/blob/_stats", server.gate(server.handleBlobStats)).
		Methods(http.MethodGet)
	router.HandleFunc("/{tenant}/{package}/blob/{key:.+}/presign", server.gate(server.handleBlobPresign)).
		Methods(http.MethodGet)
	router.HandleFunc("/{tenant}/{package}/blob/{key:.+}/copy", server.gate(server.handleBlobCopy)).
		Methods(http.MethodPost)
	router.HandleFunc("/{tenant}/{package}/blob/{key:.+}", server.gate(server.handleBlobObject)).
		Methods(http.MethodGet, http.MethodPut, http.MethodDelete, http.MethodHead, http.MethodOptions)
	router.HandleFunc("/{tenant}/{package}/blob", server.gate(server.handleBlobList)).
		Methods(http.MethodGet, http.MethodOptions)

	router.HandleFunc("/{tenant}/{package}/{entity}/_bulk/{op}", server.gate(server.withClient(server.handleBulk))).
		Methods(http.MethodPost)
	router.HandleFunc("/{tenant}/{package}/_batch", server.gate(server.withClient(server.handleBatch))).
		Methods(http.MethodPost)

	entity := server.gate(server.withClient(server.handleEntity))
	router.HandleFunc("/{tenant}/{package}/{entity}", entity)
	router.HandleFunc("/{tenant}/{package}/{entity}/{id}", entity)
	router.HandleFunc("/{tenant}/{package}/{entity}/{id}/{action}", entity)
	router.HandleFunc("/{tenant}/{package}/{entity}/{id}/{action}/{rest:.*}", entity)
}

// gate applies panic recovery and the method-class rate limiter.
func (server *Server) gate(next http.HandlerFunc) http.HandlerFunc {
	return server.withRecover(func(w http.ResponseWriter, r *http.Request) {
		limiter := server.limiters.Mutation
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			// Preflights count against the read budget, matching the admin
			// surface where OPTIONS is never gated.
			limiter = server.limiters.Read
		}
		if !limiter.Allow(clientIP(r)) {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		next(w, r)
	})
}

// withClient resolves the active adapter before the handler runs.
func (server *Server) withClient(next func(w http.ResponseWriter, r *http.Request, adapter storage.Adapter)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		adapter, err := server.registry.EnsureClient(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		next(w, r, adapter)
	}
}

func (server *Server) setCORS(w http.ResponseWriter) {
	origin := server.config.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
}

func (server *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	server.setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeData(w, map[string]interface{}{"status": "ok"})
}

func (server *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	server.setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeData(w, map[string]interface{}{
		"name":    "dbal",
		"version": Version,
	})
}

func (server *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	server.setCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	adapter, _ := server.registry.Config()
	writeData(w, map[string]interface{}{
		"status":  "ok",
		"adapter": adapter,
		"mode":    server.registry.Mode(),
		"sandbox": server.registry.Sandbox(),
		"uptime":  time.Since(server.started).Round(time.Second).String(),
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (server *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		server.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// Run serves requests until ctx is canceled, then shuts down gracefully.
func (server *Server) Run(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	ctx, cancel := context.WithCancel(ctx)
	var group errgroup.Group

	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		return Error.Wrap(server.http.Shutdown(shutdownCtx))
	})
	group.Go(func() error {
		defer cancel()
		err := server.http.Serve(server.public)
		if err == http.ErrServerClosed {
			err = nil
		}
		return Error.Wrap(err)
	})
	group.Go(func() error {
		return server.limiters.Run(ctx)
	})

	return group.Wait()
}

// Close releases the limiter loops and the listener.
func (server *Server) Close() error {
	server.limiters.Close()
	return Error.Wrap(server.http.Close())
}
