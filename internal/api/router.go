// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/wingedpig/trellis/internal/api/handlers"
	"github.com/wingedpig/trellis/internal/api/middleware"
	"github.com/wingedpig/trellis/internal/api/version"
	"github.com/wingedpig/trellis/internal/bridge/store"
	"github.com/wingedpig/trellis/internal/events"
)

// ServerConfig holds configuration for the diagnostics API server.
type ServerConfig struct {
	Host    string
	Port    int
	TLSCert string // Path to TLS certificate file
	TLSKey  string // Path to TLS private key file
}

// Dependencies holds all dependencies for the diagnostics handlers.
type Dependencies struct {
	EventBus events.EventBus
	Store    *store.Store
	Version  string // Application version string
}

// StatusResponse is the payload returned by GET /status.
type StatusResponse struct {
	Version  string          `json:"version"`
	Bindings []store.Binding `json:"bindings"`
}

// NewRouter builds the diagnostics router: health/status/bindings plus the
// event history and WebSocket stream, with no UI surface of its own.
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)
	r.Use(version.Middleware)

	api := r.PathPrefix("/api/v1").Subrouter()

	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		handlers.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")

	r.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		resp := StatusResponse{Version: deps.Version}
		if deps.Store != nil {
			resp.Bindings = deps.Store.IterBindings()
		}
		handlers.WriteJSON(w, http.StatusOK, resp)
	}).Methods("GET")

	api.HandleFunc("/bindings", func(w http.ResponseWriter, req *http.Request) {
		var bindings []store.Binding
		if deps.Store != nil {
			bindings = deps.Store.IterBindings()
		}
		handlers.WriteJSON(w, http.StatusOK, bindings)
	}).Methods("GET")

	if deps.EventBus != nil {
		eventHandler := handlers.NewEventHandler(deps.EventBus)
		api.HandleFunc("/events", eventHandler.History).Methods("GET")
		api.HandleFunc("/events/ws", eventHandler.WebSocket).Methods("GET")
	}

	// Debug/profiling endpoints
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	return r
}

// Server represents the diagnostics API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a new diagnostics API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{
		router: NewRouter(deps),
		cfg:    cfg,
	}
}

// Router returns the underlying router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server.
// If TLS is configured (tls_cert and tls_key), uses HTTPS.
// If either cert/key file doesn't exist, it returns an error.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}

	tlsEnabled, err := CheckTLSConfig(s.cfg.TLSCert, s.cfg.TLSKey)
	if err != nil {
		return fmt.Errorf("TLS configuration error: %w", err)
	}

	if tlsEnabled {
		certPath := expandPath(s.cfg.TLSCert)
		keyPath := expandPath(s.cfg.TLSKey)
		log.Printf("diagnostics server listening on https://%s (TLS enabled)", addr)
		return s.server.ListenAndServeTLS(certPath, keyPath)
	}

	log.Printf("diagnostics server listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Println("shutting down diagnostics server...")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return s.server.Shutdown(shutdownCtx)
}
