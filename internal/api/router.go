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

	"github.com/localinfer/enginectl/internal/api/handlers"
	"github.com/localinfer/enginectl/internal/api/middleware"
	"github.com/localinfer/enginectl/internal/contextwind"
	"github.com/localinfer/enginectl/internal/events"
	"github.com/localinfer/enginectl/internal/pool"
	"github.com/localinfer/enginectl/internal/scheduler"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host    string
	Port    int
	TLSCert string // Path to TLS certificate file
	TLSKey  string // Path to TLS private key file
}

// Dependencies holds all dependencies for API handlers.
type Dependencies struct {
	Scheduler *scheduler.Scheduler
	Pool      *pool.Pool
	Monitor   *contextwind.Monitor
	EventBus  events.EventBus
	Version   string
}

// NewRouter creates a new API router exposing the control plane's
// session/pool/scheduler operations and event stream (§6).
func NewRouter(deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")

	apiRouter := r.PathPrefix("/v1").Subrouter()

	sessionHandler := handlers.NewSessionHandler(deps.Scheduler)
	apiRouter.HandleFunc("/sessions", sessionHandler.List).Methods("GET")
	apiRouter.HandleFunc("/sessions", sessionHandler.Create).Methods("POST")
	apiRouter.HandleFunc("/sessions/evict_lru", sessionHandler.EvictLRU).Methods("POST")
	apiRouter.HandleFunc("/sessions/{id}", sessionHandler.Info).Methods("GET")
	apiRouter.HandleFunc("/sessions/{id}", sessionHandler.Evict).Methods("DELETE")
	apiRouter.HandleFunc("/sessions/{id}/complete", sessionHandler.Complete).Methods("POST")
	apiRouter.HandleFunc("/sessions/{id}/complete_stream", sessionHandler.CompleteStream).Methods("GET")

	apiRouter.HandleFunc("/complete", sessionHandler.CompleteOneShot).Methods("POST")
	apiRouter.HandleFunc("/complete_batch", sessionHandler.CompleteBatch).Methods("POST")
	apiRouter.HandleFunc("/count_tokens", sessionHandler.CountTokens).Methods("POST")

	apiRouter.HandleFunc("/scheduler/stats", sessionHandler.Stats).Methods("GET")
	apiRouter.HandleFunc("/scheduler/worker_load", sessionHandler.WorkerLoad).Methods("GET")

	poolHandler := handlers.NewPoolHandler(deps.Pool, deps.Monitor)
	apiRouter.HandleFunc("/pool/health", poolHandler.Health).Methods("GET")
	apiRouter.HandleFunc("/sessions/{id}/context_window", poolHandler.ContextWindow).Methods("GET")

	eventHandler := handlers.NewEventHandler(deps.EventBus)
	apiRouter.HandleFunc("/events", eventHandler.History).Methods("GET")
	apiRouter.HandleFunc("/events/ws", eventHandler.WebSocket).Methods("GET")

	// Debug/profiling endpoints.
	r.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)

	return r
}

// Server represents the API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a new API server.
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
// If either cert/key file does not exist, it returns an error.
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
		log.Printf("API server listening on https://%s (TLS enabled)", addr)
		return s.server.ListenAndServeTLS(certPath, keyPath)
	}

	log.Printf("API server listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}

	log.Println("Shutting down API server...")

	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	return s.server.Shutdown(shutdownCtx)
}
