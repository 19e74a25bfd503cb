// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package api exposes the device stores and the relay over JSON/HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/ffutop/devicesync/internal/config"
	"github.com/ffutop/devicesync/internal/persistence"
	"github.com/ffutop/devicesync/internal/relay"
	"github.com/ffutop/devicesync/internal/store"
)

const maxBodySize = 1 << 20

type Server struct {
	router *mux.Router

	status  *store.StatusStore
	mailbox *store.Mailbox
	logs    *store.LogStore
	relay   *relay.Service
	units   persistence.Backend
	ingest  IngestStats

	allowedOrigins []string
	streamInterval time.Duration
	upgrader       websocket.Upgrader

	// streams is cancelled on shutdown. Hijacked websocket connections are
	// not tracked by http.Server.Shutdown.
	streams     context.Context
	stopStreams context.CancelFunc
}

// IngestStats reports frame counters of a status ingester.
type IngestStats interface {
	Stats() (accepted, rejected int64)
}

type Option func(*Server)

// WithRelay enables the /api/relay routes.
func WithRelay(r *relay.Service) Option {
	return func(s *Server) { s.relay = r }
}

// WithUnitListing enables /api/files over the given backend.
func WithUnitListing(b persistence.Backend) Option {
	return func(s *Server) { s.units = b }
}

// WithIngestStats reports the ingester's counters on /healthz.
func WithIngestStats(in IngestStats) Option {
	return func(s *Server) { s.ingest = in }
}

// WithAllowedOrigins restricts CORS and websocket origins. "*" allows all.
func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// WithStreamInterval sets how often the command stream drains the queue.
// Non-positive values keep the default.
func WithStreamInterval(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.streamInterval = d
		}
	}
}

func NewServer(status *store.StatusStore, mailbox *store.Mailbox, logs *store.LogStore, opts ...Option) *Server {
	s := &Server{
		router:         mux.NewRouter(),
		status:         status,
		mailbox:        mailbox,
		logs:           logs,
		allowedOrigins: []string{"*"},
		streamInterval: time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.streams, s.stopStreams = context.WithCancel(context.Background())
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status/update", s.handleStatusUpdate).Methods(http.MethodPost)
	api.HandleFunc("/status/all", s.handleStatusAll).Methods(http.MethodGet)
	api.HandleFunc("/status/check", s.handleStatusCheck).Methods(http.MethodGet)
	api.HandleFunc("/status/change", s.handleStatusChange).Methods(http.MethodPost)
	api.HandleFunc("/data/upload", s.handleDataUpload).Methods(http.MethodPost)
	api.HandleFunc("/data/files", s.handleDataFiles).Methods(http.MethodGet)

	if s.units != nil {
		api.HandleFunc("/files", s.handleListUnits).Methods(http.MethodGet)
	}

	if s.relay != nil {
		api.HandleFunc("/relay/commands", s.handleRelaySubmit).Methods(http.MethodPost)
		api.HandleFunc("/relay/commands", s.handleRelayFetch).Methods(http.MethodGet)
		api.HandleFunc("/relay/commands/stream", s.handleRelayStream).Methods(http.MethodGet)
		api.HandleFunc("/relay/logs", s.handleRelayReport).Methods(http.MethodPost)
		api.HandleFunc("/relay/logs", s.handleRelayCollect).Methods(http.MethodGet)
	}
}

// Handler returns the router wrapped in the middleware chain. The chain
// sits outside the router so preflight requests reach it even when no
// route accepts OPTIONS.
func (s *Server) Handler() http.Handler {
	return requestIDMiddleware(accessLogMiddleware(corsMiddleware(s.allowedOrigins)(s.router)))
}

// Start serves until ctx is cancelled, then shuts down gracefully.
// Requests in flight at shutdown run to completion with their own context;
// command streams are closed.
func (s *Server) Start(ctx context.Context, cfg config.ServerConfig) error {
	srv := &http.Server{
		Addr:         cfg.Address,
		Handler:      s.Handler(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	srv.RegisterOnShutdown(s.stopStreams)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "address", cfg.Address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server stopped: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down http server: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || originAllowed(s.allowedOrigins, origin)
}
