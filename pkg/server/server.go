// Package server provides the public entry point for assembling the
// relay daemon: configuration, telemetry, the core service, and the
// HTTP router, wired and ready to listen.
//
// Usage:
//
//	srv, err := server.New()
//	http.ListenAndServe(srv.Addr, srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/relaymesh/relay/internal/api"
	"github.com/relaymesh/relay/internal/config"
	"github.com/relaymesh/relay/internal/core"
	"github.com/relaymesh/relay/internal/telemetry"
)

// Server holds the initialized relay daemon.
type Server struct {
	// Handler carries all routes and middleware.
	Handler http.Handler

	// Service is the wired core, exposed so embedders can register
	// custom capabilities before serving.
	Service *core.Service

	// Addr is the host:port to listen on.
	Addr string

	Config *config.Config

	// ShutdownFunc flushes telemetry on graceful shutdown.
	ShutdownFunc func(context.Context) error
}

// New initializes the daemon from environment configuration.
func New() (*Server, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg)
}

// NewWithConfig initializes the daemon with an explicit configuration.
func NewWithConfig(cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	svc, err := core.NewService(core.Options{
		DataDir:       cfg.DataDir,
		Limits:        cfg.Limits,
		CacheSize:     cfg.Invoke.CacheSize,
		InvokeTimeout: time.Duration(cfg.Invoke.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("init core service: %w", err)
	}
	log.Info().Str("data_dir", cfg.DataDir).Msg("core service initialized")

	return &Server{
		Handler:      api.NewRouter(cfg, svc),
		Service:      svc,
		Addr:         cfg.Addr(),
		Config:       cfg,
		ShutdownFunc: shutdown,
	}, nil
}

// Close flushes the snapshot and stops background work.
func (s *Server) Close() error {
	return s.Service.Close()
}
