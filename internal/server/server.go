// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

// Package server wires the core subsystems together and runs the HTTP
// listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/insanalamin/mechaway/internal/config"
	"github.com/insanalamin/mechaway/internal/engine"
	"github.com/insanalamin/mechaway/internal/scheduler"
	"github.com/insanalamin/mechaway/internal/server/handlers"
	"github.com/insanalamin/mechaway/internal/tenant"
	"github.com/insanalamin/mechaway/internal/workflow"
)

// Server owns the assembled subsystems and the HTTP listener.
type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	scheduler *scheduler.Scheduler
	http      *http.Server
}

// New builds the full system: tenant storage, the workflow store for the
// default tenant, the registry loaded from that store, the execution engine,
// and the cron scheduler.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	tenants := tenant.NewManager(cfg.Data.Dir, logger.With("component", "tenant"))

	projectDB, err := tenants.ProjectPool(workflow.DefaultProjectSlug)
	if err != nil {
		return nil, fmt.Errorf("open default project database: %w", err)
	}

	store := workflow.NewStore(projectDB, logger.With("component", "store"))
	registry := workflow.NewRegistry(store, logger.With("component", "registry"))
	if err := registry.InitFromStore(ctx); err != nil {
		return nil, fmt.Errorf("initialize registry: %w", err)
	}

	executor := engine.NewExecutor(tenants, logger.With("component", "executor"))
	eng := engine.New(executor, logger.With("component", "engine"))

	sched := scheduler.New(registry, eng, logger.With("component", "scheduler"))
	if err := sched.Start(); err != nil {
		return nil, fmt.Errorf("start scheduler: %w", err)
	}

	handler := handlers.New(store, registry, sched, eng, logger.With("component", "handlers"))

	return &Server{
		cfg:       cfg,
		logger:    logger,
		scheduler: sched,
		http: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      handler.Routes(),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}, nil
}

// Run serves HTTP until ctx is cancelled, then shuts down the listener and
// the scheduler gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Mechaway server listening", "address", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.http.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("Server shutdown error", "error", err)
	}
	s.scheduler.Stop()

	s.logger.Info("Server stopped gracefully")
	return nil
}
