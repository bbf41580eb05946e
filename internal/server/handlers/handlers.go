// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

// Package handlers exposes the management API and the webhook trigger
// endpoint over HTTP.
package handlers

import (
	"log/slog"
	"net/http"

	"github.com/insanalamin/mechaway/internal/engine"
	"github.com/insanalamin/mechaway/internal/scheduler"
	"github.com/insanalamin/mechaway/internal/server/middleware/logger"
	"github.com/insanalamin/mechaway/internal/workflow"
)

// projectHeader selects the tenant for webhook executions. Absent means the
// default tenant.
const projectHeader = "X-Mechaway-Project"

// Handler holds the core subsystems and provides HTTP handlers
type Handler struct {
	store     *workflow.Store
	registry  *workflow.Registry
	scheduler *scheduler.Scheduler
	engine    *engine.Engine
	logger    *slog.Logger
}

// New creates a new Handler instance
func New(store *workflow.Store, registry *workflow.Registry, sched *scheduler.Scheduler, eng *engine.Engine, logger *slog.Logger) *Handler {
	return &Handler{
		store:     store,
		registry:  registry,
		scheduler: sched,
		engine:    eng,
		logger:    logger,
	}
}

// Routes sets up all HTTP routes and returns the configured handler
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /healthz", h.Health)

	// Workflow management
	mux.HandleFunc("POST /api/workflows", h.CreateWorkflow)
	mux.HandleFunc("GET /api/workflows", h.ListWorkflows)
	mux.HandleFunc("GET /api/workflows/{id}", h.GetWorkflow)
	mux.HandleFunc("PUT /api/workflows/{id}", h.UpdateWorkflow)
	mux.HandleFunc("DELETE /api/workflows/{id}", h.DeleteWorkflow)

	// Webhook triggers accept any method; nodes decide what they handle.
	mux.HandleFunc("/webhook/{workflowID}/{path...}", h.ExecuteWebhook)

	return logger.Middleware(h.logger)(mux)
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
