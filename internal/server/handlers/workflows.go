// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/insanalamin/mechaway/internal/server/middleware/logger"
	"github.com/insanalamin/mechaway/internal/workflow"
)

// CreateWorkflow handles POST /api/workflows.
// The write order is store, then registry, then scheduler, so a cron tick
// racing the create always finds a consistent view.
func (h *Handler) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	log := logger.GetLogger(r.Context())

	var req WorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wf := req.Workflow

	if wf.ID == "" || wf.Name == "" {
		writeErrorResponse(w, http.StatusBadRequest, "workflow id and name are required")
		return
	}

	ctx := r.Context()
	if _, err := h.store.Get(ctx, wf.ID); err == nil {
		writeErrorResponse(w, http.StatusConflict, fmt.Sprintf("workflow %q already exists", wf.ID))
		return
	} else if !errors.Is(err, workflow.ErrNotFound) {
		log.Error("Failed to check workflow existence", "workflow_id", wf.ID, "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "failed to check workflow existence")
		return
	}

	if err := h.store.Save(ctx, &wf); err != nil {
		log.Error("Failed to save workflow", "workflow_id", wf.ID, "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "failed to save workflow")
		return
	}
	if err := h.registry.Reload(ctx, wf.ID); err != nil {
		log.Error("Failed to reload workflow into registry", "workflow_id", wf.ID, "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "failed to compile workflow")
		return
	}
	if err := h.scheduler.AddOrUpdate(&wf); err != nil {
		log.Error("Failed to register cron triggers", "workflow_id", wf.ID, "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "failed to register cron triggers")
		return
	}

	log.Info("Created workflow", "workflow_id", wf.ID, "name", wf.Name)
	writeJSONResponse(w, http.StatusOK, WorkflowResponse{
		ID:      wf.ID,
		Message: fmt.Sprintf("Workflow '%s' created successfully", wf.Name),
	})
}

// ListWorkflows handles GET /api/workflows
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := h.store.List(r.Context())
	if err != nil {
		logger.GetLogger(r.Context()).Error("Failed to list workflows", "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "failed to list workflows")
		return
	}
	writeJSONResponse(w, http.StatusOK, ListWorkflowsResponse{Workflows: workflows})
}

// GetWorkflow handles GET /api/workflows/{id}
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	wf, err := h.store.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("workflow %q not found", id))
			return
		}
		logger.GetLogger(r.Context()).Error("Failed to get workflow", "workflow_id", id, "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "failed to get workflow")
		return
	}
	writeJSONResponse(w, http.StatusOK, wf)
}

// UpdateWorkflow handles PUT /api/workflows/{id}. The path id wins over any
// id in the body.
func (h *Handler) UpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	log := logger.GetLogger(r.Context())
	id := r.PathValue("id")

	var req WorkflowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wf := req.Workflow
	wf.ID = id

	if wf.Name == "" {
		writeErrorResponse(w, http.StatusBadRequest, "workflow name is required")
		return
	}

	ctx := r.Context()
	if _, err := h.store.Get(ctx, id); err != nil {
		if errors.Is(err, workflow.ErrNotFound) {
			writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("workflow %q not found", id))
			return
		}
		log.Error("Failed to check workflow existence", "workflow_id", id, "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "failed to check workflow existence")
		return
	}

	if err := h.store.Save(ctx, &wf); err != nil {
		log.Error("Failed to update workflow", "workflow_id", id, "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "failed to update workflow")
		return
	}
	if err := h.registry.Reload(ctx, id); err != nil {
		log.Error("Failed to reload workflow into registry", "workflow_id", id, "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "failed to compile workflow")
		return
	}
	if err := h.scheduler.AddOrUpdate(&wf); err != nil {
		log.Error("Failed to update cron triggers", "workflow_id", id, "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "failed to update cron triggers")
		return
	}

	log.Info("Hot-reloaded workflow", "workflow_id", id, "name", wf.Name)
	writeJSONResponse(w, http.StatusOK, WorkflowResponse{
		ID:      id,
		Message: fmt.Sprintf("Workflow '%s' updated successfully", wf.Name),
	})
}

// DeleteWorkflow handles DELETE /api/workflows/{id}.
// Teardown runs scheduler first, then registry, then store: a tick between
// scheduler-remove and registry-remove still finds the workflow, and a tick
// after it finds no job, so no torn state is observable.
func (h *Handler) DeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	log := logger.GetLogger(r.Context())
	id := r.PathValue("id")

	h.scheduler.Remove(id)
	h.registry.Remove(id)

	existed, err := h.store.Delete(r.Context(), id)
	if err != nil {
		log.Error("Failed to delete workflow", "workflow_id", id, "error", err)
		writeErrorResponse(w, http.StatusInternalServerError, "failed to delete workflow")
		return
	}
	if !existed {
		writeErrorResponse(w, http.StatusNotFound, fmt.Sprintf("workflow %q not found", id))
		return
	}

	log.Info("Deleted workflow", "workflow_id", id)
	writeJSONResponse(w, http.StatusOK, MessageResponse{Message: "Workflow deleted successfully"})
}
