// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/insanalamin/mechaway/internal/server/middleware/logger"
	"github.com/insanalamin/mechaway/internal/workflow"
)

// ExecuteWebhook handles ANY /webhook/{workflowID}/{path...}.
// The workflow is looked up in the registry snapshot, the matching webhook
// node becomes the entry point, and execution runs synchronously with the
// response. Success returns the final data array; execution failure maps
// to 422, system errors never reach here as 500s.
func (h *Handler) ExecuteWebhook(w http.ResponseWriter, r *http.Request) {
	log := logger.GetLogger(r.Context())
	workflowID := r.PathValue("workflowID")
	webhookPath := r.PathValue("path")

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	// An empty body is not valid JSON; triggers must carry a payload.
	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn("Invalid webhook payload", "workflow_id", workflowID, "path", webhookPath, "error", err)
		writeErrorResponse(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	cw, ok := h.registry.Get(workflowID)
	if !ok {
		log.Warn("Webhook called for unknown workflow", "workflow_id", workflowID)
		writeErrorResponse(w, http.StatusNotFound, "workflow not found")
		return
	}

	if !strings.HasPrefix(webhookPath, "/") {
		webhookPath = "/" + webhookPath
	}
	startNodeID, ok := findWebhookStartNode(cw, webhookPath)
	if !ok {
		log.Warn("No webhook node for path", "workflow_id", workflowID, "path", webhookPath)
		writeErrorResponse(w, http.StatusNotFound, "no webhook registered for path")
		return
	}

	slug := r.Header.Get(projectHeader)
	if slug == "" {
		slug = workflow.DefaultProjectSlug
	}

	ec := workflow.NewWebhookContext(workflowID, payload, slug)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			ec.Query[key] = values[0]
		}
	}
	for key := range r.Header {
		ec.Headers[strings.ToLower(key)] = r.Header.Get(key)
	}

	log.Info("Starting webhook execution", "workflow_id", workflowID, "start_node", startNodeID)
	start := time.Now()

	result, err := h.engine.Execute(r.Context(), cw, startNodeID, ec)
	if err != nil {
		log.Error("Webhook execution failed",
			"workflow_id", workflowID, "duration", time.Since(start), "error", err)
		writeErrorResponse(w, http.StatusUnprocessableEntity, "workflow execution failed")
		return
	}

	log.Info("Webhook execution completed",
		"workflow_id", workflowID, "duration", time.Since(start), "items", len(result.Data))
	writeJSONResponse(w, http.StatusOK, result.Data)
}

// findWebhookStartNode searches the workflow's webhook nodes for one whose
// path parameter equals the requested path.
func findWebhookStartNode(cw *workflow.CompiledWorkflow, webhookPath string) (string, bool) {
	for i := range cw.Workflow.Nodes {
		node := &cw.Workflow.Nodes[i]
		if node.Type != workflow.NodeTypeWebhook {
			continue
		}
		if path, ok := node.ParamString("path"); ok && path == webhookPath {
			return node.ID, true
		}
	}
	return "", false
}
