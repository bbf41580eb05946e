// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import "github.com/insanalamin/mechaway/internal/workflow"

// WorkflowRequest is the body for create and update operations.
type WorkflowRequest struct {
	Workflow workflow.Workflow `json:"workflow"`
}

// WorkflowResponse confirms a create or update.
type WorkflowResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// ListWorkflowsResponse wraps the workflow metadata listing.
type ListWorkflowsResponse struct {
	Workflows []workflow.Metadata `json:"workflows"`
}

// MessageResponse carries a bare confirmation message.
type MessageResponse struct {
	Message string `json:"message"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
}
