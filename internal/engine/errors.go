// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownStart is returned when the entry node id is not in the workflow.
	ErrUnknownStart = errors.New("start node not found")
	// ErrCycle is returned when the workflow graph contains a cycle.
	ErrCycle = errors.New("workflow graph is cyclic")
	// ErrEmptyFlow is returned when no executable nodes are reachable from the entry.
	ErrEmptyFlow = errors.New("no executable nodes reachable from start")
	// ErrTriggerMisuse is returned when a trigger node is dispatched directly.
	ErrTriggerMisuse = errors.New("trigger node cannot be executed directly")
	// ErrMissingSecret is returned when a node requires secrets but declares none.
	ErrMissingSecret = errors.New("node requires secrets")
	// ErrBadNode is returned when a node is missing a required parameter.
	ErrBadNode = errors.New("invalid node definition")
	// ErrValidation is returned on identifier or arity validation failure.
	ErrValidation = errors.New("validation failed")
	// ErrScript is returned when sandboxed script evaluation fails.
	ErrScript = errors.New("script evaluation failed")
)

// NodeError wraps a node handler failure with the failing node's id.
type NodeError struct {
	NodeID string
	Err    error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %q failed: %v", e.NodeID, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }
