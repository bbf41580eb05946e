// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a workflow does not exist in the store
	// or the registry.
	ErrNotFound = errors.New("workflow not found")

	// Compile failures. All are wrapped in a *CompileError.
	ErrNoNodes         = errors.New("workflow has no nodes")
	ErrUnknownEdgeNode = errors.New("edge references unknown node")
	ErrCyclic          = errors.New("workflow contains a cycle, must be a DAG")
	ErrNoStartNode     = errors.New("workflow has no start node (Webhook or Cron)")
)

// CompileError reports an invariant violation found while compiling a
// workflow. It wraps one of the compile sentinel errors above.
type CompileError struct {
	WorkflowID string
	Err        error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile workflow %q: %v", e.WorkflowID, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }
