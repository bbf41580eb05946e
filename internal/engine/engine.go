// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/insanalamin/mechaway/internal/workflow"
)

// Engine walks a compiled workflow from an entry node: reachability from the
// entry, then sequential execution of the reachable non-trigger nodes in
// topological order.
type Engine struct {
	executor *Executor
	logger   *slog.Logger
}

// New creates a workflow engine around the given node executor.
func New(executor *Executor, logger *slog.Logger) *Engine {
	return &Engine{executor: executor, logger: logger}
}

// Execute runs the workflow from startNodeID with the given context and
// returns the final result. Execution is strictly sequential along one
// topological linearization; siblings are never parallelized. A node that
// clears the continue flag halts the walk without error; a node failure
// halts it with a NodeError.
func (e *Engine) Execute(ctx context.Context, cw *workflow.CompiledWorkflow, startNodeID string, ec *workflow.ExecutionContext) (*workflow.ExecutionResult, error) {
	wf := &cw.Workflow

	nodesByID := make(map[string]*workflow.Node, len(wf.Nodes))
	for i := range wf.Nodes {
		nodesByID[wf.Nodes[i].ID] = &wf.Nodes[i]
	}
	if _, ok := nodesByID[startNodeID]; !ok {
		return nil, fmt.Errorf("%w: %q in workflow %q", ErrUnknownStart, startNodeID, wf.ID)
	}

	order, err := workflow.TopologicalOrder(*wf)
	if err != nil {
		if errors.Is(err, workflow.ErrCyclic) {
			return nil, fmt.Errorf("%w: workflow %q", ErrCycle, wf.ID)
		}
		return nil, err
	}

	reachable := reachableFrom(wf, startNodeID)

	executable := make([]*workflow.Node, 0, len(order))
	for _, id := range order {
		if !reachable[id] {
			continue
		}
		node := nodesByID[id]
		if node.Type.IsTrigger() {
			continue
		}
		executable = append(executable, node)
	}
	if len(executable) == 0 {
		return nil, fmt.Errorf("%w: workflow %q start %q", ErrEmptyFlow, wf.ID, startNodeID)
	}

	e.logger.Info("Starting workflow execution",
		"workflow_id", wf.ID, "start_node", startNodeID, "node_count", len(executable))

	result := &workflow.ExecutionResult{Data: ec.Data, Metadata: ec.Metadata, Continue: true}
	for _, node := range executable {
		if !result.Continue {
			e.logger.Info("Execution halted by node", "workflow_id", wf.ID)
			break
		}

		ec.Data = result.Data
		ec.Metadata = result.Metadata

		next, err := e.executor.ExecuteNode(ctx, node, ec)
		if err != nil {
			return nil, &NodeError{NodeID: node.ID, Err: err}
		}
		result = next
	}

	e.logger.Info("Workflow execution completed", "workflow_id", wf.ID, "items", len(result.Data))
	return result, nil
}

// reachableFrom computes the forward-reachable node set from start via
// breadth-first traversal. Predecessors of the entry are never included.
func reachableFrom(wf *workflow.Workflow, start string) map[string]bool {
	adjacency := make(map[string][]string, len(wf.Nodes))
	for _, edge := range wf.Edges {
		adjacency[edge.From] = append(adjacency[edge.From], edge.To)
	}

	reachable := map[string]bool{start: true}
	queue := []string{start}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[current] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}
	return reachable
}
