// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

package workflow

import (
	"fmt"
	"sort"
)

// CompiledWorkflow is a workflow plus indices derived at compile time. It
// is immutable once built; a reload produces a fresh value.
type CompiledWorkflow struct {
	Workflow Workflow
	// WebhookPaths holds the "path" params of every Webhook node, used to
	// match inbound webhook requests.
	WebhookPaths []string
	// StartNodeIDs holds the IDs of every entry node (Webhook or Cron).
	StartNodeIDs []string
}

// Compile validates the workflow graph and derives its execution indices.
// Compilation is pure: identical inputs yield identical outputs. It fails
// with a *CompileError when the workflow has no nodes, an edge references
// a missing node, the graph has a cycle, or there is no entry node.
func Compile(wf Workflow) (*CompiledWorkflow, error) {
	if len(wf.Nodes) == 0 {
		return nil, &CompileError{WorkflowID: wf.ID, Err: ErrNoNodes}
	}

	nodeIDs := make(map[string]struct{}, len(wf.Nodes))
	for _, n := range wf.Nodes {
		nodeIDs[n.ID] = struct{}{}
	}
	for _, e := range wf.Edges {
		if _, ok := nodeIDs[e.From]; !ok {
			return nil, &CompileError{WorkflowID: wf.ID, Err: fmt.Errorf("%w: %s", ErrUnknownEdgeNode, e.From)}
		}
		if _, ok := nodeIDs[e.To]; !ok {
			return nil, &CompileError{WorkflowID: wf.ID, Err: fmt.Errorf("%w: %s", ErrUnknownEdgeNode, e.To)}
		}
	}

	if _, err := TopologicalOrder(wf); err != nil {
		return nil, &CompileError{WorkflowID: wf.ID, Err: err}
	}

	var webhookPaths []string
	var startNodeIDs []string
	for _, n := range wf.Nodes {
		if n.Type.IsEntry() {
			startNodeIDs = append(startNodeIDs, n.ID)
		}
		if n.Type == NodeTypeWebhook {
			if path, ok := n.ParamString("path"); ok {
				webhookPaths = append(webhookPaths, path)
			}
		}
	}
	if len(startNodeIDs) == 0 {
		return nil, &CompileError{WorkflowID: wf.ID, Err: ErrNoStartNode}
	}

	return &CompiledWorkflow{
		Workflow:     wf,
		WebhookPaths: webhookPaths,
		StartNodeIDs: startNodeIDs,
	}, nil
}

// TopologicalOrder returns a stable topological linearization of the
// workflow's node IDs using Kahn's algorithm, breaking ties by node ID.
// Returns ErrCyclic when the graph is not a DAG.
func TopologicalOrder(wf Workflow) ([]string, error) {
	inDegree := make(map[string]int, len(wf.Nodes))
	adjacent := make(map[string][]string, len(wf.Nodes))
	for _, n := range wf.Nodes {
		inDegree[n.ID] = 0
	}
	for _, e := range wf.Edges {
		adjacent[e.From] = append(adjacent[e.From], e.To)
		inDegree[e.To]++
	}

	var ready []string
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(wf.Nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		next := adjacent[id]
		sort.Strings(next)
		for _, to := range next {
			inDegree[to]--
			if inDegree[to] == 0 {
				ready = append(ready, to)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(wf.Nodes) {
		return nil, ErrCyclic
	}
	return order, nil
}

// CronNodes returns every Cron node of the workflow, in definition order.
func CronNodes(wf Workflow) []Node {
	var nodes []Node
	for _, n := range wf.Nodes {
		if n.Type == NodeTypeCron {
			nodes = append(nodes, n)
		}
	}
	return nodes
}
