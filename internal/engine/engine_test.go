// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insanalamin/mechaway/internal/workflow"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	executor, _ := newTestExecutor(t)
	return New(executor, slog.Default())
}

func compiled(t *testing.T, wf workflow.Workflow) *workflow.CompiledWorkflow {
	t.Helper()
	cw, err := workflow.Compile(wf)
	require.NoError(t, err)
	return cw
}

func scriptNode(id, script string) workflow.Node {
	return workflow.Node{ID: id, Type: workflow.NodeTypeFunLogic, Params: map[string]any{"script": script}}
}

func entryNode(id string) workflow.Node {
	return workflow.Node{ID: id, Type: workflow.NodeTypeWebhook, Params: map[string]any{"path": "/" + id}}
}

func TestExecuteLinearChain(t *testing.T) {
	eng := newTestEngine(t)

	wf := workflow.Workflow{
		ID: "wf-chain",
		Nodes: []workflow.Node{
			entryNode("hook"),
			scriptNode("double", "return {score = data[1].score * 2}"),
			scriptNode("add_ten", "return {score = data[1].score + 10}"),
		},
		Edges: []workflow.Edge{
			{From: "hook", To: "double"},
			{From: "double", To: "add_ten"},
		},
	}
	ec := workflow.NewWebhookContext("wf-chain", map[string]any{"score": float64(40)}, "default")

	result, err := eng.Execute(context.Background(), compiled(t, wf), "hook", ec)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"score": int64(90)}}, result.Data)
}

func TestExecuteUnknownStart(t *testing.T) {
	eng := newTestEngine(t)

	wf := workflow.Workflow{
		ID:    "wf-u",
		Nodes: []workflow.Node{entryNode("hook"), scriptNode("a", "return data")},
		Edges: []workflow.Edge{{From: "hook", To: "a"}},
	}
	ec := workflow.NewWebhookContext("wf-u", map[string]any{}, "default")

	_, err := eng.Execute(context.Background(), compiled(t, wf), "ghost", ec)
	assert.ErrorIs(t, err, ErrUnknownStart)
}

func TestExecuteEmptyFlow(t *testing.T) {
	eng := newTestEngine(t)

	// A webhook with no downstream nodes has nothing to execute.
	wf := workflow.Workflow{
		ID:    "wf-empty",
		Nodes: []workflow.Node{entryNode("hook")},
	}
	ec := workflow.NewWebhookContext("wf-empty", map[string]any{}, "default")

	_, err := eng.Execute(context.Background(), compiled(t, wf), "hook", ec)
	assert.ErrorIs(t, err, ErrEmptyFlow)
}

func TestExecuteReachabilityIsForwardOnly(t *testing.T) {
	eng := newTestEngine(t)

	// upstream feeds hook but must never run when starting at hook.
	wf := workflow.Workflow{
		ID: "wf-reach",
		Nodes: []workflow.Node{
			entryNode("other"),
			scriptNode("upstream", `error("must not run")`),
			entryNode("hook"),
			scriptNode("downstream", "return {ok = true}"),
		},
		Edges: []workflow.Edge{
			{From: "other", To: "upstream"},
			{From: "upstream", To: "downstream"},
			{From: "hook", To: "downstream"},
		},
	}
	ec := workflow.NewWebhookContext("wf-reach", map[string]any{}, "default")

	result, err := eng.Execute(context.Background(), compiled(t, wf), "hook", ec)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"ok": true}}, result.Data)
}

func TestExecuteSkipsTriggerNodes(t *testing.T) {
	eng := newTestEngine(t)

	// A trigger node in the middle of the graph is filtered, not dispatched.
	wf := workflow.Workflow{
		ID: "wf-trig",
		Nodes: []workflow.Node{
			entryNode("hook"),
			{ID: "mqtt", Type: workflow.NodeTypeMQTTTrigger, Params: map[string]any{}},
			scriptNode("logic", "return {ok = true}"),
		},
		Edges: []workflow.Edge{
			{From: "hook", To: "mqtt"},
			{From: "mqtt", To: "logic"},
		},
	}
	ec := workflow.NewWebhookContext("wf-trig", map[string]any{}, "default")

	result, err := eng.Execute(context.Background(), compiled(t, wf), "hook", ec)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"ok": true}}, result.Data)
}

func TestExecuteNodeFailureHaltsWithNodeError(t *testing.T) {
	eng := newTestEngine(t)

	wf := workflow.Workflow{
		ID: "wf-fail",
		Nodes: []workflow.Node{
			entryNode("hook"),
			scriptNode("boom", `error("kaput")`),
			scriptNode("after", "return data"),
		},
		Edges: []workflow.Edge{
			{From: "hook", To: "boom"},
			{From: "boom", To: "after"},
		},
	}
	ec := workflow.NewWebhookContext("wf-fail", map[string]any{}, "default")

	_, err := eng.Execute(context.Background(), compiled(t, wf), "hook", ec)
	require.Error(t, err)

	var ne *NodeError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "boom", ne.NodeID)
	assert.ErrorIs(t, err, ErrScript)
}

func TestExecuteDataThreadsBetweenNodes(t *testing.T) {
	eng := newTestEngine(t)

	wf := workflow.Workflow{
		ID: "wf-thread",
		Nodes: []workflow.Node{
			entryNode("hook"),
			scriptNode("fanout", "return {10, 20, 30}"),
			scriptNode("sum", "return {total = data[1] + data[2] + data[3]}"),
		},
		Edges: []workflow.Edge{
			{From: "hook", To: "fanout"},
			{From: "fanout", To: "sum"},
		},
	}
	ec := workflow.NewWebhookContext("wf-thread", map[string]any{}, "default")

	result, err := eng.Execute(context.Background(), compiled(t, wf), "hook", ec)
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"total": int64(60)}}, result.Data)
}
