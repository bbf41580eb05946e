// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

// Package workflow defines the workflow data model, the persistent store,
// the pure compiler, and the hot-reload registry.
package workflow

import (
	"time"
)

// DefaultProjectSlug is the tenant used when a trigger names none.
const DefaultProjectSlug = "default"

// NodeType determines a node's execution behavior.
type NodeType string

const (
	// NodeTypeWebhook is an HTTP trigger entry point.
	// Expected params: {"path": "/grade", "method": "POST"}
	NodeTypeWebhook NodeType = "Webhook"
	// NodeTypeCron is a background scheduled trigger.
	// Expected params: {"schedule": "0 */1 * * * *", "project_slug": "default"}
	NodeTypeCron NodeType = "Cron"
	// NodeTypeFunLogic evaluates an embedded Lua script against the data array.
	// Expected params: {"script": "return {result = data[1].score * 2}"}
	NodeTypeFunLogic NodeType = "FunLogic"
	// NodeTypeSimpleTableWriter inserts one row into a tenant simple table.
	// Expected params: {"table": "grades", "columns": ["score"]}
	NodeTypeSimpleTableWriter NodeType = "SimpleTableWriter"
	// NodeTypeSimpleTableReader reads rows from a tenant simple table.
	// Expected params: {"table": "grades", "limit": 100, "where": "score > 70"}
	NodeTypeSimpleTableReader NodeType = "SimpleTableReader"
	// NodeTypeSimpleTableQuery runs parameterized SQL with input-pin binds.
	// Expected params: {"query": "SELECT * FROM posts WHERE slug = ?"}
	NodeTypeSimpleTableQuery NodeType = "SimpleTableQuery"
	// NodeTypeHTTPClient performs an outbound HTTP call.
	// Expected params: {"url": "https://api.example.com", "method": "GET"}
	NodeTypeHTTPClient NodeType = "HTTPClient"
	// NodeTypePGQuery runs a parameterized PostgreSQL query. Requires a
	// connection-string secret pin.
	NodeTypePGQuery NodeType = "PGQuery"
	// NodeTypePGDynTableWriter writes one row into an auto-created table
	// under the mway_dynamic_tables schema. Requires a secret pin.
	NodeTypePGDynTableWriter NodeType = "PGDynTableWriter"

	// Reserved trigger-only variants. They are valid graph members but have
	// no registration path yet; dispatching them is a hard error.
	NodeTypeMCPTrigger       NodeType = "MCPTrigger"
	NodeTypeWebSocketTrigger NodeType = "WebSocketTrigger"
	NodeTypeMQTTTrigger      NodeType = "MQTTTrigger"
)

// IsTrigger reports whether the type is an entry anchor rather than a
// processing node. Trigger nodes are never dispatched by the engine.
func (t NodeType) IsTrigger() bool {
	switch t {
	case NodeTypeWebhook, NodeTypeCron, NodeTypeMCPTrigger, NodeTypeWebSocketTrigger, NodeTypeMQTTTrigger:
		return true
	}
	return false
}

// IsEntry reports whether execution may legally start at a node of this
// type. Only Webhook and Cron have trigger paths today.
func (t NodeType) IsEntry() bool {
	return t == NodeTypeWebhook || t == NodeTypeCron
}

// Workflow is a complete workflow definition: a DAG of typed nodes.
type Workflow struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is a single processing unit in the workflow DAG. Identified by
// (workflow ID, node ID).
type Node struct {
	ID   string   `json:"id"`
	Type NodeType `json:"node_type"`
	// Params holds node-specific configuration as free-form JSON.
	Params map[string]any `json:"params"`
	// Inputs are optional pin expressions evaluated against the execution
	// context to source values (bind parameters, request bodies, columns).
	Inputs []string `json:"inputs,omitempty"`
	// Outputs are optional pin expressions shaping the node result.
	Outputs []string `json:"outputs,omitempty"`
	// Secrets are optional pin expressions resolving credentials.
	Secrets []string `json:"secrets,omitempty"`
}

// Edge is a dependency between two nodes. It carries direction only.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// FileInfo describes an uploaded file referenced by $file pins.
type FileInfo struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Path        string `json:"path"`
}

// ExecutionContext is the mutable state threaded between nodes during one
// execution. Data is always an array, even for a single item, so nodes see
// a uniform batch shape.
type ExecutionContext struct {
	Data        []any               `json:"data"`
	Files       map[string]FileInfo `json:"files"`
	Query       map[string]string   `json:"query"`
	Headers     map[string]string   `json:"headers"`
	Metadata    map[string]any      `json:"metadata"`
	ProjectSlug string              `json:"project_slug"`
}

// ExecutionResult is produced by each node: the next data array, updated
// metadata, and whether execution should continue downstream.
type ExecutionResult struct {
	Data     []any
	Metadata map[string]any
	Continue bool
}

// NewWebhookContext builds an execution context from a webhook trigger.
// The payload is wrapped in a one-element array.
func NewWebhookContext(workflowID string, payload any, projectSlug string) *ExecutionContext {
	return &ExecutionContext{
		Data:    []any{payload},
		Files:   map[string]FileInfo{},
		Query:   map[string]string{},
		Headers: map[string]string{},
		Metadata: map[string]any{
			"workflow_id": workflowID,
			"started_at":  time.Now().UTC().Format(time.RFC3339),
		},
		ProjectSlug: projectSlug,
	}
}

// NewCronContext builds an execution context for a cron tick. The payload
// carries the trigger timestamp so downstream nodes have data to work with.
func NewCronContext(workflowID, triggerNodeID, projectSlug string) *ExecutionContext {
	now := time.Now().UTC().Format(time.RFC3339)
	return &ExecutionContext{
		Data: []any{map[string]any{
			"trigger_type": "cron",
			"timestamp":    now,
			"workflow_id":  workflowID,
			"project_slug": projectSlug,
		}},
		Files:   map[string]FileInfo{},
		Query:   map[string]string{},
		Headers: map[string]string{},
		Metadata: map[string]any{
			"workflow_id":     workflowID,
			"trigger_node_id": triggerNodeID,
			"trigger_type":    "cron",
			"started_at":      now,
		},
		ProjectSlug: projectSlug,
	}
}

// ParamString returns a string parameter, with ok reporting presence.
func (n *Node) ParamString(key string) (string, bool) {
	v, ok := n.Params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// ParamStrings returns a string-array parameter such as "columns".
func (n *Node) ParamStrings(key string) ([]string, bool) {
	v, ok := n.Params[key]
	if !ok {
		return nil, false
	}
	raw, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// ParamInt returns an integer parameter. JSON numbers decode as float64.
func (n *Node) ParamInt(key string) (int, bool) {
	v, ok := n.Params[key]
	if !ok {
		return 0, false
	}
	switch num := v.(type) {
	case float64:
		return int(num), true
	case int:
		return num, true
	}
	return 0, false
}
