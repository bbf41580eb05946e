// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/insanalamin/mechaway/internal/engine"
	"github.com/insanalamin/mechaway/internal/scheduler"
	"github.com/insanalamin/mechaway/internal/tenant"
	"github.com/insanalamin/mechaway/internal/workflow"
)

type testStack struct {
	server    *httptest.Server
	tenants   *tenant.Manager
	registry  *workflow.Registry
	scheduler *scheduler.Scheduler
}

func newTestStack(t *testing.T) *testStack {
	return newTestStackWithLogger(t, slog.Default())
}

func newTestStackWithLogger(t *testing.T, logger *slog.Logger) *testStack {
	t.Helper()

	tenants := tenant.NewManager(t.TempDir(), logger)
	pool, err := tenants.ProjectPool(workflow.DefaultProjectSlug)
	require.NoError(t, err)

	store := workflow.NewStore(pool, logger)
	registry := workflow.NewRegistry(store, logger)
	require.NoError(t, registry.InitFromStore(context.Background()))

	executor := engine.NewExecutor(tenants, logger)
	eng := engine.New(executor, logger)
	sched := scheduler.New(registry, eng, logger)
	t.Cleanup(sched.Stop)

	handler := New(store, registry, sched, eng, logger)
	server := httptest.NewServer(handler.Routes())
	t.Cleanup(server.Close)

	return &testStack{server: server, tenants: tenants, registry: registry, scheduler: sched}
}

func (ts *testStack) request(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, ts.server.URL+path, reader)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func gradeWorkflow() workflow.Workflow {
	return workflow.Workflow{
		ID:   "wf-grading",
		Name: "Grade Doubler",
		Nodes: []workflow.Node{
			{ID: "hook", Type: workflow.NodeTypeWebhook, Params: map[string]any{"path": "/grade", "method": "POST"}},
			{ID: "double", Type: workflow.NodeTypeFunLogic, Params: map[string]any{"script": "return {score = data[1].score * 2}"}},
			{ID: "persist", Type: workflow.NodeTypeSimpleTableWriter, Params: map[string]any{"table": "grades", "columns": []string{"score"}}},
		},
		Edges: []workflow.Edge{
			{From: "hook", To: "double"},
			{From: "double", To: "persist"},
		},
	}
}

func TestHealth(t *testing.T) {
	ts := newTestStack(t)

	resp, body := ts.request(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))
}

func TestWorkflowLifecycle(t *testing.T) {
	ts := newTestStack(t)
	wf := gradeWorkflow()

	resp, body := ts.request(t, http.MethodPost, "/api/workflows", WorkflowRequest{Workflow: wf})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var created WorkflowResponse
	require.NoError(t, json.Unmarshal(body, &created))
	assert.Equal(t, "wf-grading", created.ID)
	assert.Contains(t, created.Message, "created")

	// The compiled workflow is live immediately after create.
	_, ok := ts.registry.Get("wf-grading")
	assert.True(t, ok)

	resp, body = ts.request(t, http.MethodGet, "/api/workflows/wf-grading", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched workflow.Workflow
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, "Grade Doubler", fetched.Name)
	assert.Len(t, fetched.Nodes, 3)

	resp, body = ts.request(t, http.MethodGet, "/api/workflows", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed ListWorkflowsResponse
	require.NoError(t, json.Unmarshal(body, &listed))
	require.Len(t, listed.Workflows, 1)
	assert.Equal(t, "wf-grading", listed.Workflows[0].ID)

	wf.Name = "Grade Doubler v2"
	resp, body = ts.request(t, http.MethodPut, "/api/workflows/wf-grading", WorkflowRequest{Workflow: wf})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = ts.request(t, http.MethodGet, "/api/workflows/wf-grading", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &fetched))
	assert.Equal(t, "Grade Doubler v2", fetched.Name)

	resp, _ = ts.request(t, http.MethodDelete, "/api/workflows/wf-grading", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.request(t, http.MethodGet, "/api/workflows/wf-grading", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, ok = ts.registry.Get("wf-grading")
	assert.False(t, ok)
}

func TestCreateWorkflowValidation(t *testing.T) {
	ts := newTestStack(t)

	resp, _ := ts.request(t, http.MethodPost, "/api/workflows", map[string]any{"workflow": "not an object"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	missingID := gradeWorkflow()
	missingID.ID = ""
	resp, _ = ts.request(t, http.MethodPost, "/api/workflows", WorkflowRequest{Workflow: missingID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	missingName := gradeWorkflow()
	missingName.Name = ""
	resp, _ = ts.request(t, http.MethodPost, "/api/workflows", WorkflowRequest{Workflow: missingName})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateWorkflowConflict(t *testing.T) {
	ts := newTestStack(t)
	wf := gradeWorkflow()

	resp, _ := ts.request(t, http.MethodPost, "/api/workflows", WorkflowRequest{Workflow: wf})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := ts.request(t, http.MethodPost, "/api/workflows", WorkflowRequest{Workflow: wf})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Contains(t, errResp.Error, "already exists")
}

func TestCreateCyclicWorkflowFailsCompilation(t *testing.T) {
	ts := newTestStack(t)

	wf := workflow.Workflow{
		ID:   "wf-cycle",
		Name: "Cyclic",
		Nodes: []workflow.Node{
			{ID: "hook", Type: workflow.NodeTypeWebhook, Params: map[string]any{"path": "/x"}},
			{ID: "a", Type: workflow.NodeTypeFunLogic, Params: map[string]any{"script": "return data"}},
			{ID: "b", Type: workflow.NodeTypeFunLogic, Params: map[string]any{"script": "return data"}},
		},
		Edges: []workflow.Edge{
			{From: "hook", To: "a"},
			{From: "a", To: "b"},
			{From: "b", To: "a"},
		},
	}
	resp, _ := ts.request(t, http.MethodPost, "/api/workflows", WorkflowRequest{Workflow: wf})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	// A workflow rejected at compile time must not serve webhooks.
	_, ok := ts.registry.Get("wf-cycle")
	assert.False(t, ok)
}

func TestUpdateWorkflowNotFound(t *testing.T) {
	ts := newTestStack(t)

	wf := gradeWorkflow()
	resp, _ := ts.request(t, http.MethodPut, "/api/workflows/wf-missing", WorkflowRequest{Workflow: wf})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteWorkflowNotFound(t *testing.T) {
	ts := newTestStack(t)

	resp, _ := ts.request(t, http.MethodDelete, "/api/workflows/wf-missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhookExecutesWorkflow(t *testing.T) {
	ts := newTestStack(t)

	resp, _ := ts.request(t, http.MethodPost, "/api/workflows", WorkflowRequest{Workflow: gradeWorkflow()})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := ts.request(t, http.MethodPost, "/webhook/wf-grading/grade", map[string]any{"score": 40})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var results []map[string]any
	require.NoError(t, json.Unmarshal(body, &results))
	require.Len(t, results, 1)
	assert.Equal(t, true, results[0]["_success"])
	inserted, ok := results[0]["inserted_data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "grades", inserted["table"])

	// The doubled score lands in the tenant's simple-table database.
	db, err := ts.tenants.SimpleTablePool(workflow.DefaultProjectSlug)
	require.NoError(t, err)
	var stored string
	require.NoError(t, db.Raw("SELECT score FROM grades ORDER BY id DESC LIMIT 1").Scan(&stored).Error)
	assert.Equal(t, "80", stored)
}

func TestWebhookNotFound(t *testing.T) {
	ts := newTestStack(t)

	resp, _ := ts.request(t, http.MethodPost, "/api/workflows", WorkflowRequest{Workflow: gradeWorkflow()})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Unknown workflow.
	resp, _ = ts.request(t, http.MethodPost, "/webhook/wf-missing/grade", map[string]any{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Known workflow, unregistered path.
	resp, _ = ts.request(t, http.MethodPost, "/webhook/wf-grading/no-such-path", map[string]any{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWebhookInvalidPayload(t *testing.T) {
	ts := newTestStack(t)

	resp, _ := ts.request(t, http.MethodPost, "/api/workflows", WorkflowRequest{Workflow: gradeWorkflow()})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, ts.server.URL+"/webhook/wf-grading/grade", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookEmptyBodyRejected(t *testing.T) {
	ts := newTestStack(t)

	resp, _ := ts.request(t, http.MethodPost, "/api/workflows", WorkflowRequest{Workflow: gradeWorkflow()})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// No body at all is not valid JSON.
	resp, body := ts.request(t, http.MethodPost, "/webhook/wf-grading/grade", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Contains(t, errResp.Error, "invalid JSON")
}

func TestWebhookExecutionFailureMapsTo422(t *testing.T) {
	ts := newTestStack(t)

	wf := workflow.Workflow{
		ID:   "wf-pg",
		Name: "Needs Secrets",
		Nodes: []workflow.Node{
			{ID: "hook", Type: workflow.NodeTypeWebhook, Params: map[string]any{"path": "/pg"}},
			{ID: "query", Type: workflow.NodeTypePGQuery, Params: map[string]any{"query": "SELECT 1"}},
		},
		Edges: []workflow.Edge{{From: "hook", To: "query"}},
	}
	resp, _ := ts.request(t, http.MethodPost, "/api/workflows", WorkflowRequest{Workflow: wf})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := ts.request(t, http.MethodPost, "/webhook/wf-pg/pg", map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	assert.Contains(t, errResp.Error, "execution failed")
}

func TestDeleteWorkflowStopsWebhook(t *testing.T) {
	ts := newTestStack(t)

	resp, _ := ts.request(t, http.MethodPost, "/api/workflows", WorkflowRequest{Workflow: gradeWorkflow()})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.request(t, http.MethodDelete, "/api/workflows/wf-grading", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.request(t, http.MethodPost, "/webhook/wf-grading/grade", map[string]any{"score": 40})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateWorkflowRegistersCronJobs(t *testing.T) {
	ts := newTestStack(t)

	wf := workflow.Workflow{
		ID:   "wf-cron",
		Name: "Scheduled",
		Nodes: []workflow.Node{
			{ID: "tick", Type: workflow.NodeTypeCron, Params: map[string]any{"schedule": "0 */5 * * * *"}},
			{ID: "logic", Type: workflow.NodeTypeFunLogic, Params: map[string]any{"script": "return data"}},
		},
		Edges: []workflow.Edge{{From: "tick", To: "logic"}},
	}
	resp, _ := ts.request(t, http.MethodPost, "/api/workflows", WorkflowRequest{Workflow: wf})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"wf-cron:tick"}, ts.scheduler.Jobs())

	resp, _ = ts.request(t, http.MethodDelete, "/api/workflows/wf-cron", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, ts.scheduler.Jobs())
}

func TestHandlerLogsCarryRequestID(t *testing.T) {
	var buf bytes.Buffer
	ts := newTestStackWithLogger(t, slog.New(slog.NewJSONHandler(&buf, nil)))

	req, err := http.NewRequest(http.MethodPost, ts.server.URL+"/api/workflows", nil)
	require.NoError(t, err)
	encoded, err := json.Marshal(WorkflowRequest{Workflow: gradeWorkflow()})
	require.NoError(t, err)
	req.Body = io.NopCloser(bytes.NewReader(encoded))
	req.Header.Set("X-Request-ID", "req-wf-create")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "req-wf-create", resp.Header.Get("X-Request-ID"))

	// The handler's own log lines are scoped with the request ID by the
	// logging middleware, not by the handler passing it explicitly.
	var createdLine map[string]any
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var line map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw), &line))
		if line["msg"] == "Created workflow" {
			createdLine = line
		}
	}
	require.NotNil(t, createdLine, "expected a create log line from the handler")
	assert.Equal(t, "req-wf-create", createdLine["request_id"])
	assert.Equal(t, "wf-grading", createdLine["workflow_id"])
}
