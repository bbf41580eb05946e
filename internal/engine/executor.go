// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

// Package engine executes compiled workflows: pin evaluation, per-node-type
// dispatch, and topological walking of the reachable DAG.
package engine

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/insanalamin/mechaway/internal/tenant"
	"github.com/insanalamin/mechaway/internal/workflow"
)

// Executor dispatches single nodes by type. All SQL side effects go through
// the tenant manager so each execution stays inside its tenant's databases.
type Executor struct {
	tenants    *tenant.Manager
	httpClient *http.Client
	logger     *slog.Logger
}

// NewExecutor creates a node executor backed by the given tenant manager.
func NewExecutor(tenants *tenant.Manager, logger *slog.Logger) *Executor {
	return &Executor{
		tenants:    tenants,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// ExecuteNode runs one node against the execution context. Audit metadata
// is stamped before dispatch; duration is logged after.
func (e *Executor) ExecuteNode(ctx context.Context, node *workflow.Node, ec *workflow.ExecutionContext) (*workflow.ExecutionResult, error) {
	e.logger.Info("Starting node execution", "node_id", node.ID, "node_type", node.Type)
	start := time.Now()

	ec.Metadata["current_node_id"] = node.ID
	ec.Metadata["current_node_type"] = string(node.Type)
	ec.Metadata["execution_start"] = time.Now().UTC().Format(time.RFC3339)

	var result *workflow.ExecutionResult
	var err error

	switch node.Type {
	case workflow.NodeTypeFunLogic:
		result, err = e.executeFunLogic(node, ec)
	case workflow.NodeTypeSimpleTableWriter:
		result, err = e.executeSimpleTableWriter(ctx, node, ec)
	case workflow.NodeTypeSimpleTableReader:
		result, err = e.executeSimpleTableReader(ctx, node, ec)
	case workflow.NodeTypeSimpleTableQuery:
		result, err = e.executeSimpleTableQuery(ctx, node, ec)
	case workflow.NodeTypeHTTPClient:
		result, err = e.executeHTTPClient(ctx, node, ec)
	case workflow.NodeTypePGQuery:
		result, err = e.executePGQuery(ctx, node, ec)
	case workflow.NodeTypePGDynTableWriter:
		result, err = e.executePGDynTableWriter(ctx, node, ec)
	default:
		if node.Type.IsTrigger() {
			err = fmt.Errorf("%w: %s node %q", ErrTriggerMisuse, node.Type, node.ID)
		} else {
			err = fmt.Errorf("%w: unknown node type %q", ErrBadNode, node.Type)
		}
	}

	duration := time.Since(start)
	if err != nil {
		e.logger.Error("Node execution failed", "node_id", node.ID, "duration", duration, "error", err)
		return nil, err
	}
	e.logger.Info("Node execution completed", "node_id", node.ID, "duration", duration, "continue", result.Continue)
	return result, nil
}

// executeFunLogic evaluates the node's script against the current data
// batch, bound to a variable named data. A fresh sandbox per invocation
// keeps nodes stateless with respect to each other.
func (e *Executor) executeFunLogic(node *workflow.Node, ec *workflow.ExecutionContext) (*workflow.ExecutionResult, error) {
	script, ok := node.ParamString("script")
	if !ok {
		return nil, fmt.Errorf("%w: FunLogic node %q missing 'script' parameter", ErrBadNode, node.ID)
	}

	L := newSandbox()
	defer L.Close()

	items := make([]string, len(ec.Data))
	for i, item := range ec.Data {
		items[i] = jsonToLuaString(item)
	}
	setup := "data = {" + strings.Join(items, ", ") + "}"
	if err := L.DoString(setup); err != nil {
		return nil, fmt.Errorf("%w: bind data: %v", ErrScript, err)
	}

	if err := L.DoString(script); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrScript, err)
	}
	value := luaToJSON(L.Get(-1))
	L.Pop(1)

	data, ok := value.([]any)
	if !ok {
		data = []any{value}
	}
	return &workflow.ExecutionResult{Data: data, Metadata: ec.Metadata, Continue: true}, nil
}

// executeSimpleTableWriter inserts one row into a tenant simple table,
// creating the table on first use. Values come from input pins when
// declared, otherwise from matching column names on the first data item.
func (e *Executor) executeSimpleTableWriter(ctx context.Context, node *workflow.Node, ec *workflow.ExecutionContext) (*workflow.ExecutionResult, error) {
	table, ok := node.ParamString("table")
	if !ok {
		return nil, fmt.Errorf("%w: SimpleTableWriter node %q missing 'table' parameter", ErrBadNode, node.ID)
	}
	columns, ok := node.ParamStrings("columns")
	if !ok || len(columns) == 0 {
		return nil, fmt.Errorf("%w: SimpleTableWriter node %q requires non-empty 'columns'", ErrBadNode, node.ID)
	}
	if !validIdentifier(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", ErrValidation, table)
	}
	for _, col := range columns {
		if !validIdentifier(col) {
			return nil, fmt.Errorf("%w: invalid column name %q", ErrValidation, col)
		}
	}

	var values []any
	if len(node.Inputs) > 0 {
		if len(node.Inputs) != len(columns) {
			return nil, fmt.Errorf("%w: input pin count (%d) must match column count (%d)",
				ErrValidation, len(node.Inputs), len(columns))
		}
		pinned, err := e.evaluatePins(node.Inputs, ec)
		if err != nil {
			return nil, err
		}
		values = pinned
	} else {
		first, _ := firstItem(ec.Data).(map[string]any)
		values = make([]any, len(columns))
		for i, col := range columns {
			values[i] = first[col]
		}
	}

	db, err := e.tenants.SimpleTablePool(ec.ProjectSlug)
	if err != nil {
		return nil, err
	}

	columnDefs := make([]string, len(columns))
	for i, col := range columns {
		columnDefs[i] = col + " TEXT"
	}
	createSQL := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (id INTEGER PRIMARY KEY AUTOINCREMENT, %s)",
		table, strings.Join(columnDefs, ", "))

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), placeholders)

	binds := make([]any, len(values))
	for i, v := range values {
		binds[i] = sqlBindValue(v)
	}

	var insertedID int64
	var rowsAffected int64
	// A single connection keeps last_insert_rowid tied to our insert.
	err = db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if tx := conn.Exec(createSQL); tx.Error != nil {
			return tx.Error
		}
		tx := conn.Exec(insertSQL, binds...)
		if tx.Error != nil {
			return tx.Error
		}
		rowsAffected = tx.RowsAffected
		return conn.Raw("SELECT last_insert_rowid()").Scan(&insertedID).Error
	})
	if err != nil {
		return nil, fmt.Errorf("insert into %q: %w", table, err)
	}

	e.logger.Info("Simple table insert successful", "table", table, "rows_affected", rowsAffected, "inserted_id", insertedID)

	response := map[string]any{
		"inserted_data": map[string]any{
			"table":   table,
			"columns": columns,
			"values":  values,
		},
		"_inserted_id":   insertedID,
		"_rows_affected": rowsAffected,
		"_success":       true,
	}
	return &workflow.ExecutionResult{Data: []any{response}, Metadata: ec.Metadata, Continue: true}, nil
}

// executeSimpleTableReader reads recent rows from a tenant simple table. An
// unsafe where clause is dropped with a warning rather than failing the run.
func (e *Executor) executeSimpleTableReader(ctx context.Context, node *workflow.Node, ec *workflow.ExecutionContext) (*workflow.ExecutionResult, error) {
	table, ok := node.ParamString("table")
	if !ok {
		return nil, fmt.Errorf("%w: SimpleTableReader node %q missing 'table' parameter", ErrBadNode, node.ID)
	}
	if !validIdentifier(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", ErrValidation, table)
	}

	query := "SELECT * FROM " + table
	if where, ok := node.ParamString("where"); ok && where != "" {
		if validWhereClause(where) {
			query += " WHERE " + where
		} else {
			e.logger.Warn("Rejected unsafe where clause", "node_id", node.ID, "where", where)
		}
	}
	query += " ORDER BY id DESC"
	limit, ok := node.ParamInt("limit")
	if !ok || limit <= 0 {
		limit = 100
	}
	query += " LIMIT " + strconv.Itoa(limit)

	db, err := e.tenants.SimpleTablePool(ec.ProjectSlug)
	if err != nil {
		return nil, err
	}
	results, err := e.queryRows(ctx, db, query)
	if err != nil {
		return nil, fmt.Errorf("read from %q: %w", table, err)
	}

	e.logger.Info("Simple table read successful", "table", table, "rows", len(results))

	response := map[string]any{
		"results": results,
		"count":   len(results),
		"table":   table,
	}
	return &workflow.ExecutionResult{Data: []any{response}, Metadata: ec.Metadata, Continue: true}, nil
}

// executeSimpleTableQuery runs arbitrary parameterized SQL with bind values
// from input pins. A single matched row is returned unwrapped; anything else
// comes back in a results envelope.
func (e *Executor) executeSimpleTableQuery(ctx context.Context, node *workflow.Node, ec *workflow.ExecutionContext) (*workflow.ExecutionResult, error) {
	query, ok := node.ParamString("query")
	if !ok {
		return nil, fmt.Errorf("%w: SimpleTableQuery node %q missing 'query' parameter", ErrBadNode, node.ID)
	}
	table, _ := node.ParamString("table")
	if table == "" {
		table = "unknown_table"
	}

	var binds []any
	if len(node.Inputs) > 0 {
		pinned, err := e.evaluatePins(node.Inputs, ec)
		if err != nil {
			return nil, err
		}
		binds = make([]any, len(pinned))
		for i, v := range pinned {
			binds[i] = sqlBindValue(v)
		}
	}

	db, err := e.tenants.SimpleTablePool(ec.ProjectSlug)
	if err != nil {
		return nil, err
	}
	results, err := e.queryRows(ctx, db, query, binds...)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", table, err)
	}

	e.logger.Info("Simple table query successful", "table", table, "rows", len(results))

	var response any
	if len(results) == 1 {
		response = results[0]
	} else {
		response = map[string]any{
			"results": results,
			"count":   len(results),
			"table":   table,
		}
	}
	return &workflow.ExecutionResult{Data: []any{response}, Metadata: ec.Metadata, Continue: true}, nil
}

// executeHTTPClient performs an outbound HTTP request. The first input pin
// supplies the body for POST/PUT/PATCH. continue tracks response success so
// a failed call soft-halts downstream nodes.
func (e *Executor) executeHTTPClient(ctx context.Context, node *workflow.Node, ec *workflow.ExecutionContext) (*workflow.ExecutionResult, error) {
	url, ok := node.ParamString("url")
	if !ok {
		return nil, fmt.Errorf("%w: HTTPClient node %q missing 'url' parameter", ErrBadNode, node.ID)
	}
	method, _ := node.ParamString("method")
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)
	switch method {
	case http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodPatch:
	default:
		return nil, fmt.Errorf("%w: unsupported HTTP method %q", ErrBadNode, method)
	}

	var body io.Reader
	contentType := ""
	if len(node.Inputs) > 0 && (method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch) {
		pinned, err := e.evaluatePins(node.Inputs, ec)
		if err != nil {
			return nil, err
		}
		if len(pinned) > 0 && pinned[0] != nil {
			switch payload := pinned[0].(type) {
			case string:
				body = strings.NewReader(payload)
				contentType = "text/plain"
			default:
				encoded, err := json.Marshal(payload)
				if err != nil {
					return nil, fmt.Errorf("%w: encode request body: %v", ErrValidation, err)
				}
				body = bytes.NewReader(encoded)
				contentType = "application/json"
			}
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrBadNode, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if headers, ok := node.Params["headers"].(map[string]any); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				req.Header.Set(key, s)
			}
		}
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	headersMap := make(map[string]any, len(resp.Header))
	for key := range resp.Header {
		headersMap[strings.ToLower(key)] = resp.Header.Get(key)
	}

	var responseData any
	if err := json.Unmarshal(responseBody, &responseData); err != nil {
		responseData = string(responseBody)
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	e.logger.Info("HTTP request completed", "method", method, "url", url, "status", resp.StatusCode)

	response := map[string]any{
		"status":  resp.StatusCode,
		"headers": headersMap,
		"data":    responseData,
		"success": success,
	}
	return &workflow.ExecutionResult{Data: []any{response}, Metadata: ec.Metadata, Continue: success}, nil
}

// queryRows runs query against db and renders each row as a string-keyed
// record. Column values come back textual from SQLite, so integers, floats,
// and booleans are re-typed by parsing.
func (e *Executor) queryRows(ctx context.Context, db *gorm.DB, query string, binds ...any) ([]any, error) {
	rows, err := db.WithContext(ctx).Raw(query, binds...).Rows()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	results := make([]any, 0)
	for rows.Next() {
		holders := make([]any, len(columns))
		for i := range holders {
			holders[i] = new(sql.NullString)
		}
		if err := rows.Scan(holders...); err != nil {
			return nil, err
		}

		record := make(map[string]any, len(columns))
		for i, col := range columns {
			ns := holders[i].(*sql.NullString)
			if !ns.Valid {
				record[col] = nil
				continue
			}
			record[col] = parseSQLValue(ns.String)
		}
		results = append(results, record)
	}
	return results, rows.Err()
}

// parseSQLValue re-types a textual SQLite value: integer, then float, then
// boolean literal, else a string.
func parseSQLValue(s string) any {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if s == "true" || s == "false" {
		return s == "true"
	}
	return s
}

// sqlBindValue converts a structured value to an SQL bind value. Integral
// floats bind as int64 so textual columns store "80" rather than "80.0";
// composite values bind as their JSON encoding.
func sqlBindValue(v any) any {
	switch value := v.(type) {
	case nil, string, bool, int64:
		return value
	case float64:
		if value == float64(int64(value)) {
			return int64(value)
		}
		return value
	case int:
		return int64(value)
	default:
		encoded, err := json.Marshal(value)
		if err != nil {
			return fmt.Sprint(value)
		}
		return string(encoded)
	}
}

func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !isAlphanumeric(c) && c != '_' {
			return false
		}
	}
	return true
}

func validWhereClause(s string) bool {
	for _, c := range s {
		if !isAlphanumeric(c) && !strings.ContainsRune(" ><=!()._", c) {
			return false
		}
	}
	return true
}
