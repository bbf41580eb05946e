// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/insanalamin/mechaway/internal/workflow"
)

// dynTableSchema is the schema auto-created in the target database for
// dynamically written tables, keeping pipeline output separated from the
// user's own schemas.
const dynTableSchema = "mway_dynamic_tables"

// executePGQuery runs a parameterized query against an external PostgreSQL
// database. The connection string comes from the node's first secret pin;
// nodes without secrets fail before any connection attempt.
func (e *Executor) executePGQuery(ctx context.Context, node *workflow.Node, ec *workflow.ExecutionContext) (*workflow.ExecutionResult, error) {
	if len(node.Secrets) == 0 {
		return nil, fmt.Errorf("%w: PGQuery node %q requires a connection secret", ErrMissingSecret, node.ID)
	}
	resolved, err := e.evaluateSecretPins(ctx, node.Secrets, ec.ProjectSlug)
	if err != nil {
		return nil, err
	}
	connString := resolved[0]

	query, ok := node.ParamString("query")
	if !ok {
		return nil, fmt.Errorf("%w: PGQuery node %q missing 'query' parameter", ErrBadNode, node.ID)
	}

	var binds []any
	if len(node.Inputs) > 0 {
		if binds, err = e.evaluatePins(node.Inputs, ec); err != nil {
			return nil, err
		}
	}

	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, query, binds...)
	if err != nil {
		return nil, fmt.Errorf("postgres query failed: %w", err)
	}
	results, err := pgRowsToRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres query failed: %w", err)
	}

	e.logger.Info("Postgres query completed", "node_id", node.ID, "rows", len(results))

	response := map[string]any{
		"query":       query,
		"rows":        results,
		"row_count":   len(results),
		"executed_at": time.Now().UTC().Format(time.RFC3339),
	}
	return &workflow.ExecutionResult{Data: []any{response}, Metadata: ec.Metadata, Continue: true}, nil
}

// executePGDynTableWriter writes one row to an auto-created table in the
// dynamic-tables schema of the target database. Input pins are mandatory
// and must match the declared columns one to one.
func (e *Executor) executePGDynTableWriter(ctx context.Context, node *workflow.Node, ec *workflow.ExecutionContext) (*workflow.ExecutionResult, error) {
	if len(node.Secrets) == 0 {
		return nil, fmt.Errorf("%w: PGDynTableWriter node %q requires a connection secret", ErrMissingSecret, node.ID)
	}
	resolved, err := e.evaluateSecretPins(ctx, node.Secrets, ec.ProjectSlug)
	if err != nil {
		return nil, err
	}
	connString := resolved[0]

	table, ok := node.ParamString("table")
	if !ok {
		return nil, fmt.Errorf("%w: PGDynTableWriter node %q missing 'table' parameter", ErrBadNode, node.ID)
	}
	columns, ok := node.ParamStrings("columns")
	if !ok || len(columns) == 0 {
		return nil, fmt.Errorf("%w: PGDynTableWriter node %q requires non-empty 'columns'", ErrBadNode, node.ID)
	}
	if !validIdentifier(table) {
		return nil, fmt.Errorf("%w: invalid table name %q", ErrValidation, table)
	}
	for _, col := range columns {
		if !validIdentifier(col) {
			return nil, fmt.Errorf("%w: invalid column name %q", ErrValidation, col)
		}
	}
	if len(node.Inputs) == 0 {
		return nil, fmt.Errorf("%w: PGDynTableWriter node %q requires input pins", ErrBadNode, node.ID)
	}
	if len(node.Inputs) != len(columns) {
		return nil, fmt.Errorf("%w: input pin count (%d) must match column count (%d)",
			ErrValidation, len(node.Inputs), len(columns))
	}
	values, err := e.evaluatePins(node.Inputs, ec)
	if err != nil {
		return nil, err
	}

	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+dynTableSchema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	columnDefs := make([]string, len(columns))
	for i, col := range columns {
		columnDefs[i] = col + " TEXT"
	}
	createSQL := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s.%s (id BIGSERIAL PRIMARY KEY, %s)",
		dynTableSchema, table, strings.Join(columnDefs, ", "))
	if _, err := conn.Exec(ctx, createSQL); err != nil {
		return nil, fmt.Errorf("create table %q: %w", table, err)
	}

	placeholders := make([]string, len(columns))
	binds := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		binds[i] = pgBindValue(v)
	}
	insertSQL := fmt.Sprintf("INSERT INTO %s.%s (%s) VALUES (%s)",
		dynTableSchema, table, strings.Join(columns, ", "), strings.Join(placeholders, ", "))

	tag, err := conn.Exec(ctx, insertSQL, binds...)
	if err != nil {
		return nil, fmt.Errorf("insert into %q: %w", table, err)
	}

	e.logger.Info("Postgres dynamic table insert completed",
		"node_id", node.ID, "schema", dynTableSchema, "table", table, "rows_affected", tag.RowsAffected())

	response := map[string]any{
		"operation":      "pgdyn_table_write",
		"schema":         dynTableSchema,
		"table":          table,
		"columns":        columns,
		"values":         values,
		"_rows_affected": tag.RowsAffected(),
		"_success":       true,
		"executed_at":    time.Now().UTC().Format(time.RFC3339),
	}
	return &workflow.ExecutionResult{Data: []any{response}, Metadata: ec.Metadata, Continue: true}, nil
}

// pgRowsToRecords renders a pgx result set as string-keyed records with
// JSON-safe values.
func pgRowsToRecords(rows pgx.Rows) ([]any, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	results := make([]any, 0)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		record := make(map[string]any, len(fields))
		for i, field := range fields {
			record[field.Name] = pgValueToJSON(values[i])
		}
		results = append(results, record)
	}
	return results, rows.Err()
}

func pgValueToJSON(v any) any {
	switch value := v.(type) {
	case nil, bool, string, int64, float64:
		return value
	case int32:
		return int64(value)
	case int16:
		return int64(value)
	case float32:
		return float64(value)
	case time.Time:
		return value.UTC().Format(time.RFC3339)
	case []byte:
		return string(value)
	default:
		return fmt.Sprint(value)
	}
}

// pgBindValue mirrors sqlBindValue for PostgreSQL TEXT columns: scalars bind
// directly, integral floats as integers, composites as JSON text.
func pgBindValue(v any) any {
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
