// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/insanalamin/mechaway/internal/workflow"
)

// Substrings that switch an expression into script mode.
var scriptAllowPatterns = []string{
	"date(", "time()", "now()",
	"math.", "string.",
	"uuid()", "hash(",
}

// Substrings that disqualify an expression from script mode outright.
var scriptDenyPatterns = []string{
	"os.", "io.", "debug.", "package.", "require", "load", "dofile",
	"loadfile", "loadstring", "rawget", "rawset", "getmetatable",
	"setmetatable", "_G", "_ENV", "coroutine", "collectgarbage",
}

const scriptExtraChars = " +-*/()[]{}.,\"'_%"

// evaluatePins resolves each pin expression against the execution context.
// Unrecognized expressions fall back to a structured-value literal, then to
// a raw string.
func (e *Executor) evaluatePins(pins []string, ec *workflow.ExecutionContext) ([]any, error) {
	values := make([]any, 0, len(pins))
	for _, pin := range pins {
		value, err := e.evaluatePin(pin, ec)
		if err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, nil
}

func (e *Executor) evaluatePin(pin string, ec *workflow.ExecutionContext) (any, error) {
	switch {
	case pin == "$json":
		return firstItem(ec.Data), nil
	case strings.HasPrefix(pin, "$json."):
		return extractJSONField(ec.Data, strings.TrimPrefix(pin, "$json.")), nil
	case strings.HasPrefix(pin, "$file."):
		return e.extractFileField(ec, strings.TrimPrefix(pin, "$file.")), nil
	case strings.HasPrefix(pin, "$query."):
		return e.extractStringField(ec.Query, strings.TrimPrefix(pin, "$query."), "query parameter"), nil
	case strings.HasPrefix(pin, "$headers."):
		return e.extractStringField(ec.Headers, strings.TrimPrefix(pin, "$headers."), "header"), nil
	case strings.HasPrefix(pin, "$websocket."):
		return e.extractSubObjectField(ec.Data, "websocket", strings.TrimPrefix(pin, "$websocket.")), nil
	case strings.HasPrefix(pin, "$mqtt."):
		return e.extractSubObjectField(ec.Data, "mqtt", strings.TrimPrefix(pin, "$mqtt.")), nil
	case strings.HasPrefix(pin, "$mcp."):
		return e.extractSubObjectField(ec.Data, "mcp", strings.TrimPrefix(pin, "$mcp.")), nil
	case isSafeScriptExpression(pin):
		return e.evaluateScriptExpression(pin)
	default:
		var literal any
		if err := json.Unmarshal([]byte(pin), &literal); err != nil {
			return pin, nil
		}
		return literal, nil
	}
}

// evaluateSecretPins resolves $secret.<key> pins to credential values from
// the tenant's vault. Used only by node types that declare secrets.
func (e *Executor) evaluateSecretPins(ctx context.Context, pins []string, slug string) ([]string, error) {
	secrets := make([]string, 0, len(pins))
	for _, pin := range pins {
		key, ok := strings.CutPrefix(pin, "$secret.")
		if !ok {
			return nil, fmt.Errorf("%w: secret pin %q must start with $secret.", ErrMissingSecret, pin)
		}
		value, err := e.tenants.Secret(ctx, slug, key)
		if err != nil {
			return nil, fmt.Errorf("%w: resolve %q: %v", ErrMissingSecret, key, err)
		}
		secrets = append(secrets, value)
	}
	return secrets, nil
}

func firstItem(data []any) any {
	if len(data) == 0 {
		return nil
	}
	return data[0]
}

// extractJSONField walks a dot path on the first data item. Any missing or
// non-object step yields nil.
func extractJSONField(data []any, path string) any {
	var current any = firstItem(data)
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = obj[part]
	}
	return current
}

func (e *Executor) extractFileField(ec *workflow.ExecutionContext, name string) any {
	info, ok := ec.Files[name]
	if !ok {
		e.logger.Warn("File field not found in uploaded files", "field", name)
		return nil
	}
	return map[string]any{
		"filename":     info.Filename,
		"content_type": info.ContentType,
		"size":         info.Size,
		"path":         info.Path,
	}
}

func (e *Executor) extractStringField(m map[string]string, key, kind string) any {
	value, ok := m[key]
	if !ok {
		e.logger.Warn("Pin lookup missed", "kind", kind, "key", key)
		return nil
	}
	return value
}

// extractSubObjectField reads a field from a named sub-object of the first
// data item, the shape trigger adapters use for transport-specific payloads.
func (e *Executor) extractSubObjectField(data []any, section, field string) any {
	first, ok := firstItem(data).(map[string]any)
	if !ok {
		e.logger.Warn("No trigger payload in context", "section", section)
		return nil
	}
	sub, ok := first[section].(map[string]any)
	if !ok {
		e.logger.Warn("Trigger section not found in payload", "section", section)
		return nil
	}
	value, ok := sub[field]
	if !ok {
		e.logger.Warn("Trigger field not found", "section", section, "field", field)
		return nil
	}
	return value
}

// isSafeScriptExpression decides whether a pin runs as a sandboxed script.
// The deny list is checked first; an allow-list hit then enables script
// mode; otherwise only short expressions over a restricted character set
// qualify.
func isSafeScriptExpression(expr string) bool {
	for _, pattern := range scriptDenyPatterns {
		if strings.Contains(expr, pattern) {
			return false
		}
	}
	for _, pattern := range scriptAllowPatterns {
		if strings.Contains(expr, pattern) {
			return true
		}
	}
	if len(expr) >= 200 {
		return false
	}
	for _, c := range expr {
		if !isAlphanumeric(c) && !strings.ContainsRune(scriptExtraChars, c) {
			return false
		}
	}
	return true
}

func isAlphanumeric(c rune) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// evaluateScriptExpression runs expr in a fresh sandbox and converts the
// result to structured form.
func (e *Executor) evaluateScriptExpression(expr string) (any, error) {
	L := newSandbox()
	defer L.Close()

	// Expressions are wrapped in a return; full statements run as-is.
	if err := L.DoString("return " + expr); err != nil {
		if err = L.DoString(expr); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrScript, err)
		}
	}
	result := L.Get(-1)
	L.Pop(1)
	return luaToJSON(result), nil
}
