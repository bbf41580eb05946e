// Copyright 2026 The Mechaway Authors
// SPDX-License-Identifier: Apache-2.0

package logger

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
)

func decodeLogLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, raw := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if raw == "" {
			continue
		}
		var line map[string]any
		require.NoError(t, json.Unmarshal([]byte(raw), &line))
		lines = append(lines, line)
	}
	return lines
}

func TestGetLoggerFallsBackToDefault(t *testing.T) {
	assert.Same(t, slog.Default(), GetLogger(context.Background()))
}

func TestWithLoggerRoundTrip(t *testing.T) {
	scoped := slog.New(slog.NewJSONHandler(io.Discard, nil))
	ctx := WithLogger(context.Background(), scoped)
	assert.Same(t, scoped, GetLogger(ctx))
}

func TestMiddlewareScopesLoggerToRequest(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	var seenRequestID string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenRequestID = r.Header.Get("X-Request-ID")
		GetLogger(r.Context()).Info("handled")
		w.WriteHeader(http.StatusCreated)
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/workflows", nil)
	Middleware(base)(next).ServeHTTP(rec, req)

	require.NotEmpty(t, seenRequestID)
	assert.Equal(t, seenRequestID, rec.Header().Get("X-Request-ID"))

	lines := decodeLogLines(t, &buf)
	require.Len(t, lines, 2)

	// The handler's own line carries the request ID without any explicit field.
	assert.Equal(t, "handled", lines[0]["msg"])
	assert.Equal(t, seenRequestID, lines[0]["request_id"])

	access := lines[1]
	assert.Equal(t, "ACCESS-LOG", access["msg"])
	assert.Equal(t, seenRequestID, access["request_id"])
	assert.Equal(t, "GET", access["method"])
	assert.Equal(t, "/api/workflows", access["path"])
	assert.EqualValues(t, http.StatusCreated, access["status"])
}

func TestMiddlewareKeepsCallerRequestID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		GetLogger(r.Context()).Info("handled")
	})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "caller-supplied-id")
	Middleware(base)(next).ServeHTTP(rec, req)

	assert.Equal(t, "caller-supplied-id", rec.Header().Get("X-Request-ID"))
	for _, line := range decodeLogLines(t, &buf) {
		assert.Equal(t, "caller-supplied-id", line["request_id"])
	}
}
