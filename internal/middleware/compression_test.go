// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func jsonHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}
}

func TestCompression_WithGzipAccept(t *testing.T) {
	t.Parallel()

	body := `{"results":"` + strings.Repeat("raw_jobs ", 400) + `"}`
	req := httptest.NewRequest(http.MethodGet, "/ingest-all", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()

	Compression(jsonHandler(body))(rec, req)

	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q, want gzip", rec.Header().Get("Content-Encoding"))
	}

	reader, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader() error = %v", err)
	}
	defer reader.Close()

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if string(decompressed) != body {
		t.Error("decompressed body differs from the original")
	}
}

func TestCompression_WithoutGzipAccept(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("x", 4096)
	req := httptest.NewRequest(http.MethodGet, "/ingest-all", nil)
	rec := httptest.NewRecorder()

	Compression(jsonHandler(body))(rec, req)

	if rec.Header().Get("Content-Encoding") != "" {
		t.Errorf("Content-Encoding = %q, want none", rec.Header().Get("Content-Encoding"))
	}
	if rec.Body.String() != body {
		t.Error("body changed without gzip negotiation")
	}
}

func TestCompression_SmallResponse(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Accept-Encoding", "gzip")
	rec := httptest.NewRecorder()

	Compression(jsonHandler(`{"status":"healthy"}`))(rec, req)

	if rec.Header().Get("Content-Encoding") != "" {
		t.Error("small responses should not be compressed")
	}
	if rec.Body.String() != `{"status":"healthy"}` {
		t.Errorf("body = %q", rec.Body.String())
	}
}
