// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tributary/internal/client"
	"github.com/tomtom215/tributary/internal/config"
	"github.com/tomtom215/tributary/internal/database"
	"github.com/tomtom215/tributary/internal/resilience"
	"github.com/tomtom215/tributary/internal/schema"
)

type staticTokens struct{}

func (staticTokens) Token(context.Context) (string, error) { return "test-token", nil }
func (staticTokens) Invalidate()                          {}

// fakeUpstream serves entity listings and reports from memory and records
// the query of every listing request.
type fakeUpstream struct {
	pageSize int

	mu       sync.Mutex
	listings map[string][]map[string]any // path suffix -> records
	failures map[string]int              // path suffix -> status code
	reports  map[string][][]any          // report id -> rows
	queries  map[string][]url.Values
}

func newFakeUpstream() *fakeUpstream {
	return &fakeUpstream{
		pageSize: 2,
		listings: make(map[string][]map[string]any),
		failures: make(map[string]int),
		reports:  make(map[string][][]any),
		queries:  make(map[string][]url.Values),
	}
}

func (f *fakeUpstream) set(suffix string, records ...map[string]any) {
	f.mu.Lock()
	f.listings[suffix] = records
	f.mu.Unlock()
}

func (f *fakeUpstream) fail(suffix string, status int) {
	f.mu.Lock()
	f.failures[suffix] = status
	f.mu.Unlock()
}

func (f *fakeUpstream) lastQuery(suffix string) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	qs := f.queries[suffix]
	if len(qs) == 0 {
		return nil
	}
	return qs[len(qs)-1]
}

func (f *fakeUpstream) allQueries(suffix string) []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.queries[suffix]...)
}

func (f *fakeUpstream) setReport(id string, rows ...[]any) {
	f.mu.Lock()
	f.reports[id] = rows
	f.mu.Unlock()
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	if strings.Contains(r.URL.Path, "/reports/") {
		parts := strings.Split(r.URL.Path, "/")
		id := parts[len(parts)-2]
		if status, ok := f.failures[id]; ok {
			w.WriteHeader(status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"fields":  []map[string]any{{"name": "PaymentDate", "label": "Payment Date", "dataType": "Date"}},
			"data":    f.reports[id],
			"hasMore": false,
		})
		return
	}

	for suffix, records := range f.listingsWithFailures() {
		if !strings.HasSuffix(r.URL.Path, "/"+suffix) {
			continue
		}
		if status, ok := f.failures[suffix]; ok {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(`{"title":"bad request"}`))
			return
		}
		q := r.URL.Query()
		if q.Get("page") == "1" {
			f.queries[suffix] = append(f.queries[suffix], q)
		}
		page, _ := strconv.Atoi(q.Get("page"))
		lo := (page - 1) * f.pageSize
		hi := min(lo+f.pageSize, len(records))
		var data []map[string]any
		if lo < len(records) {
			data = records[lo:hi]
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data":    data,
			"page":    page,
			"hasMore": hi < len(records),
		})
		return
	}
	http.NotFound(w, r)
}

// listingsWithFailures returns every known suffix, including ones that
// only fail. Callers hold f.mu.
func (f *fakeUpstream) listingsWithFailures() map[string][]map[string]any {
	out := make(map[string][]map[string]any, len(f.listings)+len(f.failures))
	for k, v := range f.listings {
		out[k] = v
	}
	for k := range f.failures {
		if _, ok := out[k]; !ok {
			out[k] = nil
		}
	}
	return out
}

var testSyncConfig = config.SyncConfig{
	LookbackDays:   7,
	LookbackMargin: 10 * time.Minute,
	FullSyncEpoch:  "2020-01-01",
	MaxParallel:    2,
}

type harness struct {
	orch     *Orchestrator
	db       *database.DB
	upstream *fakeUpstream
}

// newHarness wires an orchestrator to an in-memory warehouse and a fake
// upstream. registry nil means the default registry.
func newHarness(t *testing.T, registry *Registry) *harness {
	t.Helper()

	up := newFakeUpstream()
	srv := httptest.NewServer(up)
	t.Cleanup(srv.Close)

	c := client.New(
		client.Config{BaseURL: srv.URL, TenantID: "42", AppKey: "app-key", PageSize: up.pageSize},
		client.Deps{
			Tokens:  staticTokens{},
			Limiter: resilience.NewRateLimiter("test", 1000, 1000),
			Breaker: resilience.NewBreaker(t.Name(), resilience.BreakerConfig{FailureThreshold: 50, ResetTimeout: time.Hour}),
			Retry: &resilience.Backoff{
				Name:       "test",
				MaxRetries: 1,
				BaseDelay:  time.Millisecond,
				MaxDelay:   2 * time.Millisecond,
				Factor:     2,
			},
			HTTPClient: srv.Client(),
		},
	)

	db, err := database.New(&config.WarehouseConfig{
		Path:          ":memory:",
		MaxMemory:     "512MB",
		Threads:       2,
		BatchStrategy: "count",
		BatchSize:     100,
		MaxBatchBytes: database.DefaultMaxBytes,
		InsertTimeout: time.Minute,
		MergeTimeout:  time.Minute,
	})
	if err != nil {
		t.Fatalf("database.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if registry == nil {
		registry, err = DefaultRegistry()
		if err != nil {
			t.Fatalf("DefaultRegistry() error = %v", err)
		}
	}

	orch := New(c, db, registry, schema.NewDriftTracker(db), testSyncConfig)
	t.Cleanup(orch.Close)
	return &harness{orch: orch, db: db, upstream: up}
}

func job(id int, status string) map[string]any {
	return map[string]any{
		"id":             id,
		"jobNumber":      "J-" + strconv.Itoa(id),
		"jobStatus":      status,
		"businessUnitId": 7,
		"customFields":   []any{map[string]any{"name": "color", "value": "red"}},
		"createdOn":      "2024-03-01T10:00:00Z",
		"modifiedOn":     "2024-03-02T11:30:00.123Z",
	}
}
