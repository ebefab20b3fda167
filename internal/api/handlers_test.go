// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tributary/internal/database"
	"github.com/tomtom215/tributary/internal/ingest"
	"github.com/tomtom215/tributary/internal/models"
)

type syncCall struct {
	name     string
	mode     string
	parallel bool
	rng      ingest.ReportRange
}

type fakeSyncer struct {
	reg *ingest.Registry

	mu    sync.Mutex
	calls []syncCall

	syncErr    error
	results    []*ingest.Result
	backfillID string
	backfillCt context.Context
}

func newFakeSyncer(t *testing.T) *fakeSyncer {
	t.Helper()
	reg, err := ingest.DefaultRegistry()
	if err != nil {
		t.Fatalf("DefaultRegistry() error = %v", err)
	}
	return &fakeSyncer{reg: reg, backfillID: "bf-1"}
}

func (f *fakeSyncer) record(c syncCall) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeSyncer) lastCall(t *testing.T) syncCall {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		t.Fatal("syncer was not called")
	}
	return f.calls[len(f.calls)-1]
}

func (f *fakeSyncer) Registry() *ingest.Registry { return f.reg }

func (f *fakeSyncer) Sync(_ context.Context, name, mode string) (*ingest.Result, error) {
	f.record(syncCall{name: name, mode: mode})
	if _, err := f.reg.Get(name); err != nil {
		return nil, err
	}
	res := &ingest.Result{Entity: name, Mode: mode, RunID: "run-1", Success: f.syncErr == nil, RecordsProcessed: 3}
	if f.syncErr != nil {
		return res, f.syncErr
	}
	return res, nil
}

func (f *fakeSyncer) SyncAll(_ context.Context, mode string, parallel bool) []*ingest.Result {
	f.record(syncCall{name: "all", mode: mode, parallel: parallel})
	return f.results
}

func (f *fakeSyncer) SyncReferences(_ context.Context, parallel bool) []*ingest.Result {
	f.record(syncCall{name: "refs", mode: ingest.ModeFull, parallel: parallel})
	return f.results
}

func (f *fakeSyncer) SyncReport(_ context.Context, name, mode string, rng ingest.ReportRange) (*ingest.Result, error) {
	f.record(syncCall{name: name, mode: mode, rng: rng})
	if _, err := f.reg.Report(name); err != nil {
		return nil, err
	}
	return &ingest.Result{Entity: name, Mode: mode, Success: true}, nil
}

func (f *fakeSyncer) BackfillAsync(ctx context.Context) string {
	f.mu.Lock()
	f.backfillCt = ctx
	f.mu.Unlock()
	return f.backfillID
}

func (f *fakeSyncer) Compact(_ context.Context, name string) (*database.CompactResult, error) {
	f.record(syncCall{name: name})
	if _, err := f.reg.Get(name); err != nil {
		return nil, err
	}
	return &database.CompactResult{Table: "raw_" + name, Before: 4, After: 3, Removed: 1}, nil
}

func (f *fakeSyncer) InProgress() int { return 2 }

type fakeStore struct {
	pingErr   error
	runs      map[string][]database.RunLog
	watermark map[string]*database.Watermark
	lastQuery string
}

func (s *fakeStore) RecentRuns(_ context.Context, entity string, limit int) ([]database.RunLog, error) {
	s.lastQuery = entity
	runs := s.runs[entity]
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s *fakeStore) GetWatermark(_ context.Context, entity string) (*database.Watermark, error) {
	s.lastQuery = entity
	return s.watermark[entity], nil
}

func (s *fakeStore) Ping(context.Context) error { return s.pingErr }

type envelope struct {
	Status   string           `json:"status"`
	Data     json.RawMessage  `json:"data"`
	Metadata models.Metadata  `json:"metadata"`
	Error    *models.APIError `json:"error"`
}

func newTestServer(t *testing.T, syncer *fakeSyncer, store *fakeStore) http.Handler {
	t.Helper()
	if store == nil {
		store = &fakeStore{}
	}
	cfg := DefaultChiMiddlewareConfig()
	cfg.RateLimitDisabled = true
	return NewRouter(NewHandler(syncer, store, "test"), NewChiMiddleware(cfg)).SetupChi()
}

func do(t *testing.T, h http.Handler, method, target string, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s: %v\nbody: %s", method, target, err, rec.Body.String())
		}
	}
	return rec, env
}

func TestHealth(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, newFakeSyncer(t), &fakeStore{})
	rec, env := do(t, h, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var health models.HealthStatus
	if err := json.Unmarshal(env.Data, &health); err != nil {
		t.Fatal(err)
	}
	if !health.DatabaseConnected || health.Status != "healthy" || health.SyncsInProgress != 2 || health.Version != "test" {
		t.Errorf("health = %+v", health)
	}
	if env.Metadata.RequestID == "" {
		t.Error("metadata.request_id should be set by the RequestID middleware")
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, newFakeSyncer(t), &fakeStore{pingErr: errors.New("closed")})
	rec, env := do(t, h, http.MethodGet, "/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	var health models.HealthStatus
	if err := json.Unmarshal(env.Data, &health); err != nil {
		t.Fatal(err)
	}
	if health.DatabaseConnected || health.Status != "degraded" {
		t.Errorf("health = %+v", health)
	}
}

func TestIngest_DefaultsToIncremental(t *testing.T) {
	t.Parallel()

	syncer := newFakeSyncer(t)
	h := newTestServer(t, syncer, nil)
	rec, env := do(t, h, http.MethodGet, "/ingest/jobs")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if c := syncer.lastCall(t); c.name != "jobs" || c.mode != ingest.ModeIncremental {
		t.Errorf("call = %+v", c)
	}
	var res ingest.Result
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatal(err)
	}
	if res.RecordsProcessed != 3 || res.RunID != "run-1" {
		t.Errorf("result = %+v", res)
	}
}

func TestFullSync_ForcesFullMode(t *testing.T) {
	t.Parallel()

	syncer := newFakeSyncer(t)
	h := newTestServer(t, syncer, nil)
	rec, _ := do(t, h, http.MethodPost, "/full-sync/invoices?mode=incremental")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if c := syncer.lastCall(t); c.mode != ingest.ModeFull {
		t.Errorf("mode = %q, want full", c.mode)
	}

	rec, _ = do(t, h, http.MethodGet, "/full-sync/invoices")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /full-sync status = %d, want 405", rec.Code)
	}
}

func TestIngest_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		target   string
		syncErr  error
		wantCode int
		wantErr  string
	}{
		{"bad mode", "/ingest/jobs?mode=sometimes", nil, http.StatusBadRequest, ErrCodeValidation},
		{"bad name", "/ingest/Jobs", nil, http.StatusBadRequest, ErrCodeValidation},
		{"unknown", "/ingest/widgets", nil, http.StatusNotFound, ErrCodeNotFound},
		{"busy", "/ingest/jobs", fmt.Errorf("%w: jobs", ingest.ErrSyncInProgress), http.StatusConflict, ErrCodeConflict},
		{"failed run", "/ingest/jobs", &ingest.SyncError{
			EntityType: "jobs", Stage: ingest.StageLoading, RunID: "run-1", Err: errors.New("disk full"),
		}, http.StatusInternalServerError, ErrCodeSyncFailed},
		{"unexpected", "/ingest/jobs", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			syncer := newFakeSyncer(t)
			syncer.syncErr = tt.syncErr
			rec, env := do(t, newTestServer(t, syncer, nil), http.MethodGet, tt.target)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantCode, rec.Body.String())
			}
			if env.Status != models.StatusError || env.Error == nil || env.Error.Code != tt.wantErr {
				t.Errorf("envelope = %+v, want error code %s", env, tt.wantErr)
			}
		})
	}
}

func TestIngest_SyncFailedDetails(t *testing.T) {
	t.Parallel()

	syncer := newFakeSyncer(t)
	syncer.syncErr = &ingest.SyncError{EntityType: "jobs", Stage: ingest.StageFetching, RunID: "run-1", Err: errors.New("403")}
	_, env := do(t, newTestServer(t, syncer, nil), http.MethodGet, "/ingest/jobs")

	if env.Error.Details["stage"] != "fetching" || env.Error.Details["run_id"] != "run-1" {
		t.Errorf("details = %v", env.Error.Details)
	}
	var res ingest.Result
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatal(err)
	}
	if res.RunID != "run-1" {
		t.Errorf("failed run result should be returned in data, got %s", env.Data)
	}
}

func TestIngest_UnknownListsAvailable(t *testing.T) {
	t.Parallel()

	syncer := newFakeSyncer(t)
	_, env := do(t, newTestServer(t, syncer, nil), http.MethodGet, "/ingest/widgets")

	available, ok := env.Error.Details["available"].([]interface{})
	if !ok {
		t.Fatalf("details.available = %T", env.Error.Details["available"])
	}
	want := len(syncer.reg.Entities()) + len(syncer.reg.References()) + len(syncer.reg.Reports())
	if len(available) != want {
		t.Errorf("available = %d names, want %d", len(available), want)
	}
}

func TestIngestRef(t *testing.T) {
	t.Parallel()

	syncer := newFakeSyncer(t)
	h := newTestServer(t, syncer, nil)
	ref := syncer.reg.References()[0]

	rec, _ := do(t, h, http.MethodGet, "/ingest-ref/"+ref)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if c := syncer.lastCall(t); c.name != ref || c.mode != ingest.ModeFull {
		t.Errorf("call = %+v", c)
	}

	rec, env := do(t, h, http.MethodGet, "/ingest-ref/jobs")
	if rec.Code != http.StatusNotFound || env.Error.Code != ErrCodeNotFound {
		t.Errorf("non-reference: status = %d, error = %+v", rec.Code, env.Error)
	}
}

func TestIngestAll(t *testing.T) {
	t.Parallel()

	syncer := newFakeSyncer(t)
	syncer.results = []*ingest.Result{
		{Entity: "calls", Success: true, RecordsProcessed: 4},
		{Entity: "jobs", Success: true, RecordsProcessed: 6},
	}
	h := newTestServer(t, syncer, nil)

	rec, env := do(t, h, http.MethodGet, "/ingest-all?mode=full&parallel=true")
	if rec.Code != http.StatusOK || env.Status != models.StatusSuccess {
		t.Fatalf("status = %d/%s, want 200/success", rec.Code, env.Status)
	}
	if c := syncer.lastCall(t); c.mode != ingest.ModeFull || !c.parallel {
		t.Errorf("call = %+v", c)
	}
	var sum models.SyncSummary
	if err := json.Unmarshal(env.Data, &sum); err != nil {
		t.Fatal(err)
	}
	if sum.Total != 2 || sum.Succeeded != 2 || sum.Records != 10 {
		t.Errorf("summary = %+v", sum)
	}

	rec, _ = do(t, h, http.MethodGet, "/ingest-all?parallel=maybe")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad parallel: status = %d, want 400", rec.Code)
	}
}

func TestIngestAll_PartialFailure(t *testing.T) {
	t.Parallel()

	syncer := newFakeSyncer(t)
	syncer.results = []*ingest.Result{
		{Entity: "calls", Success: true},
		{Entity: "jobs", Success: false, Stage: ingest.StageFetching, Error: "timeout"},
	}
	rec, env := do(t, newTestServer(t, syncer, nil), http.MethodGet, "/ingest-ref-all")
	if rec.Code != http.StatusMultiStatus || env.Status != models.StatusPartial {
		t.Fatalf("status = %d/%s, want 207/partial", rec.Code, env.Status)
	}
	var sum models.SyncSummary
	if err := json.Unmarshal(env.Data, &sum); err != nil {
		t.Fatal(err)
	}
	if sum.Failed != 1 || sum.Succeeded != 1 {
		t.Errorf("summary = %+v", sum)
	}
}

func TestIngestReport(t *testing.T) {
	t.Parallel()

	syncer := newFakeSyncer(t)
	h := newTestServer(t, syncer, nil)

	rec, _ := do(t, h, http.MethodGet, "/ingest-report/collections?from=2024-03-01&to=2024-03-31")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	c := syncer.lastCall(t)
	wantFrom := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	if !c.rng.From.Equal(wantFrom) || c.rng.To.Day() != 31 || c.mode != ingest.ModeIncremental {
		t.Errorf("call = %+v", c)
	}

	for _, target := range []string{
		"/ingest-report/collections?from=03/01/2024",
		"/ingest-report/collections?from=2024-04-01&to=2024-03-01",
	} {
		rec, env := do(t, h, http.MethodGet, target)
		if rec.Code != http.StatusBadRequest || env.Error.Code != ErrCodeValidation {
			t.Errorf("%s: status = %d, error = %+v", target, rec.Code, env.Error)
		}
	}

	rec, _ = do(t, h, http.MethodGet, "/ingest-report/nope")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown report status = %d, want 404", rec.Code)
	}
}

func TestBackfillAsync_KeepsCorrelationID(t *testing.T) {
	t.Parallel()

	syncer := newFakeSyncer(t)
	rec, env := do(t, newTestServer(t, syncer, nil), http.MethodPost, "/backfill-async",
		"X-Correlation-ID", "abc-123")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", rec.Code)
	}
	var accepted models.BackfillAccepted
	if err := json.Unmarshal(env.Data, &accepted); err != nil {
		t.Fatal(err)
	}
	if accepted.CorrelationID != "bf-1" || accepted.Status != "accepted" {
		t.Errorf("accepted = %+v", accepted)
	}
	if env.Metadata.CorrelationID != "abc-123" {
		t.Errorf("metadata.correlation_id = %q, want abc-123", env.Metadata.CorrelationID)
	}
	if syncer.backfillCt == nil {
		t.Fatal("BackfillAsync was not called")
	}
}

func TestCompact(t *testing.T) {
	t.Parallel()

	syncer := newFakeSyncer(t)
	h := newTestServer(t, syncer, nil)

	rec, env := do(t, h, http.MethodPost, "/compact/jobs")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var res database.CompactResult
	if err := json.Unmarshal(env.Data, &res); err != nil {
		t.Fatal(err)
	}
	if res.Removed != 1 {
		t.Errorf("result = %+v", res)
	}

	rec, _ = do(t, h, http.MethodPost, "/compact/widgets")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown status = %d, want 404", rec.Code)
	}
}

func TestEntities(t *testing.T) {
	t.Parallel()

	syncer := newFakeSyncer(t)
	h := newTestServer(t, syncer, nil)

	_, env := do(t, h, http.MethodGet, "/entities")
	var list models.EntityList
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatal(err)
	}
	if list.Count != len(syncer.reg.Entities())+len(syncer.reg.Reports()) {
		t.Errorf("count = %d", list.Count)
	}
	last := list.Entities[len(list.Entities)-1]
	if last.Kind != "report" || last.Name != "job_costing" {
		t.Errorf("last entry = %+v, want the job_costing report", last)
	}

	_, env = do(t, h, http.MethodGet, "/ref-entities")
	if err := json.Unmarshal(env.Data, &list); err != nil {
		t.Fatal(err)
	}
	if list.Count != len(syncer.reg.References()) {
		t.Errorf("ref count = %d", list.Count)
	}
	for _, e := range list.Entities {
		if e.Kind != "reference" || !strings.HasPrefix(e.Table, "dim_") {
			t.Errorf("reference entry = %+v", e)
		}
	}
}

func TestStatus_UsesRunName(t *testing.T) {
	t.Parallel()

	syncer := newFakeSyncer(t)
	ref := syncer.reg.References()[0]
	store := &fakeStore{runs: map[string][]database.RunLog{
		"ref_" + ref: {{RunID: "r2", Status: "success"}, {RunID: "r1", Status: "failed"}},
	}}
	h := newTestServer(t, syncer, store)

	_, env := do(t, h, http.MethodGet, "/status/"+ref)
	if store.lastQuery != "ref_"+ref {
		t.Errorf("queried %q, want ref_%s", store.lastQuery, ref)
	}
	var hist struct {
		Entity string            `json:"entity"`
		Runs   []database.RunLog `json:"runs"`
		Count  int               `json:"count"`
	}
	if err := json.Unmarshal(env.Data, &hist); err != nil {
		t.Fatal(err)
	}
	if hist.Count != 2 || hist.Runs[0].RunID != "r2" {
		t.Errorf("history = %+v", hist)
	}

	_, env = do(t, h, http.MethodGet, "/status/jobs")
	if err := json.Unmarshal(env.Data, &hist); err != nil {
		t.Fatal(err)
	}
	if hist.Count != 0 || hist.Runs == nil {
		t.Errorf("empty history should be an empty list, got %s", env.Data)
	}
}

func TestLastSync(t *testing.T) {
	t.Parallel()

	synced := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := &fakeStore{watermark: map[string]*database.Watermark{
		"jobs": {EntityType: "jobs", LastSyncTime: synced, LastStatus: "success", RecordsProcessed: 12},
	}}
	h := newTestServer(t, newFakeSyncer(t), store)

	_, env := do(t, h, http.MethodGet, "/last-sync/jobs")
	var last models.LastSync
	if err := json.Unmarshal(env.Data, &last); err != nil {
		t.Fatal(err)
	}
	if last.NeverSynced || last.LastSyncTime == nil || !last.LastSyncTime.Equal(synced) || last.RecordsProcessed != 12 {
		t.Errorf("last sync = %+v", last)
	}

	_, env = do(t, h, http.MethodGet, "/last-sync/invoices")
	if err := json.Unmarshal(env.Data, &last); err != nil {
		t.Fatal(err)
	}
	if !last.NeverSynced || last.LastSyncTime != nil {
		t.Errorf("never synced = %+v", last)
	}
}

func TestRouter_NotFoundAndMetrics(t *testing.T) {
	t.Parallel()

	h := newTestServer(t, newFakeSyncer(t), nil)

	rec, env := do(t, h, http.MethodGet, "/nowhere")
	if rec.Code != http.StatusNotFound || env.Error == nil || env.Error.Code != ErrCodeNotFound {
		t.Errorf("status = %d, envelope = %+v", rec.Code, env)
	}

	rec, _ = do(t, h, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Errorf("/metrics status = %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	t.Parallel()

	cfg := DefaultChiMiddlewareConfig()
	cfg.RateLimitRequests = 1
	h := NewRouter(NewHandler(newFakeSyncer(t), &fakeStore{}, "test"), NewChiMiddleware(cfg)).SetupChi()

	rec, _ := do(t, h, http.MethodGet, "/ingest/jobs")
	if rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", rec.Code)
	}
	rec, env := do(t, h, http.MethodGet, "/ingest/jobs")
	if rec.Code != http.StatusTooManyRequests || env.Error.Code != ErrCodeRateLimited {
		t.Errorf("second request status = %d, error = %+v", rec.Code, env.Error)
	}

	// Read endpoints are outside the limited group.
	rec, _ = do(t, h, http.MethodGet, "/health")
	if rec.Code != http.StatusOK {
		t.Errorf("/health status = %d, want 200", rec.Code)
	}
}
