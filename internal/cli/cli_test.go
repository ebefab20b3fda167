// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package cli

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tributary/internal/config"
	"github.com/tomtom215/tributary/internal/database"
	"github.com/tomtom215/tributary/internal/ingest"
)

// upstream serves an OAuth2 token endpoint and a single page of jobs.
type upstream struct {
	tokens   atomic.Int32
	listings atomic.Int32
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/connect/token":
		u.tokens.Add(1)
		_, _ = w.Write([]byte(`{"access_token":"cli-token","token_type":"Bearer","expires_in":900}`))
	case "/jpm/v2/tenant/42/jobs":
		u.listings.Add(1)
		if got := r.Header.Get("Authorization"); got != "Bearer cli-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": 1, "jobNumber": "J-1", "jobStatus": "Completed", "modifiedOn": "2024-03-02T11:30:00Z"},
				{"id": 2, "jobNumber": "J-2", "jobStatus": "Scheduled", "modifiedOn": "2024-03-02T12:00:00Z"},
			},
			"page":    1,
			"hasMore": false,
		})
	default:
		http.NotFound(w, r)
	}
}

type cliHarness struct {
	upstream *upstream
	srv      *httptest.Server
	cfg      *config.Config
	loads    atomic.Int32
}

func newCLIHarness(t *testing.T) *cliHarness {
	t.Helper()

	h := &cliHarness{upstream: &upstream{}}
	h.srv = httptest.NewServer(h.upstream)
	t.Cleanup(h.srv.Close)

	cfg := config.Defaults()
	cfg.API.BaseURL = h.srv.URL
	cfg.API.AuthURL = h.srv.URL + "/connect/token"
	cfg.API.TenantID = "42"
	cfg.API.ClientID = "client"
	cfg.API.ClientSecret = "secret"
	cfg.API.AppKey = "app-key"
	cfg.Resilience.RetryMaxRetries = 1
	cfg.Resilience.RetryBaseDelay = time.Millisecond
	cfg.Resilience.RetryMaxDelay = 2 * time.Millisecond
	cfg.Resilience.RatePerSecond = 1000
	cfg.Resilience.Burst = 1000
	cfg.Warehouse.Path = filepath.Join(t.TempDir(), "tributary.duckdb")
	cfg.Warehouse.MaxMemory = "512MB"
	cfg.Warehouse.Threads = 2
	cfg.Logging.Level = "error"
	h.cfg = cfg
	return h
}

// run executes one command against a fresh command tree, the way separate
// process invocations would share the warehouse file.
func (h *cliHarness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	root := newRootCmd(options{
		load: func() (*config.Config, error) {
			h.loads.Add(1)
			cp := *h.cfg
			return &cp, nil
		},
		httpClient: h.srv.Client(),
	})
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSyncCommandLoadsEntity(t *testing.T) {
	h := newCLIHarness(t)

	out, err := h.run(t, "sync", "jobs")
	if err != nil {
		t.Fatalf("sync jobs error = %v\noutput: %s", err, out)
	}

	var res ingest.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if !res.Success {
		t.Fatalf("result = %+v, want success", res)
	}
	if res.Entity != "jobs" || res.Mode != ingest.ModeIncremental {
		t.Errorf("entity/mode = %s/%s, want jobs/incremental", res.Entity, res.Mode)
	}
	if res.RecordsProcessed != 2 {
		t.Errorf("RecordsProcessed = %d, want 2", res.RecordsProcessed)
	}
	if got := h.upstream.tokens.Load(); got != 1 {
		t.Errorf("token exchanges = %d, want 1", got)
	}
}

func TestStatusCommandAfterSync(t *testing.T) {
	h := newCLIHarness(t)

	if out, err := h.run(t, "sync", "jobs", "--mode", "full"); err != nil {
		t.Fatalf("sync jobs error = %v\noutput: %s", err, out)
	}

	out, err := h.run(t, "status", "jobs", "-n", "5")
	if err != nil {
		t.Fatalf("status jobs error = %v", err)
	}

	var status struct {
		Entity    string              `json:"entity"`
		Watermark *database.Watermark `json:"watermark"`
		Runs      []*database.RunLog  `json:"runs"`
	}
	if err := json.Unmarshal([]byte(out), &status); err != nil {
		t.Fatalf("decode output: %v\n%s", err, out)
	}
	if status.Entity != "jobs" {
		t.Errorf("entity = %q, want jobs", status.Entity)
	}
	if status.Watermark == nil || status.Watermark.LastStatus != database.StatusSuccess {
		t.Errorf("watermark = %+v, want a successful watermark", status.Watermark)
	}
	if len(status.Runs) != 1 || status.Runs[0].Mode != ingest.ModeFull {
		t.Errorf("runs = %+v, want one full run", status.Runs)
	}
}

func TestEntitiesCommandSkipsWarehouse(t *testing.T) {
	h := newCLIHarness(t)

	out, err := h.run(t, "entities")
	if err != nil {
		t.Fatalf("entities error = %v", err)
	}
	if h.loads.Load() != 0 {
		t.Error("entities should not load configuration")
	}
	for _, want := range []string{"NAME", "jobs", "raw_jobs", "reference", "report"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestCommandArgumentErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"invalid mode", []string{"sync", "jobs", "--mode", "weekly"}, "invalid arguments"},
		{"invalid since", []string{"sync", "jobs", "--since", "03/01/2024"}, "invalid arguments"},
		{"backfill without from", []string{"backfill", "jobs"}, "invalid arguments"},
		{"backfill bad month", []string{"backfill", "jobs", "--from", "2024-13"}, "invalid arguments"},
		{"unknown entity", []string{"sync", "widgets"}, "widgets"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newCLIHarness(t)
			_, err := h.run(t, tt.args...)
			if err == nil {
				t.Fatalf("%v: expected error", tt.args)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want it to mention %q", err, tt.want)
			}
			if got := h.upstream.listings.Load(); got != 0 {
				t.Errorf("upstream listings = %d, want none", got)
			}
		})
	}
}

func TestConfigLoadErrorStopsCommand(t *testing.T) {
	root := newRootCmd(options{
		load: func() (*config.Config, error) { return nil, errors.New("boom") },
	})
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"sync", "jobs"})

	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "load configuration") {
		t.Fatalf("error = %v, want load configuration failure", err)
	}
}

func TestDefaultHTTPClientDecodesGzip(t *testing.T) {
	t.Parallel()

	const payload = `{"data":[],"page":1,"hasMore":false}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			t.Errorf("Accept-Encoding = %q, want gzip", r.Header.Get("Accept-Encoding"))
		}
		w.Header().Set("Content-Encoding", "gzip")
		zw := gzip.NewWriter(w)
		_, _ = zw.Write([]byte(payload))
		_ = zw.Close()
	}))
	t.Cleanup(srv.Close)

	c := newHTTPClient()
	if c.Transport == nil || c.Transport == http.DefaultTransport {
		t.Fatalf("Transport = %T, want the gzip transport", c.Transport)
	}

	resp, err := c.Get(srv.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if string(body) != payload {
		t.Errorf("body = %q, want decoded payload", body)
	}
}
