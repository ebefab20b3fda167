// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

// Package client implements the resilient upstream API client.
//
// Every HTTP exchange goes through the same pipeline:
//
//	breaker.Execute(            // fail fast while the upstream is down
//	  Retry(backoff,            // absorb 429 / 5xx / network failures
//	    limiter.Acquire ->      // one token per attempt, shared per tenant
//	    credential ->           // cached bearer token, single-flight refresh
//	    HTTP request))
//
// Pagination is strictly sequential: each page request depends on the
// previous page's hasMore flag.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzhttp"

	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/metrics"
	"github.com/tomtom215/tributary/internal/resilience"
)

const (
	// maxErrorBodySize limits how much of an error response body is read
	maxErrorBodySize = 64 * 1024

	DefaultBaseURL        = "https://api.servicetitan.io"
	DefaultPageSize       = 500
	DefaultReportPageSize = 5000
	DefaultMaxPages       = 10000
	DefaultMaxReportPages = 1000
)

// Record is one upstream object as decoded from JSON. Numbers are kept as
// json.Number so 64-bit ids survive decoding.
type Record = map[string]any

// TokenSource supplies bearer tokens. *credentials.Cache implements it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Config holds the client's static settings.
type Config struct {
	BaseURL        string
	TenantID       string
	AppKey         string
	Timeout        time.Duration
	ReportTimeout  time.Duration
	PageSize       int
	ReportPageSize int
	MaxPages       int
	MaxReportPages int
}

// Deps are the shared resilience primitives. The limiter and token source
// must be the same instances for every client drawing on one tenant's quota.
type Deps struct {
	Tokens        TokenSource
	Limiter       *resilience.RateLimiter
	Breaker       *resilience.Breaker
	ReportBreaker *resilience.Breaker
	Retry         *resilience.Backoff
	HTTPClient    *http.Client
}

// Client talks to the upstream REST API. Safe for concurrent use.
type Client struct {
	cfg           Config
	http          *http.Client
	tokens        TokenSource
	limiter       *resilience.RateLimiter
	breaker       *resilience.Breaker
	reportBreaker *resilience.Breaker
	retry         *resilience.Backoff
}

// New creates a Client. Zero config values fall back to the defaults above.
func New(cfg Config, deps Deps) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ReportTimeout <= 0 {
		cfg.ReportTimeout = 60 * time.Second
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.ReportPageSize <= 0 {
		cfg.ReportPageSize = DefaultReportPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.MaxReportPages <= 0 {
		cfg.MaxReportPages = DefaultMaxReportPages
	}

	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: gzhttp.Transport(http.DefaultTransport)}
	}
	if deps.Limiter == nil {
		deps.Limiter = resilience.NewRateLimiter("upstream", 10, 20)
	}
	if deps.Breaker == nil {
		deps.Breaker = resilience.NewBreaker("upstream-api", resilience.DefaultBreakerConfig())
	}
	if deps.ReportBreaker == nil {
		deps.ReportBreaker = deps.Breaker
	}
	if deps.Retry == nil {
		deps.Retry = resilience.DefaultBackoff("upstream")
	}

	return &Client{
		cfg:           cfg,
		http:          httpClient,
		tokens:        deps.Tokens,
		limiter:       deps.Limiter,
		breaker:       deps.Breaker,
		reportBreaker: deps.ReportBreaker,
		retry:         deps.Retry,
	}
}

// request describes one logical call; it may be attempted several times.
type request struct {
	kind     string // page, report
	method   string
	endpoint string
	query    url.Values
	body     any
	timeout  time.Duration
}

func (r *request) op() string { return r.method + " " + r.endpoint }

// call runs req through the breaker and backoff and decodes the response into out.
func (c *Client) call(ctx context.Context, breaker *resilience.Breaker, req *request, out any) error {
	policy := *c.retry
	policy.Name = req.op()

	return breaker.Execute(func() error {
		_, err := resilience.Retry(ctx, &policy, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.attempt(ctx, req, out)
		})
		return err
	})
}

// attempt performs exactly one HTTP exchange.
func (c *Client) attempt(ctx context.Context, req *request, out any) (err error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return err
	}

	var token string
	if c.tokens != nil {
		token, err = c.tokens.Token(ctx)
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, req.timeout)
	defer cancel()

	httpReq, err := c.newHTTPRequest(ctx, req, token)
	if err != nil {
		return err
	}

	start := time.Now()
	defer func() { metrics.RecordUpstreamRequest(req.kind, time.Since(start), err) }()

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return resilience.Classify(req.op(), err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.statusError(req, resp)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return resilience.Classify(req.op(), fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

func (c *Client) newHTTPRequest(ctx context.Context, req *request, token string) (*http.Request, error) {
	u := c.cfg.BaseURL + "/" + strings.TrimLeft(c.resolve(req.endpoint), "/")
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	body := io.Reader(http.NoBody)
	if req.body != nil {
		data, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if c.cfg.AppKey != "" {
		httpReq.Header.Set("ST-App-Key", c.cfg.AppKey)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	return httpReq, nil
}

// resolve substitutes the tenant id into an endpoint template.
func (c *Client) resolve(endpoint string) string {
	return strings.ReplaceAll(endpoint, "{tenant}", c.cfg.TenantID)
}

func (c *Client) statusError(req *request, resp *http.Response) error {
	body := strings.TrimSpace(string(readBodyForError(resp.Body)))
	e := resilience.FromStatus(req.op(), resp.StatusCode, body)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		// Token revoked or expired early; force a refresh on the next call.
		if c.tokens != nil {
			c.tokens.Invalidate()
		}
	case http.StatusTooManyRequests:
		e.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		logging.Warn().
			Str("endpoint", req.endpoint).
			Dur("retry_after", e.RetryAfter).
			Msg("Upstream rate limit hit")
	}
	return e
}

// parseRetryAfter accepts delay-seconds or an HTTP-date. Unparseable or past
// values yield 0, which leaves the computed backoff in charge.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// readBodyForError reads a bounded amount of an error response body.
func readBodyForError(r io.Reader) []byte {
	body, err := io.ReadAll(io.LimitReader(r, maxErrorBodySize))
	if err != nil {
		return []byte("(failed to read response body)")
	}
	if len(body) == maxErrorBodySize {
		return append(body, []byte("\n... (truncated)")...)
	}
	return body
}
