// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package cli

import (
	"fmt"
	"net/http"

	"github.com/klauspost/compress/gzhttp"

	"github.com/tomtom215/tributary/internal/client"
	"github.com/tomtom215/tributary/internal/config"
	"github.com/tomtom215/tributary/internal/credentials"
	"github.com/tomtom215/tributary/internal/database"
	"github.com/tomtom215/tributary/internal/ingest"
	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/resilience"
	"github.com/tomtom215/tributary/internal/schema"
)

// App holds the wired pipeline shared by every command.
type App struct {
	Config       *config.Config
	DB           *database.DB
	Client       *client.Client
	Orchestrator *ingest.Orchestrator
}

// newHTTPClient negotiates compressed responses for token exchanges and
// API pages alike.
func newHTTPClient() *http.Client {
	return &http.Client{Transport: gzhttp.Transport(http.DefaultTransport)}
}

// NewApp wires credentials, resilience, client, warehouse and orchestrator
// from cfg. A nil httpClient gets a gzip-aware default.
//
// One rate limiter and one token cache serve every call, since the quota
// and the credential belong to the tenant and not to an entity.
func NewApp(cfg *config.Config, httpClient *http.Client) (*App, error) {
	if httpClient == nil {
		httpClient = newHTTPClient()
	}

	rc := cfg.Resilience
	tokens := credentials.NewCache(
		credentials.NewClientCredentials(cfg.API.AuthURL, cfg.API.ClientID, cfg.API.ClientSecret, httpClient),
		rc.TokenSafetyMargin,
	)
	breakerCfg := resilience.BreakerConfig{
		FailureThreshold: rc.BreakerFailureThreshold,
		ResetTimeout:     rc.BreakerResetTimeout,
	}
	retry := resilience.DefaultBackoff("servicetitan")
	if rc.RetryMaxRetries > 0 {
		retry.MaxRetries = rc.RetryMaxRetries
	}
	if rc.RetryBaseDelay > 0 {
		retry.BaseDelay = rc.RetryBaseDelay
	}
	if rc.RetryMaxDelay > 0 {
		retry.MaxDelay = rc.RetryMaxDelay
	}
	if rc.RetryFactor > 0 {
		retry.Factor = rc.RetryFactor
	}
	retry.Jitter = rc.RetryJitter

	rate, burst := rc.RatePerSecond, rc.Burst
	if rate <= 0 {
		rate, burst = 10, 20
	}

	c := client.New(client.Config{
		BaseURL:        cfg.API.BaseURL,
		TenantID:       cfg.API.TenantID,
		AppKey:         cfg.API.AppKey,
		Timeout:        cfg.API.Timeout,
		ReportTimeout:  cfg.API.ReportTimeout,
		PageSize:       cfg.API.PageSize,
		ReportPageSize: cfg.API.ReportPageSize,
		MaxPages:       cfg.API.MaxPages,
		MaxReportPages: cfg.API.MaxReportPages,
	}, client.Deps{
		Tokens:        tokens,
		Limiter:       resilience.NewRateLimiter("servicetitan", rate, burst),
		Breaker:       resilience.NewBreaker("servicetitan", breakerCfg),
		ReportBreaker: resilience.NewBreaker("servicetitan-reporting", breakerCfg),
		Retry:         retry,
		HTTPClient:    httpClient,
	})

	db, err := database.New(&cfg.Warehouse)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}

	registry, err := ingest.DefaultRegistry()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("build entity registry: %w", err)
	}

	orch := ingest.New(c, db, registry, schema.NewDriftTracker(db), cfg.Sync)
	logging.Debug().
		Str("warehouse", cfg.Warehouse.Path).
		Int("entities", len(registry.Entities())).
		Int("references", len(registry.References())).
		Msg("Pipeline wired")

	return &App{Config: cfg, DB: db, Client: c, Orchestrator: orch}, nil
}

// Close cancels background runs and closes the warehouse.
func (a *App) Close() error {
	a.Orchestrator.Close()
	return a.DB.Close()
}
