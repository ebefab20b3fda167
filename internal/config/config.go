// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

// Package config loads Tributary configuration from built-in defaults, an
// optional YAML file and environment variables (Koanf v2).
package config

import (
	"time"
)

// Config holds all application configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: Built-in sensible defaults for all optional settings
//  2. Config File: Optional YAML config file (config.yaml)
//  3. Environment Variables: Override any setting via environment variables
//
// Config is built once at startup and passed into each component's
// constructor. No package reads process-wide configuration on its own.
//
// Example - Load configuration:
//
//	cfg, err := config.LoadWithKoanf()
//	if err != nil {
//	    log.Fatal("Failed to load config:", err)
//	}
//	db, err := database.New(&cfg.Warehouse)
type Config struct {
	API        APIConfig        `koanf:"api"`
	Resilience ResilienceConfig `koanf:"resilience"`
	Warehouse  WarehouseConfig  `koanf:"warehouse"`
	Sync       SyncConfig       `koanf:"sync"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// APIConfig holds upstream API connection settings.
//
// Environment Variables:
//   - ST_BASE_URL: API base URL (default: https://api.servicetitan.io)
//   - ST_AUTH_URL: OAuth2 token endpoint
//   - ST_TENANT_ID, ST_CLIENT_ID, ST_CLIENT_SECRET, ST_APP_KEY: credentials (required)
//   - ST_TIMEOUT / ST_REPORT_TIMEOUT: per-call timeouts (default: 30s / 60s)
//   - ST_PAGE_SIZE / ST_REPORT_PAGE_SIZE: page sizes (default: 500 / 5000)
//   - ST_MAX_PAGES / ST_MAX_REPORT_PAGES: pagination safety limits
type APIConfig struct {
	BaseURL        string        `koanf:"base_url"`
	AuthURL        string        `koanf:"auth_url"`
	TenantID       string        `koanf:"tenant_id"`
	ClientID       string        `koanf:"client_id"`
	ClientSecret   string        `koanf:"client_secret"`
	AppKey         string        `koanf:"app_key"`
	Timeout        time.Duration `koanf:"timeout"`
	ReportTimeout  time.Duration `koanf:"report_timeout"`
	PageSize       int           `koanf:"page_size"`
	ReportPageSize int           `koanf:"report_page_size"`
	MaxPages       int           `koanf:"max_pages"`
	MaxReportPages int           `koanf:"max_report_pages"`
}

// ResilienceConfig tunes the rate limiter, circuit breakers, retry policy
// and credential cache shared by every upstream call.
type ResilienceConfig struct {
	RatePerSecond           float64       `koanf:"rate_per_second"`
	Burst                   int           `koanf:"burst"`
	BreakerFailureThreshold uint32        `koanf:"breaker_failure_threshold"`
	BreakerResetTimeout     time.Duration `koanf:"breaker_reset_timeout"`
	RetryMaxRetries         int           `koanf:"retry_max_retries"`
	RetryBaseDelay          time.Duration `koanf:"retry_base_delay"`
	RetryMaxDelay           time.Duration `koanf:"retry_max_delay"`
	RetryFactor             float64       `koanf:"retry_factor"`
	RetryJitter             bool          `koanf:"retry_jitter"`
	TokenSafetyMargin       time.Duration `koanf:"token_safety_margin"`
}

// WarehouseConfig holds DuckDB and load engine settings.
//
// An empty Path or ":memory:" opens an in-memory database.
// BatchStrategy is "bytes" (cumulative serialized size bounded by
// MaxBatchBytes) or "count" (BatchSize records per batch).
type WarehouseConfig struct {
	Path          string        `koanf:"path"`
	MaxMemory     string        `koanf:"max_memory"`
	Threads       int           `koanf:"threads"` // 0 = runtime.NumCPU()
	BatchStrategy string        `koanf:"batch_strategy"`
	BatchSize     int           `koanf:"batch_size"`
	MaxBatchBytes int           `koanf:"max_batch_bytes"`
	InsertTimeout time.Duration `koanf:"insert_timeout"`
	MergeTimeout  time.Duration `koanf:"merge_timeout"`
}

// SyncConfig controls sync windows and the background services.
type SyncConfig struct {
	LookbackDays       int           `koanf:"lookback_days"`
	LookbackMargin     time.Duration `koanf:"lookback_margin"`
	FullSyncEpoch      string        `koanf:"full_sync_epoch"` // YYYY-MM-DD
	ScheduleEnabled    bool          `koanf:"schedule_enabled"`
	ScheduleInterval   time.Duration `koanf:"schedule_interval"`
	ScheduleEntities   []string      `koanf:"schedule_entities"`
	CompactionEnabled  bool          `koanf:"compaction_enabled"`
	CompactionInterval time.Duration `koanf:"compaction_interval"`
	MaxParallel        int           `koanf:"max_parallel"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port"`
	ReadTimeout       time.Duration `koanf:"read_timeout"`
	WriteTimeout      time.Duration `koanf:"write_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitRequests int           `koanf:"rate_limit_requests"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// FullSyncStart parses FullSyncEpoch, falling back to 2020-01-01 UTC.
func (s SyncConfig) FullSyncStart() time.Time {
	if t, err := time.Parse("2006-01-02", s.FullSyncEpoch); err == nil {
		return t.UTC()
	}
	return time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
}

// DefaultLookback is the window used when an entity has no watermark yet.
func (s SyncConfig) DefaultLookback() time.Duration {
	return time.Duration(s.LookbackDays) * 24 * time.Hour
}

var validLogLevels = map[string]bool{
	"trace": true,
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

var validBatchStrategies = map[string]bool{
	"bytes": true,
	"count": true,
}
