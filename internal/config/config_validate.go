// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate checks that required configuration is present and valid
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}

	if err := c.validateResilience(); err != nil {
		return err
	}

	if err := c.validateWarehouse(); err != nil {
		return err
	}

	if err := c.validateSync(); err != nil {
		return err
	}

	if err := c.validateServer(); err != nil {
		return err
	}

	return c.validateLogging()
}

// validateAPI validates upstream URLs and credentials
func (c *Config) validateAPI() error {
	if err := validateHTTPURL(c.API.BaseURL, "ST_BASE_URL"); err != nil {
		return err
	}
	if err := validateTokenURL(c.API.AuthURL, "ST_AUTH_URL"); err != nil {
		return err
	}

	required := []struct {
		value string
		env   string
	}{
		{c.API.TenantID, "ST_TENANT_ID"},
		{c.API.ClientID, "ST_CLIENT_ID"},
		{c.API.ClientSecret, "ST_CLIENT_SECRET"},
		{c.API.AppKey, "ST_APP_KEY"},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.env)
		}
	}
	if containsPlaceholder(c.API.ClientSecret) {
		return fmt.Errorf("ST_CLIENT_SECRET contains a placeholder value, set a real secret")
	}

	if c.API.Timeout <= 0 || c.API.ReportTimeout <= 0 {
		return fmt.Errorf("ST_TIMEOUT and ST_REPORT_TIMEOUT must be positive")
	}
	if c.API.PageSize < 1 || c.API.ReportPageSize < 1 {
		return fmt.Errorf("ST_PAGE_SIZE and ST_REPORT_PAGE_SIZE must be at least 1")
	}
	if c.API.MaxPages < 1 || c.API.MaxReportPages < 1 {
		return fmt.Errorf("ST_MAX_PAGES and ST_MAX_REPORT_PAGES must be at least 1")
	}
	return nil
}

// validateResilience validates limiter, breaker and retry bounds
func (c *Config) validateResilience() error {
	r := c.Resilience
	if r.RatePerSecond <= 0 {
		return fmt.Errorf("RATE_LIMIT_PER_SECOND must be positive, got %v", r.RatePerSecond)
	}
	if r.Burst < 1 {
		return fmt.Errorf("RATE_LIMIT_BURST must be at least 1, got %d", r.Burst)
	}
	if r.BreakerFailureThreshold < 1 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be at least 1")
	}
	if r.BreakerResetTimeout <= 0 {
		return fmt.Errorf("BREAKER_RESET_TIMEOUT must be positive")
	}
	if r.RetryMaxRetries < 0 {
		return fmt.Errorf("RETRY_MAX_RETRIES must not be negative")
	}
	if r.RetryBaseDelay <= 0 || r.RetryMaxDelay < r.RetryBaseDelay {
		return fmt.Errorf("RETRY_BASE_DELAY must be positive and not exceed RETRY_MAX_DELAY")
	}
	if r.RetryFactor < 1 {
		return fmt.Errorf("RETRY_FACTOR must be at least 1, got %v", r.RetryFactor)
	}
	if r.TokenSafetyMargin < 0 {
		return fmt.Errorf("TOKEN_SAFETY_MARGIN must not be negative")
	}
	return nil
}

// validateWarehouse validates DuckDB and batching settings
func (c *Config) validateWarehouse() error {
	w := c.Warehouse
	if w.MaxMemory == "" {
		return fmt.Errorf("DUCKDB_MAX_MEMORY is required (e.g. 2GB)")
	}
	if !validBatchStrategies[w.BatchStrategy] {
		return fmt.Errorf("LOAD_BATCH_STRATEGY must be one of: bytes, count")
	}
	if w.BatchSize < 1 {
		return fmt.Errorf("LOAD_BATCH_SIZE must be at least 1")
	}
	if w.MaxBatchBytes < 1024 {
		return fmt.Errorf("LOAD_MAX_BATCH_BYTES must be at least 1024")
	}
	if w.InsertTimeout <= 0 || w.MergeTimeout <= 0 {
		return fmt.Errorf("LOAD_INSERT_TIMEOUT and LOAD_MERGE_TIMEOUT must be positive")
	}
	return nil
}

// validateSync validates windows and schedules
func (c *Config) validateSync() error {
	s := c.Sync
	if s.LookbackDays < 1 {
		return fmt.Errorf("LOOKBACK_DAYS must be at least 1")
	}
	if s.LookbackMargin < 0 {
		return fmt.Errorf("LOOKBACK_MARGIN must not be negative")
	}
	if s.FullSyncEpoch != "" {
		if _, err := time.Parse("2006-01-02", s.FullSyncEpoch); err != nil {
			return fmt.Errorf("FULL_SYNC_EPOCH must be YYYY-MM-DD: %w", err)
		}
	}
	if s.ScheduleEnabled && s.ScheduleInterval < time.Minute {
		return fmt.Errorf("SCHEDULE_INTERVAL must be at least 1m when scheduling is enabled")
	}
	if s.CompactionEnabled && s.CompactionInterval < time.Minute {
		return fmt.Errorf("COMPACTION_INTERVAL must be at least 1m when compaction is enabled")
	}
	if s.MaxParallel < 1 {
		return fmt.Errorf("SYNC_MAX_PARALLEL must be at least 1")
	}
	return nil
}

// validateServer validates server configuration
func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if !c.Server.RateLimitDisabled {
		if c.Server.RateLimitRequests < 1 {
			return fmt.Errorf("RATE_LIMIT_REQUESTS must be at least 1")
		}
		if c.Server.RateLimitWindow < time.Second {
			return fmt.Errorf("RATE_LIMIT_WINDOW must be at least 1s")
		}
	}
	return nil
}

// validateLogging validates logging configuration
func (c *Config) validateLogging() error {
	if err := c.validateLogLevel(); err != nil {
		return err
	}
	return c.validateLogFormat()
}

// validateLogLevel validates the log level configuration
func (c *Config) validateLogLevel() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error")
	}
	return nil
}

// validateLogFormat validates the log format configuration
func (c *Config) validateLogFormat() error {
	if c.Logging.Format == "" {
		return nil
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

// placeholderPatterns defines common placeholder patterns that indicate
// the user forgot to set a real value.
var placeholderPatterns = []string{
	"REPLACE",
	"CHANGEME",
	"CHANGE_ME",
	"YOUR_SECRET",
	"PLACEHOLDER",
}

// containsPlaceholder checks if a value contains common placeholder patterns
func containsPlaceholder(value string) bool {
	upperValue := strings.ToUpper(value)
	for _, pattern := range placeholderPatterns {
		if strings.Contains(upperValue, pattern) {
			return true
		}
	}
	return false
}
