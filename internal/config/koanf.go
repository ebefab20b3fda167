// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order of priority.
// The first file found will be used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tributary/config.yaml",
	"/etc/tributary/config.yml",
}

// ConfigPathEnvVar is the environment variable that can override the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config struct with all sensible default values.
// These defaults are applied first, then overridden by config file and env vars.
// Defaults returns the built-in configuration before any file or
// environment layer is applied.
func Defaults() *Config {
	return defaultConfig()
}

func defaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        "https://api.servicetitan.io",
			AuthURL:        "https://auth.servicetitan.io/connect/token",
			Timeout:        30 * time.Second,
			ReportTimeout:  60 * time.Second,
			PageSize:       500,
			ReportPageSize: 5000,
			MaxPages:       10000,
			MaxReportPages: 1000,
		},
		Resilience: ResilienceConfig{
			RatePerSecond:           10,
			Burst:                   20,
			BreakerFailureThreshold: 5,
			BreakerResetTimeout:     time.Minute,
			RetryMaxRetries:         5,
			RetryBaseDelay:          time.Second,
			RetryMaxDelay:           60 * time.Second,
			RetryFactor:             2,
			RetryJitter:             true,
			TokenSafetyMargin:       5 * time.Minute,
		},
		Warehouse: WarehouseConfig{
			Path:          "/data/tributary.duckdb",
			MaxMemory:     "2GB",
			Threads:       0,
			BatchStrategy: "bytes",
			BatchSize:     1000,
			MaxBatchBytes: 8 << 20, // 8 MiB, below a 10 MiB payload ceiling
			InsertTimeout: 2 * time.Minute,
			MergeTimeout:  5 * time.Minute,
		},
		Sync: SyncConfig{
			LookbackDays:       7,
			LookbackMargin:     10 * time.Minute,
			FullSyncEpoch:      "2020-01-01",
			ScheduleEnabled:    false,
			ScheduleInterval:   time.Hour,
			ScheduleEntities:   []string{},
			CompactionEnabled:  true,
			CompactionInterval: 6 * time.Hour,
			MaxParallel:        4,
		},
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      15 * time.Minute, // full syncs run inside the request
			ShutdownTimeout:   30 * time.Second,
			CORSOrigins:       []string{"*"},
			RateLimitRequests: 60,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// LoadWithKoanf loads configuration using Koanf v2 with layered sources:
//  1. Defaults: Built-in sensible defaults
//  2. Config File: Optional YAML config file (if exists)
//  3. Environment Variables: Override any setting
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: Load defaults from struct
	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: Load config file (optional)
	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: Load environment variables (highest priority)
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file in the default paths.
// Returns the path to the first file found, or empty string if none found.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths defines which config paths should be parsed as comma-separated slices
var sliceConfigPaths = []string{
	"server.cors_origins",
	"sync.schedule_entities",
}

// processSliceFields converts comma-separated string values to slices for known slice fields.
// Env vars come in as strings, but the config expects slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}

		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}

		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names (lowercased) to koanf paths.
// Unmapped variables are ignored.
var envMappings = map[string]string{
	// Upstream API
	"st_base_url":         "api.base_url",
	"st_auth_url":         "api.auth_url",
	"st_tenant_id":        "api.tenant_id",
	"st_client_id":        "api.client_id",
	"st_client_secret":    "api.client_secret",
	"st_app_key":          "api.app_key",
	"st_timeout":          "api.timeout",
	"st_report_timeout":   "api.report_timeout",
	"st_page_size":        "api.page_size",
	"st_report_page_size": "api.report_page_size",
	"st_max_pages":        "api.max_pages",
	"st_max_report_pages": "api.max_report_pages",

	// Resilience
	"rate_limit_per_second":     "resilience.rate_per_second",
	"rate_limit_burst":          "resilience.burst",
	"breaker_failure_threshold": "resilience.breaker_failure_threshold",
	"breaker_reset_timeout":     "resilience.breaker_reset_timeout",
	"retry_max_retries":         "resilience.retry_max_retries",
	"retry_base_delay":          "resilience.retry_base_delay",
	"retry_max_delay":           "resilience.retry_max_delay",
	"retry_factor":              "resilience.retry_factor",
	"retry_jitter":              "resilience.retry_jitter",
	"token_safety_margin":       "resilience.token_safety_margin",

	// Warehouse
	"duckdb_path":          "warehouse.path",
	"duckdb_max_memory":    "warehouse.max_memory",
	"duckdb_threads":       "warehouse.threads",
	"load_batch_strategy":  "warehouse.batch_strategy",
	"load_batch_size":      "warehouse.batch_size",
	"load_max_batch_bytes": "warehouse.max_batch_bytes",
	"load_insert_timeout":  "warehouse.insert_timeout",
	"load_merge_timeout":   "warehouse.merge_timeout",

	// Sync
	"lookback_days":       "sync.lookback_days",
	"lookback_margin":     "sync.lookback_margin",
	"full_sync_epoch":     "sync.full_sync_epoch",
	"schedule_enabled":    "sync.schedule_enabled",
	"schedule_interval":   "sync.schedule_interval",
	"schedule_entities":   "sync.schedule_entities",
	"compaction_enabled":  "sync.compaction_enabled",
	"compaction_interval": "sync.compaction_interval",
	"sync_max_parallel":   "sync.max_parallel",

	// Server
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"cors_origins":          "server.cors_origins",
	"rate_limit_requests":   "server.rate_limit_requests",
	"rate_limit_window":     "server.rate_limit_window",
	"disable_rate_limit":    "server.rate_limit_disabled",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc transforms environment variable names to koanf config paths.
//
// Examples:
//   - ST_TENANT_ID -> api.tenant_id
//   - DUCKDB_PATH -> warehouse.path
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
