// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package models

import "time"

// HealthStatus is returned by GET /health.
type HealthStatus struct {
	Status            string  `json:"status"`
	Version           string  `json:"version"`
	DatabaseConnected bool    `json:"database_connected"`
	Uptime            float64 `json:"uptime_seconds"`
	SyncsInProgress   int     `json:"syncs_in_progress"`
}

// EntityInfo describes one registered entity, reference or report.
type EntityInfo struct {
	Name           string   `json:"name"`
	Kind           string   `json:"kind"` // entity, reference or report
	Table          string   `json:"table"`
	PrimaryKey     string   `json:"primary_key"`
	Incremental    bool     `json:"incremental"`
	PartitionField string   `json:"partition_field,omitempty"`
	ClusterFields  []string `json:"cluster_fields,omitempty"`
	Columns        int      `json:"columns"`
}

// EntityList is returned by GET /entities and GET /ref-entities.
type EntityList struct {
	Entities []EntityInfo `json:"entities"`
	Count    int          `json:"count"`
}

// SyncSummary totals a multi-entity run. Results holds the per-entity
// outcomes in registry order.
type SyncSummary struct {
	Mode      string      `json:"mode"`
	Parallel  bool        `json:"parallel"`
	Total     int         `json:"total"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Records   int         `json:"records_processed"`
	Results   interface{} `json:"results"`
}

// BackfillAccepted is returned by POST /backfill-async.
type BackfillAccepted struct {
	CorrelationID string    `json:"correlation_id"`
	Status        string    `json:"status"`
	AcceptedAt    time.Time `json:"accepted_at"`
	Message       string    `json:"message"`
}

// LastSync is returned by GET /last-sync/{entity}.
type LastSync struct {
	Entity           string     `json:"entity"`
	LastSyncTime     *time.Time `json:"last_sync_time"`
	LastStatus       string     `json:"last_status,omitempty"`
	RecordsProcessed int64      `json:"records_processed"`
	NeverSynced      bool       `json:"never_synced"`
}

// RunHistory is returned by GET /status/{entity}.
type RunHistory struct {
	Entity string      `json:"entity"`
	Runs   interface{} `json:"runs"`
	Count  int         `json:"count"`
}
