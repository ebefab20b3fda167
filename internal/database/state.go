// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/schema"
)

// stateTableDDL creates the bookkeeping tables. sync_state is append-only;
// readers take the latest row per entity by updated_at.
var stateTableDDL = []string{
	`CREATE TABLE IF NOT EXISTS sync_state (
		entity_type VARCHAR NOT NULL,
		last_sync_time TIMESTAMP NOT NULL,
		last_sync_status VARCHAR,
		records_processed BIGINT,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS ingestion_logs (
		run_id VARCHAR NOT NULL,
		entity_type VARCHAR NOT NULL,
		mode VARCHAR,
		start_time TIMESTAMP NOT NULL,
		end_time TIMESTAMP,
		status VARCHAR NOT NULL,
		stage VARCHAR,
		records_fetched BIGINT,
		records_inserted BIGINT,
		duration_ms BIGINT,
		fallback BOOLEAN DEFAULT false,
		error_message VARCHAR,
		metadata VARCHAR
	)`,
	`CREATE TABLE IF NOT EXISTS schema_drift (
		entity_type VARCHAR NOT NULL,
		field_name VARCHAR NOT NULL,
		observed_type VARCHAR,
		first_seen TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS load_fallbacks (
		table_name VARCHAR NOT NULL,
		rows_appended BIGINT,
		occurred_at TIMESTAMP NOT NULL
	)`,
}

// Sync statuses recorded in sync_state and ingestion_logs.
const (
	StatusRunning = "running"
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Watermark is the latest sync_state row for an entity.
type Watermark struct {
	EntityType       string    `json:"entity_type"`
	LastSyncTime     time.Time `json:"last_sync_time"`
	LastStatus       string    `json:"last_status"`
	RecordsProcessed int64     `json:"records_processed"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// GetWatermark returns the latest watermark for entity, or nil when the
// entity has never synced.
func (db *DB) GetWatermark(ctx context.Context, entity string) (*Watermark, error) {
	ctx, cancel := ensureContext(ctx, 30*time.Second)
	defer cancel()

	w := &Watermark{EntityType: entity}
	var status sql.NullString
	var records sql.NullInt64
	err := db.conn.QueryRowContext(ctx, `
		SELECT last_sync_time, last_sync_status, records_processed, updated_at
		FROM sync_state
		WHERE entity_type = ?
		ORDER BY updated_at DESC
		LIMIT 1`, entity).Scan(&w.LastSyncTime, &status, &records, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get watermark for %s: %w", entity, err)
	}
	w.LastStatus = status.String
	w.RecordsProcessed = records.Int64
	return w, nil
}

// GetLastSyncTime returns entity's watermark, or now minus defaultLookback
// when none exists.
func (db *DB) GetLastSyncTime(ctx context.Context, entity string, defaultLookback time.Duration) (time.Time, error) {
	w, err := db.GetWatermark(ctx, entity)
	if err != nil {
		return time.Time{}, err
	}
	if w != nil {
		return w.LastSyncTime, nil
	}

	since := time.Now().UTC().Add(-defaultLookback)
	logging.Ctx(ctx).Info().
		Str("entity", entity).
		Time("default_since", since).
		Msg("No previous sync found, using default lookback")
	return since, nil
}

// UpdateLastSyncTime appends a sync_state row. Failures are logged and
// swallowed: losing a watermark only widens the next incremental window.
func (db *DB) UpdateLastSyncTime(ctx context.Context, entity string, syncTime time.Time, status string, records int) {
	ctx, cancel := ensureContext(ctx, 30*time.Second)
	defer cancel()

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO sync_state (entity_type, last_sync_time, last_sync_status, records_processed, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		entity, syncTime.UTC(), status, int64(records), time.Now().UTC())
	if err != nil {
		logging.Ctx(ctx).Error().Err(err).Str("entity", entity).Msg("Failed to update sync state")
		return
	}

	logging.Ctx(ctx).Info().
		Str("entity", entity).
		Time("sync_time", syncTime).
		Str("status", status).
		Int("records", records).
		Msg("Sync state updated")
}

// RecordDrift stores unknown upstream fields for later schema review.
func (db *DB) RecordDrift(ctx context.Context, entity string, fields []schema.Field) error {
	ctx, cancel := ensureContext(ctx, 30*time.Second)
	defer cancel()

	now := time.Now().UTC()
	for _, f := range fields {
		_, err := db.conn.ExecContext(ctx, `
			INSERT INTO schema_drift (entity_type, field_name, observed_type, first_seen)
			SELECT ?, ?, ?, ?
			WHERE NOT EXISTS (
				SELECT 1 FROM schema_drift WHERE entity_type = ? AND field_name = ?
			)`,
			entity, f.Name, string(f.Type), now, entity, f.Name)
		if err != nil {
			return fmt.Errorf("record drift %s.%s: %w", entity, f.Name, err)
		}
	}
	return nil
}

// DriftRecord is one schema_drift row.
type DriftRecord struct {
	EntityType   string    `json:"entity_type"`
	FieldName    string    `json:"field_name"`
	ObservedType string    `json:"observed_type"`
	FirstSeen    time.Time `json:"first_seen"`
}

// ListDrift returns drift observations, optionally for a single entity.
func (db *DB) ListDrift(ctx context.Context, entity string) ([]DriftRecord, error) {
	query := "SELECT entity_type, field_name, observed_type, first_seen FROM schema_drift"
	var args []any
	if entity != "" {
		query += " WHERE entity_type = ?"
		args = append(args, entity)
	}
	query += " ORDER BY entity_type, field_name"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list drift: %w", err)
	}
	defer closeWithLog(rows, "drift rows")

	var out []DriftRecord
	for rows.Next() {
		var d DriftRecord
		var typ sql.NullString
		if err := rows.Scan(&d.EntityType, &d.FieldName, &typ, &d.FirstSeen); err != nil {
			return nil, fmt.Errorf("scan drift: %w", err)
		}
		d.ObservedType = typ.String
		out = append(out, d)
	}
	return out, rows.Err()
}

// MarkDirty records that table received an unmerged append.
func (db *DB) MarkDirty(ctx context.Context, table string, rows int) error {
	_, err := db.conn.ExecContext(ctx,
		"INSERT INTO load_fallbacks (table_name, rows_appended, occurred_at) VALUES (?, ?, ?)",
		table, int64(rows), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark %s dirty: %w", table, err)
	}
	return nil
}

// DirtyTables lists tables awaiting compaction.
func (db *DB) DirtyTables(ctx context.Context) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, "SELECT DISTINCT table_name FROM load_fallbacks ORDER BY table_name")
	if err != nil {
		return nil, fmt.Errorf("list dirty tables: %w", err)
	}
	defer closeWithLog(rows, "dirty table rows")

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan dirty table: %w", err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
