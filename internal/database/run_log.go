// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/tomtom215/tributary/internal/logging"
)

// RunLog is one ingestion_logs row. It is written once with status running
// and finalized once at completion.
type RunLog struct {
	RunID           string         `json:"run_id"`
	EntityType      string         `json:"entity_type"`
	Mode            string         `json:"mode"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         *time.Time     `json:"end_time,omitempty"`
	Status          string         `json:"status"`
	Stage           string         `json:"stage,omitempty"`
	RecordsFetched  int64          `json:"records_fetched"`
	RecordsInserted int64          `json:"records_inserted"`
	DurationMs      int64          `json:"duration_ms"`
	Fallback        bool           `json:"fallback"`
	ErrorMessage    string         `json:"error_message,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// StartRun inserts the running row for run. Failure to log never fails a
// sync, so errors are logged and dropped.
func (db *DB) StartRun(ctx context.Context, run *RunLog) {
	ctx, cancel := ensureContext(ctx, 30*time.Second)
	defer cancel()

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO ingestion_logs (run_id, entity_type, mode, start_time, status)
		VALUES (?, ?, ?, ?, ?)`,
		run.RunID, run.EntityType, run.Mode, run.StartTime.UTC(), StatusRunning)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("entity", run.EntityType).Msg("Failed to log run start")
	}
}

// FinishRun finalizes run. Only rows still in status running are updated,
// so a finalized entry is never rewritten. Errors are logged and dropped.
func (db *DB) FinishRun(ctx context.Context, run *RunLog) {
	ctx, cancel := ensureContext(ctx, 30*time.Second)
	defer cancel()

	var metadata any
	if len(run.Metadata) > 0 {
		if b, err := json.Marshal(run.Metadata); err == nil {
			metadata = string(b)
		}
	}
	var errMsg any
	if run.ErrorMessage != "" {
		errMsg = run.ErrorMessage
	}
	end := time.Now().UTC()
	if run.EndTime != nil {
		end = run.EndTime.UTC()
	}

	res, err := db.conn.ExecContext(ctx, `
		UPDATE ingestion_logs
		SET end_time = ?, status = ?, stage = ?, records_fetched = ?, records_inserted = ?,
			duration_ms = ?, fallback = ?, error_message = ?, metadata = ?
		WHERE run_id = ? AND status = ?`,
		end, run.Status, run.Stage, run.RecordsFetched, run.RecordsInserted,
		run.DurationMs, run.Fallback, errMsg, metadata, run.RunID, StatusRunning)
	if err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("entity", run.EntityType).Msg("Failed to log run")
		return
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		logging.Ctx(ctx).Warn().Str("run_id", run.RunID).Msg("Run log entry missing or already finalized")
		return
	}

	logging.Ctx(ctx).Debug().Str("entity", run.EntityType).Str("status", run.Status).Msg("Run logged")
}

// RecentRuns returns the latest runs for entity, newest first. An empty
// entity lists runs across all entities.
func (db *DB) RecentRuns(ctx context.Context, entity string, limit int) ([]RunLog, error) {
	if limit <= 0 {
		limit = 10
	}
	where, args := "", []any{}
	if entity != "" {
		where, args = "WHERE entity_type = ?", append(args, entity)
	}
	return db.queryRuns(ctx, where, args, limit)
}

// GetRun returns a single run by id, or nil if absent.
func (db *DB) GetRun(ctx context.Context, runID string) (*RunLog, error) {
	runs, err := db.queryRuns(ctx, "WHERE run_id = ?", []any{runID}, 1)
	if err != nil || len(runs) == 0 {
		return nil, err
	}
	return &runs[0], nil
}

func (db *DB) queryRuns(ctx context.Context, where string, args []any, limit int) ([]RunLog, error) {
	ctx, cancel := ensureContext(ctx, 30*time.Second)
	defer cancel()

	query := `SELECT run_id, entity_type, mode, start_time, end_time, status, stage,
		records_fetched, records_inserted, duration_ms, fallback, error_message, metadata
		FROM ingestion_logs ` + where + ` ORDER BY start_time DESC LIMIT ?`
	args = append(args, limit)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer closeWithLog(rows, "run log rows")

	var runs []RunLog
	for rows.Next() {
		var (
			r                           RunLog
			mode, stage, errMsg, meta   sql.NullString
			end                         sql.NullTime
			fetched, inserted, duration sql.NullInt64
			fallback                    sql.NullBool
		)
		if err := rows.Scan(&r.RunID, &r.EntityType, &mode, &r.StartTime, &end, &r.Status, &stage,
			&fetched, &inserted, &duration, &fallback, &errMsg, &meta); err != nil {
			return nil, fmt.Errorf("scan run log: %w", err)
		}
		r.Mode = mode.String
		r.Stage = stage.String
		r.ErrorMessage = errMsg.String
		r.RecordsFetched = fetched.Int64
		r.RecordsInserted = inserted.Int64
		r.DurationMs = duration.Int64
		r.Fallback = fallback.Bool
		if end.Valid {
			t := end.Time
			r.EndTime = &t
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &r.Metadata); err != nil {
				logging.Ctx(ctx).Debug().Err(err).Str("run_id", r.RunID).Msg("Unreadable run metadata")
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
