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
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/metrics"
	"github.com/tomtom215/tributary/internal/resilience"
	"github.com/tomtom215/tributary/internal/schema"
)

// stageSeqColumn orders staged rows so the last fetched version of a
// duplicated key wins the MERGE.
const stageSeqColumn = "_stage_seq"

// UpsertResult describes one Upsert call.
type UpsertResult struct {
	// Merged is the number of distinct keys merged (or rows appended on fallback).
	Merged int `json:"merged"`
	// Staged is the number of rows written to staging.
	Staged int `json:"staged"`
	// Batches holds the row count of each inserted batch, in order.
	Batches []int `json:"batches"`
	Bytes   int   `json:"bytes"`
	// Fallback is true when the run appended directly to the target.
	// Rows are then delivered at-least-once and the table is marked for
	// compaction.
	Fallback bool `json:"fallback"`
	// Replaced counts target rows deleted by ReplaceRange.
	Replaced int64 `json:"replaced,omitempty"`
}

// execer is satisfied by *sql.Conn and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// mergeExec runs the MERGE statement. Tests replace it to simulate
// target-table conflicts.
var mergeExec = func(ctx context.Context, ex execer, query string) (sql.Result, error) {
	return ex.ExecContext(ctx, query)
}

// Range selects the rows of a table whose Column falls in [From, To].
type Range struct {
	Column string
	From   time.Time
	To     time.Time
}

// Upsert loads rows into table keyed by pk. Rows are planned into batches,
// inserted sequentially into a temporary staging table and merged into the
// target in one MERGE. Re-running with the same rows leaves the target
// unchanged.
//
// If the target rejects staging or MERGE with a transient conflict the rows
// are appended directly instead, the result is marked Fallback and the
// table is recorded for compaction.
func (db *DB) Upsert(ctx context.Context, table string, s schema.Schema, rows []Row, pk string) (*UpsertResult, error) {
	return db.load(ctx, table, s, rows, pk, nil)
}

// ReplaceRange loads rows like Upsert but first deletes the target rows in
// r. The delete and the MERGE commit in one transaction after staging has
// succeeded, so a failed load leaves the previous rows in place.
//
// On a load conflict the rows are appended without the delete and the
// table is marked for compaction.
func (db *DB) ReplaceRange(ctx context.Context, table string, s schema.Schema, rows []Row, pk string, r Range) (*UpsertResult, error) {
	if _, ok := s.Lookup(r.Column); !ok {
		return nil, fmt.Errorf("replace range in %s: column %q not in schema", table, r.Column)
	}
	return db.load(ctx, table, s, rows, pk, &r)
}

func (db *DB) load(ctx context.Context, table string, s schema.Schema, rows []Row, pk string, replace *Range) (*UpsertResult, error) {
	result := &UpsertResult{}
	if len(rows) == 0 {
		return result, nil
	}
	if _, ok := s.Lookup(pk); !ok {
		return nil, fmt.Errorf("upsert %s: primary key %q not in schema", table, pk)
	}
	for i, row := range rows {
		if row[pk] == nil {
			return nil, fmt.Errorf("upsert %s: row %d: %w %q", table, i, ErrMissingKey, pk)
		}
	}

	if _, err := db.EnsureTable(ctx, table, s); err != nil {
		if !isLoadConflict(err) {
			return nil, err
		}
		// The table exists but is mid-alteration; fall through and let the
		// staging path decide.
		logging.Ctx(ctx).Warn().Err(err).Str("table", table).Msg("Ensure table hit a conflict")
	}

	batches, err := db.planner.Plan(rows)
	if err != nil {
		return nil, fmt.Errorf("plan batches for %s: %w", table, err)
	}

	conn, err := db.conn.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer closeWithLog(conn, "upsert connection")

	log := logging.Ctx(ctx).With().Str("table", table).Str("primary_key", pk).Logger()
	staging := fmt.Sprintf("%s_staging_%d", table, time.Now().UnixMilli())

	if err := db.createStaging(ctx, conn, staging, s); err != nil {
		if !isLoadConflict(err) {
			return nil, err
		}
		log.Warn().Err(err).Msg("Staging unavailable, falling back to direct append")
		return db.appendBatches(ctx, conn, table, s, batches)
	}

	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			db.dropStaging(conn, staging)
			return nil, fmt.Errorf("upsert %s cancelled before batch %d/%d: %w", table, i+1, len(batches), err)
		}
		if err := db.insertBatch(ctx, conn, staging, s, b, result.Staged, true); err != nil {
			db.dropStaging(conn, staging)
			return nil, fmt.Errorf("insert batch %d/%d into staging for %s: %w", i+1, len(batches), table, err)
		}
		result.Staged += len(b.Rows)
		result.Bytes += b.Bytes
		result.Batches = append(result.Batches, len(b.Rows))
		db.observeBatch(table, b)

		log.Debug().
			Int("batch", i+1).
			Int("batches", len(batches)).
			Int("rows", len(b.Rows)).
			Int("bytes", b.Bytes).
			Msg("Batch staged")
	}

	merged, replaced, err := db.merge(ctx, conn, table, staging, s, pk, replace)
	if err != nil {
		if !isLoadConflict(err) {
			db.dropStaging(conn, staging)
			return nil, fmt.Errorf("merge into %s: %w", table, err)
		}
		log.Warn().Err(err).Msg("Merge rejected by target, falling back to direct append")
		appended, appendErr := db.appendFromStaging(ctx, conn, table, staging, s)
		db.dropStaging(conn, staging)
		if appendErr != nil {
			return nil, resilience.New(resilience.KindLoadConflict, "upsert "+table,
				errors.Join(err, appendErr))
		}
		db.recordFallback(ctx, table, appended)
		result.Merged = appended
		result.Fallback = true
		return result, nil
	}

	db.dropStaging(conn, staging)
	result.Merged = merged
	result.Replaced = replaced

	log.Info().
		Int("rows", len(rows)).
		Int("batches", len(batches)).
		Int("merged", merged).
		Int64("replaced", replaced).
		Msg("Merge complete")

	return result, nil
}

func (db *DB) createStaging(ctx context.Context, conn *sql.Conn, staging string, s schema.Schema) error {
	defs := make([]string, 0, len(s)+1)
	for _, c := range s {
		defs = append(defs, quoteIdent(c.Name)+" "+sqlType(c.Type))
	}
	defs = append(defs, quoteIdent(stageSeqColumn)+" BIGINT")

	ddl := fmt.Sprintf("CREATE TEMP TABLE %s (%s)", quoteIdent(staging), strings.Join(defs, ", "))
	if _, err := conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create staging table %s: %w", staging, err)
	}
	return nil
}

// dropStaging removes the staging table. Failures are logged only: by the
// time it runs the MERGE outcome is already decided, and temp tables vanish
// with their connection anyway.
func (db *DB) dropStaging(conn *sql.Conn, staging string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if _, err := conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(staging)); err != nil {
		logging.Warn().Err(err).Str("staging_table", staging).Msg("Staging table cleanup failed")
	}
}

// insertBatch writes one batch inside a single transaction, so a batch is
// either fully present or absent. seqBase numbers staged rows.
func (db *DB) insertBatch(ctx context.Context, conn *sql.Conn, table string, s schema.Schema, b Batch, seqBase int, withSeq bool) error {
	ctx, cancel := context.WithTimeout(ctx, db.insertTimeout())
	defer cancel()

	cols := make([]string, 0, len(s)+1)
	for _, c := range s {
		cols = append(cols, quoteIdent(c.Name))
	}
	if withSeq {
		cols = append(cols, quoteIdent(stageSeqColumn))
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(table), strings.Join(cols, ", "), placeholders)

	start := time.Now()
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare batch insert: %w", err)
	}
	defer closeQuietly(stmt)

	args := make([]any, len(cols))
	for i, row := range b.Rows {
		for j, c := range s {
			v, err := sqlValue(c, row[c.Name])
			if err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("row %d column %s: %w", i, c.Name, err)
			}
			args[j] = v
		}
		if withSeq {
			args[len(s)] = int64(seqBase + i)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}

	err = tx.Commit()
	metrics.RecordDBQuery("insert_batch", table, time.Since(start), err)
	if err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// merge runs the MERGE from staging into table and returns the number of
// distinct keys merged and, with replace set, the number of rows deleted
// ahead of it in the same transaction.
func (db *DB) merge(ctx context.Context, conn *sql.Conn, table, staging string, s schema.Schema, pk string, replace *Range) (int, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, db.mergeTimeout())
	defer cancel()

	query := buildMergeQuery(table, staging, s, pk)

	start := time.Now()
	var res sql.Result
	replaced, err := db.withReplace(ctx, conn, table, replace, func(ex execer) error {
		var err error
		res, err = mergeExec(ctx, ex, query)
		return err
	})
	elapsed := time.Since(start)
	metrics.RecordDBQuery("merge", table, elapsed, err)
	if err != nil {
		return 0, 0, err
	}
	metrics.LoadMergeDuration.WithLabelValues(table).Observe(elapsed.Seconds())

	if n, err := res.RowsAffected(); err == nil {
		return int(n), replaced, nil
	}

	var n int
	countQuery := fmt.Sprintf("SELECT COUNT(DISTINCT %s) FROM %s", quoteIdent(pk), quoteIdent(staging))
	if err := conn.QueryRowContext(ctx, countQuery).Scan(&n); err != nil {
		return 0, 0, fmt.Errorf("count merged keys: %w", err)
	}
	return n, replaced, nil
}

// withReplace runs fn on conn. With replace set, fn runs in a transaction
// that first deletes replace's range from table; nothing is deleted unless
// fn succeeds and the transaction commits.
func (db *DB) withReplace(ctx context.Context, conn *sql.Conn, table string, replace *Range, fn func(execer) error) (int64, error) {
	if replace == nil {
		return 0, fn(conn)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin replace of %s: %w", table, err)
	}
	res, err := tx.ExecContext(ctx, deleteRangeQuery(table, replace.Column), replace.From.UTC(), replace.To.UTC())
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("delete range from %s: %w", table, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit replace of %s: %w", table, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// buildMergeQuery renders the MERGE statement. Staged duplicates of one key
// collapse to the last staged row before matching.
func buildMergeQuery(table, staging string, s schema.Schema, pk string) string {
	cols := make([]string, len(s))
	src := make([]string, len(s))
	var sets []string
	for i, c := range s {
		q := quoteIdent(c.Name)
		cols[i] = q
		src[i] = "source." + q
		if c.Name != pk {
			sets = append(sets, q+" = source."+q)
		}
	}
	pkq := quoteIdent(pk)

	var b strings.Builder
	fmt.Fprintf(&b, "MERGE INTO %s AS target\n", quoteIdent(table))
	fmt.Fprintf(&b, "USING (SELECT %s FROM %s QUALIFY row_number() OVER (PARTITION BY %s ORDER BY %s DESC) = 1) AS source\n",
		strings.Join(cols, ", "), quoteIdent(staging), pkq, quoteIdent(stageSeqColumn))
	fmt.Fprintf(&b, "ON target.%s = source.%s\n", pkq, pkq)
	if len(sets) > 0 {
		fmt.Fprintf(&b, "WHEN MATCHED THEN UPDATE SET %s\n", strings.Join(sets, ", "))
	}
	fmt.Fprintf(&b, "WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)", strings.Join(cols, ", "), strings.Join(src, ", "))
	return b.String()
}

// appendFromStaging copies every staged row into the target without matching.
func (db *DB) appendFromStaging(ctx context.Context, conn *sql.Conn, table, staging string, s schema.Schema) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, db.mergeTimeout())
	defer cancel()

	cols := strings.Join(quoteAll(s.Names()), ", ")
	query := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s ORDER BY %s",
		quoteIdent(table), cols, cols, quoteIdent(staging), quoteIdent(stageSeqColumn))
	res, err := conn.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("append from staging: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(n), nil
}

// appendBatches inserts batches straight into the target table.
func (db *DB) appendBatches(ctx context.Context, conn *sql.Conn, table string, s schema.Schema, batches []Batch) (*UpsertResult, error) {
	result := &UpsertResult{Fallback: true}
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("append to %s cancelled before batch %d/%d: %w", table, i+1, len(batches), err)
		}
		if err := db.insertBatch(ctx, conn, table, s, b, result.Merged, false); err != nil {
			return nil, resilience.New(resilience.KindLoadConflict, "append "+table,
				fmt.Errorf("batch %d/%d: %w", i+1, len(batches), err))
		}
		result.Merged += len(b.Rows)
		result.Bytes += b.Bytes
		result.Batches = append(result.Batches, len(b.Rows))
		db.observeBatch(table, b)
	}
	db.recordFallback(ctx, table, result.Merged)
	return result, nil
}

func (db *DB) observeBatch(table string, b Batch) {
	metrics.LoadBatches.WithLabelValues(table, string(db.planner.Strategy)).Inc()
	metrics.LoadBatchBytes.WithLabelValues(table).Observe(float64(b.Bytes))
}

// recordFallback counts the fallback and marks table for compaction.
func (db *DB) recordFallback(ctx context.Context, table string, rows int) {
	metrics.LoadFallbacks.WithLabelValues(table).Inc()
	if err := db.MarkDirty(ctx, table, rows); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Str("table", table).Msg("Failed to mark table for compaction")
	}
	logging.Ctx(ctx).Warn().
		Str("table", table).
		Int("rows", rows).
		Msg("Rows appended without merge; duplicates possible until compaction")
}

func (db *DB) insertTimeout() time.Duration {
	if db.cfg != nil && db.cfg.InsertTimeout > 0 {
		return db.cfg.InsertTimeout
	}
	return 2 * time.Minute
}

func (db *DB) mergeTimeout() time.Duration {
	if db.cfg != nil && db.cfg.MergeTimeout > 0 {
		return db.cfg.MergeTimeout
	}
	return 5 * time.Minute
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}

// sqlValue converts a transformed value into a driver argument for column c.
func sqlValue(c schema.Column, v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case json.Number:
		if c.Type == schema.Int64 {
			if n, err := val.Int64(); err == nil {
				return n, nil
			}
		}
		if c.Type == schema.String || c.Type == schema.JSON {
			return val.String(), nil
		}
		return val.Float64()
	case map[string]any, []any:
		b, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	case time.Time:
		if c.Type == schema.String || c.Type == schema.JSON {
			return val.UTC().Format(time.RFC3339Nano), nil
		}
		return val.UTC(), nil
	case float64:
		if c.Type == schema.Int64 {
			return int64(val), nil
		}
		return val, nil
	case int:
		return int64(val), nil
	case string:
		switch c.Type {
		case schema.Timestamp:
			if t, err := time.Parse(time.RFC3339Nano, val); err == nil {
				return t.UTC(), nil
			}
		case schema.Date:
			if t, err := time.Parse("2006-01-02", val); err == nil {
				return t, nil
			}
		}
		return val, nil
	default:
		return val, nil
	}
}
