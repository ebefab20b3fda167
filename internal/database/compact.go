// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/metrics"
)

// IngestedAtColumn is the load timestamp every entity row carries.
const IngestedAtColumn = "_ingested_at"

// CompactResult reports a compaction pass over one table.
type CompactResult struct {
	Table   string `json:"table"`
	Before  int64  `json:"rows_before"`
	After   int64  `json:"rows_after"`
	Removed int64  `json:"rows_removed"`
}

// Compact rewrites table keeping one row per pk, the latest by
// _ingested_at. It repairs duplicates left by fallback appends and clears
// the table's dirty mark.
func (db *DB) Compact(ctx context.Context, table, pk string) (*CompactResult, error) {
	ctx, cancel := ensureContext(ctx, db.mergeTimeout())
	defer cancel()

	exists, err := db.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("compact %s: table does not exist", table)
	}

	cols, err := db.tableColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	if _, ok := cols[strings.ToLower(pk)]; !ok {
		return nil, fmt.Errorf("compact %s: primary key %q not a column", table, pk)
	}
	// rowid breaks ties between rows of one fallback append, which share
	// an _ingested_at stamp; the later append wins.
	order := "rowid DESC"
	if _, ok := cols[IngestedAtColumn]; ok {
		order = quoteIdent(IngestedAtColumn) + " DESC NULLS LAST, rowid DESC"
	}

	conn, err := db.conn.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}
	defer closeWithLog(conn, "compaction connection")

	start := time.Now()
	res := &CompactResult{Table: table}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin compaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&res.Before); err != nil {
		return nil, fmt.Errorf("count %s: %w", table, err)
	}

	keep := quoteIdent(table + "_compact")
	stmts := []string{
		fmt.Sprintf("CREATE TEMP TABLE %s AS SELECT * FROM %s QUALIFY row_number() OVER (PARTITION BY %s ORDER BY %s) = 1",
			keep, quoteIdent(table), quoteIdent(pk), order),
		"DELETE FROM " + quoteIdent(table),
		fmt.Sprintf("INSERT INTO %s SELECT * FROM %s", quoteIdent(table), keep),
		"DROP TABLE " + keep,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("compact %s: %w", table, err)
		}
	}

	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&res.After); err != nil {
		return nil, fmt.Errorf("count %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM load_fallbacks WHERE table_name = ?", table); err != nil {
		return nil, fmt.Errorf("clear dirty mark for %s: %w", table, err)
	}

	err = tx.Commit()
	metrics.RecordDBQuery("compact", table, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("commit compaction of %s: %w", table, err)
	}

	res.Removed = res.Before - res.After
	metrics.CompactionRowsRemoved.WithLabelValues(table).Add(float64(res.Removed))

	logging.Ctx(ctx).Info().
		Str("table", table).
		Int64("rows_before", res.Before).
		Int64("rows_removed", res.Removed).
		Dur("duration", time.Since(start)).
		Msg("Table compacted")

	return res, nil
}
