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
	"github.com/tomtom215/tributary/internal/schema"
)

// sqlTypes maps logical column types to DuckDB types. JSON is stored as
// text so the warehouse does not depend on the json extension being loaded.
var sqlTypes = map[schema.Type]string{
	schema.Int64:     "BIGINT",
	schema.Float64:   "DOUBLE",
	schema.Bool:      "BOOLEAN",
	schema.String:    "VARCHAR",
	schema.Timestamp: "TIMESTAMP",
	schema.Date:      "DATE",
	schema.JSON:      "VARCHAR",
}

func sqlType(t schema.Type) string {
	if s, ok := sqlTypes[t]; ok {
		return s
	}
	return "VARCHAR"
}

// EnsureTable creates table if missing and adds any schema column the
// existing table lacks. Columns are never dropped or retyped. Returns the
// names of columns added.
func (db *DB) EnsureTable(ctx context.Context, table string, s schema.Schema) ([]string, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("ensure table %s: empty schema", table)
	}

	ctx, cancel := ensureContext(ctx, 30*time.Second)
	defer cancel()

	start := time.Now()
	defs := make([]string, len(s))
	for i, c := range s {
		defs[i] = quoteIdent(c.Name) + " " + sqlType(c.Type)
	}
	ddl := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table), strings.Join(defs, ", "))
	_, err := db.conn.ExecContext(ctx, ddl)
	metrics.RecordDBQuery("create_table", table, time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("create table %s: %w", table, err)
	}

	existing, err := db.tableColumns(ctx, table)
	if err != nil {
		return nil, err
	}

	var added []string
	for _, c := range s {
		if _, ok := existing[strings.ToLower(c.Name)]; ok {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", quoteIdent(table), quoteIdent(c.Name), sqlType(c.Type))
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return added, fmt.Errorf("add column %s.%s: %w", table, c.Name, err)
		}
		added = append(added, c.Name)
	}

	if len(added) > 0 {
		logging.Info().
			Str("table", table).
			Strs("columns", added).
			Msg("Schema updated with new columns")
	}
	return added, nil
}

// tableColumns returns the lowercased column names of table.
func (db *DB) tableColumns(ctx context.Context, table string) (map[string]struct{}, error) {
	rows, err := db.conn.QueryContext(ctx,
		"SELECT column_name FROM information_schema.columns WHERE table_name = ?", table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	defer closeWithLog(rows, "column rows")

	cols := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan column name: %w", err)
		}
		cols[strings.ToLower(name)] = struct{}{}
	}
	return cols, rows.Err()
}

// TableExists reports whether table exists.
func (db *DB) TableExists(ctx context.Context, table string) (bool, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM information_schema.tables WHERE table_name = ?", table).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return n > 0, nil
}

// CountRows returns the number of rows in table.
func (db *DB) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

// deleteRangeQuery deletes rows of table whose column falls in [?, ?].
func deleteRangeQuery(table, column string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s BETWEEN ? AND ?", quoteIdent(table), quoteIdent(column))
}
