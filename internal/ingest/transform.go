// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package ingest

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/goccy/go-json"

	"github.com/tomtom215/tributary/internal/client"
	"github.com/tomtom215/tributary/internal/database"
	"github.com/tomtom215/tributary/internal/schema"
)

// timeLayouts are tried in order when parsing upstream timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Transform maps raw upstream records to rows for e's table. It has no side
// effects; now stamps _ingested_at.
func Transform(e *Entity, raw []client.Record, now time.Time) ([]database.Row, error) {
	rows := make([]database.Row, 0, len(raw))
	stamp := now.UTC()
	for i, rec := range raw {
		row, err := transformRecord(e, rec, stamp)
		if err != nil {
			return nil, fmt.Errorf("%s record %d: %w", e.Name, i, err)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func transformRecord(e *Entity, rec client.Record, now time.Time) (database.Row, error) {
	row := make(database.Row, len(e.Columns)+2)
	for _, c := range e.Columns {
		if c.Source == "" {
			continue
		}
		v, _ := lookupSource(rec, c.Source)
		converted, err := convertValue(c, v)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", c.Name, err)
		}
		row[c.Name] = converted
	}
	if e.Finalize != nil {
		e.Finalize(rec, row)
	}
	row[database.IngestedAtColumn] = now
	row[IngestionSourceColumn] = e.Source
	return row, nil
}

// lookupSource resolves a "|"-separated list of dotted paths, returning the
// first non-null value.
func lookupSource(rec map[string]any, source string) (any, bool) {
	for _, path := range strings.Split(source, "|") {
		if v, ok := lookupPath(rec, path); ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func lookupPath(rec map[string]any, path string) (any, bool) {
	var cur any = rec
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = m[part]; !ok {
			return nil, false
		}
	}
	return cur, true
}

// convertValue coerces a decoded JSON value to the column's type. Empty or
// unparseable timestamps become null.
func convertValue(c schema.Column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch c.Type {
	case schema.Int64:
		return toInt64(v)
	case schema.Float64:
		return toFloat64(v)
	case schema.Bool:
		return toBool(v)
	case schema.Timestamp:
		return parseTime(v), nil
	case schema.Date:
		t := parseTime(v)
		if t == nil {
			return nil, nil
		}
		return t.(time.Time).Truncate(24 * time.Hour), nil
	case schema.JSON:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		return toString(v)
	}
}

func toInt64(v any) (any, error) {
	switch n := v.(type) {
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, nil
		}
		f, err := n.Float64()
		if err != nil {
			return nil, err
		}
		return floatToInt(f)
	case float64:
		return floatToInt(n)
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case string:
		if n == "" {
			return nil, nil
		}
		return strconv.ParseInt(n, 10, 64)
	}
	return nil, fmt.Errorf("cannot convert %T to INT64", v)
}

func floatToInt(f float64) (any, error) {
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("%v is not an integer", f)
	}
	return int64(f), nil
}

func toFloat64(v any) (any, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Float64()
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case string:
		if n == "" {
			return nil, nil
		}
		return strconv.ParseFloat(n, 64)
	}
	return nil, fmt.Errorf("cannot convert %T to FLOAT64", v)
}

func toBool(v any) (any, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		if b == "" {
			return nil, nil
		}
		return strconv.ParseBool(b)
	case json.Number:
		return b.String() != "0", nil
	}
	return nil, fmt.Errorf("cannot convert %T to BOOL", v)
}

func toString(v any) (any, error) {
	switch s := v.(type) {
	case string:
		return s, nil
	case json.Number:
		return s.String(), nil
	case bool:
		return strconv.FormatBool(s), nil
	case map[string]any, []any:
		b, err := json.Marshal(s)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
	return fmt.Sprint(v), nil
}

// parseTime returns a UTC time.Time or nil.
func parseTime(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, s); err == nil {
				return parsed.UTC()
			}
		}
	}
	return nil
}

// payrollID keys gross pay items by sourceEntityId. Items without one get a
// deterministic 60-bit hash of their identifying fields, so re-fetching the
// same item yields the same key.
func payrollID(raw client.Record, row database.Row) {
	if id, ok := row["sourceEntityId"].(int64); ok && id != 0 {
		row["id"] = id
		return
	}

	parts := make([]string, 0, 9)
	for _, f := range []string{"payrollId", "employeeId", "jobId", "date", "activity", "amount", "paidDurationHours", "invoiceId", "createdOn"} {
		v := raw[f]
		if v == nil {
			parts = append(parts, "")
			continue
		}
		parts = append(parts, fmt.Sprint(v))
	}
	sum := xxhash.Sum64String(strings.Join(parts, "|"))
	row["id"] = int64(sum >> 4)
}

// defaultActive treats a missing active flag as true.
func defaultActive(_ client.Record, row database.Row) {
	if v, ok := row["active"]; ok && v == nil {
		row["active"] = true
	}
}
