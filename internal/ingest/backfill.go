// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package ingest

import (
	"context"
	"fmt"
	"time"
)

// MonthlyWindows returns the first instant of every month from the month of
// from through the month of now, in UTC.
func MonthlyWindows(from, now time.Time) []time.Time {
	from = from.UTC()
	now = now.UTC()
	cur := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC)
	var out []time.Time
	for !cur.After(now) {
		out = append(out, cur)
		cur = cur.AddDate(0, 1, 0)
	}
	return out
}

// ParseMonth parses a YYYY-MM month.
func ParseMonth(s string) (time.Time, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid month %q, want YYYY-MM", s)
	}
	return t, nil
}

// WindowResult is the outcome of one backfill window.
type WindowResult struct {
	Window time.Time
	Result *Result
	Err    error
}

// BackfillSummary totals a windowed backfill.
type BackfillSummary struct {
	Windows int `json:"windows"`
	Failed  int `json:"failed"`
	Records int `json:"records_processed"`
}

// Backfill runs a windowed sync of name for every month from from through
// now, pausing between windows. onWindow, when set, sees each window as it
// finishes. A failed window is reported and the walk continues; a cancelled
// ctx stops it.
func (o *Orchestrator) Backfill(ctx context.Context, name string, from time.Time, pause time.Duration, onWindow func(WindowResult)) (BackfillSummary, error) {
	if _, err := o.registry.Get(name); err != nil {
		return BackfillSummary{}, err
	}

	var sum BackfillSummary
	windows := MonthlyWindows(from, o.now())
	for i, w := range windows {
		if i > 0 && pause > 0 {
			select {
			case <-ctx.Done():
				return sum, ctx.Err()
			case <-time.After(pause):
			}
		}
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		res, err := o.SyncWindow(ctx, name, w)
		sum.Windows++
		if err != nil {
			sum.Failed++
		} else {
			sum.Records += res.RecordsProcessed
		}
		if onWindow != nil {
			onWindow(WindowResult{Window: w, Result: res, Err: err})
		}
	}
	return sum, nil
}
