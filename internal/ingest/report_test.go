// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package ingest

import (
	"context"
	"errors"
	"testing"
	"time"
)

const collectionsID = "26117979"

func collectionsRecord(date string, amount float64, jobID int, bu string) []any {
	return []any{date, "Check", amount, jobID, "", "", "", bu}
}

func TestCollectionsRowID(t *testing.T) {
	row, err := collectionsRow(3, []any{"2024-03-05T00:00:00", nil, 125.5, 99.0, nil, nil, nil, "HVAC"})
	if err != nil {
		t.Fatalf("collectionsRow() error = %v", err)
	}
	if got, want := row["id"], "HVAC-2024-03-05T00:00:00.000Z-125.5-3"; got != want {
		t.Errorf("id = %v, want %v", got, want)
	}
	if row["job_id"] != int64(99) {
		t.Errorf("job_id = %v (%T), want 99", row["job_id"], row["job_id"])
	}
	if row["amount"] != 125.5 {
		t.Errorf("amount = %v, want 125.5", row["amount"])
	}
}

func TestCollectionsRowShortAndEmpty(t *testing.T) {
	row, err := collectionsRow(0, []any{nil})
	if err != nil {
		t.Fatalf("collectionsRow() error = %v", err)
	}
	if got, want := row["id"], "-null-0-0"; got != want {
		t.Errorf("id = %v, want %v", got, want)
	}
	if row["payment_date"] != nil || row["job_id"] != nil {
		t.Errorf("row = %v, want nil date and job", row)
	}
}

func TestJobCostingRowDerivesTotals(t *testing.T) {
	row, err := jobCostingRow(0, []any{
		"2024-03-05T08:00:00", "Phoenix-Production", "Sam", "Alex", "Interior",
		"Acme", 10452.0, 1000.0, 300.0, 50.0, 200.0, 25.0, 575.0, 42.5, "Completed",
	})
	if err != nil {
		t.Fatalf("jobCostingRow() error = %v", err)
	}
	if row["job_id"] != "10452" {
		t.Errorf("job_id = %v, want 10452", row["job_id"])
	}
	if row["labor_total"] != 350.0 {
		t.Errorf("labor_total = %v, want 350", row["labor_total"])
	}
	if row["gross_profit"] != 425.0 {
		t.Errorf("gross_profit = %v, want 425", row["gross_profit"])
	}
	if row["job_status"] != "Completed" || row["business_unit"] != "Phoenix-Production" {
		t.Errorf("row = %v", row)
	}
	want := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)
	if got, ok := row["scheduled_date"].(time.Time); !ok || !got.Equal(want) {
		t.Errorf("scheduled_date = %v, want %v", row["scheduled_date"], want)
	}
}

func TestJobCostingRowShort(t *testing.T) {
	row, err := jobCostingRow(0, []any{"not a date", "HVAC"})
	if err != nil {
		t.Fatalf("jobCostingRow() error = %v", err)
	}
	if row["job_id"] != nil || row["scheduled_date"] != nil {
		t.Errorf("row = %v, want nil job and date", row)
	}
	if row["total_costs"] != 0.0 || row["gross_profit"] != 0.0 {
		t.Errorf("totals = %v/%v, want zero", row["total_costs"], row["gross_profit"])
	}
}

func TestSyncReportReplacesDateRange(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	h.upstream.setReport(collectionsID,
		collectionsRecord("2024-03-05T00:00:00", 100, 1, "HVAC"),
		collectionsRecord("2024-03-06T00:00:00", 50, 2, "HVAC"),
	)

	rng := ReportRange{
		From: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	}
	res, err := h.orch.SyncReport(ctx, "collections", ModeIncremental, rng)
	if err != nil {
		t.Fatalf("SyncReport() error = %v", err)
	}
	if !res.Success || res.RecordsProcessed != 2 {
		t.Fatalf("result = %+v, want 2 rows loaded", res)
	}

	// A corrected amount changes the row id; the range delete keeps the
	// stale row from surviving next to it.
	h.upstream.setReport(collectionsID,
		collectionsRecord("2024-03-05T00:00:00", 110, 1, "HVAC"),
		collectionsRecord("2024-03-06T00:00:00", 50, 2, "HVAC"),
	)
	if _, err := h.orch.SyncReport(ctx, "collections", ModeIncremental, rng); err != nil {
		t.Fatalf("second SyncReport() error = %v", err)
	}

	n, err := h.db.CountRows(ctx, "raw_collections")
	if err != nil {
		t.Fatalf("CountRows() error = %v", err)
	}
	if n != 2 {
		t.Errorf("raw_collections rows = %d, want 2", n)
	}

	var amount float64
	var source string
	if err := h.db.Conn().QueryRowContext(ctx,
		"SELECT amount, _ingestion_source FROM raw_collections WHERE job_id = 1").Scan(&amount, &source); err != nil {
		t.Fatalf("query: %v", err)
	}
	if amount != 110 {
		t.Errorf("amount = %v, want 110", amount)
	}
	if source != SourceReporting {
		t.Errorf("_ingestion_source = %q, want %q", source, SourceReporting)
	}

	wm, err := h.db.GetWatermark(ctx, "collections")
	if err != nil || wm == nil {
		t.Fatalf("GetWatermark() = %v, %v; want a watermark", wm, err)
	}
}

const jobCostingID = "389438975"

func jobCostingRecord(date string, jobID any) []any {
	return []any{date, "HVAC", "Sam", "Alex", "Interior", "Acme", jobID,
		1000.0, 300.0, 50.0, 200.0, 25.0, 575.0, 42.5, "Completed"}
}

func TestSyncReportFailedRunKeepsPreviousRows(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	rng := ReportRange{
		From: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC),
	}

	h.upstream.setReport(jobCostingID,
		jobCostingRecord("2024-03-05T08:00:00", 101.0),
		jobCostingRecord("2024-03-06T08:00:00", 102.0),
	)
	if _, err := h.orch.SyncReport(ctx, "job_costing", ModeIncremental, rng); err != nil {
		t.Fatalf("seed SyncReport() error = %v", err)
	}

	// The same range again, with a later row that carries no job id.
	h.upstream.setReport(jobCostingID,
		jobCostingRecord("2024-03-05T08:00:00", 101.0),
		jobCostingRecord("2024-03-06T08:00:00", nil),
	)
	for run := 1; run <= 2; run++ {
		_, err := h.orch.SyncReport(ctx, "job_costing", ModeIncremental, rng)
		if StageOf(err) != StageValidating {
			t.Fatalf("run %d: StageOf(%v) = %q, want validating", run, err, StageOf(err))
		}
	}

	n, err := h.db.CountRows(ctx, "raw_job_costing_report")
	if err != nil {
		t.Fatalf("CountRows() error = %v", err)
	}
	if n != 2 {
		t.Errorf("raw_job_costing_report rows = %d, want the 2 previous rows", n)
	}
	var kept int
	if err := h.db.Conn().QueryRowContext(ctx,
		"SELECT COUNT(*) FROM raw_job_costing_report WHERE job_id IN ('101', '102')").Scan(&kept); err != nil {
		t.Fatalf("query: %v", err)
	}
	if kept != 2 {
		t.Errorf("previous job rows = %d, want 2", kept)
	}
}

func TestSyncReportErrors(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	if _, err := h.orch.SyncReport(ctx, "sales", ModeFull, ReportRange{}); !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("unknown report error = %v, want ErrUnknownEntity", err)
	}
	if _, err := h.orch.SyncReport(ctx, "collections", "weekly", ReportRange{}); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("bad mode error = %v, want ErrInvalidMode", err)
	}

	h.upstream.fail(collectionsID, 403)
	_, err := h.orch.SyncReport(ctx, "collections", ModeFull, ReportRange{})
	if StageOf(err) != StageFetching {
		t.Errorf("StageOf(%v) = %q, want fetching", err, StageOf(err))
	}
}

func TestSyncReportEmpty(t *testing.T) {
	h := newHarness(t, nil)
	res, err := h.orch.SyncReport(context.Background(), "collections", ModeFull, ReportRange{})
	if err != nil {
		t.Fatalf("SyncReport() error = %v", err)
	}
	if !res.Success || res.RecordsFetched != 0 {
		t.Errorf("result = %+v, want empty success", res)
	}
	if res.WindowStart == nil {
		t.Error("report result should carry its range start")
	}
}
