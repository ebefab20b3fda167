// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package ingest

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/tributary/internal/client"
	"github.com/tomtom215/tributary/internal/database"
	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/metrics"
	"github.com/tomtom215/tributary/internal/schema"
)

// Report declares a reporting API report loaded by date range. Reports
// replace the loaded date range instead of merging, because their rows have
// no stable upstream id.
type Report struct {
	Name       string `validate:"required,entityname"`
	Category   string `validate:"required"`
	ReportID   string `validate:"required,numeric"`
	Table      string `validate:"required,sqlident"`
	PrimaryKey string `validate:"required,sqlident"`
	// DateColumn bounds the range deleted before a load.
	DateColumn string `validate:"required,sqlident"`
	DateType   int

	FullSpan        time.Duration `validate:"gt=0"`
	IncrementalSpan time.Duration `validate:"gt=0"`

	Columns schema.Schema `validate:"required,min=1,dive"`

	// MapRow turns one positional report row into a table row.
	MapRow func(index int, row []any) (database.Row, error) `validate:"-"`
}

// Schema returns the report's columns plus the ingestion columns.
func (r *Report) Schema() schema.Schema {
	return withIngestionColumns(r.Columns)
}

// Reports returns the built-in report ingestors.
func Reports() []*Report {
	return []*Report{
		{
			Name:            "collections",
			Category:        "report-category/accounting",
			ReportID:        "26117979",
			Table:           "raw_collections",
			PrimaryKey:      "id",
			DateColumn:      "payment_date",
			DateType:        2, // payment date
			FullSpan:        2 * 365 * 24 * time.Hour,
			IncrementalSpan: 30 * 24 * time.Hour,
			Columns: schema.Schema{
				{Name: "id", Type: str, Required: true},
				{Name: "business_unit", Type: str},
				{Name: "payment_date", Type: ts},
				{Name: "amount", Type: f64},
				{Name: "job_id", Type: i64},
				{Name: "raw", Type: jsn},
			},
			MapRow: collectionsRow,
		},
		{
			Name:            "job_costing",
			Category:        "report-category/operations",
			ReportID:        "389438975",
			Table:           "raw_job_costing_report",
			PrimaryKey:      "job_id",
			DateColumn:      "scheduled_date",
			DateType:        1, // scheduled date
			FullSpan:        2 * 365 * 24 * time.Hour,
			IncrementalSpan: 30 * 24 * time.Hour,
			Columns: schema.Schema{
				{Name: "job_id", Type: str, Required: true},
				{Name: "scheduled_date", Type: ts},
				{Name: "business_unit", Type: str},
				{Name: "sold_by", Type: str},
				{Name: "primary_technician", Type: str},
				{Name: "job_type", Type: str},
				{Name: "customer_name", Type: str},
				{Name: "job_status", Type: str},
				{Name: "revenue_subtotal", Type: f64},
				{Name: "labor_pay", Type: f64},
				{Name: "payroll_adjustments", Type: f64},
				{Name: "labor_total", Type: f64},
				{Name: "material_costs", Type: f64},
				{Name: "return_costs", Type: f64},
				{Name: "total_costs", Type: f64},
				{Name: "gross_profit", Type: f64},
				{Name: "gpm_percent", Type: f64},
				{Name: "raw", Type: jsn},
			},
			MapRow: jobCostingRow,
		},
	}
}

// positional reads report rows that may be shorter than their field list.
type positional []any

func (p positional) at(i int) any {
	if i < len(p) {
		return p[i]
	}
	return nil
}

// float reads position i as a number, treating absent or unparsable values
// as zero.
func (p positional) float(i int) float64 {
	if v, err := toFloat64(p.at(i)); err == nil && v != nil {
		return v.(float64)
	}
	return 0
}

// text reads position i as a string; nil stays nil.
func (p positional) text(i int) any {
	v := p.at(i)
	if v == nil {
		return nil
	}
	s, _ := toString(v)
	if s == "" {
		return nil
	}
	return s
}

// collectionsRow maps a collections report row. Positions: 0 payment date,
// 2 amount, 3 job id, 7 business unit.
func collectionsRow(index int, row []any) (database.Row, error) {
	p := positional(row)
	paid, _ := parseTime(p.at(0)).(time.Time)
	amount := p.float(2)

	var jobID any
	if v, err := toInt64(p.at(3)); err == nil {
		jobID = v
	}

	bu, _ := p.text(7).(string)

	dateKey := "null"
	var paymentDate any
	if !paid.IsZero() {
		dateKey = paid.Format("2006-01-02T15:04:05.000Z07:00")
		paymentDate = paid
	}

	rawJSON, err := convertValue(schema.Column{Type: jsn}, row)
	if err != nil {
		return nil, err
	}

	return database.Row{
		"id":            fmt.Sprintf("%s-%s-%s-%d", bu, dateKey, strconv.FormatFloat(amount, 'f', -1, 64), index),
		"business_unit": bu,
		"payment_date":  paymentDate,
		"amount":        amount,
		"job_id":        jobID,
		"raw":           rawJSON,
	}, nil
}

// jobCostingRow maps a job costing report row. Positions: 0 scheduled date,
// 1 business unit, 2 sold by, 3 technician, 4 job type, 5 customer, 6 job
// number, 7 subtotal, 8 labor pay, 9 payroll adjustments, 10 materials,
// 11 returns, 12 total costs, 13 GPM%, 14 job status.
func jobCostingRow(_ int, row []any) (database.Row, error) {
	p := positional(row)

	var scheduled any
	if t, ok := parseTime(p.at(0)).(time.Time); ok && !t.IsZero() {
		scheduled = t
	}

	subtotal, laborPay, adjustments := p.float(7), p.float(8), p.float(9)
	totalCosts := p.float(12)

	rawJSON, err := convertValue(schema.Column{Type: jsn}, row)
	if err != nil {
		return nil, err
	}

	return database.Row{
		"job_id":              p.text(6),
		"scheduled_date":      scheduled,
		"business_unit":       p.text(1),
		"sold_by":             p.text(2),
		"primary_technician":  p.text(3),
		"job_type":            p.text(4),
		"customer_name":       p.text(5),
		"job_status":          p.text(14),
		"revenue_subtotal":    subtotal,
		"labor_pay":           laborPay,
		"payroll_adjustments": adjustments,
		"labor_total":         laborPay + adjustments,
		"material_costs":      p.float(10),
		"return_costs":        p.float(11),
		"total_costs":         totalCosts,
		"gross_profit":        subtotal - totalCosts,
		"gpm_percent":         p.float(13),
		"raw":                 rawJSON,
	}, nil
}

// ReportRange is an explicit report date range. Zero values fall back to
// the span implied by the mode.
type ReportRange struct {
	From time.Time
	To   time.Time
}

// SyncReport loads a report for the mode's date range or rng when set.
func (o *Orchestrator) SyncReport(ctx context.Context, name, mode string, rng ReportRange) (*Result, error) {
	if mode != ModeFull && mode != ModeIncremental {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	rep, err := o.registry.Report(name)
	if err != nil {
		return nil, err
	}
	if !o.acquire(rep.Name) {
		return nil, fmt.Errorf("%w: %s", ErrSyncInProgress, rep.Name)
	}
	defer o.release(rep.Name)

	now := o.now().UTC()
	to := rng.To
	if to.IsZero() {
		to = now
	}
	from := rng.From
	if from.IsZero() {
		span := rep.IncrementalSpan
		if mode == ModeFull {
			span = rep.FullSpan
		}
		from = to.Add(-span)
	}

	runID := uuid.NewString()
	ctx = logging.ContextWithRun(ctx, runID, rep.Name)
	e := &Entity{Name: rep.Name, Table: rep.Table, Source: SourceReporting}

	res := &Result{Entity: rep.Name, Mode: mode, RunID: runID, WindowStart: &from}
	entry := &database.RunLog{
		RunID:      runID,
		EntityType: rep.Name,
		Mode:       mode,
		StartTime:  now,
		Metadata: map[string]any{
			"table":     rep.Table,
			"report_id": rep.ReportID,
			"from":      from.Format(time.DateOnly),
			"to":        to.Format(time.DateOnly),
		},
	}
	o.store.StartRun(ctx, entry)

	metrics.SyncInProgress.Inc()
	defer metrics.SyncInProgress.Dec()

	// Fetching
	report, err := o.fetcher.FetchReport(ctx, rep.Category, rep.ReportID, []client.ReportParam{
		{Name: "From", Value: from.Format(time.DateOnly)},
		{Name: "To", Value: to.Format(time.DateOnly)},
		{Name: "DateType", Value: rep.DateType},
	})
	if err != nil {
		return o.fail(ctx, e, entry, res, now, StageFetching, err)
	}
	res.RecordsFetched = len(report.Rows)
	entry.RecordsFetched = int64(len(report.Rows))
	entry.Metadata["pages"] = report.Pages
	entry.Metadata["fields"] = fieldNames(report.Fields)

	if len(report.Rows) == 0 {
		return o.succeed(ctx, e, entry, res, now)
	}

	// Transforming
	stamp := o.now().UTC()
	rows := make([]database.Row, 0, len(report.Rows))
	var minDate, maxDate time.Time
	for i, r := range report.Rows {
		row, err := rep.MapRow(i, r)
		if err != nil {
			return o.fail(ctx, e, entry, res, now, StageTransforming, fmt.Errorf("report row %d: %w", i, err))
		}
		row[database.IngestedAtColumn] = stamp
		row[IngestionSourceColumn] = SourceReporting
		if d, ok := row[rep.DateColumn].(time.Time); ok {
			if minDate.IsZero() || d.Before(minDate) {
				minDate = d
			}
			if d.After(maxDate) {
				maxDate = d
			}
		}
		rows = append(rows, row)
	}

	// Validating
	tableSchema := rep.Schema()
	if err := validateRows(ctx, rows, tableSchema, rep.PrimaryKey); err != nil {
		return o.fail(ctx, e, entry, res, now, StageValidating, err)
	}

	// Loading: the fetched date range replaces what the table holds for
	// it, in the same transaction as the merge.
	var loaded *database.UpsertResult
	if minDate.IsZero() {
		loaded, err = o.store.Upsert(ctx, rep.Table, tableSchema, rows, rep.PrimaryKey)
	} else {
		loaded, err = o.store.ReplaceRange(ctx, rep.Table, tableSchema, rows, rep.PrimaryKey, database.Range{
			Column: rep.DateColumn,
			From:   minDate,
			To:     maxDate,
		})
	}
	if err != nil {
		return o.fail(ctx, e, entry, res, now, StageLoading, err)
	}
	entry.Metadata["rows_replaced"] = loaded.Replaced
	res.RecordsProcessed = loaded.Merged
	res.Fallback = loaded.Fallback
	entry.RecordsInserted = int64(loaded.Merged)
	entry.Fallback = loaded.Fallback

	o.store.UpdateLastSyncTime(ctx, rep.Name, now, database.StatusSuccess, loaded.Merged)
	return o.succeed(ctx, e, entry, res, now)
}

func fieldNames(fields []client.ReportField) []string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	return names
}
