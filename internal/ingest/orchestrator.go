// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

/*
Package ingest runs entity syncs from the upstream API into the warehouse.

A run moves through fixed stages:

	fetching -> transforming -> validating -> loading -> updating_watermark -> logging

Any stage may fail. A failed run still finalizes its ingestion_logs row with
the stage and error before the SyncError is returned. Zero fetched records
skip straight to logging. The watermark only advances after a load succeeds,
so a failed incremental run is re-covered by the next one and reconciled by
the idempotent upsert.

Concurrency:
  - One run per entity at a time in this process (ErrSyncInProgress)
  - SyncAll fans out to at most SyncConfig.MaxParallel entities
  - Page fetches within a run are sequential
  - BackfillAsync runs detached from the caller and is cancelled by Close
*/
package ingest

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/tributary/internal/client"
	"github.com/tomtom215/tributary/internal/config"
	"github.com/tomtom215/tributary/internal/database"
	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/metrics"
	"github.com/tomtom215/tributary/internal/schema"
)

// Fetcher is the upstream side of a run. *client.Client implements it.
type Fetcher interface {
	ForEachPage(ctx context.Context, endpoint string, params url.Values, fn client.PageFunc) error
	FetchReport(ctx context.Context, category, reportID string, params []client.ReportParam) (*client.Report, error)
}

// Store is the warehouse side of a run. *database.DB implements it.
type Store interface {
	Upsert(ctx context.Context, table string, s schema.Schema, rows []database.Row, pk string) (*database.UpsertResult, error)
	ReplaceRange(ctx context.Context, table string, s schema.Schema, rows []database.Row, pk string, r database.Range) (*database.UpsertResult, error)
	GetLastSyncTime(ctx context.Context, entity string, defaultLookback time.Duration) (time.Time, error)
	UpdateLastSyncTime(ctx context.Context, entity string, syncTime time.Time, status string, records int)
	StartRun(ctx context.Context, run *database.RunLog)
	FinishRun(ctx context.Context, run *database.RunLog)
	Compact(ctx context.Context, table, pk string) (*database.CompactResult, error)
	DirtyTables(ctx context.Context) ([]string, error)
}

// Result summarizes one run.
type Result struct {
	Entity           string     `json:"entity"`
	Mode             string     `json:"mode"`
	Success          bool       `json:"success"`
	RecordsFetched   int        `json:"records_fetched"`
	RecordsProcessed int        `json:"records_processed"`
	RunID            string     `json:"run_id"`
	DurationMs       int64      `json:"duration_ms"`
	WindowStart      *time.Time `json:"window_start,omitempty"`
	Fallback         bool       `json:"fallback,omitempty"`
	Stage            Stage      `json:"stage,omitempty"`
	Error            string     `json:"error,omitempty"`
}

// Orchestrator runs syncs for the entities of a Registry.
type Orchestrator struct {
	fetcher  Fetcher
	store    Store
	registry *Registry
	drift    *schema.DriftTracker
	cfg      config.SyncConfig
	now      func() time.Time

	mu      sync.Mutex
	running map[string]struct{}

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New creates an orchestrator. drift may be nil.
func New(fetcher Fetcher, store Store, registry *Registry, drift *schema.DriftTracker, cfg config.SyncConfig) *Orchestrator {
	bgCtx, bgCancel := context.WithCancel(context.Background())
	return &Orchestrator{
		fetcher:  fetcher,
		store:    store,
		registry: registry,
		drift:    drift,
		cfg:      cfg,
		now:      time.Now,
		running:  make(map[string]struct{}),
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}
}

// Registry returns the entity registry.
func (o *Orchestrator) Registry() *Registry { return o.registry }

// Close cancels background backfills and waits for them to finish.
func (o *Orchestrator) Close() {
	o.bgCancel()
	o.bgWG.Wait()
}

// Sync runs one entity. Mode is "full" or "incremental"; references always
// run in full. The returned Result is non-nil whenever a run was started,
// including failed runs.
func (o *Orchestrator) Sync(ctx context.Context, name, mode string) (*Result, error) {
	if mode != ModeFull && mode != ModeIncremental {
		return nil, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	e, err := o.registry.Get(name)
	if err != nil {
		return nil, err
	}
	if e.Reference {
		mode = ModeFull
	}
	return o.run(ctx, e, mode, nil)
}

// SyncWindow runs an incremental sync of name starting at since instead of
// the stored watermark.
func (o *Orchestrator) SyncWindow(ctx context.Context, name string, since time.Time) (*Result, error) {
	e, err := o.registry.Get(name)
	if err != nil {
		return nil, err
	}
	return o.run(ctx, e, ModeIncremental, &since)
}

// SyncAll syncs every non-reference entity. With parallel set, up to
// MaxParallel entities run at once. Failures are reported per entity and
// never stop the others.
func (o *Orchestrator) SyncAll(ctx context.Context, mode string, parallel bool) []*Result {
	return o.syncMany(ctx, o.registry.Entities(), mode, parallel)
}

// SyncReferences refreshes every reference dimension in full.
func (o *Orchestrator) SyncReferences(ctx context.Context, parallel bool) []*Result {
	return o.syncMany(ctx, o.registry.References(), ModeFull, parallel)
}

func (o *Orchestrator) syncMany(ctx context.Context, names []string, mode string, parallel bool) []*Result {
	results := make([]*Result, len(names))

	limit := 1
	if parallel {
		limit = max(o.cfg.MaxParallel, 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, name := range names {
		g.Go(func() error {
			res, err := o.Sync(gctx, name, mode)
			if res == nil {
				res = &Result{Entity: name, Mode: mode}
			}
			if err != nil {
				res.Success = false
				res.Error = err.Error()
				logging.Ctx(ctx).Error().Err(err).Str("entity", name).Msg("Entity sync failed")
			}
			results[i] = res
			// Per-entity failures are collected, not propagated.
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// BackfillAsync starts a sequential full sync of every entity and returns
// its correlation id at once. The run is detached from ctx; its outcome is
// only visible through the run logs.
func (o *Orchestrator) BackfillAsync(ctx context.Context) string {
	id := logging.CorrelationIDFromContext(ctx)
	if id == "" {
		id = logging.GenerateCorrelationID()
	}
	bg := logging.ContextWithCorrelationID(o.bgCtx, id)

	o.bgWG.Add(1)
	go func() {
		defer o.bgWG.Done()
		start := o.now()
		results := o.SyncAll(bg, ModeFull, false)

		failed := 0
		total := 0
		for _, r := range results {
			if !r.Success {
				failed++
			}
			total += r.RecordsProcessed
		}
		logging.Ctx(bg).Info().
			Int("entities", len(results)).
			Int("failed", failed).
			Int("records", total).
			Dur("took", o.now().Sub(start)).
			Msg("Background backfill finished")
	}()
	return id
}

// run executes the stage machine for one entity. since overrides the
// computed window start when non-nil.
func (o *Orchestrator) run(ctx context.Context, e *Entity, mode string, since *time.Time) (*Result, error) {
	runName := e.RunName()
	if !o.acquire(runName) {
		return nil, fmt.Errorf("%w: %s", ErrSyncInProgress, runName)
	}
	defer o.release(runName)

	runID := uuid.NewString()
	ctx = logging.ContextWithRun(ctx, runID, runName)
	start := o.now().UTC()

	res := &Result{Entity: runName, Mode: mode, RunID: runID}
	entry := &database.RunLog{
		RunID:      runID,
		EntityType: runName,
		Mode:       mode,
		StartTime:  start,
		Metadata:   map[string]any{"table": e.Table},
	}
	o.store.StartRun(ctx, entry)

	metrics.SyncInProgress.Inc()
	defer metrics.SyncInProgress.Dec()

	logging.Ctx(ctx).Info().Str("mode", mode).Msg("Sync started")

	fail := func(stage Stage, err error) (*Result, error) {
		return o.fail(ctx, e, entry, res, start, stage, err)
	}

	// Fetching
	window, err := o.windowStart(ctx, e, mode, since)
	if err != nil {
		return fail(StageFetching, err)
	}
	params := fetchParams(e, window)
	if window != nil {
		res.WindowStart = window
		entry.Metadata["window_start"] = window.Format(time.RFC3339)
	}

	var raw []client.Record
	pages := 0
	err = o.fetcher.ForEachPage(ctx, e.Endpoint, params, func(_ int, items []client.Record) error {
		pages++
		raw = append(raw, items...)
		return nil
	})
	entry.Metadata["pages"] = pages
	res.RecordsFetched = len(raw)
	entry.RecordsFetched = int64(len(raw))
	if err != nil {
		return fail(StageFetching, err)
	}

	if len(raw) == 0 {
		logging.Ctx(ctx).Info().Msg("No new records to process")
		return o.succeed(ctx, e, entry, res, start)
	}

	if o.drift != nil {
		o.drift.Observe(ctx, runName, schema.UnknownFields(raw[0], e.Columns, nil))
	}

	// Transforming
	rows, err := Transform(e, raw, o.now())
	if err != nil {
		return fail(StageTransforming, err)
	}

	// Validating
	tableSchema := e.Schema()
	if err := validateRows(ctx, rows, tableSchema, e.PrimaryKey); err != nil {
		return fail(StageValidating, err)
	}

	// Loading
	loaded, err := o.store.Upsert(ctx, e.Table, tableSchema, rows, e.PrimaryKey)
	if err != nil {
		return fail(StageLoading, err)
	}
	res.RecordsProcessed = loaded.Merged
	res.Fallback = loaded.Fallback
	entry.RecordsInserted = int64(loaded.Merged)
	entry.Fallback = loaded.Fallback
	entry.Metadata["batches"] = len(loaded.Batches)

	// UpdatingWatermark: the run start, so records modified while the run
	// was fetching are picked up next time.
	o.store.UpdateLastSyncTime(ctx, runName, start, database.StatusSuccess, loaded.Merged)

	return o.succeed(ctx, e, entry, res, start)
}

func (o *Orchestrator) succeed(ctx context.Context, e *Entity, entry *database.RunLog, res *Result, start time.Time) (*Result, error) {
	took := o.now().Sub(start)
	res.Success = true
	res.Stage = StageDone
	res.DurationMs = took.Milliseconds()

	entry.Status = database.StatusSuccess
	entry.DurationMs = res.DurationMs
	o.store.FinishRun(ctx, entry)

	metrics.RecordSync(e.RunName(), res.Mode, took, res.RecordsProcessed, "", nil)
	logging.Ctx(ctx).Info().
		Int("records_fetched", res.RecordsFetched).
		Int("records_processed", res.RecordsProcessed).
		Bool("fallback", res.Fallback).
		Dur("took", took).
		Msg("Sync completed")
	return res, nil
}

func (o *Orchestrator) fail(ctx context.Context, e *Entity, entry *database.RunLog, res *Result, start time.Time, stage Stage, err error) (*Result, error) {
	took := o.now().Sub(start)
	res.Success = false
	res.Stage = stage
	res.Error = err.Error()
	res.DurationMs = took.Milliseconds()

	entry.Status = database.StatusFailed
	entry.Stage = string(stage)
	entry.ErrorMessage = err.Error()
	entry.DurationMs = res.DurationMs
	// The run log must land even when ctx was cancelled.
	o.store.FinishRun(context.WithoutCancel(ctx), entry)

	metrics.RecordSync(e.RunName(), res.Mode, took, 0, string(stage), err)
	logging.Ctx(ctx).Error().Err(err).Str("stage", string(stage)).Dur("took", took).Msg("Sync failed")

	return res, &SyncError{EntityType: e.RunName(), Stage: stage, RunID: entry.RunID, Err: err}
}

// windowStart returns the fetch window start, or nil for an unfiltered
// fetch.
func (o *Orchestrator) windowStart(ctx context.Context, e *Entity, mode string, since *time.Time) (*time.Time, error) {
	if since != nil {
		t := since.UTC()
		return &t, nil
	}
	if !e.Incremental {
		return nil, nil
	}
	if mode == ModeFull {
		t := o.cfg.FullSyncStart()
		return &t, nil
	}
	last, err := o.store.GetLastSyncTime(ctx, e.RunName(), o.cfg.DefaultLookback())
	if err != nil {
		return nil, fmt.Errorf("read watermark: %w", err)
	}
	t := last.Add(-o.cfg.LookbackMargin).UTC()
	return &t, nil
}

func fetchParams(e *Entity, window *time.Time) url.Values {
	params := make(url.Values, len(e.Params)+4)
	for k, v := range e.Params {
		params[k] = append([]string(nil), v...)
	}
	if window == nil {
		return params
	}
	if e.Incremental {
		params = client.IncrementalParams(params, *window)
	}
	if e.WindowParam != "" {
		params.Set(e.WindowParam, window.Format(time.RFC3339))
	}
	return params
}

// validateRows checks the first row against s and every row for a primary
// key. Missing required fields or keys fail the run; type mismatches are
// logged.
func validateRows(ctx context.Context, rows []database.Row, s schema.Schema, pk string) error {
	if len(rows) == 0 {
		return nil
	}
	for i, row := range rows {
		if row[pk] == nil {
			return fmt.Errorf("row %d: %w %q", i, database.ErrMissingKey, pk)
		}
	}
	check := schema.Validate(rows[0], s)
	for _, w := range check.Warnings {
		logging.Ctx(ctx).Warn().Str("warning", w).Msg("Schema validation warning")
	}
	if !check.Valid() {
		return fmt.Errorf("schema validation failed: %s", strings.Join(check.Errors, "; "))
	}
	return nil
}

func (o *Orchestrator) acquire(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.running[name]; busy {
		return false
	}
	o.running[name] = struct{}{}
	return true
}

func (o *Orchestrator) release(name string) {
	o.mu.Lock()
	delete(o.running, name)
	o.mu.Unlock()
}

// InProgress returns the number of runs currently in flight.
func (o *Orchestrator) InProgress() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.running)
}
