// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package services

import (
	"context"
	"time"

	"github.com/tomtom215/tributary/internal/config"
	"github.com/tomtom215/tributary/internal/database"
	"github.com/tomtom215/tributary/internal/ingest"
	"github.com/tomtom215/tributary/internal/logging"
)

// ScheduledSyncer is the orchestrator surface the scheduler drives.
// Satisfied by *ingest.Orchestrator.
type ScheduledSyncer interface {
	Sync(ctx context.Context, name, mode string) (*ingest.Result, error)
	SyncAll(ctx context.Context, mode string, parallel bool) []*ingest.Result
}

// SchedulerService runs an incremental sync every interval.
//
// With no entities configured every registered entity is synced, one at a
// time. Failures are logged and the next tick proceeds normally; a run
// that outlasts the interval delays the next tick rather than overlapping
// it.
type SchedulerService struct {
	syncer   ScheduledSyncer
	interval time.Duration
	entities []string
	name     string
}

// NewSchedulerService creates the scheduler from the sync config. A
// non-positive interval defaults to one hour.
func NewSchedulerService(syncer ScheduledSyncer, cfg config.SyncConfig) *SchedulerService {
	interval := cfg.ScheduleInterval
	if interval <= 0 {
		interval = time.Hour
	}
	return &SchedulerService{
		syncer:   syncer,
		interval: interval,
		entities: cfg.ScheduleEntities,
		name:     "sync-scheduler",
	}
}

// Serve implements suture.Service.
func (s *SchedulerService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logging.Info().Dur("interval", s.interval).Strs("entities", s.entities).Msg("Sync scheduler started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.tick(logging.ContextWithNewCorrelationID(ctx))
		}
	}
}

func (s *SchedulerService) tick(ctx context.Context) {
	start := time.Now()
	var results []*ingest.Result
	if len(s.entities) == 0 {
		results = s.syncer.SyncAll(ctx, ingest.ModeIncremental, false)
	} else {
		for _, name := range s.entities {
			if ctx.Err() != nil {
				break
			}
			res, err := s.syncer.Sync(ctx, name, ingest.ModeIncremental)
			if err != nil && res == nil {
				// Never started: unknown name or a run already in flight.
				logging.Ctx(ctx).Warn().Err(err).Str("entity", name).Msg("Scheduled sync skipped")
				continue
			}
			results = append(results, res)
		}
	}

	failed, records := 0, 0
	for _, res := range results {
		if !res.Success {
			failed++
		}
		records += res.RecordsProcessed
	}
	logging.Ctx(ctx).Info().
		Int("entities", len(results)).
		Int("failed", failed).
		Int("records", records).
		Dur("took", time.Since(start)).
		Msg("Scheduled sync finished")
}

func (s *SchedulerService) String() string {
	return s.name
}

// DirtyCompactor is satisfied by *ingest.Orchestrator.
type DirtyCompactor interface {
	CompactDirty(ctx context.Context) ([]*database.CompactResult, error)
}

// CompactorService compacts the tables that took fallback appends, on a
// fixed interval.
type CompactorService struct {
	compactor DirtyCompactor
	interval  time.Duration
	name      string
}

// NewCompactorService creates the compactor. A non-positive interval
// defaults to six hours.
func NewCompactorService(compactor DirtyCompactor, interval time.Duration) *CompactorService {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	return &CompactorService{
		compactor: compactor,
		interval:  interval,
		name:      "dirty-compactor",
	}
}

// Serve implements suture.Service. Compaction errors are logged; the
// service keeps its schedule.
func (c *CompactorService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			results, err := c.compactor.CompactDirty(ctx)
			if err != nil {
				logging.Warn().Err(err).Msg("Dirty table compaction failed")
			}
			for _, res := range results {
				logging.Info().
					Str("table", res.Table).
					Int64("removed", res.Removed).
					Msg("Compacted dirty table")
			}
		}
	}
}

func (c *CompactorService) String() string {
	return c.name
}
