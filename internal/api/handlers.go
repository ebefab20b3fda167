// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package api

import (
	"context"
	"time"

	"github.com/tomtom215/tributary/internal/database"
	"github.com/tomtom215/tributary/internal/ingest"
)

// Syncer is the orchestrator surface the handlers drive.
type Syncer interface {
	Registry() *ingest.Registry
	Sync(ctx context.Context, name, mode string) (*ingest.Result, error)
	SyncAll(ctx context.Context, mode string, parallel bool) []*ingest.Result
	SyncReferences(ctx context.Context, parallel bool) []*ingest.Result
	SyncReport(ctx context.Context, name, mode string, rng ingest.ReportRange) (*ingest.Result, error)
	BackfillAsync(ctx context.Context) string
	Compact(ctx context.Context, name string) (*database.CompactResult, error)
	InProgress() int
}

// RunStore reads the state tables.
type RunStore interface {
	RecentRuns(ctx context.Context, entity string, limit int) ([]database.RunLog, error)
	GetWatermark(ctx context.Context, entity string) (*database.Watermark, error)
	Ping(ctx context.Context) error
}

// statusRunLimit is the number of runs GET /status returns.
const statusRunLimit = 10

// Handler serves the HTTP endpoints.
type Handler struct {
	syncer    Syncer
	store     RunStore
	version   string
	startTime time.Time
}

// NewHandler creates a Handler.
func NewHandler(syncer Syncer, store RunStore, version string) *Handler {
	return &Handler{
		syncer:    syncer,
		store:     store,
		version:   version,
		startTime: time.Now(),
	}
}

// runName resolves an entity, reference or report name to the name its
// watermark and run logs are stored under.
func (h *Handler) runName(name string) (string, error) {
	reg := h.syncer.Registry()
	if e, err := reg.Get(name); err == nil {
		return e.RunName(), nil
	}
	if rep, err := reg.Report(name); err == nil {
		return rep.Name, nil
	}
	_, err := reg.Get(name)
	return "", err
}
