// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package ingest

import (
	"errors"
	"fmt"
)

// Stage is a step of one orchestrator run.
type Stage string

const (
	StageFetching          Stage = "fetching"
	StageTransforming      Stage = "transforming"
	StageValidating        Stage = "validating"
	StageLoading           Stage = "loading"
	StageUpdatingWatermark Stage = "updating_watermark"
	StageLogging           Stage = "logging"
	StageDone              Stage = "done"
)

// Sync modes.
const (
	ModeFull        = "full"
	ModeIncremental = "incremental"
)

var (
	// ErrUnknownEntity is returned for names missing from the registry.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrSyncInProgress is returned when the entity already has a run in
	// flight in this process.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrInvalidMode is returned for modes other than full and incremental.
	ErrInvalidMode = errors.New("invalid sync mode")
)

// SyncError is the failure of one run. It names the entity, the stage the
// run was in, and the run id under which the failure was logged.
type SyncError struct {
	EntityType string
	Stage      Stage
	RunID      string
	Err        error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("sync %s failed during %s: %v", e.EntityType, e.Stage, e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }

// StageOf returns the stage of a SyncError in err's chain, or "".
func StageOf(err error) Stage {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
