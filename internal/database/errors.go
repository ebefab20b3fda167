// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package database

import (
	"errors"
	"io"
	"strings"

	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/resilience"
)

// ErrMissingKey is returned when a row to load has no primary key value.
// A NULL key never matches in MERGE, so such rows would be inserted again
// on every run.
var ErrMissingKey = errors.New("missing primary key")

// closeWithLog closes a resource and logs any error
func closeWithLog(closer io.Closer, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("type", resourceType).Err(err).Msg("Failed to close resource")
	}
}

// closeQuietly closes a resource and explicitly ignores any error
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close() // Explicitly ignore error - cleanup is best-effort
	}
}

// conflictMarkers are warehouse messages meaning the target table is in a
// state that rejects staging or MERGE right now.
var conflictMarkers = []string{
	"Transaction conflict",
	"Conflict on update",
	"cannot update a table that has been altered",
	"streaming buffer",
}

// isLoadConflict checks if an error is a transient target-table conflict
func isLoadConflict(err error) bool {
	if err == nil {
		return false
	}
	if resilience.KindOf(err) == resilience.KindLoadConflict {
		return true
	}
	errStr := err.Error()
	for _, m := range conflictMarkers {
		if strings.Contains(errStr, m) {
			return true
		}
	}
	return false
}

// quoteIdent quotes a SQL identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
