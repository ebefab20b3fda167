// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package schema

import (
	"context"
	"sync"

	"github.com/tomtom215/tributary/internal/logging"
	"github.com/tomtom215/tributary/internal/metrics"
)

// DriftRecorder persists drift observations for later schema review.
type DriftRecorder interface {
	RecordDrift(ctx context.Context, entity string, fields []Field) error
}

// DriftTracker reports each unknown entity.field once per process. Drift is
// a warning: it never changes a target table. New columns only arrive
// through the entity's declared schema.
type DriftTracker struct {
	recorder DriftRecorder

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDriftTracker creates a tracker. recorder may be nil.
func NewDriftTracker(recorder DriftRecorder) *DriftTracker {
	return &DriftTracker{recorder: recorder, seen: make(map[string]struct{})}
}

// Observe logs and records fields not seen before and returns them.
func (t *DriftTracker) Observe(ctx context.Context, entity string, fields []Field) []Field {
	t.mu.Lock()
	var fresh []Field
	for _, f := range fields {
		key := entity + "." + f.Name
		if _, ok := t.seen[key]; ok {
			continue
		}
		t.seen[key] = struct{}{}
		fresh = append(fresh, f)
	}
	t.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}

	for _, f := range fresh {
		logging.Ctx(ctx).Warn().
			Str("field", f.Name).
			Str("observed_type", string(f.Type)).
			Msg("Schema drift: upstream field not in schema")
	}
	metrics.SchemaDriftFields.WithLabelValues(entity).Add(float64(len(fresh)))

	if t.recorder != nil {
		if err := t.recorder.RecordDrift(ctx, entity, fresh); err != nil {
			logging.Ctx(ctx).Warn().Err(err).Msg("Failed to record schema drift")
		}
	}
	return fresh
}

// Seen returns the number of distinct entity.field pairs observed.
func (t *DriftTracker) Seen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.seen)
}
