// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package ingest

import (
	"context"
	"fmt"

	"github.com/tomtom215/tributary/internal/database"
	"github.com/tomtom215/tributary/internal/logging"
)

// Compact deduplicates the table of the named entity or report, keeping the
// latest row per primary key.
func (o *Orchestrator) Compact(ctx context.Context, name string) (*database.CompactResult, error) {
	table, pk, err := o.tableOf(name)
	if err != nil {
		return nil, err
	}
	return o.store.Compact(ctx, table, pk)
}

// CompactDirty compacts every table that took a fallback append since its
// last compaction. Tables the registry does not know are skipped.
func (o *Orchestrator) CompactDirty(ctx context.Context) ([]*database.CompactResult, error) {
	tables, err := o.store.DirtyTables(ctx)
	if err != nil {
		return nil, fmt.Errorf("list dirty tables: %w", err)
	}

	var results []*database.CompactResult
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		pk, ok := o.primaryKeyOf(table)
		if !ok {
			logging.Ctx(ctx).Warn().Str("table", table).Msg("Dirty table has no registered entity, skipping")
			continue
		}
		res, err := o.store.Compact(ctx, table, pk)
		if err != nil {
			logging.Ctx(ctx).Error().Err(err).Str("table", table).Msg("Compaction failed")
			continue
		}
		results = append(results, res)
	}
	return results, nil
}

func (o *Orchestrator) tableOf(name string) (table, pk string, err error) {
	if e, err := o.registry.Get(name); err == nil {
		return e.Table, e.PrimaryKey, nil
	}
	rep, err := o.registry.Report(name)
	if err != nil {
		return "", "", err
	}
	return rep.Table, rep.PrimaryKey, nil
}

func (o *Orchestrator) primaryKeyOf(table string) (string, bool) {
	if e, ok := o.registry.Lookup(table); ok {
		return e.PrimaryKey, true
	}
	for _, name := range o.registry.Reports() {
		if rep, _ := o.registry.Report(name); rep.Table == table {
			return rep.PrimaryKey, true
		}
	}
	return "", false
}
