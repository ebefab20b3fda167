// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package database

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/tomtom215/tributary/internal/config"
)

// Strategy selects how the planner bounds a batch.
type Strategy string

const (
	// FixedCount cuts a batch every BatchSize records.
	FixedCount Strategy = "count"
	// ByteAware cuts a batch before its serialized size would exceed MaxBytes.
	ByteAware Strategy = "bytes"
)

const (
	DefaultBatchSize = 1000
	DefaultMaxBytes  = 8 << 20
)

// Row is one transformed record keyed by column name.
type Row = map[string]any

// Batch is a non-empty, ordered slice of rows and their serialized size.
type Batch struct {
	Rows  []Row
	Bytes int
}

// Planner partitions rows into load batches.
type Planner struct {
	Strategy  Strategy
	BatchSize int
	MaxBytes  int
}

// PlannerFromConfig builds the planner configured for the warehouse.
func PlannerFromConfig(cfg *config.WarehouseConfig) Planner {
	p := Planner{
		Strategy:  Strategy(cfg.BatchStrategy),
		BatchSize: cfg.BatchSize,
		MaxBytes:  cfg.MaxBatchBytes,
	}
	if p.Strategy != FixedCount {
		p.Strategy = ByteAware
	}
	if p.BatchSize <= 0 {
		p.BatchSize = DefaultBatchSize
	}
	if p.MaxBytes <= 0 {
		p.MaxBytes = DefaultMaxBytes
	}
	return p
}

// Plan splits rows into batches without dropping or reordering any row.
// Under ByteAware a single row larger than MaxBytes forms its own batch.
func (p Planner) Plan(rows []Row) ([]Batch, error) {
	if len(rows) == 0 {
		return nil, nil
	}

	sizes := make([]int, len(rows))
	for i, r := range rows {
		b, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("serialize row %d: %w", i, err)
		}
		sizes[i] = len(b)
	}

	if p.Strategy == FixedCount {
		return p.planByCount(rows, sizes), nil
	}
	return p.planByBytes(rows, sizes), nil
}

func (p Planner) planByCount(rows []Row, sizes []int) []Batch {
	size := p.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	batches := make([]Batch, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := min(start+size, len(rows))
		b := Batch{Rows: rows[start:end]}
		for _, s := range sizes[start:end] {
			b.Bytes += s
		}
		batches = append(batches, b)
	}
	return batches
}

func (p Planner) planByBytes(rows []Row, sizes []int) []Batch {
	limit := p.MaxBytes
	if limit <= 0 {
		limit = DefaultMaxBytes
	}

	var batches []Batch
	start, current := 0, 0
	for i, s := range sizes {
		if i > start && current+s > limit {
			batches = append(batches, Batch{Rows: rows[start:i], Bytes: current})
			start, current = i, 0
		}
		current += s
	}
	batches = append(batches, Batch{Rows: rows[start:], Bytes: current})
	return batches
}
