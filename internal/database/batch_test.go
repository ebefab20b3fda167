// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package database

import (
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/tomtom215/tributary/internal/config"
)

func sizedRows(sizes []int) []Row {
	rows := make([]Row, len(sizes))
	for i, s := range sizes {
		rows[i] = Row{"i": i, "pad": strings.Repeat("x", s)}
	}
	return rows
}

func rowSize(t *testing.T, r Row) int {
	t.Helper()
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	return len(b)
}

// flatten concatenates batches and checks order via the "i" index.
func checkOrder(t *testing.T, batches []Batch, n int) {
	t.Helper()
	next := 0
	for bi, b := range batches {
		if len(b.Rows) == 0 {
			t.Fatalf("batch %d is empty", bi)
		}
		for _, r := range b.Rows {
			if r["i"] != next {
				t.Fatalf("batch %d: got row %v, want %d", bi, r["i"], next)
			}
			next++
		}
	}
	if next != n {
		t.Fatalf("batches hold %d rows, want %d", next, n)
	}
}

func TestPlanFixedCount(t *testing.T) {
	p := Planner{Strategy: FixedCount, BatchSize: 1000}
	rows := sizedRows(make([]int, 2500))

	batches, err := p.Plan(rows)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	want := []int{1000, 1000, 500}
	if len(batches) != len(want) {
		t.Fatalf("got %d batches, want %d", len(batches), len(want))
	}
	for i, b := range batches {
		if len(b.Rows) != want[i] {
			t.Errorf("batch %d size = %d, want %d", i, len(b.Rows), want[i])
		}
		if b.Bytes <= 0 {
			t.Errorf("batch %d bytes = %d, want > 0", i, b.Bytes)
		}
	}
	checkOrder(t, batches, 2500)
}

func TestPlanEmpty(t *testing.T) {
	for _, s := range []Strategy{FixedCount, ByteAware} {
		batches, err := Planner{Strategy: s, BatchSize: 10, MaxBytes: 100}.Plan(nil)
		if err != nil || len(batches) != 0 {
			t.Errorf("%s: Plan(nil) = %v, %v; want no batches", s, batches, err)
		}
	}
}

func TestPlanByteAwareBound(t *testing.T) {
	const maxBytes = 4096
	rng := rand.New(rand.NewPCG(1, 2))

	for trial := 0; trial < 50; trial++ {
		n := 1 + rng.IntN(200)
		sizes := make([]int, n)
		for i := range sizes {
			// Mostly small, occasionally larger than the limit.
			if rng.IntN(20) == 0 {
				sizes[i] = maxBytes + rng.IntN(maxBytes)
			} else {
				sizes[i] = rng.IntN(900)
			}
		}
		rows := sizedRows(sizes)

		batches, err := Planner{Strategy: ByteAware, MaxBytes: maxBytes}.Plan(rows)
		if err != nil {
			t.Fatalf("Plan() error = %v", err)
		}
		checkOrder(t, batches, n)

		for bi, b := range batches {
			total := 0
			for _, r := range b.Rows {
				total += rowSize(t, r)
			}
			if total != b.Bytes {
				t.Fatalf("trial %d batch %d: Bytes = %d, recomputed %d", trial, bi, b.Bytes, total)
			}
			if b.Bytes > maxBytes && len(b.Rows) != 1 {
				t.Fatalf("trial %d batch %d: %d bytes over limit with %d rows", trial, bi, b.Bytes, len(b.Rows))
			}
		}
	}
}

func TestPlanByteAwareOversizedAlone(t *testing.T) {
	rows := sizedRows([]int{10, 5000, 10})
	batches, err := Planner{Strategy: ByteAware, MaxBytes: 1000}.Plan(rows)
	if err != nil {
		t.Fatalf("Plan() error = %v", err)
	}
	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(batches))
	}
	if len(batches[1].Rows) != 1 || batches[1].Rows[0]["i"] != 1 {
		t.Errorf("oversized row not isolated: %v", batches[1].Rows)
	}
}

func TestPlannerFromConfig(t *testing.T) {
	p := PlannerFromConfig(&config.WarehouseConfig{BatchStrategy: "unknown"})
	if p.Strategy != ByteAware || p.BatchSize != DefaultBatchSize || p.MaxBytes != DefaultMaxBytes {
		t.Errorf("PlannerFromConfig defaults = %+v", p)
	}
	p = PlannerFromConfig(&config.WarehouseConfig{BatchStrategy: "count", BatchSize: 7})
	if p.Strategy != FixedCount || p.BatchSize != 7 {
		t.Errorf("PlannerFromConfig(count) = %+v", p)
	}
}
