// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package ingest

import (
	"errors"
	"strings"
	"testing"

	"github.com/tomtom215/tributary/internal/schema"
)

func TestDefaultRegistry(t *testing.T) {
	r, err := DefaultRegistry()
	if err != nil {
		t.Fatalf("DefaultRegistry() error = %v", err)
	}

	if got := len(r.Entities()); got != len(Entities()) {
		t.Errorf("Entities() = %d, want %d", got, len(Entities()))
	}
	if got := len(r.References()); got != len(References()) {
		t.Errorf("References() = %d, want %d", got, len(References()))
	}
	names := r.Entities()
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("Entities() not sorted: %v", names)
		}
	}

	for _, name := range r.References() {
		e, _ := r.Get(name)
		if !strings.HasPrefix(e.Table, "dim_") || e.RunName() != "ref_"+name {
			t.Errorf("reference %s: table %q run name %q", name, e.Table, e.RunName())
		}
	}

	e, ok := r.Lookup("raw_invoices")
	if !ok || e.Name != "invoices" {
		t.Errorf("Lookup(raw_invoices) = %v, %v", e, ok)
	}
	if _, ok := r.Lookup("raw_nothing"); ok {
		t.Error("Lookup(raw_nothing) should miss")
	}

	if got := r.Reports(); len(got) != 2 || got[0] != "collections" || got[1] != "job_costing" {
		t.Errorf("Reports() = %v, want [collections job_costing]", got)
	}
	if _, err := r.Get("collections"); !errors.Is(err, ErrUnknownEntity) {
		t.Errorf("reports are not entities: Get(collections) error = %v", err)
	}
}

func TestEntitySchemaAddsIngestionColumns(t *testing.T) {
	e := mustEntity(t, "jobs")
	s := e.Schema()
	if len(s) != len(e.Columns)+2 {
		t.Fatalf("Schema() = %d columns, want %d", len(s), len(e.Columns)+2)
	}
	for _, name := range []string{"_ingested_at", IngestionSourceColumn} {
		c, ok := s.Lookup(name)
		if !ok || !c.Required {
			t.Errorf("%s missing or optional: %+v", name, c)
		}
	}
}

func TestNewRegistryRejectsBadEntities(t *testing.T) {
	valid := func() *Entity {
		return &Entity{
			Name:       "widgets",
			Endpoint:   "x/v2/tenant/{tenant}/widgets",
			Table:      "raw_widgets",
			PrimaryKey: "id",
			Source:     SourceEntityAPI,
			Columns:    schema.Schema{key("id", i64), col("name", str)},
		}
	}

	tests := []struct {
		name   string
		mutate func(e *Entity)
		want   string
	}{
		{"bad name", func(e *Entity) { e.Name = "Widgets!" }, "Name"},
		{"bad table", func(e *Entity) { e.Table = "raw widgets" }, "Table"},
		{"pk not a column", func(e *Entity) { e.PrimaryKey = "uuid" }, "primary key"},
		{"unknown cluster field", func(e *Entity) { e.ClusterFields = []string{"color"} }, "hint column"},
		{"too many cluster fields", func(e *Entity) { e.ClusterFields = []string{"id", "id", "id", "id", "id"} }, "ClusterFields"},
		{"duplicate column", func(e *Entity) { e.Columns = append(e.Columns, col("name", str)) }, "duplicate column"},
		{"no columns", func(e *Entity) { e.Columns = nil }, "Columns"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := valid()
			tt.mutate(e)
			_, err := NewRegistry(e)
			if err == nil {
				t.Fatal("NewRegistry() error = nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q should mention %q", err, tt.want)
			}
		})
	}

	if _, err := NewRegistry(valid(), valid()); err == nil || !strings.Contains(err.Error(), "twice") {
		t.Errorf("duplicate registration error = %v", err)
	}
	if _, err := NewRegistry(valid()); err != nil {
		t.Errorf("valid entity rejected: %v", err)
	}
}

func TestAddReportValidation(t *testing.T) {
	r, err := NewRegistry()
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}

	rep := Reports()[0]
	noMapper := *rep
	noMapper.MapRow = nil
	if err := r.AddReport(&noMapper); err == nil {
		t.Error("report without a mapper accepted")
	}

	badDate := *rep
	badDate.DateColumn = "paid_on"
	if err := r.AddReport(&badDate); err == nil || !strings.Contains(err.Error(), "date column") {
		t.Errorf("bad date column error = %v", err)
	}

	if err := r.AddReport(rep); err != nil {
		t.Fatalf("AddReport() error = %v", err)
	}
	if err := r.AddReport(rep); err == nil {
		t.Error("second registration accepted")
	}
}
