// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package schema

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/goccy/go-json"
)

var jobSchema = Schema{
	{Name: "id", Type: Int64, Required: true, Source: "id"},
	{Name: "jobStatus", Type: String, Source: "jobStatus"},
	{Name: "total", Type: Float64, Source: "total"},
	{Name: "completedOn", Type: Timestamp, Source: "completedOn"},
	{Name: "customerId", Type: Int64, Source: "customer.id"},
	{Name: "customFields", Type: JSON, Source: "customFields"},
	{Name: "_ingested_at", Type: Timestamp, Required: true},
}

func TestInferType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   any
		want Type
	}{
		{nil, ""},
		{true, Bool},
		{float64(42), Int64},
		{3.5, Float64},
		{json.Number("123456789012"), Int64},
		{json.Number("1.25"), Float64},
		{"2026-01-02T03:04:05Z", Timestamp},
		{"2026-01-02T03:04:05.123+02:00", Timestamp},
		{"2026-01-02", Date},
		{"Completed", String},
		{map[string]any{"a": 1}, JSON},
		{[]any{1, 2}, JSON},
	}
	for _, tt := range tests {
		if got := InferType(tt.in); got != tt.want {
			t.Errorf("InferType(%#v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	row := map[string]any{
		"id":           json.Number("1"),
		"jobStatus":    "Completed",
		"total":        json.Number("10"),
		"completedOn":  "not a date",
		"_ingested_at": "2026-01-01T00:00:00Z",
		"surprise":     1,
	}
	res := Validate(row, jobSchema)
	if !res.Valid() {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	joined := strings.Join(res.Warnings, "; ")
	if !strings.Contains(joined, `"completedOn": expected TIMESTAMP, observed STRING`) {
		t.Errorf("missing type mismatch warning in %q", joined)
	}
	if !strings.Contains(joined, `"surprise" is not in the schema`) {
		t.Errorf("missing unknown field warning in %q", joined)
	}
	if strings.Contains(joined, "total") {
		t.Errorf("integer values are valid FLOAT64, got %q", joined)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	t.Parallel()

	res := Validate(map[string]any{"id": nil, "jobStatus": "x"}, jobSchema)
	if res.Valid() {
		t.Fatal("expected errors for missing required fields")
	}
	if len(res.Errors) != 2 {
		t.Errorf("errors = %v, want id and _ingested_at", res.Errors)
	}
}

func TestUnknownFields(t *testing.T) {
	t.Parallel()

	raw := map[string]any{
		"id":        1,
		"customer":  map[string]any{"id": 5},
		"jobStatus": "Open",
		"newThing":  "2026-01-01",
		"flag":      true,
		"noise":     nil,
	}
	got := UnknownFields(raw, jobSchema, map[string]struct{}{"noise": {}})
	if len(got) != 2 || got[0].Name != "flag" || got[1].Name != "newThing" {
		t.Fatalf("UnknownFields = %+v", got)
	}
	if got[1].Type != Date {
		t.Errorf("newThing type = %s, want DATE", got[1].Type)
	}
}

type fakeRecorder struct {
	calls  int
	fields []Field
	err    error
}

func (f *fakeRecorder) RecordDrift(_ context.Context, _ string, fields []Field) error {
	f.calls++
	f.fields = append(f.fields, fields...)
	return f.err
}

func TestDriftTrackerDedupes(t *testing.T) {
	t.Parallel()

	rec := &fakeRecorder{}
	tr := NewDriftTracker(rec)
	ctx := context.Background()

	first := tr.Observe(ctx, "jobs", []Field{{Name: "a", Type: String}, {Name: "b", Type: Int64}})
	second := tr.Observe(ctx, "jobs", []Field{{Name: "a", Type: String}, {Name: "c", Type: Bool}})
	third := tr.Observe(ctx, "jobs", []Field{{Name: "c", Type: Bool}})
	other := tr.Observe(ctx, "invoices", []Field{{Name: "a", Type: String}})

	if len(first) != 2 || len(second) != 1 || third != nil || len(other) != 1 {
		t.Errorf("fresh counts = %d/%d/%d/%d, want 2/1/0/1", len(first), len(second), len(third), len(other))
	}
	if rec.calls != 3 || len(rec.fields) != 4 {
		t.Errorf("recorder calls = %d fields = %d, want 3 and 4", rec.calls, len(rec.fields))
	}
	if tr.Seen() != 4 {
		t.Errorf("Seen() = %d, want 4", tr.Seen())
	}
}

func TestDriftTrackerRecorderFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	tr := NewDriftTracker(&fakeRecorder{err: errors.New("db closed")})
	if got := tr.Observe(context.Background(), "jobs", []Field{{Name: "x", Type: String}}); len(got) != 1 {
		t.Errorf("Observe() = %v, want the field reported despite recorder failure", got)
	}
}

func TestSchemaHelpers(t *testing.T) {
	t.Parallel()

	if names := jobSchema.Names(); names[0] != "id" || len(names) != len(jobSchema) {
		t.Errorf("Names() = %v", names)
	}
	src := jobSchema.SourceFields()
	if _, ok := src["customer"]; !ok {
		t.Error("nested source should contribute its top-level key")
	}
	if _, ok := src["_ingested_at"]; ok {
		t.Error("computed columns have no source field")
	}
}
