// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package schema

import (
	"fmt"
	"sort"
)

// Result of validating one row.
type Result struct {
	// Errors are fatal: a required column is missing or null.
	Errors []string
	// Warnings cover type mismatches and columns the schema does not know.
	Warnings []string
}

// Valid reports whether the row has no errors.
func (r Result) Valid() bool { return len(r.Errors) == 0 }

// Validate checks a transformed row against s.
func Validate(row map[string]any, s Schema) Result {
	var res Result
	for _, col := range s {
		v, ok := row[col.Name]
		if !ok || v == nil {
			if col.Required {
				res.Errors = append(res.Errors, fmt.Sprintf("missing required field %q", col.Name))
			}
			continue
		}
		if observed := InferType(v); !compatible(col.Type, observed) {
			res.Warnings = append(res.Warnings,
				fmt.Sprintf("field %q: expected %s, observed %s", col.Name, col.Type, observed))
		}
	}

	extra := make([]string, 0)
	for name := range row {
		if _, ok := s.Lookup(name); !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		res.Warnings = append(res.Warnings, fmt.Sprintf("field %q is not in the schema", name))
	}
	return res
}

// Field is an upstream field observed outside the schema.
type Field struct {
	Name string
	Type Type
}

// UnknownFields returns top-level keys of raw that no column reads and
// that are not listed in ignore, sorted by name.
func UnknownFields(raw map[string]any, s Schema, ignore map[string]struct{}) []Field {
	known := s.SourceFields()
	var out []Field
	for name, v := range raw {
		if _, ok := known[name]; ok {
			continue
		}
		if _, ok := ignore[name]; ok {
			continue
		}
		t := InferType(v)
		if t == "" {
			t = String
		}
		out = append(out, Field{Name: name, Type: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
