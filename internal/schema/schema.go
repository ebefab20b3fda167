// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

// Package schema describes target table columns, infers value types and
// checks transformed rows and raw upstream records against a schema.
package schema

import (
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// Type is a logical column type. The warehouse layer maps it to SQL.
type Type string

const (
	Int64     Type = "INT64"
	Float64   Type = "FLOAT64"
	Bool      Type = "BOOL"
	String    Type = "STRING"
	Timestamp Type = "TIMESTAMP"
	Date      Type = "DATE"
	JSON      Type = "JSON"
)

// Column is one target table column.
type Column struct {
	Name     string `validate:"required"`
	Type     Type   `validate:"required,oneof=INT64 FLOAT64 BOOL STRING TIMESTAMP DATE JSON"`
	Required bool
	// Source is the dotted path of the value in the upstream record
	// (e.g. "job.id"). Alternatives separated by "|" are tried in order.
	// Empty means the column is computed by the transform.
	Source string
}

// Schema is an ordered column list.
type Schema []Column

// Names returns column names in order.
func (s Schema) Names() []string {
	names := make([]string, len(s))
	for i, c := range s {
		names[i] = c.Name
	}
	return names
}

// Lookup finds a column by name.
func (s Schema) Lookup(name string) (Column, bool) {
	for _, c := range s {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// SourceFields returns the set of top-level upstream keys the schema reads.
func (s Schema) SourceFields() map[string]struct{} {
	out := make(map[string]struct{}, len(s))
	for _, c := range s {
		if c.Source == "" {
			continue
		}
		for _, path := range strings.Split(c.Source, "|") {
			top, _, _ := strings.Cut(path, ".")
			out[top] = struct{}{}
		}
	}
	return out
}

var (
	timestampRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`)
	dateRe      = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// InferType guesses the logical type of a decoded JSON value.
// nil yields "" because a null says nothing about the column.
func InferType(v any) Type {
	switch val := v.(type) {
	case nil:
		return ""
	case bool:
		return Bool
	case int, int32, int64:
		return Int64
	case float32:
		return Float64
	case float64:
		if val == float64(int64(val)) {
			return Int64
		}
		return Float64
	case json.Number:
		if _, err := val.Int64(); err == nil {
			return Int64
		}
		return Float64
	case time.Time:
		return Timestamp
	case string:
		switch {
		case timestampRe.MatchString(val):
			return Timestamp
		case dateRe.MatchString(val):
			return Date
		default:
			return String
		}
	case map[string]any, []any:
		return JSON
	default:
		return String
	}
}

// compatible reports whether a value of type observed may be stored in a
// column of type declared.
func compatible(declared, observed Type) bool {
	if observed == "" || declared == observed {
		return true
	}
	switch declared {
	case Float64:
		return observed == Int64
	case Timestamp:
		return observed == Date
	case String, JSON:
		// JSON columns hold serialized text; strings hold anything printable.
		return true
	}
	return false
}
