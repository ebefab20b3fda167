// Tributary - Resilient API-to-Warehouse Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tributary

package ingest

import (
	"fmt"
	"net/url"
	"sort"

	"github.com/tomtom215/tributary/internal/client"
	"github.com/tomtom215/tributary/internal/database"
	"github.com/tomtom215/tributary/internal/schema"
	"github.com/tomtom215/tributary/internal/validation"
)

// Values written to the _ingestion_source column.
const (
	SourceEntityAPI = "servicetitan_v2"
	SourceRefAPI    = "servicetitan_v2_ref"
	SourceReporting = "servicetitan_reporting_api"

	IngestionSourceColumn = "_ingestion_source"
)

// Entity declares one upstream listing and the table it lands in.
type Entity struct {
	Name       string `validate:"required,entityname"`
	Endpoint   string `validate:"required"`
	Table      string `validate:"required,sqlident"`
	PrimaryKey string `validate:"required,sqlident"`

	// Partition and cluster hints are kept as table metadata; DuckDB does
	// not partition, but they name the columns queries filter on.
	PartitionField string   `validate:"omitempty,sqlident"`
	ClusterFields  []string `validate:"max=4,dive,sqlident"`

	// Incremental entities accept the modified-since filters. The rest are
	// always fetched in full.
	Incremental bool
	// Reference dimensions are logged as ref_<name> and always refreshed in
	// full.
	Reference bool

	// WindowParam, when set, also receives the window start. Appointments
	// filter on startsOnOrAfter rather than modification time.
	WindowParam string `validate:"omitempty,alphanum"`
	Params      url.Values

	Source  string        `validate:"required"`
	Columns schema.Schema `validate:"required,min=1,dive"`

	// Finalize adjusts a transformed row. It must be pure.
	Finalize func(raw client.Record, row database.Row) `validate:"-"`
}

// RunName is the name used for watermarks and run logs.
func (e *Entity) RunName() string {
	if e.Reference {
		return "ref_" + e.Name
	}
	return e.Name
}

// Schema returns the declared columns plus the ingestion bookkeeping
// columns.
func (e *Entity) Schema() schema.Schema {
	return withIngestionColumns(e.Columns)
}

func withIngestionColumns(cols schema.Schema) schema.Schema {
	out := make(schema.Schema, 0, len(cols)+2)
	out = append(out, cols...)
	if _, ok := cols.Lookup(database.IngestedAtColumn); !ok {
		out = append(out, schema.Column{Name: database.IngestedAtColumn, Type: schema.Timestamp, Required: true})
	}
	if _, ok := cols.Lookup(IngestionSourceColumn); !ok {
		out = append(out, schema.Column{Name: IngestionSourceColumn, Type: schema.String, Required: true})
	}
	return out
}

func (e *Entity) validate() error {
	if err := validation.ValidateStruct(e); err != nil {
		return fmt.Errorf("entity %q: %w", e.Name, err)
	}
	if _, ok := e.Columns.Lookup(e.PrimaryKey); !ok {
		return fmt.Errorf("entity %q: primary key %q is not a column", e.Name, e.PrimaryKey)
	}
	hints := append([]string{}, e.ClusterFields...)
	if e.PartitionField != "" {
		hints = append(hints, e.PartitionField)
	}
	for _, h := range hints {
		if _, ok := e.Columns.Lookup(h); !ok {
			return fmt.Errorf("entity %q: hint column %q is not a column", e.Name, h)
		}
	}
	seen := make(map[string]struct{}, len(e.Columns))
	for _, c := range e.Columns {
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("entity %q: duplicate column %q", e.Name, c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// Registry holds the entity declarations by name.
type Registry struct {
	byName     map[string]*Entity
	entities   []string
	references []string
	reports    map[string]*Report
}

// NewRegistry validates defs and indexes them by name.
func NewRegistry(defs ...*Entity) (*Registry, error) {
	r := &Registry{
		byName:  make(map[string]*Entity, len(defs)),
		reports: make(map[string]*Report),
	}
	for _, e := range defs {
		if err := e.validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byName[e.Name]; dup {
			return nil, fmt.Errorf("entity %q registered twice", e.Name)
		}
		r.byName[e.Name] = e
		if e.Reference {
			r.references = append(r.references, e.Name)
		} else {
			r.entities = append(r.entities, e.Name)
		}
	}
	sort.Strings(r.entities)
	sort.Strings(r.references)
	return r, nil
}

// DefaultRegistry returns the built-in ServiceTitan entities and reference
// dimensions.
func DefaultRegistry() (*Registry, error) {
	defs := append(Entities(), References()...)
	r, err := NewRegistry(defs...)
	if err != nil {
		return nil, err
	}
	for _, rep := range Reports() {
		if err := r.AddReport(rep); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// AddReport validates and registers a report ingestor.
func (r *Registry) AddReport(rep *Report) error {
	if err := validation.ValidateStruct(rep); err != nil {
		return fmt.Errorf("report %q: %w", rep.Name, err)
	}
	if rep.MapRow == nil {
		return fmt.Errorf("report %q: no row mapper", rep.Name)
	}
	if _, ok := rep.Columns.Lookup(rep.PrimaryKey); !ok {
		return fmt.Errorf("report %q: primary key %q is not a column", rep.Name, rep.PrimaryKey)
	}
	if _, ok := rep.Columns.Lookup(rep.DateColumn); !ok {
		return fmt.Errorf("report %q: date column %q is not a column", rep.Name, rep.DateColumn)
	}
	_, dupEntity := r.byName[rep.Name]
	_, dupReport := r.reports[rep.Name]
	if dupEntity || dupReport {
		return fmt.Errorf("report %q registered twice", rep.Name)
	}
	r.reports[rep.Name] = rep
	return nil
}

// Report returns the named report ingestor.
func (r *Registry) Report(name string) (*Report, error) {
	rep, ok := r.reports[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	return rep, nil
}

// Reports returns the sorted report names.
func (r *Registry) Reports() []string {
	names := make([]string, 0, len(r.reports))
	for name := range r.reports {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the named entity or reference.
func (r *Registry) Get(name string) (*Entity, error) {
	e, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, name)
	}
	return e, nil
}

// Entities returns the sorted names of non-reference entities.
func (r *Registry) Entities() []string {
	return append([]string(nil), r.entities...)
}

// References returns the sorted names of reference dimensions.
func (r *Registry) References() []string {
	return append([]string(nil), r.references...)
}

// Lookup returns the entity owning table, if any.
func (r *Registry) Lookup(table string) (*Entity, bool) {
	for _, e := range r.byName {
		if e.Table == table {
			return e, true
		}
	}
	return nil, false
}
