// Package dbschema parses and serializes the schema document that is
// always the first record of a database log, and computes its stable
// checksum.
//
// Grounded on internal/domain/schema/table.go and internal/engine/{column,
// TableSchema}.go, re-typed to the wire shape the log actually carries:
// name/version/cksum plus a table map whose columns are declared in a JSON
// array (not a map) so declaration order survives encoding/json's decode
// without a hand-rolled ordered-object walk.
package dbschema

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Table is one table schema: its name and its columns in declaration order.
type Table struct {
	Name    string
	Columns []Column
}

// Column looks up a column by name.
func (t *Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Schema is the parsed form of a schema document.
type Schema struct {
	Name    string
	Version string
	Cksum   string
	Tables  map[string]*Table
}

// Table looks up a table by name.
func (s *Schema) Table(name string) (*Table, bool) {
	t, ok := s.Tables[name]
	return t, ok
}

// Clone deep-copies the schema so a caller can mutate (e.g. strip the
// stored cksum before recomputing it) without aliasing the original.
func (s *Schema) Clone() *Schema {
	out := &Schema{Name: s.Name, Version: s.Version, Cksum: s.Cksum, Tables: make(map[string]*Table, len(s.Tables))}
	for name, t := range s.Tables {
		cols := make([]Column, len(t.Columns))
		copy(cols, t.Columns)
		out.Tables[name] = &Table{Name: t.Name, Columns: cols}
	}
	return out
}

// wire shapes mirror the on-disk document exactly.

type wireColumn struct {
	Name       string     `json:"name"`
	Type       ColumnType `json:"type"`
	Persistent *bool      `json:"persistent,omitempty"`
}

type wireTable struct {
	Columns []wireColumn `json:"columns"`
}

type wireSchema struct {
	Name    string               `json:"name"`
	Version string               `json:"version"`
	Cksum   string               `json:"cksum,omitempty"`
	Tables  map[string]wireTable `json:"tables"`
}

// FromJSON parses a schema document, naming the offending table/column on
// failure.
func FromJSON(data []byte) (*Schema, error) {
	var w wireSchema
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("dbschema: malformed schema document: %w", err)
	}
	if w.Name == "" {
		return nil, fmt.Errorf("dbschema: schema name must be non-empty")
	}

	s := &Schema{
		Name:    w.Name,
		Version: w.Version,
		Cksum:   w.Cksum,
		Tables:  make(map[string]*Table, len(w.Tables)),
	}

	for tableName, wt := range w.Tables {
		table := &Table{Name: tableName, Columns: make([]Column, 0, len(wt.Columns))}
		seen := make(map[string]bool, len(wt.Columns))
		for i, wc := range wt.Columns {
			if wc.Name == "" {
				return nil, fmt.Errorf("dbschema: table %q: column %d has no name", tableName, i)
			}
			if wc.Name == "_uuid" {
				return nil, fmt.Errorf("dbschema: table %q: column %q is implicit and must not be declared", tableName, wc.Name)
			}
			if seen[wc.Name] {
				return nil, fmt.Errorf("dbschema: table %q: column %q declared twice", tableName, wc.Name)
			}
			seen[wc.Name] = true
			if !wc.Type.valid() {
				return nil, fmt.Errorf("dbschema: table %q: column %q has unknown type %q", tableName, wc.Name, wc.Type)
			}
			persistent := true
			if wc.Persistent != nil {
				persistent = *wc.Persistent
			}
			table.Columns = append(table.Columns, Column{
				Name:       wc.Name,
				Type:       wc.Type,
				Persistent: persistent,
				Index:      i,
			})
		}
		s.Tables[tableName] = table
	}

	return s, nil
}

// ToJSON serializes the schema back to its document form, preserving column
// declaration order.
func (s *Schema) ToJSON() ([]byte, error) {
	w := wireSchema{
		Name:    s.Name,
		Version: s.Version,
		Cksum:   s.Cksum,
		Tables:  make(map[string]wireTable, len(s.Tables)),
	}
	for name, t := range s.Tables {
		cols := make([]wireColumn, len(t.Columns))
		for i, c := range t.Columns {
			persistent := c.Persistent
			cols[i] = wireColumn{Name: c.Name, Type: c.Type, Persistent: &persistent}
		}
		w.Tables[name] = wireTable{Columns: cols}
	}
	return json.Marshal(w)
}

// Equal reports structural equality over name, version, tables, columns,
// types and per-column persistent -- the cksum field is deliberately not
// compared (needs-conversion ignores it per design).
func Equal(a, b *Schema) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Name != b.Name || a.Version != b.Version {
		return false
	}
	if len(a.Tables) != len(b.Tables) {
		return false
	}
	for name, at := range a.Tables {
		bt, ok := b.Tables[name]
		if !ok || len(at.Columns) != len(bt.Columns) {
			return false
		}
		for i, ac := range at.Columns {
			bc := bt.Columns[i]
			if ac.Name != bc.Name || ac.Type != bc.Type || ac.Persistent != bc.Persistent {
				return false
			}
		}
	}
	return true
}

// canonicalTableNames returns the schema's table names in sorted order, the
// basis for the checksum's canonical form.
func (s *Schema) canonicalTableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
