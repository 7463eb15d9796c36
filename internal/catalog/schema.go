// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package catalog provides the minimal schema and tuple model the index layer
// consumes: column descriptions, schemas, tuples and tuple locations.
package catalog

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/kianostad/lfidx/internal/types"
)

// Column describes one column of a schema.
type Column struct {
	Name     string
	Type     types.TypeID
	Length   int // declared width; fixed types use their natural size
	Nullable bool
}

// NewColumn builds a non-nullable column with the type's natural width.
func NewColumn(name string, t types.TypeID) Column {
	return Column{Name: name, Type: t, Length: t.Size()}
}

// Schema is an ordered list of columns.
type Schema struct {
	columns []Column
	indexed []uint32
}

// NewSchema creates a schema from the given columns.
func NewSchema(columns ...Column) *Schema {
	cols := make([]Column, len(columns))
	copy(cols, columns)
	return &Schema{columns: cols}
}

// ColumnCount returns the number of columns.
func (s *Schema) ColumnCount() int { return len(s.columns) }

// Column returns the column at ordinal i.
func (s *Schema) Column(i int) Column { return s.columns[i] }

// Columns returns a copy of the schema's columns.
func (s *Schema) Columns() []Column {
	cols := make([]Column, len(s.columns))
	copy(cols, s.columns)
	return cols
}

// Types returns the column types in order.
func (s *Schema) Types() []types.TypeID {
	ts := make([]types.TypeID, len(s.columns))
	for i, c := range s.columns {
		ts[i] = c.Type
	}
	return ts
}

// SetIndexedColumns records the tuple ordinals a key schema was projected from.
func (s *Schema) SetIndexedColumns(attrs []uint32) {
	s.indexed = append([]uint32(nil), attrs...)
}

// IndexedColumns returns the ordinals recorded by SetIndexedColumns.
func (s *Schema) IndexedColumns() []uint32 {
	return append([]uint32(nil), s.indexed...)
}

// Project builds the schema made of the columns at attrs, in that order.
func (s *Schema) Project(attrs []uint32) (*Schema, error) {
	cols := make([]Column, 0, len(attrs))
	for _, a := range attrs {
		if int(a) >= len(s.columns) {
			return nil, errors.Newf("column ordinal %d out of range (%d columns)", a, len(s.columns))
		}
		cols = append(cols, s.columns[a])
	}
	ps := NewSchema(cols...)
	ps.SetIndexedColumns(attrs)
	return ps, nil
}

func (s *Schema) String() string {
	parts := make([]string, len(s.columns))
	for i, c := range s.columns {
		parts[i] = fmt.Sprintf("%s %s", c.Name, c.Type)
		if c.Nullable {
			parts[i] += " NULL"
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
