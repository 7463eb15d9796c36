// Licensed under the MIT License. See LICENSE file in the project root for details.

package catalog

import (
	"fmt"
	"strings"

	"github.com/kianostad/lfidx/internal/types"
)

// ItemPointer is the opaque location of a tuple: a block id and a slot within it.
// The index stores and returns it without ever dereferencing it.
type ItemPointer struct {
	Block  uint32
	Offset uint32
}

func (p ItemPointer) String() string {
	return fmt.Sprintf("(%d,%d)", p.Block, p.Offset)
}

// Tuple is a row of values laid out according to a schema. Unset columns hold
// the NULL value of their type.
type Tuple struct {
	schema *Schema
	values []types.Value
}

// NewTuple allocates a tuple for the schema with every column NULL.
func NewTuple(schema *Schema) *Tuple {
	vals := make([]types.Value, schema.ColumnCount())
	for i := range vals {
		vals[i] = types.NewNull(schema.Column(i).Type)
	}
	return &Tuple{schema: schema, values: vals}
}

// NewTupleFromValues builds a tuple and sets each value in order.
func NewTupleFromValues(schema *Schema, values ...types.Value) *Tuple {
	t := NewTuple(schema)
	for i, v := range values {
		t.SetValue(i, v)
	}
	return t
}

func (t *Tuple) Schema() *Schema { return t.schema }

// SetValue stores v in column i. The value is not checked against the
// declared column type here; encoders enforce that contract.
func (t *Tuple) SetValue(i int, v types.Value) {
	t.values[i] = v
}

// Value returns the value of column i.
func (t *Tuple) Value(i int) types.Value { return t.values[i] }

// Values returns a copy of all column values.
func (t *Tuple) Values() []types.Value {
	return append([]types.Value(nil), t.values...)
}

func (t *Tuple) String() string {
	parts := make([]string, len(t.values))
	for i, v := range t.values {
		parts[i] = v.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
