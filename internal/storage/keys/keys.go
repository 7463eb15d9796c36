// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package keys turns tuple-derived key values into the physical key forms the
// index engines store, and provides the ordering, equality and hashing policy
// for each form.
//
// Two representations exist and one is picked per index when it is created:
//
//   - Packed: every key column is a non-nullable TINYINT, SMALLINT, INTEGER or
//     BIGINT and the combined width fits the compact budget. Columns are biased
//     into an unsigned range and written big-endian back to back, so comparing
//     the bytes of two keys orders them the same way as comparing columns.
//   - Generic: any other key schema. The key keeps its typed values and is
//     compared column by column, stopping at the first difference.
//
// # Usage Examples
//
//	rep := keys.Choose(keySchema, keys.MaxPackedSize)
//	if rep == keys.Packed {
//	    p := keys.NewPackedPolicy(keySchema)
//	    k := p.Encode(keyTuple)
//	    _ = p.Compare(k, other)
//	}
//
// # Dangers and Warnings
//
//   - **Contract Violations**: Encoding a value whose type differs from the
//     declared column type, or a NULL in a non-nullable column, panics with an
//     assertion failure. Callers must build key tuples from the key schema.
//   - **Mixed Widths**: Packed keys from different schemas must never be
//     compared with each other; only keys from one policy are ordered.
package keys

import (
	"github.com/cockroachdb/errors"

	"github.com/kianostad/lfidx/internal/catalog"
	"github.com/kianostad/lfidx/internal/types"
)

// MaxPackedSize is the largest packed key width supported, four BIGINT columns.
const MaxPackedSize = 32

// Representation is the physical key form chosen for an index.
type Representation uint8

const (
	Generic Representation = iota
	Packed
)

func (r Representation) String() string {
	if r == Packed {
		return "packed"
	}
	return "generic"
}

// Comparator is a strict total order over keys with a consistent equality.
// Implementations must be deterministic and free of side effects because the
// engines call them again on every optimistic retry.
type Comparator[K any] interface {
	Compare(a, b K) int
	Equal(a, b K) bool
}

// Hasher hashes keys consistently with Comparator.Equal.
type Hasher[K any] interface {
	Hash(k K) uint64
}

// Encoder renders key tuples into keys and back.
type Encoder[K any] interface {
	Encode(t *catalog.Tuple) K
	Decode(k K) *catalog.Tuple
}

// Policy bundles everything an index needs to know about one key form.
type Policy[K any] interface {
	Encoder[K]
	Comparator[K]
	Hasher[K]
	Representation() Representation
	Schema() *catalog.Schema
}

// PackedWidth returns the packed width of the schema and whether every column
// qualifies for the packed form.
func PackedWidth(schema *catalog.Schema) (int, bool) {
	width := 0
	for i := 0; i < schema.ColumnCount(); i++ {
		c := schema.Column(i)
		if !c.Type.IsIntegral() || c.Nullable {
			return 0, false
		}
		width += c.Type.Size()
	}
	return width, true
}

// Choose applies the selection rule: packed when every key column is a
// non-nullable integral type and the total width is within budget.
func Choose(schema *catalog.Schema, budget int) Representation {
	if budget > MaxPackedSize {
		budget = MaxPackedSize
	}
	width, ok := PackedWidth(schema)
	if !ok || width == 0 || width > budget {
		return Generic
	}
	return Packed
}

// checkValue enforces the encoding contract for column i.
func checkValue(schema *catalog.Schema, i int, v types.Value) {
	c := schema.Column(i)
	if v.Type() != c.Type {
		panic(errors.AssertionFailedf("key column %d (%s) declared %s, got value of type %s",
			errors.Safe(i), c.Name, errors.Safe(c.Type.String()), errors.Safe(v.Type().String())))
	}
	if v.IsNull() && !c.Nullable {
		panic(errors.AssertionFailedf("key column %d (%s) is not nullable", errors.Safe(i), c.Name))
	}
}

func checkArity(schema *catalog.Schema, t *catalog.Tuple) {
	if t.Schema().ColumnCount() != schema.ColumnCount() {
		panic(errors.AssertionFailedf("key tuple has %d columns, key schema has %d",
			errors.Safe(t.Schema().ColumnCount()), errors.Safe(schema.ColumnCount())))
	}
}
