// Licensed under the MIT License. See LICENSE file in the project root for details.

package keys

import (
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/kianostad/lfidx/internal/catalog"
	"github.com/kianostad/lfidx/internal/types"
)

// GenericKey holds the typed key column values in key-schema order. The
// backing slice is never modified once a key has been encoded.
type GenericKey struct {
	vals []types.Value
}

func (k GenericKey) String() string {
	parts := make([]string, len(k.vals))
	for i, v := range k.vals {
		parts[i] = v.String()
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

// GenericPolicy orders generic keys lexicographically by column.
type GenericPolicy struct {
	schema *catalog.Schema
}

func NewGenericPolicy(schema *catalog.Schema) *GenericPolicy {
	return &GenericPolicy{schema: schema}
}

func (p *GenericPolicy) Representation() Representation { return Generic }
func (p *GenericPolicy) Schema() *catalog.Schema        { return p.schema }

func (p *GenericPolicy) Encode(t *catalog.Tuple) GenericKey {
	checkArity(p.schema, t)
	vals := make([]types.Value, p.schema.ColumnCount())
	for i := range vals {
		v := t.Value(i)
		checkValue(p.schema, i, v)
		vals[i] = v
	}
	return GenericKey{vals: vals}
}

func (p *GenericPolicy) Decode(k GenericKey) *catalog.Tuple {
	return catalog.NewTupleFromValues(p.schema, k.vals...)
}

func (p *GenericPolicy) Compare(a, b GenericKey) int {
	for i := range a.vals {
		if c := a.vals[i].Compare(b.vals[i]); c != 0 {
			return c
		}
	}
	return 0
}

func (p *GenericPolicy) Equal(a, b GenericKey) bool {
	return p.Compare(a, b) == 0
}

func (p *GenericPolicy) Hash(k GenericKey) uint64 {
	d := xxhash.New()
	for _, v := range k.vals {
		v.WriteHash(d)
	}
	return d.Sum64()
}
