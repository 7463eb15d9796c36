// Licensed under the MIT License. See LICENSE file in the project root for details.

package core

import (
	"strings"
	"testing"

	"github.com/kianostad/lfidx/internal/catalog"
	"github.com/kianostad/lfidx/internal/config"
	"github.com/kianostad/lfidx/internal/types"
)

var intTypes = []types.TypeID{types.TinyInt, types.SmallInt, types.Integer, types.BigInt}

// typeCombos returns every sequence of n integer column types.
func typeCombos(n int) [][]types.TypeID {
	if n == 0 {
		return [][]types.TypeID{nil}
	}
	var out [][]types.TypeID
	for _, prefix := range typeCombos(n - 1) {
		for _, t := range intTypes {
			out = append(out, append(append([]types.TypeID(nil), prefix...), t))
		}
	}
	return out
}

func comboName(cols []types.TypeID) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = c.String()
	}
	return strings.Join(parts, "_")
}

// testConfig disables the background reclaimer so tests stay deterministic.
func testConfig() config.Config {
	c := config.Default()
	c.EpochInterval = 0
	c.LeafNodeSize = 16
	c.InnerNodeSize = 8
	c.LeafMergeSize = 4
	c.MaxDeltaChain = 4
	c.HashBuckets = 64
	return c
}

// tableFor builds a table schema with a VARCHAR column followed by cols and
// metadata indexing cols in order.
func tableFor(t testing.TB, name string, cols []types.TypeID, typ IndexType, unique bool) *IndexMetadata {
	t.Helper()
	columns := []catalog.Column{catalog.NewColumn("payload", types.Varchar)}
	attrs := make([]uint32, len(cols))
	for i, c := range cols {
		columns = append(columns, catalog.NewColumn(strings.ToLower(c.String())+"_"+string(rune('a'+i)), c))
		attrs[i] = uint32(i + 1)
	}
	tuple := catalog.NewSchema(columns...)
	key, err := tuple.Project(attrs)
	if err != nil {
		t.Fatalf("Project: %v", err)
	}

	constraint := ConstraintDefault
	if unique {
		constraint = ConstraintUnique
	}
	meta, err := NewIndexMetadata(MetadataSpec{
		Name:        name,
		OID:         100,
		TableOID:    10,
		DatabaseOID: 1,
		Type:        typ,
		Constraint:  constraint,
		TupleSchema: tuple,
		KeySchema:   key,
		KeyAttrs:    attrs,
		UniqueKeys:  unique,
	})
	if err != nil {
		t.Fatalf("NewIndexMetadata: %v", err)
	}
	return meta
}

// intKey builds the key tuple whose every column holds v.
func intKey(meta *IndexMetadata, v int64) *catalog.Tuple {
	ks := meta.KeySchema()
	key := catalog.NewTuple(ks)
	for i := 0; i < ks.ColumnCount(); i++ {
		key.SetValue(i, types.NewIntegral(ks.Column(i).Type, v))
	}
	return key
}

func loc(i int) catalog.ItemPointer {
	return catalog.ItemPointer{Block: uint32(i), Offset: uint32(i * i)}
}
