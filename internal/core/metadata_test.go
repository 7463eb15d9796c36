// Licensed under the MIT License. See LICENSE file in the project root for details.

package core

import (
	"testing"

	"github.com/cockroachdb/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/kianostad/lfidx/internal/catalog"
	"github.com/kianostad/lfidx/internal/types"
)

func ordersSchema() *catalog.Schema {
	return catalog.NewSchema(
		catalog.NewColumn("id", types.BigInt),
		catalog.NewColumn("customer", types.Varchar),
		catalog.NewColumn("warehouse", types.SmallInt),
	)
}

func TestIndexMetadata(t *testing.T) {
	Convey("Given a valid metadata spec", t, func() {
		tuple := ordersSchema()
		key, err := tuple.Project([]uint32{2, 0})
		So(err, ShouldBeNil)
		attrs := []uint32{2, 0}

		meta, err := NewIndexMetadata(MetadataSpec{
			Name: "orders_wh", OID: 5, TableOID: 3, DatabaseOID: 1,
			Type: Hash, Constraint: ConstraintUnique,
			TupleSchema: tuple, KeySchema: key, KeyAttrs: attrs, UniqueKeys: true,
		})
		So(err, ShouldBeNil)

		Convey("Accessors return the declared values", func() {
			So(meta.Name(), ShouldEqual, "orders_wh")
			So(meta.OID(), ShouldEqual, 5)
			So(meta.TableOID(), ShouldEqual, 3)
			So(meta.DatabaseOID(), ShouldEqual, 1)
			So(meta.Type(), ShouldEqual, Hash)
			So(meta.Constraint(), ShouldEqual, ConstraintUnique)
			So(meta.UniqueKeys(), ShouldBeTrue)
			So(meta.KeyAttrs(), ShouldResemble, []uint32{2, 0})
			So(meta.String(), ShouldContainSubstring, `UNIQUE HASH index "orders_wh"`)
		})

		Convey("The metadata does not alias caller slices", func() {
			attrs[0] = 1
			got := meta.KeyAttrs()
			got[1] = 7
			So(meta.KeyAttrs(), ShouldResemble, []uint32{2, 0})
		})

		Convey("ProjectKey picks the key columns in key order", func() {
			row := catalog.NewTupleFromValues(tuple, types.NewBigInt(77), types.NewVarchar("ann"), types.NewSmallInt(4))
			k := meta.ProjectKey(row)
			So(k.Value(0).Int(), ShouldEqual, 4)
			So(k.Value(1).Int(), ShouldEqual, 77)
		})
	})

	Convey("Given contradictory specs", t, func() {
		tuple := ordersSchema()
		key, _ := tuple.Project([]uint32{0})
		valid := MetadataSpec{Name: "x", TupleSchema: tuple, KeySchema: key, KeyAttrs: []uint32{0}}

		cases := []struct {
			name   string
			mutate func(*MetadataSpec)
		}{
			{"nil tuple schema", func(s *MetadataSpec) { s.TupleSchema = nil }},
			{"nil key schema", func(s *MetadataSpec) { s.KeySchema = nil }},
			{"zero key attributes", func(s *MetadataSpec) { s.KeyAttrs = nil }},
			{"attribute out of range", func(s *MetadataSpec) { s.KeyAttrs = []uint32{9} }},
			{"arity mismatch", func(s *MetadataSpec) { s.KeyAttrs = []uint32{0, 2} }},
			{"type mismatch", func(s *MetadataSpec) { s.KeyAttrs = []uint32{2} }},
			{"unknown type", func(s *MetadataSpec) { s.Type = IndexType(9) }},
			{"unknown constraint", func(s *MetadataSpec) { s.Constraint = ConstraintType(9) }},
			{"primary key without uniqueness", func(s *MetadataSpec) { s.Constraint = ConstraintPrimaryKey }},
		}

		So(func() { _, _ = NewIndexMetadata(valid) }, ShouldNotPanic)
		for _, tc := range cases {
			Convey("NewIndexMetadata rejects "+tc.name, func() {
				spec := valid
				tc.mutate(&spec)
				_, err := NewIndexMetadata(spec)
				So(errors.Is(err, ErrInvalidMetadata), ShouldBeTrue)
			})
		}
	})
}

func TestParseTags(t *testing.T) {
	Convey("Index types and constraints parse from their names", t, func() {
		for in, want := range map[string]IndexType{"bwtree": BwTree, "HASH": Hash, " tree ": BwTree} {
			got, err := ParseIndexType(in)
			So(err, ShouldBeNil)
			So(got, ShouldEqual, want)
		}
		_, err := ParseIndexType("btree+")
		So(errors.Is(err, ErrInvalidMetadata), ShouldBeTrue)

		for in, want := range map[string]ConstraintType{"": ConstraintDefault, "pk": ConstraintPrimaryKey, "unique": ConstraintUnique} {
			got, err := ParseConstraintType(in)
			So(err, ShouldBeNil)
			So(got, ShouldEqual, want)
		}
		_, err = ParseConstraintType("check")
		So(errors.Is(err, ErrInvalidMetadata), ShouldBeTrue)

		So(BwTree.String(), ShouldEqual, "BWTREE")
		So(ConstraintPrimaryKey.String(), ShouldEqual, "PRIMARY_KEY")
	})
}
