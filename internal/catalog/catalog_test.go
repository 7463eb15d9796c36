// Licensed under the MIT License. See LICENSE file in the project root for details.

package catalog

import (
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/kianostad/lfidx/internal/types"
)

func ordersSchema() *Schema {
	note := NewColumn("note", types.Varchar)
	note.Nullable = true
	return NewSchema(
		NewColumn("id", types.BigInt),
		NewColumn("region", types.SmallInt),
		note,
	)
}

func TestSchemaProject(t *testing.T) {
	Convey("Given a table schema", t, func() {
		s := ordersSchema()

		Convey("Projecting keeps the requested order", func() {
			key, err := s.Project([]uint32{1, 0})
			So(err, ShouldBeNil)
			So(key.Types(), ShouldResemble, []types.TypeID{types.SmallInt, types.BigInt})
			So(key.IndexedColumns(), ShouldResemble, []uint32{1, 0})
			So(key.String(), ShouldEqual, "(region SMALLINT, id BIGINT)")
		})

		Convey("Out of range ordinals fail", func() {
			_, err := s.Project([]uint32{3})
			So(err, ShouldNotBeNil)
		})

		Convey("Columns returns a copy", func() {
			cols := s.Columns()
			cols[0].Name = "changed"
			So(s.Column(0).Name, ShouldEqual, "id")
		})

		So(s.String(), ShouldContainSubstring, "note VARCHAR NULL")
	})
}

func TestTuple(t *testing.T) {
	Convey("Given a fresh tuple", t, func() {
		s := ordersSchema()
		tup := NewTuple(s)

		Convey("Every column starts as NULL of its type", func() {
			for i := 0; i < s.ColumnCount(); i++ {
				So(tup.Value(i).IsNull(), ShouldBeTrue)
				So(tup.Value(i).Type(), ShouldEqual, s.Column(i).Type)
			}
		})

		Convey("Values can be set and read back", func() {
			tup = NewTupleFromValues(s, types.NewBigInt(9), types.NewSmallInt(2))
			So(tup.Value(0).Int(), ShouldEqual, 9)
			So(tup.Value(1).Int(), ShouldEqual, 2)
			So(tup.Value(2).IsNull(), ShouldBeTrue)
			So(tup.String(), ShouldEqual, "(9, 2, NULL)")
		})
	})

	Convey("Item pointers print as block and offset", t, func() {
		So(ItemPointer{Block: 3, Offset: 17}.String(), ShouldEqual, "(3,17)")
	})
}
