// Licensed under the MIT License. See LICENSE file in the project root for details.

package types

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestValueCompare(t *testing.T) {
	Convey("Given values of one type", t, func() {
		Convey("Integers order numerically", func() {
			So(NewBigInt(-5).Compare(NewBigInt(3)), ShouldEqual, -1)
			So(NewBigInt(3).Compare(NewBigInt(-5)), ShouldEqual, 1)
			So(NewInteger(7).Compare(NewInteger(7)), ShouldEqual, 0)
		})

		Convey("NULL sorts first and equals NULL", func() {
			So(NewNull(Integer).Compare(NewInteger(math.MinInt32)), ShouldEqual, -1)
			So(NewInteger(0).Compare(NewNull(Integer)), ShouldEqual, 1)
			So(NewNull(Varchar).Equal(NewNull(Varchar)), ShouldBeTrue)
		})

		Convey("Strings and bytes order lexicographically", func() {
			So(NewVarchar("abc").Compare(NewVarchar("abd")), ShouldEqual, -1)
			So(NewVarchar("ab").Compare(NewVarchar("abc")), ShouldEqual, -1)
			So(NewVarbinary([]byte{0xff}).Compare(NewVarbinary([]byte{0x00, 0x01})), ShouldEqual, 1)
		})

		Convey("NaN sorts after every number", func() {
			So(NewDecimal(math.NaN()).Compare(NewDecimal(math.Inf(1))), ShouldEqual, 1)
			So(NewDecimal(math.NaN()).Equal(NewDecimal(math.NaN())), ShouldBeTrue)
		})
	})
}

func TestValueHash(t *testing.T) {
	Convey("Equal values hash equally", t, func() {
		So(NewVarchar("key").Hash(), ShouldEqual, NewVarchar("key").Hash())
		So(NewDecimal(0).Hash(), ShouldEqual, NewDecimal(math.Copysign(0, -1)).Hash())
		So(NewNull(BigInt).Hash(), ShouldEqual, NewNull(BigInt).Hash())
	})

	Convey("Type participates in the hash", t, func() {
		So(NewInteger(1).Hash(), ShouldNotEqual, NewBigInt(1).Hash())
		So(NewNull(BigInt).Hash(), ShouldNotEqual, NewNull(Integer).Hash())
	})
}

func TestNewIntegral(t *testing.T) {
	Convey("NewIntegral keeps the declared type", t, func() {
		for _, typ := range []TypeID{TinyInt, SmallInt, Integer, BigInt} {
			v := NewIntegral(typ, -3)
			So(v.Type(), ShouldEqual, typ)
			So(v.Int(), ShouldEqual, -3)
		}
	})

	Convey("NewIntegral rejects non-integral types", t, func() {
		So(func() { NewIntegral(Varchar, 1) }, ShouldPanic)
	})
}

func TestParse(t *testing.T) {
	Convey("Given literals", t, func() {
		v, err := Parse(SmallInt, "-42")
		So(err, ShouldBeNil)
		So(v.Equal(NewSmallInt(-42)), ShouldBeTrue)

		v, err = Parse(Varchar, "hello")
		So(err, ShouldBeNil)
		So(v.Str(), ShouldEqual, "hello")

		v, err = Parse(Integer, "NULL")
		So(err, ShouldBeNil)
		So(v.IsNull(), ShouldBeTrue)
		So(v.Type(), ShouldEqual, Integer)

		v, err = Parse(Boolean, "t")
		So(err, ShouldBeNil)
		So(v.Bool(), ShouldBeTrue)

		Convey("Bad literals are rejected", func() {
			for _, c := range []struct {
				typ  TypeID
				text string
			}{
				{TinyInt, "300"},
				{Integer, "abc"},
				{Boolean, "maybe"},
				{Decimal, "x1"},
				{Invalid, "1"},
			} {
				_, err := Parse(c.typ, c.text)
				So(errors.Is(err, ErrInvalidLiteral), ShouldBeTrue)
			}
		})
	})
}

func TestTypeID(t *testing.T) {
	Convey("Type names round-trip", t, func() {
		for _, typ := range []TypeID{TinyInt, SmallInt, Integer, BigInt, Boolean, Decimal, Timestamp, Varchar, Varbinary} {
			got, err := ParseTypeID(typ.String())
			So(err, ShouldBeNil)
			So(got, ShouldEqual, typ)
		}
		_, err := ParseTypeID("blob")
		So(errors.Is(err, ErrInvalidLiteral), ShouldBeTrue)
	})

	Convey("Bounds and sizes match the integer widths", t, func() {
		lo, hi := TinyInt.Bounds()
		So(lo, ShouldEqual, -128)
		So(hi, ShouldEqual, 127)
		So(Integer.Size(), ShouldEqual, 4)
		So(Varchar.Size(), ShouldEqual, 0)
		So(Varchar.IsIntegral(), ShouldBeFalse)
	})
}
