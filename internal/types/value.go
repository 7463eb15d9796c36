// Licensed under the MIT License. See LICENSE file in the project root for details.

package types

import (
	"bytes"
	"cmp"
	"encoding/binary"
	"fmt"
	"math"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
)

// ErrInvalidLiteral is returned when text cannot be parsed as a value.
var ErrInvalidLiteral = errors.New("invalid literal")

// Value is an immutable typed column value. The zero Value is invalid.
//
// Integral, boolean and timestamp payloads live in i, DECIMAL in f and the
// variable length types in s (VARBINARY bytes are stored as a string so the
// payload can never be mutated after construction).
type Value struct {
	typ  TypeID
	null bool
	i    int64
	f    float64
	s    string
}

func NewTinyInt(v int8) Value    { return Value{typ: TinyInt, i: int64(v)} }
func NewSmallInt(v int16) Value  { return Value{typ: SmallInt, i: int64(v)} }
func NewInteger(v int32) Value   { return Value{typ: Integer, i: int64(v)} }
func NewBigInt(v int64) Value    { return Value{typ: BigInt, i: v} }
func NewDecimal(v float64) Value { return Value{typ: Decimal, f: v} }
func NewVarchar(v string) Value  { return Value{typ: Varchar, s: v} }

// NewTimestamp builds a TIMESTAMP value from microseconds since the epoch.
func NewTimestamp(micros int64) Value { return Value{typ: Timestamp, i: micros} }

func NewVarbinary(v []byte) Value { return Value{typ: Varbinary, s: string(v)} }

func NewBoolean(v bool) Value {
	if v {
		return Value{typ: Boolean, i: 1}
	}
	return Value{typ: Boolean}
}

// NewNull returns the NULL value of the given type.
func NewNull(t TypeID) Value { return Value{typ: t, null: true} }

// NewIntegral builds a value of an integral type from an int64, truncating to
// the type's width the same way a cast would.
func NewIntegral(t TypeID, v int64) Value {
	switch t {
	case TinyInt:
		return NewTinyInt(int8(v))
	case SmallInt:
		return NewSmallInt(int16(v))
	case Integer:
		return NewInteger(int32(v))
	case BigInt:
		return NewBigInt(v)
	}
	panic(fmt.Sprintf("types: %s is not integral", t))
}

func (v Value) Type() TypeID  { return v.typ }
func (v Value) IsNull() bool  { return v.null }
func (v Value) IsValid() bool { return v.typ != Invalid }

// Int returns the payload of integral, boolean and timestamp values.
func (v Value) Int() int64 { return v.i }

// Str returns the payload of a VARCHAR value.
func (v Value) Str() string { return v.s }

func (v Value) Bool() bool { return v.i != 0 }

// Compare orders two values of the same type. NULL sorts before every
// non-NULL value. Values of different types are ordered by type id, which
// callers never rely on since key columns are homogeneous.
func (v Value) Compare(o Value) int {
	if v.typ != o.typ {
		return cmp.Compare(v.typ, o.typ)
	}
	switch {
	case v.null && o.null:
		return 0
	case v.null:
		return -1
	case o.null:
		return 1
	}
	switch v.typ {
	case Decimal:
		return compareFloat(v.f, o.f)
	case Varchar:
		return strings.Compare(v.s, o.s)
	case Varbinary:
		return bytes.Compare([]byte(v.s), []byte(o.s))
	default:
		return cmp.Compare(v.i, o.i)
	}
}

// Equal reports whether Compare would return 0.
func (v Value) Equal(o Value) bool {
	return v.Compare(o) == 0
}

// compareFloat puts NaN after every other number so the order stays total.
func compareFloat(a, b float64) int {
	an, bn := math.IsNaN(a), math.IsNaN(b)
	switch {
	case an && bn:
		return 0
	case an:
		return 1
	case bn:
		return -1
	}
	return cmp.Compare(a, b)
}

// WriteHash feeds a canonical encoding of the value into d. Equal values
// always produce the same byte stream.
func (v Value) WriteHash(d *xxhash.Digest) {
	var buf [9]byte
	buf[0] = byte(v.typ)
	if v.null {
		buf[0] |= 0x80
		_, _ = d.Write(buf[:1])
		return
	}
	switch v.typ {
	case Varchar, Varbinary:
		binary.BigEndian.PutUint32(buf[1:5], uint32(len(v.s)))
		_, _ = d.Write(buf[:5])
		_, _ = d.WriteString(v.s)
	case Decimal:
		f := v.f
		switch {
		case f == 0:
			f = 0 // -0 equals +0
		case math.IsNaN(f):
			f = math.NaN()
		}
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(f))
		_, _ = d.Write(buf[:])
	default:
		binary.BigEndian.PutUint64(buf[1:], uint64(v.i))
		_, _ = d.Write(buf[:])
	}
}

// Hash returns the 64-bit xxhash of the value's canonical encoding.
func (v Value) Hash() uint64 {
	d := xxhash.New()
	v.WriteHash(d)
	return d.Sum64()
}

func (v Value) String() string {
	if v.null {
		return "NULL"
	}
	switch v.typ {
	case Boolean:
		if v.i != 0 {
			return "true"
		}
		return "false"
	case Decimal:
		return fmt.Sprintf("%g", v.f)
	case Varchar:
		return v.s
	case Varbinary:
		return fmt.Sprintf("%x", v.s)
	case Invalid:
		return "<invalid>"
	default:
		return fmt.Sprintf("%d", v.i)
	}
}

// Parse converts a textual literal into a value of type t. It is used by the
// command line tools.
func Parse(t TypeID, text string) (Value, error) {
	if strings.EqualFold(text, "null") {
		return NewNull(t), nil
	}
	switch t {
	case TinyInt, SmallInt, Integer, BigInt, Timestamp:
		var n int64
		if _, err := fmt.Sscan(text, &n); err != nil {
			return Value{}, errors.Mark(errors.Wrapf(err, "parse %s %q", t, text), ErrInvalidLiteral)
		}
		if t == Timestamp {
			return NewTimestamp(n), nil
		}
		lo, hi := t.Bounds()
		if n < lo || n > hi {
			return Value{}, errors.Wrapf(ErrInvalidLiteral, "parse %s %q: out of range", t, text)
		}
		return NewIntegral(t, n), nil
	case Boolean:
		switch strings.ToLower(text) {
		case "true", "t", "1":
			return NewBoolean(true), nil
		case "false", "f", "0":
			return NewBoolean(false), nil
		}
		return Value{}, errors.Wrapf(ErrInvalidLiteral, "parse BOOLEAN %q", text)
	case Decimal:
		var f float64
		if _, err := fmt.Sscan(text, &f); err != nil {
			return Value{}, errors.Mark(errors.Wrapf(err, "parse DECIMAL %q", text), ErrInvalidLiteral)
		}
		return NewDecimal(f), nil
	case Varchar:
		return NewVarchar(text), nil
	case Varbinary:
		return NewVarbinary([]byte(text)), nil
	}
	return Value{}, errors.Wrapf(ErrInvalidLiteral, "parse: unsupported type %s", t)
}
