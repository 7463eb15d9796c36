// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package types provides the column type ids and typed values used by index keys.
//
// Values carry their declared type and offer native comparison and hashing.
// The index layer never interprets a value beyond these primitives.
package types

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// TypeID identifies a column type.
type TypeID uint8

const (
	Invalid TypeID = iota
	TinyInt
	SmallInt
	Integer
	BigInt
	Boolean
	Decimal
	Timestamp
	Varchar
	Varbinary
)

// Size returns the fixed storage width of the type in bytes, or 0 for
// variable length types.
func (t TypeID) Size() int {
	switch t {
	case TinyInt, Boolean:
		return 1
	case SmallInt:
		return 2
	case Integer:
		return 4
	case BigInt, Decimal, Timestamp:
		return 8
	default:
		return 0
	}
}

// IsIntegral reports whether the type is one of the fixed width integer types.
func (t TypeID) IsIntegral() bool {
	switch t {
	case TinyInt, SmallInt, Integer, BigInt:
		return true
	}
	return false
}

// Bounds returns the inclusive value range of an integral type.
func (t TypeID) Bounds() (min, max int64) {
	switch t {
	case TinyInt:
		return -1 << 7, 1<<7 - 1
	case SmallInt:
		return -1 << 15, 1<<15 - 1
	case Integer:
		return -1 << 31, 1<<31 - 1
	case BigInt:
		return -1 << 63, 1<<63 - 1
	}
	return 0, 0
}

func (t TypeID) String() string {
	switch t {
	case TinyInt:
		return "TINYINT"
	case SmallInt:
		return "SMALLINT"
	case Integer:
		return "INTEGER"
	case BigInt:
		return "BIGINT"
	case Boolean:
		return "BOOLEAN"
	case Decimal:
		return "DECIMAL"
	case Timestamp:
		return "TIMESTAMP"
	case Varchar:
		return "VARCHAR"
	case Varbinary:
		return "VARBINARY"
	default:
		return "INVALID"
	}
}

// ParseTypeID converts a SQL type name into a TypeID.
func ParseTypeID(name string) (TypeID, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "TINYINT":
		return TinyInt, nil
	case "SMALLINT":
		return SmallInt, nil
	case "INTEGER", "INT":
		return Integer, nil
	case "BIGINT":
		return BigInt, nil
	case "BOOLEAN", "BOOL":
		return Boolean, nil
	case "DECIMAL", "DOUBLE":
		return Decimal, nil
	case "TIMESTAMP":
		return Timestamp, nil
	case "VARCHAR", "TEXT":
		return Varchar, nil
	case "VARBINARY":
		return Varbinary, nil
	}
	return Invalid, errors.Wrapf(ErrInvalidLiteral, "unknown type %q", name)
}
