// Licensed under the MIT License. See LICENSE file in the project root for details.

package core

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/kianostad/lfidx/internal/catalog"
)

// IndexType selects the engine behind an index.
type IndexType uint8

const (
	// BwTree is the ordered latch-free tree.
	BwTree IndexType = iota
	// Hash is the exact-match hash index. Range scans buffer and sort.
	Hash
)

func (t IndexType) String() string {
	switch t {
	case BwTree:
		return "BWTREE"
	case Hash:
		return "HASH"
	}
	return fmt.Sprintf("IndexType(%d)", uint8(t))
}

// ParseIndexType converts a type name such as "bwtree" or "hash".
func ParseIndexType(s string) (IndexType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BWTREE", "BW_TREE", "TREE":
		return BwTree, nil
	case "HASH":
		return Hash, nil
	}
	return 0, errors.Wrapf(ErrInvalidMetadata, "unknown index type %q", s)
}

// ConstraintType is the constraint an index enforces.
type ConstraintType uint8

const (
	ConstraintDefault ConstraintType = iota
	ConstraintPrimaryKey
	ConstraintUnique
)

func (c ConstraintType) String() string {
	switch c {
	case ConstraintDefault:
		return "DEFAULT"
	case ConstraintPrimaryKey:
		return "PRIMARY_KEY"
	case ConstraintUnique:
		return "UNIQUE"
	}
	return fmt.Sprintf("ConstraintType(%d)", uint8(c))
}

// ParseConstraintType converts a constraint name such as "primary_key".
func ParseConstraintType(s string) (ConstraintType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEFAULT", "":
		return ConstraintDefault, nil
	case "PRIMARY_KEY", "PRIMARY", "PK":
		return ConstraintPrimaryKey, nil
	case "UNIQUE":
		return ConstraintUnique, nil
	}
	return 0, errors.Wrapf(ErrInvalidMetadata, "unknown constraint %q", s)
}

// enforcesUniqueness reports whether the constraint requires unique keys.
func (c ConstraintType) enforcesUniqueness() bool {
	return c == ConstraintPrimaryKey || c == ConstraintUnique
}

// MetadataSpec is the input to NewIndexMetadata.
type MetadataSpec struct {
	Name        string
	OID         uint32
	TableOID    uint32
	DatabaseOID uint32
	Type        IndexType
	Constraint  ConstraintType
	TupleSchema *catalog.Schema
	KeySchema   *catalog.Schema
	KeyAttrs    []uint32
	UniqueKeys  bool
}

// IndexMetadata describes an index. It is immutable once built.
type IndexMetadata struct {
	name        string
	oid         uint32
	tableOID    uint32
	databaseOID uint32
	typ         IndexType
	constraint  ConstraintType
	tupleSchema *catalog.Schema
	keySchema   *catalog.Schema
	keyAttrs    []uint32
	unique      bool
}

// NewIndexMetadata validates spec and builds the metadata. Errors wrap
// ErrInvalidMetadata.
func NewIndexMetadata(spec MetadataSpec) (*IndexMetadata, error) {
	if err := validateSpec(spec); err != nil {
		return nil, err
	}
	return &IndexMetadata{
		name:        spec.Name,
		oid:         spec.OID,
		tableOID:    spec.TableOID,
		databaseOID: spec.DatabaseOID,
		typ:         spec.Type,
		constraint:  spec.Constraint,
		tupleSchema: spec.TupleSchema,
		keySchema:   spec.KeySchema,
		keyAttrs:    append([]uint32(nil), spec.KeyAttrs...),
		unique:      spec.UniqueKeys,
	}, nil
}

func validateSpec(s MetadataSpec) error {
	switch {
	case s.TupleSchema == nil:
		return errors.Wrap(ErrInvalidMetadata, "tuple schema is nil")
	case s.KeySchema == nil:
		return errors.Wrap(ErrInvalidMetadata, "key schema is nil")
	case len(s.KeyAttrs) == 0:
		return errors.Wrap(ErrInvalidMetadata, "index has no key attributes")
	case s.KeySchema.ColumnCount() != len(s.KeyAttrs):
		return errors.Wrapf(ErrInvalidMetadata, "key schema has %d columns for %d key attributes",
			errors.Safe(s.KeySchema.ColumnCount()), errors.Safe(len(s.KeyAttrs)))
	case s.Type != BwTree && s.Type != Hash:
		return errors.Wrapf(ErrInvalidMetadata, "unknown index type %s", s.Type)
	case s.Constraint > ConstraintUnique:
		return errors.Wrapf(ErrInvalidMetadata, "unknown constraint %s", s.Constraint)
	case s.Constraint.enforcesUniqueness() && !s.UniqueKeys:
		return errors.Wrapf(ErrInvalidMetadata, "%s index must have unique keys", s.Constraint)
	}

	for i, attr := range s.KeyAttrs {
		if int(attr) >= s.TupleSchema.ColumnCount() {
			return errors.Wrapf(ErrInvalidMetadata, "key attribute %d out of range (%d tuple columns)",
				errors.Safe(attr), errors.Safe(s.TupleSchema.ColumnCount()))
		}
		if kt, tt := s.KeySchema.Column(i).Type, s.TupleSchema.Column(int(attr)).Type; kt != tt {
			return errors.Wrapf(ErrInvalidMetadata, "key column %d is %s but tuple column %d is %s",
				errors.Safe(i), kt, errors.Safe(attr), tt)
		}
	}
	return nil
}

func (m *IndexMetadata) Name() string                 { return m.name }
func (m *IndexMetadata) OID() uint32                  { return m.oid }
func (m *IndexMetadata) TableOID() uint32             { return m.tableOID }
func (m *IndexMetadata) DatabaseOID() uint32          { return m.databaseOID }
func (m *IndexMetadata) Type() IndexType              { return m.typ }
func (m *IndexMetadata) Constraint() ConstraintType   { return m.constraint }
func (m *IndexMetadata) TupleSchema() *catalog.Schema { return m.tupleSchema }
func (m *IndexMetadata) KeySchema() *catalog.Schema   { return m.keySchema }

// UniqueKeys reports whether a key may have at most one live location.
func (m *IndexMetadata) UniqueKeys() bool { return m.unique }

// KeyAttrs returns the tuple ordinals of the key columns, in key order.
func (m *IndexMetadata) KeyAttrs() []uint32 {
	return append([]uint32(nil), m.keyAttrs...)
}

// ProjectKey builds the key tuple of a full table tuple.
func (m *IndexMetadata) ProjectKey(tuple *catalog.Tuple) *catalog.Tuple {
	key := catalog.NewTuple(m.keySchema)
	for i, attr := range m.keyAttrs {
		key.SetValue(i, tuple.Value(int(attr)))
	}
	return key
}

func (m *IndexMetadata) String() string {
	return fmt.Sprintf("%s %s index %q (oid %d) on table %d key %s",
		m.constraint, m.typ, m.name, m.oid, m.tableOID, m.keySchema)
}
