// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package lfidx provides a latch-free secondary and primary index layer for a
// relational storage engine.
//
// This is the main public API for the LFIDX library. It maps keys projected
// from table tuples to tuple locations, supports point lookups and ordered
// range scans, and stays correct under heavy concurrent insert, delete and
// scan traffic without taking locks on the read or write paths.
//
// # Quick Start
//
//	import "github.com/kianostad/lfidx"
//
//	table := lfidx.NewSchema(
//	    lfidx.NewColumn("id", lfidx.BigInt),
//	    lfidx.NewColumn("name", lfidx.Varchar),
//	)
//	keySchema, _ := table.Project([]uint32{0})
//
//	meta, err := lfidx.NewIndexMetadata(lfidx.MetadataSpec{
//	    Name:        "users_pk",
//	    OID:         1,
//	    TableOID:    1,
//	    Type:        lfidx.BwTree,
//	    Constraint:  lfidx.ConstraintPrimaryKey,
//	    TupleSchema: table,
//	    KeySchema:   keySchema,
//	    KeyAttrs:    []uint32{0},
//	    UniqueKeys:  true,
//	})
//
//	idx, err := lfidx.NewIndex(meta)
//	defer idx.Close(ctx)
//
//	key := lfidx.NewTupleFromValues(keySchema, lfidx.NewBigInt(7))
//	err = idx.InsertEntry(ctx, key, lfidx.ItemPointer{Block: 1, Offset: 3})
//	locs, err := idx.ScanKey(ctx, key)
//
// # Key Features
//
//   - Bw-tree engine with delta chains, consolidation, splits and merges
//   - Lock-free hash engine for exact-match indexes
//   - Packed byte-comparable keys for small integer keys, generic keys otherwise
//   - Epoch-based reclamation of retired pages
//   - Unique and non-unique indexes
//   - Metrics in Prometheus and JSON form
//
// # Usage Examples
//
// Range scans:
//
//	locs, err := idx.ScanRange(ctx, lfidx.RangeOptions{
//	    Low:           lo,
//	    High:          hi,
//	    LowInclusive:  true,
//	    HighInclusive: false,
//	})
//
// Unique violations:
//
//	if err := idx.InsertEntry(ctx, key, loc); errors.Is(err, lfidx.ErrDuplicateKey) {
//	    // reject the row
//	}
//
// Tunables:
//
//	cfg := lfidx.DefaultConfig()
//	cfg.LeafNodeSize = 256
//	idx, err := lfidx.NewIndex(meta, lfidx.WithConfig(cfg))
//
// # Dangers and Warnings
//
//   - **Key Tuples**: Key tuples must be built from the index's key schema.
//     A value of the wrong type is a programming error and panics.
//   - **Lifetime**: Close an index before dropping it. Every operation on a
//     closed index returns ErrIndexClosed.
//   - **Shared Epochs**: An epoch manager passed with WithEpochManager is owned
//     by the caller and must outlive every index using it.
package lfidx

import (
	"github.com/kianostad/lfidx/internal/catalog"
	"github.com/kianostad/lfidx/internal/concurrency/epoch"
	"github.com/kianostad/lfidx/internal/config"
	core "github.com/kianostad/lfidx/internal/core"
	"github.com/kianostad/lfidx/internal/monitoring/metrics"
	"github.com/kianostad/lfidx/internal/storage/keys"
	"github.com/kianostad/lfidx/internal/types"
)

type (
	// Index is the operation surface of one index
	Index = core.Index

	// IndexMetadata is the immutable description of an index
	IndexMetadata = core.IndexMetadata

	// MetadataSpec is the input to NewIndexMetadata
	MetadataSpec = core.MetadataSpec

	// RangeOptions bounds a range scan
	RangeOptions = core.RangeOptions

	// Entry is a decoded (key, location) pair returned by ScanAll
	Entry = core.Entry

	// Stats describes an index's structure and reclamation state
	Stats = core.Stats

	// Option configures NewIndex
	Option = core.Option

	// IndexType selects the engine backing an index
	IndexType = core.IndexType

	// ConstraintType is the constraint an index enforces
	ConstraintType = core.ConstraintType

	// Representation is the physical key form chosen for an index
	Representation = keys.Representation
)

type (
	// Schema is an ordered list of columns
	Schema = catalog.Schema

	// Column describes one column of a schema
	Column = catalog.Column

	// Tuple is a row of values laid out according to a schema
	Tuple = catalog.Tuple

	// ItemPointer is the opaque location of a tuple
	ItemPointer = catalog.ItemPointer

	// TypeID identifies a column type
	TypeID = types.TypeID

	// Value is an immutable typed column value
	Value = types.Value
)

type (
	// Config holds the index tunables
	Config = config.Config

	// EpochManager coordinates reclamation across indexes
	EpochManager = epoch.Manager

	// Metrics collects operation counts, latencies and structure gauges
	Metrics = metrics.Metrics
)

const (
	BwTree = core.BwTree
	Hash   = core.Hash

	ConstraintDefault    = core.ConstraintDefault
	ConstraintPrimaryKey = core.ConstraintPrimaryKey
	ConstraintUnique     = core.ConstraintUnique

	Packed  = keys.Packed
	Generic = keys.Generic
)

const (
	TinyInt   = types.TinyInt
	SmallInt  = types.SmallInt
	Integer   = types.Integer
	BigInt    = types.BigInt
	Boolean   = types.Boolean
	Decimal   = types.Decimal
	Timestamp = types.Timestamp
	Varchar   = types.Varchar
	Varbinary = types.Varbinary
)

var (
	ErrDuplicateKey    = core.ErrDuplicateKey
	ErrEntryNotFound   = core.ErrEntryNotFound
	ErrInvalidMetadata = core.ErrInvalidMetadata
	ErrIndexClosed     = core.ErrIndexClosed
	ErrInvalidConfig   = config.ErrInvalidConfig
)

func NewIndexMetadata(spec MetadataSpec) (*IndexMetadata, error) {
	return core.NewIndexMetadata(spec)
}

func NewIndex(meta *IndexMetadata, opts ...Option) (Index, error) {
	return core.New(meta, opts...)
}

func WithConfig(c Config) Option {
	return core.WithConfig(c)
}

func WithEpochManager(m *EpochManager) Option {
	return core.WithEpochManager(m)
}

func WithMetrics(m *Metrics) Option {
	return core.WithMetrics(m)
}

func DefaultConfig() Config {
	return config.Default()
}

func NewEpochManager() *EpochManager {
	return epoch.NewManager()
}

func NewMetrics(name string) *Metrics {
	return metrics.New(name)
}

func NewSchema(columns ...Column) *Schema {
	return catalog.NewSchema(columns...)
}

func NewColumn(name string, t TypeID) Column {
	return catalog.NewColumn(name, t)
}

func NewTuple(schema *Schema) *Tuple {
	return catalog.NewTuple(schema)
}

func NewTupleFromValues(schema *Schema, values ...Value) *Tuple {
	return catalog.NewTupleFromValues(schema, values...)
}

func NewBigInt(v int64) Value {
	return types.NewBigInt(v)
}

func NewInteger(v int32) Value {
	return types.NewInteger(v)
}

func NewVarchar(v string) Value {
	return types.NewVarchar(v)
}

func NewNull(t TypeID) Value {
	return types.NewNull(t)
}

// NewIntegral builds a value of any integral type from an int64.
func NewIntegral(t TypeID, v int64) Value {
	return types.NewIntegral(t, v)
}

// ParseValue converts a textual literal into a value of type t.
func ParseValue(t TypeID, text string) (Value, error) {
	return types.Parse(t, text)
}
