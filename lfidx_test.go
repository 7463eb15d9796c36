// Licensed under the MIT License. See LICENSE file in the project root for details.

package lfidx

import (
	"context"
	"errors"
	"testing"
)

func usersIndex(t *testing.T, typ IndexType, opts ...Option) (Index, *Schema) {
	t.Helper()
	table := NewSchema(
		NewColumn("id", BigInt),
		NewColumn("name", Varchar),
	)
	keySchema, err := table.Project([]uint32{0})
	if err != nil {
		t.Fatalf("Project: %v", err)
	}
	meta, err := NewIndexMetadata(MetadataSpec{
		Name:        "users_pk",
		OID:         1,
		TableOID:    1,
		Type:        typ,
		Constraint:  ConstraintPrimaryKey,
		TupleSchema: table,
		KeySchema:   keySchema,
		KeyAttrs:    []uint32{0},
		UniqueKeys:  true,
	})
	if err != nil {
		t.Fatalf("NewIndexMetadata: %v", err)
	}
	idx, err := NewIndex(meta, opts...)
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	return idx, keySchema
}

func TestPublicAPI(t *testing.T) {
	ctx := context.Background()

	for _, typ := range []IndexType{BwTree, Hash} {
		t.Run(typ.String(), func(t *testing.T) {
			idx, keySchema := usersIndex(t, typ)
			defer idx.Close(ctx)

			if idx.Representation() != Packed {
				t.Errorf("Expected packed keys for a BIGINT key, got %s", idx.Representation())
			}

			key := func(id int64) *Tuple { return NewTupleFromValues(keySchema, NewBigInt(id)) }

			// Test basic operations
			for i := int64(0); i < 10; i++ {
				if err := idx.InsertEntry(ctx, key(i), ItemPointer{Block: uint32(i), Offset: 1}); err != nil {
					t.Fatalf("InsertEntry(%d): %v", i, err)
				}
			}
			err := idx.InsertEntry(ctx, key(3), ItemPointer{Block: 99, Offset: 1})
			if !errors.Is(err, ErrDuplicateKey) {
				t.Errorf("Expected ErrDuplicateKey, got %v", err)
			}

			loc, err := idx.Lookup(ctx, key(4))
			if err != nil || loc != (ItemPointer{Block: 4, Offset: 1}) {
				t.Errorf("Expected (4,1), got %v, err: %v", loc, err)
			}

			// Test range scans
			locs, err := idx.ScanRange(ctx, RangeOptions{
				Low: key(2), High: key(5), LowInclusive: true,
			})
			if err != nil {
				t.Fatalf("ScanRange: %v", err)
			}
			if len(locs) != 3 || locs[0].Block != 2 || locs[2].Block != 4 {
				t.Errorf("Expected blocks 2..4, got %v", locs)
			}

			// Test deletes
			if err := idx.DeleteEntry(ctx, key(4), ItemPointer{Block: 4, Offset: 1}); err != nil {
				t.Errorf("DeleteEntry: %v", err)
			}
			if _, err := idx.Lookup(ctx, key(4)); !errors.Is(err, ErrEntryNotFound) {
				t.Errorf("Expected ErrEntryNotFound after delete, got %v", err)
			}
			if idx.Len() != 9 {
				t.Errorf("Expected 9 entries, got %d", idx.Len())
			}
			if err := idx.CheckInvariants(); err != nil {
				t.Errorf("CheckInvariants: %v", err)
			}
		})
	}
}

func TestConvenienceOptions(t *testing.T) {
	ctx := context.Background()

	cfg := DefaultConfig()
	cfg.CompactKeyBudget = 0
	epochs := NewEpochManager()
	m := NewMetrics("users_pk")
	defer m.Close()

	idx, keySchema := usersIndex(t, BwTree, WithConfig(cfg), WithEpochManager(epochs), WithMetrics(m))
	if idx.Representation() != Generic {
		t.Errorf("Expected generic keys with a zero budget, got %s", idx.Representation())
	}

	v, err := ParseValue(BigInt, "12")
	if err != nil {
		t.Fatalf("ParseValue: %v", err)
	}
	if err := idx.InsertEntry(ctx, NewTupleFromValues(keySchema, v), ItemPointer{Block: 1}); err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}
	if got := idx.Stats().Entries; got != 1 {
		t.Errorf("Expected 1 entry in stats, got %d", got)
	}

	if err := idx.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := idx.ScanAll(ctx); !errors.Is(err, ErrIndexClosed) {
		t.Errorf("Expected ErrIndexClosed, got %v", err)
	}
	if !epochs.Drain() {
		t.Error("Expected the shared epoch manager to drain")
	}
}

func TestInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LeafNodeSize = 1

	table := NewSchema(NewColumn("id", Integer))
	meta, err := NewIndexMetadata(MetadataSpec{
		Name: "bad", Type: BwTree, TupleSchema: table, KeySchema: table, KeyAttrs: []uint32{0},
	})
	if err != nil {
		t.Fatalf("NewIndexMetadata: %v", err)
	}
	if _, err := NewIndex(meta, WithConfig(cfg)); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected ErrInvalidConfig, got %v", err)
	}
}
