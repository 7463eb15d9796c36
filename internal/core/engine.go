// Licensed under the MIT License. See LICENSE file in the project root for details.

package core

import (
	"cmp"
	"slices"

	"github.com/cockroachdb/errors"

	"github.com/kianostad/lfidx/internal/catalog"
	"github.com/kianostad/lfidx/internal/monitoring/metrics"
	"github.com/kianostad/lfidx/internal/storage/bwtree"
	"github.com/kianostad/lfidx/internal/storage/hashindex"
	"github.com/kianostad/lfidx/internal/storage/keys"
)

// cursor yields (key, location) pairs in key order.
type cursor[K any] interface {
	Next() bool
	Key() K
	Value() catalog.ItemPointer
}

// engine is the storage structure behind an index.
type engine[K any] interface {
	Insert(key K, loc catalog.ItemPointer) bool
	Delete(key K, loc catalog.ItemPointer) bool
	Get(key K) []catalog.ItemPointer
	Scan(r bwtree.Range[K]) cursor[K]
	Len() int
	structure() metrics.Structure
	CheckInvariants() error
	Close()
}

type treeEngine[K any] struct {
	*bwtree.Tree[K, catalog.ItemPointer]
}

func (e treeEngine[K]) Scan(r bwtree.Range[K]) cursor[K] {
	return e.Tree.Scan(r)
}

func (e treeEngine[K]) structure() metrics.Structure {
	s := e.Stats()
	return metrics.Structure{
		Entries:        int64(e.Len()),
		Height:         int64(s.Height),
		Pages:          s.Pages,
		Consolidations: s.Consolidations,
		Splits:         s.Splits,
		Merges:         s.Merges,
		RootGrows:      s.RootGrows,
		CASRetries:     s.CASRetries,
	}
}

type hashEngine[K any] struct {
	*hashindex.Index[K, catalog.ItemPointer]
	cmp keys.Comparator[K]
}

type pair[K any] struct {
	key K
	loc catalog.ItemPointer
}

// Scan collects the entries of r from every bucket and sorts them by key,
// then by location.
func (e hashEngine[K]) Scan(r bwtree.Range[K]) cursor[K] {
	var out []pair[K]
	it := e.NewIterator()
	for it.Next() {
		if inRange(e.cmp, r, it.Key()) {
			out = append(out, pair[K]{key: it.Key(), loc: it.Value()})
		}
	}
	slices.SortFunc(out, func(a, b pair[K]) int {
		if c := e.cmp.Compare(a.key, b.key); c != 0 {
			return c
		}
		return compareLocations(a.loc, b.loc)
	})
	if r.Descending {
		slices.Reverse(out)
	}
	return &sliceCursor[K]{pairs: out, pos: -1}
}

func (e hashEngine[K]) structure() metrics.Structure {
	s := e.Stats()
	return metrics.Structure{
		Entries:        s.Entries,
		Height:         1,
		Pages:          int64(e.Size()),
		Consolidations: s.Consolidations,
		CASRetries:     s.CASRetries,
	}
}

// CheckInvariants compares the entry counter with the bucket contents.
func (e hashEngine[K]) CheckInvariants() error {
	n := 0
	for b := uint64(0); b < e.Size(); b++ {
		n += e.BucketCount(b)
	}
	if n != e.Len() {
		return errors.Newf("hash index holds %d entries, counter says %d", n, e.Len())
	}
	return nil
}

type sliceCursor[K any] struct {
	pairs []pair[K]
	pos   int
}

func (c *sliceCursor[K]) Next() bool {
	c.pos++
	return c.pos < len(c.pairs)
}

func (c *sliceCursor[K]) Key() K                     { return c.pairs[c.pos].key }
func (c *sliceCursor[K]) Value() catalog.ItemPointer { return c.pairs[c.pos].loc }

func inRange[K any](order keys.Comparator[K], r bwtree.Range[K], k K) bool {
	if r.HasLow {
		c := order.Compare(k, r.Low)
		if c < 0 || (c == 0 && !r.LowInclusive) {
			return false
		}
	}
	if r.HasHigh {
		c := order.Compare(k, r.High)
		if c > 0 || (c == 0 && !r.HighInclusive) {
			return false
		}
	}
	return true
}

func compareLocations(a, b catalog.ItemPointer) int {
	if c := cmp.Compare(a.Block, b.Block); c != 0 {
		return c
	}
	return cmp.Compare(a.Offset, b.Offset)
}
