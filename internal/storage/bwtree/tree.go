// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package bwtree implements a latch-free ordered map in the Bw-tree style.
//
// Nodes are addressed through a mapping table of stable page ids. A node is
// never edited in place: every mutation prepends an immutable delta record to
// the node's chain and publishes it with a single compare-and-swap on the
// node's mapping slot. Long chains are consolidated into fresh base pages,
// oversized nodes split into a right sibling that readers reach through the
// sibling link until the parent learns about it, and underfull leaves merge
// into their left neighbour.
//
// # Key Features
//
//   - Lock-free inserts, deletes and point lookups (CAS on the chain head,
//     whole traversal retried on failure)
//   - B-link style right sibling links, so readers never observe a torn split
//   - Non-unique keys: several values per key, deletes address one pair
//   - Epoch based reclamation of replaced chains and page ids
//   - Page pooling to keep allocation churn low on hot paths
//   - Lazy range iterators that hold an epoch guard for one leaf at a time
//
// # Usage Examples
//
//	tree, err := bwtree.New[keys.PackedKey, catalog.ItemPointer](policy, epochs, bwtree.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//
//	tree.Insert(k, catalog.ItemPointer{Block: 1, Offset: 7})
//	values := tree.Get(k)
//
//	it := tree.Scan(bwtree.Range[keys.PackedKey]{Low: lo, HasLow: true, LowInclusive: true})
//	for it.Next() {
//	    fmt.Println(it.Value())
//	}
//
// # Dangers and Warnings
//
//   - **Comparator Contract**: The comparator must be a strict total order and
//     agree with its Equal. Keys are never copied deeply; a key must not be
//     mutated after it was handed to the tree.
//   - **Value Equality**: Values are compared with ==. Two values that are ==
//     are the same entry.
//   - **Merges**: A merge freezes the merged leaf and its parent. Threads that
//     run into either one finish the merge themselves; only the short window
//     before the leaf is frozen makes posts to the parent yield.
//   - **Height**: The tree never shrinks in height.
//
// # Best Practices
//
//   - Share one epoch.Manager between trees of the same process and run an
//     epoch.Reclaimer next to it
//   - Keep MaxDeltaChain small (4 to 16); long chains slow every reader
//   - Use CheckInvariants in tests after concurrent workloads have quiesced
package bwtree

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/kianostad/lfidx/internal/concurrency/epoch"
	"github.com/kianostad/lfidx/internal/storage/keys"
)

var plog = logger.GetLogger("bwtree")

// ErrInvalidOptions is returned by New for impossible node sizes.
var ErrInvalidOptions = errors.New("invalid bwtree options")

// Options tunes node sizes and chain lengths.
type Options struct {
	// LeafNodeSize is the entry count above which a leaf splits.
	LeafNodeSize int
	// InnerNodeSize is the child count above which an inner node splits.
	InnerNodeSize int
	// LeafMergeSize is the entry count below which a leaf merges into its
	// left neighbour. Zero disables merges.
	LeafMergeSize int
	// MaxDeltaChain is the chain length above which a node is consolidated.
	MaxDeltaChain int
	// Unique rejects a second live value for a key.
	Unique bool
}

// DefaultOptions returns the default tuning.
func DefaultOptions() Options {
	return Options{
		LeafNodeSize:  128,
		InnerNodeSize: 64,
		LeafMergeSize: 16,
		MaxDeltaChain: 8,
	}
}

func (o Options) validate() error {
	switch {
	case o.LeafNodeSize < 2:
		return errors.Wrapf(ErrInvalidOptions, "leaf node size %d is below 2", errors.Safe(o.LeafNodeSize))
	case o.InnerNodeSize < 3:
		return errors.Wrapf(ErrInvalidOptions, "inner node size %d is below 3", errors.Safe(o.InnerNodeSize))
	case o.LeafMergeSize < 0 || o.LeafMergeSize*2 > o.LeafNodeSize:
		return errors.Wrapf(ErrInvalidOptions, "leaf merge size %d outside [0, %d]",
			errors.Safe(o.LeafMergeSize), errors.Safe(o.LeafNodeSize/2))
	case o.MaxDeltaChain < 1:
		return errors.Wrapf(ErrInvalidOptions, "max delta chain %d is below 1", errors.Safe(o.MaxDeltaChain))
	}
	return nil
}

type counters struct {
	inserts        *xsync.Counter
	deletes        *xsync.Counter
	lookups        *xsync.Counter
	scans          *xsync.Counter
	casRetries     *xsync.Counter
	consolidations *xsync.Counter
	splits         *xsync.Counter
	merges         *xsync.Counter
	rootGrows      *xsync.Counter
}

func newCounters() counters {
	return counters{
		inserts:        xsync.NewCounter(),
		deletes:        xsync.NewCounter(),
		lookups:        xsync.NewCounter(),
		scans:          xsync.NewCounter(),
		casRetries:     xsync.NewCounter(),
		consolidations: xsync.NewCounter(),
		splits:         xsync.NewCounter(),
		merges:         xsync.NewCounter(),
		rootGrows:      xsync.NewCounter(),
	}
}

// Stats is a snapshot of a tree's activity counters.
type Stats struct {
	Inserts        int64
	Deletes        int64
	Lookups        int64
	Scans          int64
	CASRetries     int64
	Consolidations int64
	Splits         int64
	Merges         int64
	RootGrows      int64
	Pages          int64
	Height         int
}

// Tree is a concurrent ordered multimap from K to V.
type Tree[K any, V comparable] struct {
	cmp    keys.Comparator[K]
	opts   Options
	epochs *epoch.Manager
	table  *mappingTable[K, V]
	pool   *pagePool[K, V]
	root   atomic.Uint64
	closed atomic.Bool
	stats  counters
}

// New creates an empty tree ordered by cmp. Retired pages are reclaimed
// through epochs; a private manager is created when epochs is nil.
func New[K any, V comparable](cmp keys.Comparator[K], epochs *epoch.Manager, opts Options) (*Tree[K, V], error) {
	if cmp == nil {
		return nil, errors.Wrap(ErrInvalidOptions, "nil comparator")
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if epochs == nil {
		epochs = epoch.NewManager()
	}

	t := &Tree[K, V]{
		cmp:    cmp,
		opts:   opts,
		epochs: epochs,
		table:  newMappingTable[K, V](),
		pool:   newPagePool[K, V](),
		stats:  newCounters(),
	}

	leaf := t.pool.get()
	leaf.kind = kindLeafBase
	leaf.low = bound[K]{inf: true}
	leaf.high = bound[K]{inf: true}
	pid := t.table.alloc()
	t.table.store(pid, leaf)
	t.root.Store(pid)
	return t, nil
}

// Options returns the tuning the tree was created with.
func (t *Tree[K, V]) Options() Options {
	return t.opts
}

// Epochs returns the epoch manager reclaiming the tree's pages.
func (t *Tree[K, V]) Epochs() *epoch.Manager {
	return t.epochs
}

// Insert adds the pair (key, value). It returns false without changing the
// tree if the pair is already present, or, for a unique tree, if key has any
// live value.
func (t *Tree[K, V]) Insert(key K, value V) bool {
	g := t.epochs.Enter()
	defer g.Exit()
	t.stats.inserts.Inc()

	for {
		pid, head := t.descend(at(key), 0)
		if t.opts.Unique {
			if t.hasKey(head, key) {
				return false
			}
		} else if t.hasPair(head, key, value) {
			return false
		}

		d := t.pool.delta(kindInsert, head)
		d.key = key
		d.value = value
		d.size = head.size + 1
		if t.table.cas(pid, head, d) {
			t.maintain(pid, d)
			return true
		}
		t.pool.put(d)
		t.stats.casRetries.Inc()
	}
}

// Delete removes the pair (key, value). It returns false if the pair is not
// present.
func (t *Tree[K, V]) Delete(key K, value V) bool {
	g := t.epochs.Enter()
	defer g.Exit()
	t.stats.deletes.Inc()

	for {
		pid, head := t.descend(at(key), 0)
		if !t.hasPair(head, key, value) {
			return false
		}

		d := t.pool.delta(kindDelete, head)
		d.key = key
		d.value = value
		d.size = head.size - 1
		if t.table.cas(pid, head, d) {
			t.maintain(pid, d)
			return true
		}
		t.pool.put(d)
		t.stats.casRetries.Inc()
	}
}

// Get returns the live values stored under key. All values of a key live in
// one leaf, so the result is a snapshot of that leaf.
func (t *Tree[K, V]) Get(key K) []V {
	g := t.epochs.Enter()
	defer g.Exit()
	t.stats.lookups.Inc()

	var out []V
	_, head := t.descend(at(key), 0)
	t.visit(head, key, func(v V) bool {
		out = append(out, v)
		return true
	})
	return out
}

// Contains reports whether key has at least one live value.
func (t *Tree[K, V]) Contains(key K) bool {
	g := t.epochs.Enter()
	defer g.Exit()
	t.stats.lookups.Inc()

	_, head := t.descend(at(key), 0)
	return t.hasKey(head, key)
}

// Len returns the number of live entries. Under concurrent writes the result
// is a sum of per-leaf snapshots, not a point-in-time count.
func (t *Tree[K, V]) Len() int {
	g := t.epochs.Enter()
	defer g.Exit()

	n := 0
	_, head := t.descend(leftmost[K](), 0)
	for head != nil {
		n += head.size
		if head.high.inf {
			break
		}
		head = t.table.load(head.sibling)
	}
	return n
}

// Height returns the number of levels, 1 for a tree that is a single leaf.
func (t *Tree[K, V]) Height() int {
	g := t.epochs.Enter()
	defer g.Exit()
	return int(t.table.load(t.root.Load()).level) + 1
}

// Stats returns a snapshot of the tree's counters.
func (t *Tree[K, V]) Stats() Stats {
	return Stats{
		Inserts:        t.stats.inserts.Value(),
		Deletes:        t.stats.deletes.Value(),
		Lookups:        t.stats.lookups.Value(),
		Scans:          t.stats.scans.Value(),
		CASRetries:     t.stats.casRetries.Value(),
		Consolidations: t.stats.consolidations.Value(),
		Splits:         t.stats.splits.Value(),
		Merges:         t.stats.merges.Value(),
		RootGrows:      t.stats.rootGrows.Value(),
		Pages:          t.table.pages(),
		Height:         t.Height(),
	}
}

// Close marks the tree closed. Pages are left to the garbage collector;
// operations after Close are the caller's error and are not checked here.
func (t *Tree[K, V]) Close() {
	if t.closed.Swap(true) {
		return
	}
	plog.Debugf("tree closed with %d pages", t.table.pages())
}

// Closed reports whether Close was called.
func (t *Tree[K, V]) Closed() bool {
	return t.closed.Load()
}
