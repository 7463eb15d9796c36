// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package hashindex provides a lock-free exact-match index.
//
// The index is a fixed array of buckets. Each bucket holds a chain of
// immutable records: insert and delete deltas on top of an optional base
// record listing the bucket's entries. Writers prepend a delta with a single
// compare-and-swap on the bucket head and retry on failure; once a chain
// grows past the configured length it is folded into a fresh base record and
// the replaced records are handed to the epoch manager.
//
// # Key Features
//
//   - Lock-free inserts and deletes using CAS on the bucket head
//   - Several values per key; deletes address one (key, value) pair
//   - Optional unique mode rejecting a second live value for a key
//   - Keys hashed with xxhash through the key policy
//   - Epoch protected chain consolidation and record pooling
//
// # Usage Examples
//
//	idx, err := hashindex.New[keys.PackedKey, catalog.ItemPointer](policy, epochs, hashindex.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	idx.Insert(k, catalog.ItemPointer{Block: 3, Offset: 1})
//	for _, loc := range idx.Get(k) {
//	    fmt.Println(loc)
//	}
//
// # Dangers and Warnings
//
//   - **Bucket Count**: The number of buckets must be a power of 2 and is
//     fixed for the index's lifetime. Long chains slow down every lookup.
//   - **No Ordering**: Iteration follows bucket order. Callers needing key
//     order must sort.
//   - **Hash Consistency**: The policy's Hash must agree with its Equal.
//
// # Best Practices
//
//   - Choose the bucket count from the expected key count (1 to 2 keys per
//     bucket keeps chains short)
//   - Share the epoch.Manager with the other indexes of the process
package hashindex

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sys/cpu"

	"github.com/kianostad/lfidx/internal/concurrency/epoch"
	"github.com/kianostad/lfidx/internal/storage/keys"
)

var plog = logger.GetLogger("hashindex")

// ErrInvalidOptions is returned by New for an unusable configuration.
var ErrInvalidOptions = errors.New("invalid hash index options")

// Policy orders and hashes keys.
type Policy[K any] interface {
	keys.Comparator[K]
	keys.Hasher[K]
}

// Options configures an index.
type Options struct {
	// Buckets is the bucket count, a power of 2.
	Buckets uint64
	// MaxDeltaChain is the delta count above which a bucket is consolidated.
	MaxDeltaChain int
	// Unique rejects a second live value for a key.
	Unique bool
}

// DefaultOptions returns 1024 buckets and chains of at most 8 deltas.
func DefaultOptions() Options {
	return Options{Buckets: 1024, MaxDeltaChain: 8}
}

type kind uint8

const (
	kindBase kind = iota
	kindInsert
	kindDelete
)

type entry[K any, V comparable] struct {
	key   K
	value V
}

// node is one immutable record of a bucket chain.
type node[K any, V comparable] struct {
	kind    kind
	key     K
	value   V
	entries []entry[K, V] // base only
	next    *node[K, V]
	size    int // live entries in the bucket
	chain   int // deltas above the base
}

type bucket[K any, V comparable] struct {
	head atomic.Pointer[node[K, V]]
	_    cpu.CacheLinePad
}

// Stats is a snapshot of an index's activity counters.
type Stats struct {
	Inserts        int64
	Deletes        int64
	Lookups        int64
	Scans          int64
	CASRetries     int64
	Consolidations int64
	Entries        int64
}

// Index is a lock-free hash multimap from K to V.
type Index[K any, V comparable] struct {
	policy  Policy[K]
	opts    Options
	epochs  *epoch.Manager
	buckets []bucket[K, V]
	mask    uint64
	pool    sync.Pool
	closed  atomic.Bool

	entries        *xsync.Counter
	inserts        *xsync.Counter
	deletes        *xsync.Counter
	lookups        *xsync.Counter
	scans          *xsync.Counter
	casRetries     *xsync.Counter
	consolidations *xsync.Counter
}

// New creates an empty index. A private epoch manager is created when
// epochs is nil.
func New[K any, V comparable](policy Policy[K], epochs *epoch.Manager, opts Options) (*Index[K, V], error) {
	if policy == nil {
		return nil, errors.Wrap(ErrInvalidOptions, "nil key policy")
	}
	if opts.Buckets == 0 || opts.Buckets&(opts.Buckets-1) != 0 {
		return nil, errors.Wrapf(ErrInvalidOptions, "bucket count %d is not a power of 2", errors.Safe(opts.Buckets))
	}
	if opts.MaxDeltaChain < 1 {
		return nil, errors.Wrapf(ErrInvalidOptions, "max delta chain %d is below 1", errors.Safe(opts.MaxDeltaChain))
	}
	if epochs == nil {
		epochs = epoch.NewManager()
	}

	h := &Index[K, V]{
		policy:         policy,
		opts:           opts,
		epochs:         epochs,
		buckets:        make([]bucket[K, V], opts.Buckets),
		mask:           opts.Buckets - 1,
		entries:        xsync.NewCounter(),
		inserts:        xsync.NewCounter(),
		deletes:        xsync.NewCounter(),
		lookups:        xsync.NewCounter(),
		scans:          xsync.NewCounter(),
		casRetries:     xsync.NewCounter(),
		consolidations: xsync.NewCounter(),
	}
	h.pool.New = func() any { return new(node[K, V]) }
	return h, nil
}

func (h *Index[K, V]) bucketFor(key K) *bucket[K, V] {
	return &h.buckets[h.policy.Hash(key)&h.mask]
}

func (h *Index[K, V]) newDelta(k kind, key K, value V, head *node[K, V]) *node[K, V] {
	d := h.pool.Get().(*node[K, V])
	d.kind = k
	d.key = key
	d.value = value
	d.next = head
	if head != nil {
		d.size = head.size
		d.chain = head.chain + 1
	} else {
		d.size = 0
		d.chain = 1
	}
	return d
}

// release resets n and returns it to the pool. The base slice keeps its
// capacity but drops references to keys and values.
func (h *Index[K, V]) release(n *node[K, V]) {
	entries := n.entries
	clear(entries)
	*n = node[K, V]{entries: entries[:0]}
	h.pool.Put(n)
}

// Insert adds (key, value). It returns false if the pair is already present
// or, for a unique index, if key has any live value.
func (h *Index[K, V]) Insert(key K, value V) bool {
	g := h.epochs.Enter()
	defer g.Exit()
	h.inserts.Inc()

	b := h.bucketFor(key)
	for {
		head := b.head.Load()
		if h.opts.Unique {
			if h.hasKey(head, key) {
				return false
			}
		} else if h.hasPair(head, key, value) {
			return false
		}

		d := h.newDelta(kindInsert, key, value, head)
		d.size++
		if b.head.CompareAndSwap(head, d) {
			h.entries.Inc()
			h.maybeConsolidate(b, d)
			return true
		}
		h.release(d)
		h.casRetries.Inc()
	}
}

// Delete removes (key, value). It returns false if the pair is absent.
func (h *Index[K, V]) Delete(key K, value V) bool {
	g := h.epochs.Enter()
	defer g.Exit()
	h.deletes.Inc()

	b := h.bucketFor(key)
	for {
		head := b.head.Load()
		if !h.hasPair(head, key, value) {
			return false
		}

		d := h.newDelta(kindDelete, key, value, head)
		d.size--
		if b.head.CompareAndSwap(head, d) {
			h.entries.Dec()
			h.maybeConsolidate(b, d)
			return true
		}
		h.release(d)
		h.casRetries.Inc()
	}
}

// Get returns the live values of key in no particular order.
func (h *Index[K, V]) Get(key K) []V {
	g := h.epochs.Enter()
	defer g.Exit()
	h.lookups.Inc()

	var out []V
	h.visit(h.bucketFor(key).head.Load(), key, func(v V) bool {
		out = append(out, v)
		return true
	})
	return out
}

// Contains reports whether key has a live value.
func (h *Index[K, V]) Contains(key K) bool {
	g := h.epochs.Enter()
	defer g.Exit()
	h.lookups.Inc()
	return h.hasKey(h.bucketFor(key).head.Load(), key)
}

// Len returns the number of live entries.
func (h *Index[K, V]) Len() int {
	return int(h.entries.Value())
}

// Size returns the number of buckets in the index.
func (h *Index[K, V]) Size() uint64 {
	return uint64(len(h.buckets))
}

// BucketCount returns the number of live entries in a bucket (for debugging).
func (h *Index[K, V]) BucketCount(bucketIdx uint64) int {
	if bucketIdx >= h.Size() {
		return 0
	}
	g := h.epochs.Enter()
	defer g.Exit()
	if head := h.buckets[bucketIdx].head.Load(); head != nil {
		return head.size
	}
	return 0
}

// Epochs returns the epoch manager reclaiming the index's records.
func (h *Index[K, V]) Epochs() *epoch.Manager {
	return h.epochs
}

// Stats returns a snapshot of the index's counters.
func (h *Index[K, V]) Stats() Stats {
	return Stats{
		Inserts:        h.inserts.Value(),
		Deletes:        h.deletes.Value(),
		Lookups:        h.lookups.Value(),
		Scans:          h.scans.Value(),
		CASRetries:     h.casRetries.Value(),
		Consolidations: h.consolidations.Value(),
		Entries:        h.entries.Value(),
	}
}

// Close marks the index closed.
func (h *Index[K, V]) Close() {
	if h.closed.Swap(true) {
		return
	}
	plog.Debugf("hash index closed with %d entries", h.Len())
}

// Closed reports whether Close was called.
func (h *Index[K, V]) Closed() bool {
	return h.closed.Load()
}

func (h *Index[K, V]) samePair(n *node[K, V], key K, value V) bool {
	return n.value == value && h.policy.Equal(n.key, key)
}

// hasPair reports whether (key, value) is live in the chain. The newest
// delta naming the pair decides.
func (h *Index[K, V]) hasPair(head *node[K, V], key K, value V) bool {
	for n := head; n != nil; n = n.next {
		if n.kind == kindBase {
			for _, e := range n.entries {
				if e.value == value && h.policy.Equal(e.key, key) {
					return true
				}
			}
			return false
		}
		if h.samePair(n, key, value) {
			return n.kind == kindInsert
		}
	}
	return false
}

func (h *Index[K, V]) hasKey(head *node[K, V], key K) bool {
	found := false
	h.visit(head, key, func(V) bool {
		found = true
		return false
	})
	return found
}

// visit calls fn for every live value of key until fn returns false.
func (h *Index[K, V]) visit(head *node[K, V], key K, fn func(V) bool) {
	var decided []V
	seen := func(v V) bool {
		for _, d := range decided {
			if d == v {
				return true
			}
		}
		return false
	}

	for n := head; n != nil; n = n.next {
		if n.kind == kindBase {
			for _, e := range n.entries {
				if h.policy.Equal(e.key, key) && !seen(e.value) {
					if !fn(e.value) {
						return
					}
				}
			}
			return
		}
		if !h.policy.Equal(n.key, key) || seen(n.value) {
			continue
		}
		decided = append(decided, n.value)
		if n.kind == kindInsert && !fn(n.value) {
			return
		}
	}
}

// live flattens a chain into its live entries: surviving base entries first,
// then surviving inserts oldest first.
func (h *Index[K, V]) live(head *node[K, V], dst []entry[K, V]) []entry[K, V] {
	var deltas []*node[K, V]
	n := head
	for ; n != nil && n.kind != kindBase; n = n.next {
		deltas = append(deltas, n)
	}

	// touched reports whether a delta newer than deltas[upto] names the pair.
	touched := func(upto int, key K, value V) bool {
		for _, d := range deltas[:upto] {
			if h.samePair(d, key, value) {
				return true
			}
		}
		return false
	}

	if n != nil {
		for _, e := range n.entries {
			if !touched(len(deltas), e.key, e.value) {
				dst = append(dst, e)
			}
		}
	}
	for i := len(deltas) - 1; i >= 0; i-- {
		d := deltas[i]
		if d.kind == kindInsert && !touched(i, d.key, d.value) {
			dst = append(dst, entry[K, V]{key: d.key, value: d.value})
		}
	}
	return dst
}

// maybeConsolidate folds a long chain into a new base record. Losing the CAS
// is harmless; the next writer tries again.
func (h *Index[K, V]) maybeConsolidate(b *bucket[K, V], head *node[K, V]) {
	if head.chain <= h.opts.MaxDeltaChain {
		return
	}

	base := h.pool.Get().(*node[K, V])
	base.kind = kindBase
	base.entries = h.live(head, base.entries[:0])
	base.size = len(base.entries)
	base.chain = 0
	base.next = nil

	if !b.head.CompareAndSwap(head, base) {
		h.release(base)
		return
	}
	h.consolidations.Inc()

	var old []*node[K, V]
	for n := head; n != nil; n = n.next {
		old = append(old, n)
	}
	h.epochs.Retire(func() {
		for _, n := range old {
			h.release(n)
		}
	})
}
