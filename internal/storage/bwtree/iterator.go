// Licensed under the MIT License. See LICENSE file in the project root for details.

package bwtree

import (
	"slices"
)

// Range selects the keys a scan visits. Without HasLow the scan starts at
// the smallest key; without HasHigh it runs to the largest.
type Range[K any] struct {
	Low           K
	High          K
	HasLow        bool
	HasHigh       bool
	LowInclusive  bool
	HighInclusive bool
	Descending    bool
}

// Iterator walks a Range leaf by leaf. Each leaf is copied while an epoch
// guard is held and the guard is released before the entries are handed
// out, so an abandoned iterator holds nothing. The next leaf is located by
// descending again from the root with the previous leaf's high fence, so
// concurrent splits and merges never make it skip or repeat a key.
//
// Descending scans collect the ascending walk and return it reversed.
type Iterator[K any, V comparable] struct {
	t *Tree[K, V]
	r Range[K]

	from     K
	fromSet  bool
	fromIncl bool

	buf     []entry[K, V]
	pos     int
	cur     entry[K, V]
	done    bool
	drained bool
}

// Scan returns an iterator over r.
func (t *Tree[K, V]) Scan(r Range[K]) *Iterator[K, V] {
	t.stats.scans.Inc()
	it := &Iterator[K, V]{
		t:        t,
		r:        r,
		from:     r.Low,
		fromSet:  r.HasLow,
		fromIncl: r.LowInclusive,
	}
	if r.HasLow && r.HasHigh {
		c := t.cmp.Compare(r.Low, r.High)
		if c > 0 || (c == 0 && !(r.LowInclusive && r.HighInclusive)) {
			it.done = true
		}
	}
	return it
}

// Next advances to the next entry and reports whether there is one.
func (it *Iterator[K, V]) Next() bool {
	if it.r.Descending && !it.drained {
		it.drain()
	}
	for it.pos >= len(it.buf) {
		if it.done {
			return false
		}
		it.load()
	}
	it.cur = it.buf[it.pos]
	it.pos++
	return true
}

// Key returns the current entry's key.
func (it *Iterator[K, V]) Key() K {
	return it.cur.key
}

// Value returns the current entry's value.
func (it *Iterator[K, V]) Value() V {
	return it.cur.value
}

func (it *Iterator[K, V]) load() {
	t := it.t
	g := t.epochs.Enter()
	defer g.Exit()

	p := leftmost[K]()
	if it.fromSet {
		p = at(it.from)
	}
	_, head := t.descend(p, 0)
	entries := t.leafEntries(head, it.buf[:0])

	n := 0
	for _, e := range entries {
		if it.before(e.key) {
			continue
		}
		if it.beyond(e.key) {
			it.done = true
			break
		}
		entries[n] = e
		n++
	}
	clear(entries[n:])
	it.buf = entries[:n]
	it.pos = 0

	if head.high.inf || it.beyond(head.high.key) {
		it.done = true
		return
	}
	it.from, it.fromSet, it.fromIncl = head.high.key, true, true
}

func (it *Iterator[K, V]) drain() {
	var all []entry[K, V]
	for !it.done {
		it.load()
		all = append(all, it.buf...)
	}
	slices.Reverse(all)
	it.buf = all
	it.pos = 0
	it.drained = true
}

func (it *Iterator[K, V]) before(k K) bool {
	if !it.fromSet {
		return false
	}
	c := it.t.cmp.Compare(k, it.from)
	return c < 0 || (c == 0 && !it.fromIncl)
}

func (it *Iterator[K, V]) beyond(k K) bool {
	if !it.r.HasHigh {
		return false
	}
	c := it.t.cmp.Compare(k, it.r.High)
	return c > 0 || (c == 0 && !it.r.HighInclusive)
}
