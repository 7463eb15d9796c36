// Licensed under the MIT License. See LICENSE file in the project root for details.

package bwtree

import (
	"sort"
)

// leafEntries replays the leaf chain headed by head into dst and returns the
// node's sorted live entries. Equal keys keep insertion order.
func (t *Tree[K, V]) leafEntries(head *page[K, V], dst []entry[K, V]) []entry[K, V] {
	var buf [16]*page[K, V]
	deltas := buf[:0]

	rec := head
	for rec.kind != kindLeafBase {
		deltas = append(deltas, rec)
		rec = rec.next
	}
	out := append(dst[:0], rec.entries...)

	for i := len(deltas) - 1; i >= 0; i-- {
		d := deltas[i]
		switch d.kind {
		case kindInsert:
			j := sort.Search(len(out), func(j int) bool {
				return t.cmp.Compare(out[j].key, d.key) > 0
			})
			out = append(out, entry[K, V]{})
			copy(out[j+1:], out[j:])
			out[j] = entry[K, V]{key: d.key, value: d.value}

		case kindDelete:
			j := sort.Search(len(out), func(j int) bool {
				return t.cmp.Compare(out[j].key, d.key) >= 0
			})
			for ; j < len(out) && t.cmp.Equal(out[j].key, d.key); j++ {
				if out[j].value == d.value {
					out = append(out[:j], out[j+1:]...)
					break
				}
			}

		case kindSplit:
			j := sort.Search(len(out), func(j int) bool {
				return t.cmp.Compare(out[j].key, d.key) >= 0
			})
			clear(out[j:])
			out = out[:j]

		case kindMerge:
			out = append(out, t.leafEntries(d.right, nil)...)
		}
	}
	return out
}

// innerView replays the inner chain headed by head into its leftmost child
// and sorted index terms.
func (t *Tree[K, V]) innerView(head *page[K, V], dst []innerEntry[K]) (uint64, []innerEntry[K]) {
	var buf [16]*page[K, V]
	deltas := buf[:0]

	rec := head
	for rec.kind != kindInnerBase {
		deltas = append(deltas, rec)
		rec = rec.next
	}
	first := rec.first
	out := append(dst[:0], rec.seps...)

	for i := len(deltas) - 1; i >= 0; i-- {
		d := deltas[i]
		j := sort.Search(len(out), func(j int) bool {
			return t.cmp.Compare(out[j].key, d.key) >= 0
		})
		switch d.kind {
		case kindSeparator:
			if j < len(out) && t.cmp.Equal(out[j].key, d.key) {
				out[j].child = d.child
				continue
			}
			out = append(out, innerEntry[K]{})
			copy(out[j+1:], out[j:])
			out[j] = innerEntry[K]{key: d.key, child: d.child}

		case kindTermDelete:
			if j < len(out) && t.cmp.Equal(out[j].key, d.key) {
				out = append(out[:j], out[j+1:]...)
			}

		case kindSplit:
			clear(out[j:])
			out = out[:j]
		}
	}
	return first, out
}

// consolidate replaces the chain headed by head with a single base page
// holding the same logical content. It returns the new head, or nil if
// another thread changed the chain first. The old records are retired.
func (t *Tree[K, V]) consolidate(pid uint64, head *page[K, V]) *page[K, V] {
	if head.frozen() {
		return nil
	}

	base := t.pool.get()
	base.level = head.level
	base.low = head.low
	base.high = head.high
	base.sibling = head.sibling
	if head.isLeaf() {
		base.kind = kindLeafBase
		base.entries = t.leafEntries(head, base.entries)
		base.size = len(base.entries)
	} else {
		base.kind = kindInnerBase
		base.first, base.seps = t.innerView(head, base.seps)
		base.size = len(base.seps) + 1
	}

	if !t.table.cas(pid, head, base) {
		t.pool.put(base)
		return nil
	}

	t.stats.consolidations.Inc()
	t.retireChain(head)
	return base
}

// retireChain hands every record reachable from head, absorbed chains
// included, to the epoch manager.
func (t *Tree[K, V]) retireChain(head *page[K, V]) {
	var recs []*page[K, V]
	var collect func(*page[K, V])
	collect = func(p *page[K, V]) {
		for ; p != nil; p = p.next {
			recs = append(recs, p)
			if p.kind == kindMerge {
				collect(p.right)
			}
		}
	}
	collect(head)
	t.retire(recs...)
}

// retire hands unlinked records to the epoch manager.
func (t *Tree[K, V]) retire(recs ...*page[K, V]) {
	pool := t.pool
	t.epochs.Retire(func() {
		for _, p := range recs {
			pool.put(p)
		}
	})
}
