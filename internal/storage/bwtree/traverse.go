// Licensed under the MIT License. See LICENSE file in the project root for details.

package bwtree

import (
	"sort"
)

// probe is a search position: a key, or a position below every key.
type probe[K any] struct {
	key K
	min bool
}

func at[K any](k K) probe[K] { return probe[K]{key: k} }

func leftmost[K any]() probe[K] { return probe[K]{min: true} }

// reaches reports whether the probe is at or above k.
func (t *Tree[K, V]) reaches(p probe[K], k K) bool {
	return !p.min && t.cmp.Compare(p.key, k) >= 0
}

// descend walks from the root to the node at level whose range holds p and
// returns its page id together with the chain head it validated. It returns
// (0, nil) when the tree is not that tall.
//
// A node whose high fence is at or below p is left through its sibling link;
// that is how readers get past a split whose separator has not reached the
// parent yet. A leaf frozen for a merge is helped through the merge and the
// walk restarts from the root.
func (t *Tree[K, V]) descend(p probe[K], level uint32) (uint64, *page[K, V]) {
restart:
	for {
		pid := t.root.Load()
		head := t.table.load(pid)
		if head == nil || head.level < level {
			return 0, nil
		}

		for {
			if head == nil || head.kind == kindRemove {
				t.help(pid, head)
				continue restart
			}
			if !head.low.inf && !t.reaches(p, head.low.key) {
				continue restart
			}
			if !head.high.inf && t.reaches(p, head.high.key) {
				pid = head.sibling
				head = t.table.load(pid)
				continue
			}
			if head.chain > t.opts.MaxDeltaChain && !head.frozen() {
				if fresh := t.consolidate(pid, head); fresh != nil {
					head = fresh
				}
			}
			if head.level == level {
				return pid, head
			}
			pid = t.route(head, p)
			head = t.table.load(pid)
		}
	}
}

// route picks the child of an inner node that covers p. The newest record
// for a separator key decides whether the term exists; among live terms the
// largest one at or below p wins, and the leftmost child covers the rest.
func (t *Tree[K, V]) route(head *page[K, V], p probe[K]) uint64 {
	var buf [16]K
	decided := buf[:0]

	var (
		best    uint64
		bestKey K
		found   bool
	)

	for rec := head; rec != nil; rec = rec.next {
		switch rec.kind {
		case kindSeparator, kindTermDelete:
			if !t.reaches(p, rec.key) || t.contains(decided, rec.key) {
				continue
			}
			decided = append(decided, rec.key)
			if rec.kind == kindSeparator && (!found || t.cmp.Compare(rec.key, bestKey) > 0) {
				best, bestKey, found = rec.child, rec.key, true
			}

		case kindInnerBase:
			i := sort.Search(len(rec.seps), func(i int) bool {
				return !t.reaches(p, rec.seps[i].key)
			}) - 1
			for ; i >= 0; i-- {
				k := rec.seps[i].key
				if found && t.cmp.Compare(k, bestKey) <= 0 {
					break
				}
				if t.contains(decided, k) {
					continue
				}
				return rec.seps[i].child
			}
			if found {
				return best
			}
			return rec.first
		}
	}
	panic("bwtree: inner chain without base page")
}

func (t *Tree[K, V]) contains(ks []K, k K) bool {
	for i := range ks {
		if t.cmp.Equal(ks[i], k) {
			return true
		}
	}
	return false
}

// visit calls fn for every live value stored under key in the leaf chain
// headed by head, until fn returns false. Values from the base come first in
// base order, followed by values inserted through deltas, oldest first.
func (t *Tree[K, V]) visit(head *page[K, V], key K, fn func(V) bool) {
	type decision struct {
		value V
		live  bool
	}
	var buf [8]decision
	decided := buf[:0]
	isDecided := func(v V) bool {
		for i := range decided {
			if decided[i].value == v {
				return true
			}
		}
		return false
	}

	rec := head
	for rec != nil {
		switch rec.kind {
		case kindInsert, kindDelete:
			if t.cmp.Equal(rec.key, key) && !isDecided(rec.value) {
				decided = append(decided, decision{value: rec.value, live: rec.kind == kindInsert})
			}
			rec = rec.next
		case kindMerge:
			if t.cmp.Compare(key, rec.key) >= 0 {
				rec = rec.right
			} else {
				rec = rec.next
			}
		case kindLeafBase:
			i := sort.Search(len(rec.entries), func(i int) bool {
				return t.cmp.Compare(rec.entries[i].key, key) >= 0
			})
			for ; i < len(rec.entries) && t.cmp.Equal(rec.entries[i].key, key); i++ {
				if isDecided(rec.entries[i].value) {
					continue
				}
				if !fn(rec.entries[i].value) {
					return
				}
			}
			rec = nil
		default:
			rec = rec.next
		}
	}

	for i := len(decided) - 1; i >= 0; i-- {
		if decided[i].live && !fn(decided[i].value) {
			return
		}
	}
}

func (t *Tree[K, V]) hasKey(head *page[K, V], key K) bool {
	found := false
	t.visit(head, key, func(V) bool {
		found = true
		return false
	})
	return found
}

func (t *Tree[K, V]) hasPair(head *page[K, V], key K, value V) bool {
	found := false
	t.visit(head, key, func(v V) bool {
		found = v == value
		return !found
	})
	return found
}
