// Licensed under the MIT License. See LICENSE file in the project root for details.

package bwtree

import (
	"runtime"
	"sort"

	"github.com/cockroachdb/errors"
)

// maintain runs the structural follow-up for a chain head this thread just
// installed: consolidation of long chains, splits of oversized nodes and
// merges of underfull leaves. All of it is best effort; losing a race simply
// leaves the work to the next writer that finds the node in the same state.
func (t *Tree[K, V]) maintain(pid uint64, head *page[K, V]) {
	if head.chain > t.opts.MaxDeltaChain {
		if head = t.consolidate(pid, head); head == nil {
			return
		}
	}

	limit := t.opts.InnerNodeSize
	if head.isLeaf() {
		limit = t.opts.LeafNodeSize
	}
	switch {
	case head.size > limit:
		t.split(pid, head)
	case head.isLeaf() && head.size < t.opts.LeafMergeSize:
		t.merge(pid, head)
	}
}

// split moves the upper half of the node into a new right sibling, installs
// a split delta on the node and posts the separator to the parent.
func (t *Tree[K, V]) split(pid uint64, head *page[K, V]) {
	if sep, q, ok := t.installSplit(pid, head); ok {
		t.postSeparator(head.level, sep, q)
	}
}

// installSplit performs the first half of a split: the new right sibling q
// is published and linked from the node through a split delta at sep.
func (t *Tree[K, V]) installSplit(pid uint64, head *page[K, V]) (sep K, q uint64, ok bool) {
	if head.frozen() {
		return sep, 0, false
	}

	right := t.pool.get()
	right.level = head.level
	right.high = head.high
	right.sibling = head.sibling

	var leftSize int
	if head.isLeaf() {
		entries := t.leafEntries(head, nil)
		cut, fits := t.leafSplitPoint(entries)
		if !fits {
			t.pool.put(right)
			return sep, 0, false
		}
		sep = entries[cut].key
		right.kind = kindLeafBase
		right.entries = append(right.entries, entries[cut:]...)
		right.size = len(right.entries)
		leftSize = cut
	} else {
		_, seps := t.innerView(head, nil)
		if len(seps) < 2 {
			t.pool.put(right)
			return sep, 0, false
		}
		cut := len(seps) / 2
		sep = seps[cut].key
		right.kind = kindInnerBase
		right.first = seps[cut].child
		right.seps = append(right.seps, seps[cut+1:]...)
		right.size = len(right.seps) + 1
		leftSize = cut + 1
	}
	right.low = finite(sep)

	q = t.table.alloc()
	t.table.store(q, right)

	d := t.pool.delta(kindSplit, head)
	d.key = sep
	d.child = q
	d.high = finite(sep)
	d.sibling = q
	d.size = leftSize
	if !t.table.cas(pid, head, d) {
		t.table.release(q)
		t.pool.put(right)
		t.pool.put(d)
		t.stats.casRetries.Inc()
		return sep, 0, false
	}

	t.stats.splits.Inc()
	plog.Debugf("split page %d at level %d: %d entries kept, %d moved to page %d",
		pid, head.level, leftSize, right.size, q)
	return sep, q, true
}

// leafSplitPoint picks the first entry of the right half. All entries of one
// key stay in the same leaf, so the median is moved to a key boundary; a
// leaf holding a single distinct key cannot split.
func (t *Tree[K, V]) leafSplitPoint(entries []entry[K, V]) (int, bool) {
	n := len(entries)
	if n < 2 {
		return 0, false
	}
	mid := entries[n/2].key
	cut := sort.Search(n, func(i int) bool {
		return t.cmp.Compare(entries[i].key, mid) >= 0
	})
	if cut == 0 {
		cut = sort.Search(n, func(i int) bool {
			return t.cmp.Compare(entries[i].key, mid) > 0
		})
	}
	return cut, cut > 0 && cut < n
}

// postSeparator adds the index term (sep, q) for a node split at level to
// the level above, growing the tree when the split node has no parent. It
// returns once the term is reachable from the root, or once q no longer
// starts at sep: a root grow may have indexed q and a merge removed it
// again before the term was posted here.
func (t *Tree[K, V]) postSeparator(level uint32, sep K, q uint64) {
	for {
		rootPID := t.root.Load()
		root := t.table.load(rootPID)
		if root.level == level {
			t.growRoot(rootPID, root)
			continue
		}

		ppid, parent := t.descend(at(sep), level+1)
		if parent == nil {
			continue
		}
		if parent.frozen() {
			t.help(ppid, parent)
			continue
		}
		if t.route(parent, at(sep)) == q {
			return
		}
		if !t.startsAt(q, sep) {
			return
		}

		d := t.pool.delta(kindSeparator, parent)
		d.key = sep
		d.child = q
		d.size = parent.size + 1
		if t.table.cas(ppid, parent, d) {
			t.maintain(ppid, d)
			return
		}
		t.pool.put(d)
		t.stats.casRetries.Inc()
	}
}

// startsAt reports whether page pid is a live node whose low fence is sep.
func (t *Tree[K, V]) startsAt(pid uint64, sep K) bool {
	head := t.table.load(pid)
	return head != nil && head.kind != kindRemove && !head.low.inf && t.cmp.Equal(head.low.key, sep)
}

// growRoot installs a new root one level above the current one, indexing
// the old root and every right sibling it has acquired through splits.
func (t *Tree[K, V]) growRoot(rootPID uint64, root *page[K, V]) {
	if root.high.inf {
		return
	}

	nr := t.pool.get()
	nr.kind = kindInnerBase
	nr.level = root.level + 1
	nr.low = bound[K]{inf: true}
	nr.high = bound[K]{inf: true}
	nr.first = rootPID
	for head := root; !head.high.inf; {
		sib := head.sibling
		nr.seps = append(nr.seps, innerEntry[K]{key: head.high.key, child: sib})
		head = t.table.load(sib)
		if head == nil || head.kind == kindRemove {
			t.pool.put(nr)
			t.help(sib, head)
			return
		}
	}
	nr.size = len(nr.seps) + 1

	pid := t.table.alloc()
	t.table.store(pid, nr)
	if !t.root.CompareAndSwap(rootPID, pid) {
		t.table.release(pid)
		t.pool.put(nr)
		return
	}

	t.stats.rootGrows.Inc()
	plog.Debugf("tree grew to height %d, root page %d", nr.level+1, pid)
}

// merge folds an underfull leaf R into its left neighbour L.
//
// The parent P is frozen with an abort delta naming R, so no other thread
// can split P, post to it or start another merge below it while R is taken
// apart. With P frozen the merge proceeds as:
//
//  1. check that R is indexed by a term of P other than its leftmost child;
//  2. freeze R with a remove delta that points back at P and its abort
//     delta; from here on the merge is committed;
//  3. install a merge delta on L that extends L's range over R's and links
//     R's frozen chain into L's;
//  4. replace the abort delta on P with a term delete for R, which unfreezes
//     P and routes R's range to L.
//
// Steps 3 and 4 only need the remove delta, so any thread that runs into
// the frozen R or P finishes them instead of waiting. R's remove record and
// page id are retired by the thread whose term delete lands.
func (t *Tree[K, V]) merge(rpid uint64, head *page[K, V]) {
	if remove := t.freeze(rpid, head); remove != nil {
		t.completeMerge(rpid, remove)
	}
}

// freeze runs steps 1 and 2 of a merge and returns the installed remove
// delta, or nil if the merge did not start. Before the remove delta lands
// only this thread touches P's abort delta.
func (t *Tree[K, V]) freeze(rpid uint64, head *page[K, V]) *page[K, V] {
	if head.frozen() || head.low.inf || rpid == t.root.Load() {
		return nil
	}
	low := head.low.key

	ppid, parent := t.descend(at(low), 1)
	if parent == nil || parent.frozen() {
		return nil
	}
	abort := t.pool.delta(kindAbort, parent)
	abort.key = low
	abort.child = rpid
	if !t.table.cas(ppid, parent, abort) {
		t.pool.put(abort)
		return nil
	}
	unfreeze := func() {
		if !t.table.cas(ppid, abort, parent) {
			panic(errors.AssertionFailedf("frozen page %d changed under merge", errors.Safe(ppid)))
		}
		t.retire(abort)
	}

	lpid, ok := t.leftOf(parent, low, rpid)
	if !ok {
		unfreeze()
		return nil
	}
	if t.table.load(lpid).size+head.size > t.opts.LeafNodeSize {
		unfreeze()
		return nil
	}

	remove := t.pool.delta(kindRemove, head)
	remove.child = ppid
	remove.right = abort
	if !t.table.cas(rpid, head, remove) {
		t.pool.put(remove)
		unfreeze()
		return nil
	}
	return remove
}

// leftOf returns the child of the inner chain head indexed just before the
// term (low, rpid), or false if no such term exists or it is the first.
func (t *Tree[K, V]) leftOf(head *page[K, V], low K, rpid uint64) (uint64, bool) {
	first, seps := t.innerView(head, nil)
	i := sort.Search(len(seps), func(i int) bool {
		return t.cmp.Compare(seps[i].key, low) >= 0
	})
	if i == len(seps) || !t.cmp.Equal(seps[i].key, low) || seps[i].child != rpid {
		return 0, false
	}
	if i == 0 {
		return first, true
	}
	return seps[i-1].child, true
}

// completeMerge runs steps 3 and 4 of the merge that froze leaf rpid with
// remove. Concurrent callers race on the same two CASes; whatever state they
// find, each step is taken exactly once.
func (t *Tree[K, V]) completeMerge(rpid uint64, remove *page[K, V]) {
	ppid, abort := remove.child, remove.right
	if t.table.load(ppid) != abort {
		return
	}
	parent, head := abort.next, remove.next
	low := remove.low.key

	lpid, ok := t.leftOf(parent, low, rpid)
	if !ok {
		panic(errors.AssertionFailedf("frozen page %d lost the term of page %d",
			errors.Safe(ppid), errors.Safe(rpid)))
	}
	for {
		left := t.table.load(lpid)
		if !left.high.inf && t.cmp.Compare(left.high.key, low) < 0 {
			lpid = left.sibling
			continue
		}
		if left.high.inf || !t.cmp.Equal(left.high.key, low) {
			// Another thread installed the merge delta.
			break
		}
		if left.sibling != rpid {
			panic(errors.AssertionFailedf("page %d has no left neighbour below page %d",
				errors.Safe(rpid), errors.Safe(ppid)))
		}
		md := t.pool.delta(kindMerge, left)
		md.key = low
		md.child = rpid
		md.right = head
		md.high = head.high
		md.sibling = head.sibling
		md.size = left.size + head.size
		md.chain = left.chain + 1 + head.chain
		if t.table.cas(lpid, left, md) {
			break
		}
		t.pool.put(md)
		t.stats.casRetries.Inc()
	}

	td := t.pool.delta(kindTermDelete, parent)
	td.key = low
	td.child = rpid
	td.size = parent.size - 1
	if !t.table.cas(ppid, abort, td) {
		t.pool.put(td)
		return
	}
	t.retire(abort)

	t.stats.merges.Inc()
	plog.Debugf("merged page %d into page %d", rpid, lpid)

	table, pool := t.table, t.pool
	t.epochs.Retire(func() {
		table.release(rpid)
		pool.put(remove)
	})
}

// help moves the merge that froze head, the chain head of pid, past the
// point where it blocks others. A parent frozen by a merge that has not
// committed yet is only yielded on; its merger is one CAS away from either
// committing or unfreezing it.
func (t *Tree[K, V]) help(pid uint64, head *page[K, V]) {
	switch {
	case head == nil:
	case head.kind == kindRemove:
		t.completeMerge(pid, head)
		return
	case head.kind == kindAbort:
		if r := t.table.load(head.child); r != nil && r.kind == kindRemove && r.right == head {
			t.completeMerge(head.child, r)
			return
		}
	}
	runtime.Gosched()
}
