// Licensed under the MIT License. See LICENSE file in the project root for details.

package bwtree

import (
	"github.com/cockroachdb/errors"
)

// CheckInvariants walks the whole tree and verifies fences, ordering, sizes
// and the child partitioning of every inner node. It expects a quiescent
// tree: in-flight structure changes are reported as violations.
func (t *Tree[K, V]) CheckInvariants() error {
	g := t.epochs.Enter()
	defer g.Exit()

	pid := t.root.Load()
	root := t.table.load(pid)
	if root == nil {
		return errors.Newf("root page %d is empty", errors.Safe(pid))
	}
	inf := bound[K]{inf: true}
	return t.checkNode(pid, root.level, inf, inf)
}

func (t *Tree[K, V]) checkNode(pid uint64, level uint32, low, high bound[K]) error {
	head := t.table.load(pid)
	switch {
	case head == nil:
		return errors.Newf("page %d is empty", errors.Safe(pid))
	case head.frozen():
		return errors.Newf("page %d is frozen (%s)", errors.Safe(pid), errors.Safe(head.kind.String()))
	case head.level != level:
		return errors.Newf("page %d at level %d, expected %d", errors.Safe(pid), errors.Safe(head.level), errors.Safe(level))
	case !t.sameBound(head.low, low) || !t.sameBound(head.high, high):
		return errors.Newf("page %d fences disagree with its parent", errors.Safe(pid))
	case !high.inf && head.sibling == 0:
		return errors.Newf("page %d has a high fence but no sibling", errors.Safe(pid))
	}

	if head.isLeaf() {
		return t.checkLeaf(pid, head)
	}

	first, seps := t.innerView(head, nil)
	if head.size != len(seps)+1 {
		return errors.Newf("page %d caches size %d, holds %d children",
			errors.Safe(pid), errors.Safe(head.size), errors.Safe(len(seps)+1))
	}
	for i := range seps {
		if !t.inside(seps[i].key, low, high) || (!low.inf && t.cmp.Equal(seps[i].key, low.key)) {
			return errors.Newf("page %d separator %d outside its fences", errors.Safe(pid), errors.Safe(i))
		}
		if i > 0 && t.cmp.Compare(seps[i-1].key, seps[i].key) >= 0 {
			return errors.Newf("page %d separators out of order at %d", errors.Safe(pid), errors.Safe(i))
		}
	}

	childLow, child := low, first
	for i := 0; i <= len(seps); i++ {
		childHigh := high
		if i < len(seps) {
			childHigh = finite(seps[i].key)
		}
		if err := t.checkNode(child, level-1, childLow, childHigh); err != nil {
			return err
		}
		if i < len(seps) {
			childLow, child = childHigh, seps[i].child
		}
	}
	return nil
}

func (t *Tree[K, V]) checkLeaf(pid uint64, head *page[K, V]) error {
	entries := t.leafEntries(head, nil)
	if head.size != len(entries) {
		return errors.Newf("leaf %d caches size %d, holds %d entries",
			errors.Safe(pid), errors.Safe(head.size), errors.Safe(len(entries)))
	}
	for i := range entries {
		if !t.inside(entries[i].key, head.low, head.high) {
			return errors.Newf("leaf %d entry %d outside its fences", errors.Safe(pid), errors.Safe(i))
		}
		if i == 0 {
			continue
		}
		c := t.cmp.Compare(entries[i-1].key, entries[i].key)
		switch {
		case c > 0:
			return errors.Newf("leaf %d entries out of order at %d", errors.Safe(pid), errors.Safe(i))
		case c == 0 && t.opts.Unique:
			return errors.Newf("leaf %d holds a duplicate key at %d", errors.Safe(pid), errors.Safe(i))
		}
		for j := i - 1; j >= 0 && t.cmp.Equal(entries[j].key, entries[i].key); j-- {
			if entries[j].value == entries[i].value {
				return errors.Newf("leaf %d holds a duplicate pair at %d", errors.Safe(pid), errors.Safe(i))
			}
		}
	}
	return nil
}

func (t *Tree[K, V]) sameBound(a, b bound[K]) bool {
	if a.inf || b.inf {
		return a.inf == b.inf
	}
	return t.cmp.Equal(a.key, b.key)
}

func (t *Tree[K, V]) inside(k K, low, high bound[K]) bool {
	if !low.inf && t.cmp.Compare(k, low.key) < 0 {
		return false
	}
	return high.inf || t.cmp.Compare(k, high.key) < 0
}
