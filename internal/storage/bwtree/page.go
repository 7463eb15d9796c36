// Licensed under the MIT License. See LICENSE file in the project root for details.

package bwtree

// kind tags a page record. A logical node is a chain of records ending in a
// base page; everything above the base is a delta.
type kind uint8

const (
	kindLeafBase   kind = iota // leaf: sorted entries
	kindInnerBase              // first + seps
	kindInsert                 // leaf: (key, value) added
	kindDelete                 // leaf: (key, value) removed
	kindSplit                  // keys >= key moved to child; high and sibling shrink
	kindMerge                  // leaf: right node (child, right) absorbed at key
	kindRemove                 // leaf: frozen while merged left; child is the parent, right its abort
	kindSeparator              // inner: index term (key, child) added
	kindTermDelete             // inner: index term (key, child) removed
	kindAbort                  // inner: frozen while child at key merges into its left neighbour
)

func (k kind) String() string {
	switch k {
	case kindLeafBase:
		return "leaf"
	case kindInnerBase:
		return "inner"
	case kindInsert:
		return "insert"
	case kindDelete:
		return "delete"
	case kindSplit:
		return "split"
	case kindMerge:
		return "merge"
	case kindRemove:
		return "remove"
	case kindSeparator:
		return "separator"
	case kindTermDelete:
		return "term-delete"
	case kindAbort:
		return "abort"
	}
	return "unknown"
}

// bound is a node fence key. For low fences inf means minus infinity, for
// high fences plus infinity.
type bound[K any] struct {
	key K
	inf bool
}

func finite[K any](k K) bound[K] { return bound[K]{key: k} }

type entry[K any, V comparable] struct {
	key   K
	value V
}

type innerEntry[K any] struct {
	key   K
	child uint64
}

// page is one immutable record of a node's chain. Every record caches the
// node state as of itself, so the chain head alone answers range and size
// questions. Nothing in a page changes after it has been published to the
// mapping table; pages are reused only after epoch reclamation.
type page[K any, V comparable] struct {
	kind kind
	next *page[K, V]

	level   uint32
	low     bound[K]
	high    bound[K]
	sibling uint64 // right neighbour, 0 if none
	size    int    // live entries (leaf) or children (inner)
	chain   int    // records above the base

	key   K
	value V
	child uint64
	right *page[K, V] // merge: chain of the absorbed node; remove: the parent's abort

	entries []entry[K, V]   // leaf base
	first   uint64          // inner base: leftmost child
	seps    []innerEntry[K] // inner base: sorted terms above first
}

func (p *page[K, V]) isLeaf() bool { return p.level == 0 }

// frozen reports whether writers must leave this head alone. Threads that
// find a frozen head help the merge along instead of waiting for it.
func (p *page[K, V]) frozen() bool {
	return p.kind == kindRemove || p.kind == kindAbort
}
