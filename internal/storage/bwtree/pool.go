// Licensed under the MIT License. See LICENSE file in the project root for details.

package bwtree

import (
	"sync"
)

// pagePool provides object pooling for page records to reduce allocations.
// A page may only be put back once it is unreachable: either it was never
// published, or the epoch it was retired in has drained.
type pagePool[K any, V comparable] struct {
	pool sync.Pool
}

func newPagePool[K any, V comparable]() *pagePool[K, V] {
	return &pagePool[K, V]{
		pool: sync.Pool{
			New: func() interface{} {
				return &page[K, V]{}
			},
		},
	}
}

func (p *pagePool[K, V]) get() *page[K, V] {
	return p.pool.Get().(*page[K, V])
}

// delta returns a record of kind k on top of next, inheriting next's cached
// node state.
func (p *pagePool[K, V]) delta(k kind, next *page[K, V]) *page[K, V] {
	d := p.get()
	d.kind = k
	d.next = next
	d.level = next.level
	d.low = next.low
	d.high = next.high
	d.sibling = next.sibling
	d.size = next.size
	d.chain = next.chain + 1
	return d
}

// put resets pg and returns it to the pool. Base slices keep their
// capacity but drop references to keys and values.
func (p *pagePool[K, V]) put(pg *page[K, V]) {
	entries := pg.entries
	clear(entries)
	seps := pg.seps
	clear(seps)

	*pg = page[K, V]{}
	pg.entries = entries[:0]
	pg.seps = seps[:0]

	p.pool.Put(pg)
}
