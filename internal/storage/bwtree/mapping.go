// Licensed under the MIT License. See LICENSE file in the project root for details.

package bwtree

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

const (
	chunkBits = 12
	chunkSize = 1 << chunkBits
	chunkMask = chunkSize - 1
	maxChunks = 1 << 12
)

type chunk[K any, V comparable] [chunkSize]atomic.Pointer[page[K, V]]

// freePID is a node of the lock-free free list. Nodes are never reused, so
// the garbage collector rules out ABA on the list head.
type freePID struct {
	pid  uint64
	next *freePID
}

// mappingTable maps stable page ids to chain heads. Page id 0 is reserved
// as "no page". Chunks are allocated lazily and never freed.
type mappingTable[K any, V comparable] struct {
	chunks [maxChunks]atomic.Pointer[chunk[K, V]]

	_    cpu.CacheLinePad
	next atomic.Uint64
	_    cpu.CacheLinePad
	free atomic.Pointer[freePID]

	live atomic.Int64
}

func newMappingTable[K any, V comparable]() *mappingTable[K, V] {
	return &mappingTable[K, V]{}
}

func (m *mappingTable[K, V]) slot(pid uint64) *atomic.Pointer[page[K, V]] {
	c := m.chunks[pid>>chunkBits].Load()
	return &c[pid&chunkMask]
}

// alloc reserves a page id, reusing a released one when possible.
func (m *mappingTable[K, V]) alloc() uint64 {
	m.live.Add(1)
	for {
		head := m.free.Load()
		if head == nil {
			break
		}
		if m.free.CompareAndSwap(head, head.next) {
			return head.pid
		}
	}

	pid := m.next.Add(1)
	ci := pid >> chunkBits
	if ci >= maxChunks {
		panic("bwtree: mapping table exhausted")
	}
	if m.chunks[ci].Load() == nil {
		m.chunks[ci].CompareAndSwap(nil, new(chunk[K, V]))
	}
	return pid
}

// release returns pid to the free list. The caller guarantees that nothing
// can still reach it, either because it was never published or because its
// epoch has drained.
func (m *mappingTable[K, V]) release(pid uint64) {
	m.slot(pid).Store(nil)
	m.live.Add(-1)
	n := &freePID{pid: pid}
	for {
		head := m.free.Load()
		n.next = head
		if m.free.CompareAndSwap(head, n) {
			return
		}
	}
}

func (m *mappingTable[K, V]) load(pid uint64) *page[K, V] {
	return m.slot(pid).Load()
}

func (m *mappingTable[K, V]) store(pid uint64, p *page[K, V]) {
	m.slot(pid).Store(p)
}

func (m *mappingTable[K, V]) cas(pid uint64, old, new *page[K, V]) bool {
	return m.slot(pid).CompareAndSwap(old, new)
}

// pages returns the number of page ids in use.
func (m *mappingTable[K, V]) pages() int64 {
	return m.live.Load()
}
