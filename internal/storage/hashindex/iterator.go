// Licensed under the MIT License. See LICENSE file in the project root for details.

package hashindex

// Iterator walks every live entry bucket by bucket. The live entries of one
// bucket are copied under an epoch guard, so entries inserted or deleted in a
// bucket the iterator has already passed are not seen, and an abandoned
// iterator holds no guard.
type Iterator[K any, V comparable] struct {
	index     *Index[K, V]
	bucketIdx uint64
	buf       []entry[K, V]
	pos       int
	cur       entry[K, V]
}

// NewIterator creates an iterator positioned before the first entry.
func (h *Index[K, V]) NewIterator() *Iterator[K, V] {
	h.scans.Inc()
	return &Iterator[K, V]{index: h}
}

// Next advances the iterator to the next entry.
func (it *Iterator[K, V]) Next() bool {
	for it.pos >= len(it.buf) {
		if it.bucketIdx >= it.index.Size() {
			return false
		}
		it.loadBucket()
	}
	it.cur = it.buf[it.pos]
	it.pos++
	return true
}

func (it *Iterator[K, V]) loadBucket() {
	h := it.index
	g := h.epochs.Enter()
	head := h.buckets[it.bucketIdx].head.Load()
	it.buf = it.buf[:0]
	if head != nil {
		it.buf = h.live(head, it.buf)
	}
	g.Exit()

	it.bucketIdx++
	it.pos = 0
}

// Key returns the current key.
func (it *Iterator[K, V]) Key() K {
	return it.cur.key
}

// Value returns the current value.
func (it *Iterator[K, V]) Value() V {
	return it.cur.value
}

// Reset rewinds the iterator to the first bucket.
func (it *Iterator[K, V]) Reset() {
	it.bucketIdx = 0
	it.buf = it.buf[:0]
	it.pos = 0
}
