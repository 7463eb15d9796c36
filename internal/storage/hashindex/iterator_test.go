// Licensed under the MIT License. See LICENSE file in the project root for details.

package hashindex

import (
	"slices"
	"testing"
)

func TestIteratorEmptyIndex(t *testing.T) {
	t.Parallel()
	index := newIndex(t, DefaultOptions())

	it := index.NewIterator()
	if it.Next() {
		t.Error("Expected no entries in an empty index")
	}
}

func TestIteratorVisitsEveryLiveEntry(t *testing.T) {
	t.Parallel()
	index := newIndex(t, Options{Buckets: 8, MaxDeltaChain: 3})

	for k := 0; k < 100; k++ {
		index.Insert(k, k*10)
	}
	for k := 0; k < 100; k += 3 {
		index.Delete(k, k*10)
	}

	var got []int
	it := index.NewIterator()
	for it.Next() {
		if it.Value() != it.Key()*10 {
			t.Fatalf("value %d does not belong to key %d", it.Value(), it.Key())
		}
		got = append(got, it.Key())
	}
	slices.Sort(got)

	var want []int
	for k := 0; k < 100; k++ {
		if k%3 != 0 {
			want = append(want, k)
		}
	}
	if !slices.Equal(got, want) {
		t.Errorf("iterated keys %v, want %v", got, want)
	}
}

func TestIteratorReset(t *testing.T) {
	t.Parallel()
	index := newIndex(t, DefaultOptions())
	for k := 0; k < 10; k++ {
		index.Insert(k, k)
	}

	it := index.NewIterator()
	first := 0
	for it.Next() {
		first++
	}

	it.Reset()
	second := 0
	for it.Next() {
		second++
	}

	if first != 10 || second != 10 {
		t.Errorf("Expected 10 entries on both passes, got %d and %d", first, second)
	}
	if index.Stats().Scans != 1 {
		t.Errorf("Expected one scan recorded, got %d", index.Stats().Scans)
	}
}
