// Licensed under the MIT License. See LICENSE file in the project root for details.

package bwtree

import (
	"cmp"
	"math/rand"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/kianostad/lfidx/internal/concurrency/epoch"
)

type intOrder struct{}

func (intOrder) Compare(a, b int) int { return cmp.Compare(a, b) }
func (intOrder) Equal(a, b int) bool  { return a == b }

// tinyOptions forces splits, merges and consolidations on small data sets.
func tinyOptions() Options {
	return Options{
		LeafNodeSize:  4,
		InnerNodeSize: 4,
		LeafMergeSize: 2,
		MaxDeltaChain: 2,
	}
}

func newIntTree(t *testing.T, opts Options) *Tree[int, int] {
	t.Helper()
	tree, err := New[int, int](intOrder{}, epoch.NewManager(), opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tree
}

func collect(it *Iterator[int, int]) (ks, vs []int) {
	for it.Next() {
		ks = append(ks, it.Key())
		vs = append(vs, it.Value())
	}
	return ks, vs
}

func TestTreeBasicOperations(t *testing.T) {
	Convey("Given an empty tree", t, func() {
		tree := newIntTree(t, DefaultOptions())

		Convey("Then it is empty", func() {
			So(tree.Get(1), ShouldBeEmpty)
			So(tree.Contains(1), ShouldBeFalse)
			So(tree.Len(), ShouldEqual, 0)
			So(tree.Height(), ShouldEqual, 1)
			ks, _ := collect(tree.Scan(Range[int]{}))
			So(ks, ShouldBeEmpty)
			So(tree.CheckInvariants(), ShouldBeNil)
		})

		Convey("When inserting values under one key", func() {
			So(tree.Insert(7, 1), ShouldBeTrue)
			So(tree.Insert(7, 2), ShouldBeTrue)
			So(tree.Insert(7, 3), ShouldBeTrue)

			Convey("Then all of them are returned in insertion order", func() {
				So(tree.Get(7), ShouldResemble, []int{1, 2, 3})
				So(tree.Len(), ShouldEqual, 3)
			})

			Convey("Then the same pair is rejected", func() {
				So(tree.Insert(7, 2), ShouldBeFalse)
				So(tree.Len(), ShouldEqual, 3)
			})

			Convey("When deleting one pair", func() {
				So(tree.Delete(7, 2), ShouldBeTrue)

				Convey("Then only that pair is gone", func() {
					So(tree.Get(7), ShouldResemble, []int{1, 3})
					So(tree.Delete(7, 2), ShouldBeFalse)
				})

				Convey("Then it can be inserted again", func() {
					So(tree.Insert(7, 2), ShouldBeTrue)
					So(tree.Get(7), ShouldHaveLength, 3)
				})
			})
		})

		Convey("When deleting a missing pair", func() {
			tree.Insert(1, 10)

			Convey("Then the delete reports it", func() {
				So(tree.Delete(1, 11), ShouldBeFalse)
				So(tree.Delete(2, 10), ShouldBeFalse)
				So(tree.Get(1), ShouldResemble, []int{10})
			})
		})
	})
}

func TestTreeUnique(t *testing.T) {
	Convey("Given a unique tree", t, func() {
		opts := DefaultOptions()
		opts.Unique = true
		tree := newIntTree(t, opts)

		So(tree.Insert(5, 50), ShouldBeTrue)

		Convey("Then a second value for the key is rejected", func() {
			So(tree.Insert(5, 51), ShouldBeFalse)
			So(tree.Get(5), ShouldResemble, []int{50})
		})

		Convey("Then the key is free again after a delete", func() {
			So(tree.Delete(5, 50), ShouldBeTrue)
			So(tree.Insert(5, 51), ShouldBeTrue)
			So(tree.Get(5), ShouldResemble, []int{51})
		})
	})
}

func TestTreeOptions(t *testing.T) {
	Convey("Given impossible options", t, func() {
		bad := []Options{
			{LeafNodeSize: 1, InnerNodeSize: 4, MaxDeltaChain: 2},
			{LeafNodeSize: 4, InnerNodeSize: 2, MaxDeltaChain: 2},
			{LeafNodeSize: 4, InnerNodeSize: 4, LeafMergeSize: 3, MaxDeltaChain: 2},
			{LeafNodeSize: 4, InnerNodeSize: 4, LeafMergeSize: -1, MaxDeltaChain: 2},
			{LeafNodeSize: 4, InnerNodeSize: 4, MaxDeltaChain: 0},
		}

		Convey("Then New rejects every one of them", func() {
			for _, o := range bad {
				_, err := New[int, int](intOrder{}, nil, o)
				So(err, ShouldNotBeNil)
			}
		})

		Convey("Then a nil comparator is rejected", func() {
			_, err := New[int, int](nil, nil, DefaultOptions())
			So(err, ShouldNotBeNil)
		})
	})
}

func TestTreeSplitTransparency(t *testing.T) {
	Convey("Given a tree with tiny nodes", t, func() {
		tree := newIntTree(t, tinyOptions())
		const n = 1000

		Convey("When inserting keys in random order", func() {
			for _, k := range rand.New(rand.NewSource(1)).Perm(n) {
				So(tree.Insert(k, k*k), ShouldBeTrue)
			}

			Convey("Then the tree split and grew", func() {
				stats := tree.Stats()
				So(stats.Splits, ShouldBeGreaterThanOrEqualTo, 2)
				So(stats.RootGrows, ShouldBeGreaterThan, 0)
				So(tree.Height(), ShouldBeGreaterThan, 2)
				So(stats.Consolidations, ShouldBeGreaterThan, 0)
			})

			Convey("Then a full scan returns every key exactly once in order", func() {
				ks, vs := collect(tree.Scan(Range[int]{}))
				So(ks, ShouldHaveLength, n)
				for i := range ks {
					So(ks[i], ShouldEqual, i)
					So(vs[i], ShouldEqual, i*i)
				}
			})

			Convey("Then every key is found by a point lookup", func() {
				for k := 0; k < n; k++ {
					So(tree.Get(k), ShouldResemble, []int{k * k})
				}
				So(tree.Len(), ShouldEqual, n)
			})

			Convey("Then the structure is consistent", func() {
				So(tree.CheckInvariants(), ShouldBeNil)
			})
		})
	})
}

func TestTreeMerges(t *testing.T) {
	Convey("Given a tree with tiny nodes holding many keys", t, func() {
		opts := tinyOptions()
		opts.LeafNodeSize = 8
		opts.LeafMergeSize = 4
		tree := newIntTree(t, opts)
		const n = 2000
		for k := 0; k < n; k++ {
			tree.Insert(k, k)
		}

		Convey("When deleting all but every tenth key", func() {
			for _, k := range rand.New(rand.NewSource(2)).Perm(n) {
				if k%10 != 0 {
					So(tree.Delete(k, k), ShouldBeTrue)
				}
			}

			Convey("Then leaves were merged", func() {
				So(tree.Stats().Merges, ShouldBeGreaterThan, 0)
			})

			Convey("Then exactly the remaining keys are scanned", func() {
				ks, _ := collect(tree.Scan(Range[int]{}))
				So(ks, ShouldHaveLength, n/10)
				for i := range ks {
					So(ks[i], ShouldEqual, i*10)
				}
				So(tree.Len(), ShouldEqual, n/10)
			})

			Convey("Then the structure is consistent", func() {
				So(tree.CheckInvariants(), ShouldBeNil)
			})

			Convey("Then the tree accepts new keys in merged ranges", func() {
				for k := 1; k < n; k += 10 {
					So(tree.Insert(k, k), ShouldBeTrue)
				}
				So(tree.Len(), ShouldEqual, n/5)
				So(tree.CheckInvariants(), ShouldBeNil)
			})
		})
	})
}

func TestTreeDuplicateKeysStayTogether(t *testing.T) {
	Convey("Given a tree with tiny leaves", t, func() {
		tree := newIntTree(t, tinyOptions())

		Convey("When one key receives many values among other keys", func() {
			for k := 0; k < 50; k++ {
				tree.Insert(k, 0)
			}
			for v := 1; v <= 40; v++ {
				So(tree.Insert(25, v), ShouldBeTrue)
			}

			Convey("Then all values of the key come back from one lookup", func() {
				So(tree.Get(25), ShouldHaveLength, 41)
			})

			Convey("Then an equality range returns the same values", func() {
				ks, _ := collect(tree.Scan(Range[int]{
					Low: 25, High: 25, HasLow: true, HasHigh: true,
					LowInclusive: true, HighInclusive: true,
				}))
				So(ks, ShouldHaveLength, 41)
			})

			Convey("Then the structure is consistent", func() {
				So(tree.CheckInvariants(), ShouldBeNil)
			})
		})
	})
}

func TestTreeRangeScans(t *testing.T) {
	Convey("Given a tree with keys 0 to 99", t, func() {
		tree := newIntTree(t, tinyOptions())
		for k := 0; k < 100; k++ {
			tree.Insert(k, k)
		}

		Convey("Then inclusive bounds include both ends", func() {
			ks, _ := collect(tree.Scan(Range[int]{
				Low: 10, High: 20, HasLow: true, HasHigh: true,
				LowInclusive: true, HighInclusive: true,
			}))
			So(ks, ShouldHaveLength, 11)
			So(ks[0], ShouldEqual, 10)
			So(ks[10], ShouldEqual, 20)
		})

		Convey("Then exclusive bounds skip both ends", func() {
			ks, _ := collect(tree.Scan(Range[int]{Low: 10, High: 20, HasLow: true, HasHigh: true}))
			So(ks, ShouldHaveLength, 9)
			So(ks[0], ShouldEqual, 11)
			So(ks[8], ShouldEqual, 19)
		})

		Convey("Then an open upper bound runs to the end", func() {
			ks, _ := collect(tree.Scan(Range[int]{Low: 95, HasLow: true, LowInclusive: true}))
			So(ks, ShouldResemble, []int{95, 96, 97, 98, 99})
		})

		Convey("Then an open lower bound starts at the beginning", func() {
			ks, _ := collect(tree.Scan(Range[int]{High: 3, HasHigh: true}))
			So(ks, ShouldResemble, []int{0, 1, 2})
		})

		Convey("Then a descending scan returns the range reversed", func() {
			ks, _ := collect(tree.Scan(Range[int]{
				Low: 40, High: 45, HasLow: true, HasHigh: true,
				LowInclusive: true, HighInclusive: true, Descending: true,
			}))
			So(ks, ShouldResemble, []int{45, 44, 43, 42, 41, 40})
		})

		Convey("Then inverted and empty ranges return nothing", func() {
			ks, _ := collect(tree.Scan(Range[int]{Low: 50, High: 10, HasLow: true, HasHigh: true}))
			So(ks, ShouldBeEmpty)
			ks, _ = collect(tree.Scan(Range[int]{Low: 50, High: 50, HasLow: true, HasHigh: true, LowInclusive: true}))
			So(ks, ShouldBeEmpty)
			ks, _ = collect(tree.Scan(Range[int]{Low: 200, HasLow: true}))
			So(ks, ShouldBeEmpty)
		})

		Convey("Then an abandoned iterator holds no guard", func() {
			it := tree.Scan(Range[int]{})
			So(it.Next(), ShouldBeTrue)
			So(tree.Epochs().ActiveCount(), ShouldEqual, 0)
		})
	})
}

func TestTreeSharedEpochManager(t *testing.T) {
	Convey("Given two trees sharing an epoch manager", t, func() {
		epochs := epoch.NewManager()
		a, err := New[int, int](intOrder{}, epochs, tinyOptions())
		So(err, ShouldBeNil)
		b, err := New[int, int](intOrder{}, epochs, tinyOptions())
		So(err, ShouldBeNil)

		Convey("When both consolidate pages", func() {
			for k := 0; k < 200; k++ {
				a.Insert(k, k)
				b.Insert(k, -k)
			}

			Convey("Then draining reclaims their retired pages", func() {
				So(epochs.Pending(), ShouldBeGreaterThan, 0)
				So(epochs.Drain(), ShouldBeTrue)
				So(epochs.Pending(), ShouldEqual, 0)
				So(a.Get(7), ShouldResemble, []int{7})
				So(b.Get(7), ShouldResemble, []int{-7})
			})
		})

		Convey("Then closing is idempotent", func() {
			a.Close()
			a.Close()
			So(a.Closed(), ShouldBeTrue)
			So(b.Closed(), ShouldBeFalse)
		})
	})
}
