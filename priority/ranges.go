// Package priority implements per-class sorted disjoint index ranges, used
// to classify torrent chunk indices into OFF/NORMAL/HIGH priority tiers.
//
// Containment queries are backed by a google/btree range tree per class:
// ranges are keyed by their Begin, so "does this class contain index i" is
// answered by locating the last range with Begin <= i and checking whether
// i < End.
package priority

import (
	"fmt"

	"github.com/google/btree"
)

// Class is a torrent-wide priority tier. Indices not present in any class's
// ranges default to Normal priority elsewhere in the engine; Off explicitly
// excludes an index from selection.
type Class int

const (
	Off Class = iota
	Normal
	High
	numClasses
)

func (c Class) String() string {
	switch c {
	case Off:
		return "OFF"
	case Normal:
		return "NORMAL"
	case High:
		return "HIGH"
	default:
		return fmt.Sprintf("Class(%d)", int(c))
	}
}

// Range is a half-open index range [Begin, End).
type Range struct {
	Begin, End int
}

func (r Range) contains(i int) bool { return i >= r.Begin && i < r.End }

func rangeLess(a, b Range) bool { return a.Begin < b.Begin }

// Ranges holds the three disjoint per-class range sets for one torrent.
// The zero value is not usable; construct with New.
type Ranges struct {
	trees [numClasses]*btree.BTreeG[Range]
}

// New returns an empty Ranges.
func New() *Ranges {
	r := &Ranges{}
	for i := range r.trees {
		r.trees[i] = btree.NewG(32, rangeLess)
	}
	return r
}

// Insert adds a half-open range [begin, end) to class. Callers guarantee
// that inserts for a given class arrive in increasing, non-overlapping
// order; Insert coalesces a new range into the immediately preceding one
// when they are contiguous or overlapping, matching the reference
// implementation's append-or-extend behavior.
func (r *Ranges) Insert(class Class, begin, end int) {
	if begin >= end {
		return
	}
	t := r.trees[class]
	var prev Range
	var havePrev bool
	t.DescendLessOrEqual(Range{Begin: begin}, func(item Range) bool {
		prev = item
		havePrev = true
		return false
	})
	if havePrev && prev.End >= begin {
		if end > prev.End {
			t.Delete(prev)
			prev.End = end
			t.ReplaceOrInsert(prev)
		}
		return
	}
	t.ReplaceOrInsert(Range{Begin: begin, End: end})
}

// Find returns the range containing index and true, or the zero Range and
// false if class has no range covering index (the "past-end sentinel").
func (r *Ranges) Find(class Class, index int) (Range, bool) {
	t := r.trees[class]
	var found Range
	var ok bool
	t.DescendLessOrEqual(Range{Begin: index}, func(item Range) bool {
		if item.contains(index) {
			found, ok = item, true
		}
		return false
	})
	return found, ok
}

// Has reports whether class contains index, in O(log n).
func (r *Ranges) Has(class Class, index int) bool {
	_, ok := r.Find(class, index)
	return ok
}

// Clear empties all three classes.
func (r *Ranges) Clear() {
	for i := range r.trees {
		r.trees[i].Clear(false)
	}
}

// ClassOf returns the class containing index, defaulting to Normal if no
// class's ranges mention it (the reference semantics: priority ranges only
// ever need to carve out the exceptional OFF/HIGH subsets, with everything
// else implicitly NORMAL).
func (r *Ranges) ClassOf(index int) Class {
	if r.Has(Off, index) {
		return Off
	}
	if r.Has(High, index) {
		return High
	}
	return Normal
}

// Len returns the number of disjoint ranges currently stored for class,
// mostly useful for tests and diagnostics.
func (r *Ranges) Len(class Class) int {
	return r.trees[class].Len()
}

// Scan calls f for every range in class in increasing Begin order, stopping
// early if f returns false.
func (r *Ranges) Scan(class Class, f func(Range) bool) {
	r.trees[class].Ascend(func(item Range) bool {
		return f(item)
	})
}
