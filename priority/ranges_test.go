package priority

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestInsertAndFind(t *testing.T) {
	c := qt.New(t)
	r := New()
	r.Insert(High, 10, 20)
	r.Insert(High, 20, 25) // contiguous, coalesces
	r.Insert(High, 100, 110)

	c.Assert(r.Has(High, 15), qt.IsTrue)
	c.Assert(r.Has(High, 22), qt.IsTrue)
	c.Assert(r.Has(High, 9), qt.IsFalse)
	c.Assert(r.Has(High, 25), qt.IsFalse)
	c.Assert(r.Len(High), qt.Equals, 2)

	found, ok := r.Find(High, 24)
	c.Assert(ok, qt.IsTrue)
	c.Assert(found, qt.Equals, Range{Begin: 10, End: 25})

	_, ok = r.Find(High, 1000)
	c.Assert(ok, qt.IsFalse)
}

func TestIndexBelongsToAtMostOneClass(t *testing.T) {
	c := qt.New(t)
	r := New()
	r.Insert(Off, 0, 5)
	r.Insert(High, 5, 10)
	for i := 0; i < 5; i++ {
		c.Assert(r.ClassOf(i), qt.Equals, Off)
	}
	for i := 5; i < 10; i++ {
		c.Assert(r.ClassOf(i), qt.Equals, High)
	}
	c.Assert(r.ClassOf(10), qt.Equals, Normal)
}

func TestClear(t *testing.T) {
	c := qt.New(t)
	r := New()
	r.Insert(High, 0, 100)
	r.Clear()
	c.Assert(r.Has(High, 50), qt.IsFalse)
	c.Assert(r.Len(High), qt.Equals, 0)
}

func TestScanOrder(t *testing.T) {
	c := qt.New(t)
	r := New()
	r.Insert(Normal, 50, 60)
	r.Insert(Normal, 0, 10)
	var begins []int
	r.Scan(Normal, func(rg Range) bool {
		begins = append(begins, rg.Begin)
		return true
	})
	c.Assert(begins, qt.DeepEquals, []int{0, 50})
}

func TestEmptyRangeInsertIsNoop(t *testing.T) {
	c := qt.New(t)
	r := New()
	r.Insert(High, 5, 5)
	c.Assert(r.Len(High), qt.Equals, 0)
}
