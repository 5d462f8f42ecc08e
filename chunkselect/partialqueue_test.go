package chunkselect

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestPartialQueueOrdersByRarityThenIndex(t *testing.T) {
	c := qt.New(t)
	q := newPartialQueue()
	q.Enable(8)
	q.Insert(5, 10)
	q.Insert(1, 20)
	q.Insert(1, 5)

	c.Assert(q.Pop(), qt.Equals, uint32(5))
	c.Assert(q.Pop(), qt.Equals, uint32(20))
	c.Assert(q.Pop(), qt.Equals, uint32(10))
}

func TestPartialQueueEvictsWorstWhenFull(t *testing.T) {
	c := qt.New(t)
	q := newPartialQueue()
	q.Enable(2)
	c.Assert(q.Insert(5, 1), qt.IsTrue)
	c.Assert(q.Insert(3, 2), qt.IsTrue)
	c.Assert(q.IsFull(), qt.IsTrue)

	// a better (lower rarity) candidate should evict the worst (rarity 5)
	c.Assert(q.Insert(1, 3), qt.IsTrue)
	c.Assert(q.Pop(), qt.Equals, uint32(3))
	c.Assert(q.Pop(), qt.Equals, uint32(2))
}

func TestPartialQueueRejectsWorseThanFull(t *testing.T) {
	c := qt.New(t)
	q := newPartialQueue()
	q.Enable(1)
	q.Insert(1, 1)
	c.Assert(q.Insert(5, 2), qt.IsFalse)
}
