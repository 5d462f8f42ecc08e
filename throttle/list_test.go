package throttle

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func newTestNode(c *qt.C) (*Node, *int) {
	activations := 0
	n := NewNode(0, func() { activations++ })
	return n, &activations
}

func TestDisabledListGrantsUnboundedQuota(t *testing.T) {
	c := qt.New(t)
	l := NewList()
	n, _ := newTestNode(c)
	l.Insert(n)
	c.Assert(l.NodeQuota(n), qt.Equals, uint32((1<<31-1)/2))
	l.Erase(n)
}

func TestEnableInsertGrantsQuotaUpToMax(t *testing.T) {
	c := qt.New(t)
	l := NewList()
	l.SetMinChunkSize(1024)
	l.SetMaxChunkSize(4096)
	l.Enable()

	n, activations := newTestNode(c)
	l.UpdateQuota(0) // prime unallocated pool with nothing yet
	l.unallocatedQuota = 8192
	l.Insert(n)

	c.Assert(n.Quota(), qt.Equals, int32(4096))
	c.Assert(*activations, qt.Equals, 0) // Insert doesn't call activate itself
}

func TestUpdateQuotaActivatesInactiveNodeOnceThresholdCrossed(t *testing.T) {
	c := qt.New(t)
	l := NewList()
	l.SetMinChunkSize(1000)
	l.SetMaxChunkSize(2000)
	l.Enable()

	activated := 0
	n := NewNode(0, func() { activated++ })
	// Insert with an empty pool leaves quota 0 < minChunkSize; deactivating
	// moves the node behind the split so UpdateQuota walks it.
	l.Insert(n)
	c.Assert(n.Quota(), qt.Equals, int32(0))
	l.NodeDeactivate(n)

	// A tick's quota is held as the unthrottled reserve and only reaches
	// the shared pool on the following tick.
	l.UpdateQuota(5000)
	used := l.UpdateQuota(5000)
	c.Assert(n.Quota() >= 1000, qt.IsTrue)
	c.Assert(activated, qt.Equals, 1)
	c.Assert(used >= 0, qt.IsTrue)
}

func TestNodeUsedDebitsNodeThenPool(t *testing.T) {
	c := qt.New(t)
	l := NewList()
	l.SetMinChunkSize(100)
	l.SetMaxChunkSize(1000)
	l.Enable()

	n, _ := newTestNode(c)
	l.unallocatedQuota = 1000
	l.Insert(n)
	before := n.Quota()
	c.Assert(before > 0, qt.IsTrue)

	l.NodeUsed(n, uint32(before))
	c.Assert(n.Quota(), qt.Equals, int32(0))
}

func TestNodeUsedUnthrottledSpillsIntoPool(t *testing.T) {
	c := qt.New(t)
	l := NewList()
	l.Enable()
	l.unusedUnthrottled = 100
	l.unallocatedQuota = 500

	l.NodeUsedUnthrottled(150)
	c.Assert(l.unusedUnthrottled, qt.Equals, uint32(0))
	c.Assert(l.unallocatedQuota, qt.Equals, uint32(450))
}

func TestEraseReclaimsQuota(t *testing.T) {
	c := qt.New(t)
	l := NewList()
	l.SetMinChunkSize(10)
	l.SetMaxChunkSize(1000)
	l.Enable()
	l.unallocatedQuota = 1000

	n, _ := newTestNode(c)
	l.Insert(n)
	c.Assert(l.Size(), qt.Equals, uint32(1))

	l.Erase(n)
	c.Assert(l.Size(), qt.Equals, uint32(0))
	c.Assert(l.OutstandingQuota(), qt.Equals, uint32(0))
	c.Assert(n.Quota(), qt.Equals, int32(0))
}

func TestDisableActivatesAllAndClearsQuota(t *testing.T) {
	c := qt.New(t)
	l := NewList()
	l.Enable()
	n, activations := newTestNode(c)
	l.Insert(n)
	l.NodeDeactivate(n)

	l.Disable()
	c.Assert(l.IsEnabled(), qt.IsFalse)
	c.Assert(n.Quota(), qt.Equals, int32(0))
	c.Assert(*activations, qt.Equals, 1)
}

func TestInsertOnDisabledListGrantsNoQuota(t *testing.T) {
	c := qt.New(t)
	l := NewList()
	n, _ := newTestNode(c)
	l.Insert(n)
	c.Assert(n.Quota(), qt.Equals, int32(0))
	c.Assert(l.Size(), qt.Equals, uint32(1))
}
