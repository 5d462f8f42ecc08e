package throttle

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestSetRateZeroDisables(t *testing.T) {
	c := qt.New(t)
	m := NewManager()
	m.SetRate(true, 1<<20)
	c.Assert(m.Up().IsEnabled(), qt.IsTrue)

	m.SetRate(true, 0)
	c.Assert(m.Up().IsEnabled(), qt.IsFalse)
}

func TestIntervalNeverBelowFloor(t *testing.T) {
	c := qt.New(t)
	m := NewManager()
	m.SetRate(true, 100<<20) // 100 MiB/s, fastest decade
	c.Assert(m.Interval() >= schedulerTickFloor, qt.IsTrue)
}

func TestIntervalRelaxesForSlowRates(t *testing.T) {
	c := qt.New(t)
	m := NewManager()
	m.SetRate(true, 1<<10) // 1 KiB/s
	c.Assert(m.Interval(), qt.Equals, time.Second)
}

func TestTickDistributesQuotaProportionalToIntervalAndRate(t *testing.T) {
	c := qt.New(t)
	m := NewManager()
	m.SetRate(true, 10<<10) // 10 KiB/s
	m.Tick()
	// a tick's worth of quota should have been folded into unusedUnthrottled
	// or allocated; either way outstanding/unallocated bookkeeping must not
	// panic and the list must remain enabled.
	c.Assert(m.Up().IsEnabled(), qt.IsTrue)
}

func TestChunkSizeGrowsMonotonicallyWithRate(t *testing.T) {
	c := qt.New(t)
	rates := []uint32{1 << 10, 50 << 10, 500 << 10, 5 << 20, 50 << 20}
	var prevMin uint32
	for _, r := range rates {
		min := minChunkSizeForRate(r)
		max := maxChunkSizeForRate(r)
		c.Assert(max, qt.Equals, min*4)
		c.Assert(min >= prevMin, qt.IsTrue)
		prevMin = min
	}
	c.Assert(minChunkSizeForRate(3000<<10), qt.Equals, uint32(baseMinChunkSize<<6))
}

func TestQuotaForIntervalZeroRate(t *testing.T) {
	c := qt.New(t)
	c.Assert(quotaForInterval(0, time.Second), qt.Equals, uint32(0))
}
