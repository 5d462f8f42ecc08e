package torrent

import (
	"testing"
	"time"

	"github.com/anacrolix/log"
	qt "github.com/frankban/quicktest"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/coriolis-labs/swarmcore/internal/metrics"
)

func newTestClient(c *qt.C) *Client {
	config := NewDefaultClientConfig()
	reg := metrics.New(prometheus.NewRegistry())
	return NewClient(config, reg, log.Default)
}

func TestAddTorrentSchedulesChokeCycleOnceAndThrottlePerTorrent(t *testing.T) {
	c := qt.New(t)
	cl := newTestClient(c)

	tt1, _ := newTestTorrent(c, 32, 16)
	tt2, _ := newTestTorrent(c, 32, 16)
	tt1.infoHash = [20]byte{1}
	tt2.infoHash = [20]byte{2}

	cl.AddTorrent(tt1, 1)
	c.Assert(cl.sched.IsScheduled(taskChokeCycle, chokeCycleKey{}), qt.IsTrue)
	c.Assert(cl.sched.IsScheduled(taskThrottleTick, tt1.infoHash), qt.IsTrue)

	cl.AddTorrent(tt2, 1)
	c.Assert(cl.res.Len(), qt.Equals, 2)
	// A second AddTorrent must not create a second choke-cycle entry;
	// Scheduler.Schedule is erase-then-insert per key, so re-scheduling
	// under the same chokeCycleKey{} would just replace it, not double it.
	c.Assert(cl.sched.IsScheduled(taskThrottleTick, tt2.infoHash), qt.IsTrue)
}

func TestRemoveTorrentStopsChokeCycleOnceEmpty(t *testing.T) {
	c := qt.New(t)
	cl := newTestClient(c)

	tt, _ := newTestTorrent(c, 32, 16)
	tt.infoHash = [20]byte{9}
	cl.AddTorrent(tt, 1)
	c.Assert(cl.sched.IsScheduled(taskChokeCycle, chokeCycleKey{}), qt.IsTrue)

	cl.RemoveTorrent(tt.infoHash)
	c.Assert(cl.sched.IsScheduled(taskThrottleTick, tt.infoHash), qt.IsFalse)
	c.Assert(cl.sched.IsScheduled(taskChokeCycle, chokeCycleKey{}), qt.IsFalse)
	c.Assert(cl.res.Len(), qt.Equals, 0)

	_, ok := cl.Torrent(tt.infoHash)
	c.Assert(ok, qt.IsFalse)
}

func TestRunDueReplenishesThrottleAndReschedules(t *testing.T) {
	c := qt.New(t)
	cl := newTestClient(c)
	cl.config.ThrottleTickInterval = time.Millisecond

	tt, _ := newTestTorrent(c, 32, 16)
	tt.infoHash = [20]byte{7}
	cl.AddTorrent(tt, 1)

	due, ok := cl.NextDue()
	c.Assert(ok, qt.IsTrue)

	ran := cl.RunDue(due.Add(time.Hour))
	c.Assert(ran >= 1, qt.IsTrue)
	// The throttle-tick task reschedules itself as long as the torrent
	// stays registered.
	c.Assert(cl.sched.IsScheduled(taskThrottleTick, tt.infoHash), qt.IsTrue)
}

func TestRunDueWakesWaiters(t *testing.T) {
	c := qt.New(t)
	cl := newTestClient(c)
	cl.config.ThrottleTickInterval = time.Millisecond

	tt, _ := newTestTorrent(c, 32, 16)
	tt.infoHash = [20]byte{3}
	cl.AddTorrent(tt, 1)

	due, ok := cl.NextDue()
	c.Assert(ok, qt.IsTrue)

	woke := make(chan struct{})
	go func() {
		cl.WaitForWork()
		close(woke)
	}()

	// Give the goroutine a chance to register as a waiter before we run
	// the due task, mirroring event_test.go's own wake test.
	time.Sleep(10 * time.Millisecond)
	cl.RunDue(due.Add(time.Hour))

	select {
	case <-woke:
	case <-time.After(time.Second):
		t.Fatal("WaitForWork did not wake after RunDue ran a task")
	}
}

