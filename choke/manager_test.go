package choke

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestSetInterestedDrivesUploadQueueOnly(t *testing.T) {
	c := qt.New(t)
	m := NewManager(constRate(0), constRate(0), func(Peer) bool { return false })
	m.Upload.SetMaxUnchoked(10)
	m.Download.SetMaxUnchoked(10)

	p := &fakePeer{id: 1}
	m.SetInterested(p, true)
	c.Assert(m.Upload.SizeTotal(), qt.Equals, 1)
	c.Assert(m.Download.SizeTotal(), qt.Equals, 0)
}

func TestSetRemoteInterestedDrivesDownloadQueueOnly(t *testing.T) {
	c := qt.New(t)
	m := NewManager(constRate(0), constRate(0), func(Peer) bool { return false })
	m.Upload.SetMaxUnchoked(10)
	m.Download.SetMaxUnchoked(10)

	p := &fakePeer{id: 1}
	m.SetRemoteInterested(p, true)
	c.Assert(m.Download.SizeTotal(), qt.Equals, 1)
	c.Assert(m.Upload.SizeTotal(), qt.Equals, 0)

	m.SetRemoteInterested(p, false)
	c.Assert(m.Download.SizeTotal(), qt.Equals, 0)
}

func TestDisconnectedClearsBothQueues(t *testing.T) {
	c := qt.New(t)
	m := NewManager(constRate(0), constRate(0), func(Peer) bool { return false })
	m.Upload.SetMaxUnchoked(10)
	m.Download.SetMaxUnchoked(10)

	p := &fakePeer{id: 1}
	m.SetInterested(p, true)
	m.SetRemoteInterested(p, true)
	c.Assert(m.Upload.SizeTotal(), qt.Equals, 1)
	c.Assert(m.Download.SizeTotal(), qt.Equals, 1)

	m.Disconnected(p)
	c.Assert(m.Upload.SizeTotal(), qt.Equals, 0)
	c.Assert(m.Download.SizeTotal(), qt.Equals, 0)
}

func TestCycleRunsBothQueues(t *testing.T) {
	c := qt.New(t)
	m := NewManager(constRate(0), constRate(0), func(Peer) bool { return false })
	m.Upload.SetMaxUnchoked(10)
	m.Download.SetMaxUnchoked(10)

	p := &fakePeer{id: 1}
	// A lone interested peer with ample room is unchoked immediately by
	// SetQueued itself, so a subsequent Cycle at the same quota is a no-op.
	m.SetInterested(p, true)
	m.SetRemoteInterested(p, true)
	c.Assert(m.Upload.SizeUnchoked(), qt.Equals, 1)
	c.Assert(m.Download.SizeUnchoked(), qt.Equals, 1)

	upDelta, downDelta := m.Cycle(10, 10)
	c.Assert(upDelta, qt.Equals, 0)
	c.Assert(downDelta, qt.Equals, 0)
}
