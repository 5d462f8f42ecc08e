package peerconn

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/anacrolix/log"

	"github.com/coriolis-labs/swarmcore/bitfield"
	"github.com/coriolis-labs/swarmcore/chunkselect"
	"github.com/coriolis-labs/swarmcore/delegator"
	pp "github.com/coriolis-labs/swarmcore/peer_protocol"
	"github.com/coriolis-labs/swarmcore/priority"
)

func newTestDelegator(numPieces int) *delegator.Delegator {
	have := bitfield.New(numPieces)
	stats := chunkselect.NewStatistics(numPieces)
	ranges := priority.New()
	ranges.Insert(priority.Normal, 0, numPieces)
	sel := chunkselect.NewSelector(have, stats, ranges)
	sel.UpdatePriorities()

	tl := delegator.NewTransferList(func() int64 { return 0 })
	layout := func(index uint32) delegator.Piece { return delegator.Piece{Index: index, Offset: 0, Length: 4} }
	return delegator.NewDelegator(sel, tl, func() delegator.Counts { return delegator.Counts{Total: uint32(numPieces)} }, layout)
}

type fakeHandler struct {
	numPieces int

	choked       *bool
	peerChoked   bool
	peerUnchoked bool
	interested   bool
	notInterested bool

	haves     []uint32
	bitfields [][]byte

	requests []struct{ index, begin, length uint32 }
	cancels  []struct{ index, begin, length uint32 }

	transfers map[[2]uint32]*delegator.Transfer
	written   map[[2]uint32][]byte
	leader    map[[2]uint32][]byte
	dissimilar []uint32
}

func newFakeHandler(numPieces int) *fakeHandler {
	return &fakeHandler{
		numPieces: numPieces,
		transfers: map[[2]uint32]*delegator.Transfer{},
		written:   map[[2]uint32][]byte{},
		leader:    map[[2]uint32][]byte{},
	}
}

func (h *fakeHandler) SetChoked(choked bool) bool { b := choked; h.choked = &b; return true }
func (h *fakeHandler) OnPeerChoked()               { h.peerChoked = true }
func (h *fakeHandler) OnPeerUnchoked()             { h.peerUnchoked = true }
func (h *fakeHandler) OnPeerInterested()           { h.interested = true }
func (h *fakeHandler) OnPeerNotInterested()        { h.notInterested = true }
func (h *fakeHandler) NumPieces() int              { return h.numPieces }
func (h *fakeHandler) OnHave(index uint32)         { h.haves = append(h.haves, index) }
func (h *fakeHandler) OnBitfield(bits []byte)      { h.bitfields = append(h.bitfields, bits) }
func (h *fakeHandler) OnRequest(index, begin, length uint32) {
	h.requests = append(h.requests, struct{ index, begin, length uint32 }{index, begin, length})
}
func (h *fakeHandler) OnCancelRequest(index, begin, length uint32) {
	h.cancels = append(h.cancels, struct{ index, begin, length uint32 }{index, begin, length})
}
func (h *fakeHandler) OnPort(uint16)                {}
func (h *fakeHandler) OnExtended(byte, []byte)      {}
func (h *fakeHandler) FindTransfer(index, begin uint32) (*delegator.Transfer, bool) {
	t, ok := h.transfers[[2]uint32{index, begin}]
	return t, ok
}
func (h *fakeHandler) WriteChunk(index, begin uint32, data []byte) error {
	h.written[[2]uint32{index, begin}] = append([]byte(nil), data...)
	return nil
}
func (h *fakeHandler) ReportDissimilar(index, begin uint32) {
	h.dissimilar = append(h.dissimilar, index)
}
func (h *fakeHandler) LeaderBytes(index, begin, length uint32) []byte {
	return h.leader[[2]uint32{index, begin}]
}

func TestChokeUnchokeUpdateFlagsAndCallHandler(t *testing.T) {
	c := qt.New(t)
	h := newFakeHandler(4)
	conn := NewConnection(h, log.Default)

	c.Assert(conn.PeerChoking, qt.IsTrue) // initial state

	c.Assert(conn.HandleMessage(&pp.Message{Type: pp.Unchoke}), qt.IsNil)
	c.Assert(conn.PeerChoking, qt.IsFalse)
	c.Assert(h.peerUnchoked, qt.IsTrue)

	c.Assert(conn.HandleMessage(&pp.Message{Type: pp.Choke}), qt.IsNil)
	c.Assert(conn.PeerChoking, qt.IsTrue)
	c.Assert(h.peerChoked, qt.IsTrue)
}

func TestHaveOutOfRangeIsFatal(t *testing.T) {
	c := qt.New(t)
	h := newFakeHandler(4)
	conn := NewConnection(h, log.Default)

	err := conn.HandleMessage(&pp.Message{Type: pp.Have, Index: 10})
	c.Assert(err, qt.ErrorAs, new(ErrFatal))
}

func TestHaveInRangeRecorded(t *testing.T) {
	c := qt.New(t)
	h := newFakeHandler(4)
	conn := NewConnection(h, log.Default)

	c.Assert(conn.HandleMessage(&pp.Message{Type: pp.Have, Index: 2}), qt.IsNil)
	c.Assert(h.haves, qt.DeepEquals, []uint32{2})
}

func TestShouldSendHaveSuppressesRepeatAnnounce(t *testing.T) {
	c := qt.New(t)
	h := newFakeHandler(4)
	conn := NewConnection(h, log.Default)

	c.Assert(conn.ShouldSendHave(2), qt.IsTrue)
	c.Assert(conn.ShouldSendHave(2), qt.IsFalse)
	c.Assert(conn.ShouldSendHave(3), qt.IsTrue)
}

func TestLeaderPieceRoutesToStorage(t *testing.T) {
	c := qt.New(t)
	h := newFakeHandler(1)
	conn := NewConnection(h, log.Default)

	d := newTestDelegator(1)
	peerBf := bitfield.New(1)
	peerBf.SetAll()
	leaderTransfer, ok := d.Delegate("peerA", peerBf, false, &chunkselect.PeerCache{})
	c.Assert(ok, qt.IsTrue)
	h.transfers[[2]uint32{0, 0}] = leaderTransfer

	conn.HandlePieceHeader(0, 0, 4)
	c.Assert(conn.PendingPieceIsLeader(), qt.IsTrue)

	c.Assert(conn.CompleteLeaderPiece([]byte{1, 2, 3, 4}), qt.IsNil)
	c.Assert(h.written[[2]uint32{0, 0}], qt.DeepEquals, []byte{1, 2, 3, 4})
}

func TestNotLeaderPieceComparesAgainstLeaderBytes(t *testing.T) {
	c := qt.New(t)
	h := newFakeHandler(1)
	conn := NewConnection(h, log.Default)

	h.leader[[2]uint32{0, 0}] = []byte{1, 2, 3, 4}
	// No transfer registered under FindTransfer → treated as not-leader.
	conn.HandlePieceHeader(0, 0, 4)
	c.Assert(conn.PendingPieceIsLeader(), qt.IsFalse)

	conn.CompleteSkippedPiece([]byte{9, 9, 3, 4}, h.leader[[2]uint32{0, 0}])
	c.Assert(h.dissimilar, qt.DeepEquals, []uint32{0})
}

func TestNotLeaderPieceMatchingBytesNoReport(t *testing.T) {
	c := qt.New(t)
	h := newFakeHandler(1)
	conn := NewConnection(h, log.Default)

	conn.HandlePieceHeader(0, 0, 4)
	conn.CompleteSkippedPiece([]byte{1, 2, 3, 4}, []byte{1, 2, 3, 4})
	c.Assert(h.dissimilar, qt.HasLen, 0)
}
