package peerconn

import (
	"bytes"
	"fmt"

	"github.com/anacrolix/log"
	"github.com/anacrolix/missinggo/v2/bitmap"

	"github.com/coriolis-labs/swarmcore/delegator"
	pp "github.com/coriolis-labs/swarmcore/peer_protocol"
)

// ErrFatal marks a communication_error per spec §7: the connection must be
// closed, the torrent is unaffected.
type ErrFatal struct{ Reason string }

func (e ErrFatal) Error() string { return "peerconn: fatal: " + e.Reason }

// Handler is everything a Connection needs from its owning Torrent/Peer to
// carry out message effects: choke-queue membership, delegate lookups, and
// chunk storage. Implemented by the root torrent package's Peer type.
type Handler interface {
	// SetChoked mirrors choke.Peer — called when we choke/unchoke this peer.
	SetChoked(choked bool) bool

	// OnPeerChoked/OnPeerUnchoked implement spec §4.9's queue-membership
	// invariants: a CHOKE cancels our download queue and removes us from
	// the download-choke queue; an UNCHOKE inserts into it only if we are
	// interested.
	OnPeerChoked()
	OnPeerUnchoked()

	OnPeerInterested()
	OnPeerNotInterested()

	// NumPieces bounds HAVE/BITFIELD index validation.
	NumPieces() int
	OnHave(index uint32)
	OnBitfield(bits []byte)

	OnRequest(index, begin, length uint32)
	OnCancelRequest(index, begin, length uint32)

	OnPort(port uint16)
	OnExtended(id byte, payload []byte)

	// FindTransfer returns the delegator Transfer this connection holds
	// for (index,begin), if any, so PIECE routing can tell a leader from
	// a demoted observer.
	FindTransfer(index, begin uint32) (t *delegator.Transfer, ok bool)

	// WriteChunk stores a fully-read PIECE body (leader path only).
	WriteChunk(index, begin uint32, data []byte) error

	// ReportDissimilar flags that this peer's bytes, compared against the
	// block's leader, diverged (spec §4.9's transfer_dissimilar).
	ReportDissimilar(index, begin uint32)

	// LeaderBytes returns however many bytes of the leader's already-
	// stored chunk are available for [index,begin) right now, for a
	// NOT_LEADER transfer's divergence check. May be shorter than the
	// demoted transfer's own body if the leader hasn't caught up yet.
	LeaderBytes(index, begin, length uint32) []byte
}

// Connection drives one peer's message effects. It does not own the
// socket: ReadLoop (conn.go) decodes messages and calls HandleMessage;
// PIECE bodies are drained by ReadLoop via PendingPieceIsLeader,
// CompleteLeaderPiece and CompleteSkippedPiece before the next Decode call, matching spec §4.9's "READ_PIECE consumes directly
// into the mmap'd chunk" design.
type Connection struct {
	Handler Handler
	Logger  log.Logger

	AmChoking       bool
	AmInterested    bool
	PeerChoking     bool
	PeerInterested  bool

	pendingPiece struct {
		active bool
		index  uint32
		begin  uint32
		length uint32
		leader bool
	}

	// sentHaves tracks which piece indices we've already announced to this
	// connection via HAVE, so a redundant announce (e.g. a piece that gets
	// re-verified) is suppressed.
	sentHaves bitmap.Bitmap
}

// NewConnection returns a Connection in the default state (both sides
// choking, neither interested), matching the protocol's initial state.
func NewConnection(h Handler, logger log.Logger) *Connection {
	return &Connection{
		Handler:     h,
		Logger:      logger,
		AmChoking:   true,
		PeerChoking: true,
	}
}

// HandleMessage applies a fully-decoded non-PIECE message's effects. For a
// PIECE header, call HandlePieceHeader instead — the body hasn't been read
// yet at that point.
func (c *Connection) HandleMessage(msg *pp.Message) error {
	if msg.Keepalive {
		return nil
	}
	switch msg.Type {
	case pp.Choke:
		c.PeerChoking = true
		c.Handler.OnPeerChoked()
	case pp.Unchoke:
		c.PeerChoking = false
		c.Handler.OnPeerUnchoked()
	case pp.Interested:
		c.PeerInterested = true
		c.Handler.OnPeerInterested()
	case pp.NotInterested:
		c.PeerInterested = false
		c.Handler.OnPeerNotInterested()
	case pp.Have:
		if n := c.Handler.NumPieces(); n > 0 && int(msg.Index) >= n {
			return ErrFatal{Reason: fmt.Sprintf("have index %d out of range (n=%d)", msg.Index, n)}
		}
		c.Handler.OnHave(msg.Index)
	case pp.Bitfield:
		c.Handler.OnBitfield(msg.BitfieldBytes)
	case pp.Request:
		c.Handler.OnRequest(msg.Index, msg.Begin, msg.Length)
	case pp.Cancel:
		c.Handler.OnCancelRequest(msg.Index, msg.Begin, msg.Length)
	case pp.Port:
		c.Handler.OnPort(msg.Port)
	case pp.Extended:
		c.Handler.OnExtended(msg.ExtendedID, msg.ExtendedPayload)
	case pp.Piece:
		panic("peerconn: HandleMessage called with a Piece header; use HandlePieceHeader")
	default:
		return ErrFatal{Reason: fmt.Sprintf("unhandled message type %v", msg.Type)}
	}
	return nil
}

// HandlePieceHeader decides how the about-to-arrive PIECE body should be
// routed: into storage if we hold the block's leader transfer, or as a
// dissimilarity check (READ_SKIP_PIECE) if we've been demoted to
// NOT_LEADER, per spec §4.9.
func (c *Connection) HandlePieceHeader(index, begin, length uint32) {
	_, isLeaderTransfer := c.transferIsLeader(index, begin)
	c.pendingPiece.active = true
	c.pendingPiece.index = index
	c.pendingPiece.begin = begin
	c.pendingPiece.length = length
	c.pendingPiece.leader = isLeaderTransfer
}

// ShouldSendHave reports whether a HAVE for index hasn't been announced on
// this connection yet, marking it announced if so. The actual wire send is
// the caller's concern (the send loop lives outside this interface-level
// package); this only owns the de-duplication decision.
func (c *Connection) ShouldSendHave(index uint32) bool {
	if c.sentHaves.Contains(bitmap.BitIndex(index)) {
		return false
	}
	c.sentHaves.Add(bitmap.BitIndex(index))
	return true
}

func (c *Connection) transferIsLeader(index, begin uint32) (*delegator.Transfer, bool) {
	t, ok := c.Handler.FindTransfer(index, begin)
	if !ok {
		return nil, false
	}
	return t, t.State() == delegator.StateLeader
}

// PendingPieceIsLeader reports whether the in-flight PIECE body (set by the
// most recent HandlePieceHeader) should be written to storage (true) or
// only compared for divergence (false, READ_SKIP_PIECE).
func (c *Connection) PendingPieceIsLeader() bool { return c.pendingPiece.leader }

// PendingPieceLength is the body length HandlePieceHeader recorded.
func (c *Connection) PendingPieceLength() uint32 { return c.pendingPiece.length }

// CompleteLeaderPiece stores data (the fully-read PIECE body) and clears
// the pending state. Call only when PendingPieceIsLeader() is true.
func (c *Connection) CompleteLeaderPiece(data []byte) error {
	p := c.pendingPiece
	c.pendingPiece.active = false
	return c.Handler.WriteChunk(p.index, p.begin, data)
}

// CompleteSkippedPiece compares a demoted transfer's bytes against the
// leader's already-stored bytes up to the shorter length, reporting
// dissimilarity (spec §4.9: "compared against the leader's bytes up to the
// shorter length (transfer_dissimilar when bytes diverge)").
func (c *Connection) CompleteSkippedPiece(data []byte, leaderBytes []byte) {
	p := c.pendingPiece
	c.pendingPiece.active = false

	n := len(data)
	if len(leaderBytes) < n {
		n = len(leaderBytes)
	}
	if !bytes.Equal(data[:n], leaderBytes[:n]) {
		c.Handler.ReportDissimilar(p.index, p.begin)
	}
}
