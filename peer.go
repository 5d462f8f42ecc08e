package torrent

import (
	"time"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"

	"github.com/coriolis-labs/swarmcore/alloclim"
	"github.com/coriolis-labs/swarmcore/bitfield"
	"github.com/coriolis-labs/swarmcore/chunkselect"
	"github.com/coriolis-labs/swarmcore/delegator"
	"github.com/coriolis-labs/swarmcore/peerconn"
	"github.com/coriolis-labs/swarmcore/throttle"
)

// PeerSource records how a connection was discovered, trimmed to the
// sources this core's scope actually distinguishes.
type PeerSource string

const (
	PeerSourceTracker  PeerSource = "tracker"
	PeerSourceIncoming PeerSource = "incoming"
	PeerSourceManual   PeerSource = "manual"
)

// Peer glues one peer connection's peerconn.Connection to its owning
// Torrent: it implements peerconn.Handler, translating wire events into
// Delegator/ChunkSelector/ChokeManager calls, and implements choke.Peer
// via the same SetChoked peerconn.Handler already requires.
type Peer struct {
	t      *Torrent
	id     string
	Source PeerSource
	Conn   *peerconn.Connection

	have     *bitfield.Bitfield
	cache    chunkselect.PeerCache
	tracking chunkselect.Tracking

	isSeeder bool
	trusted  bool

	closed chansync.SetOnce
	logger log.Logger

	allocReservation *alloclim.Reservation

	// upNode/downNode are this connection's token-bucket membership in the
	// torrent's two throttle.Lists; registered on construction and dropped
	// on Close so a torn-down connection's quota returns to the pool.
	upNode   *throttle.Node
	downNode *throttle.Node

	// transfers indexes this peer's own in-flight Transfers by the
	// (index, begin) request they cover, so FindTransfer/WriteChunk can
	// resolve an inbound PIECE message back to the Delegator handle that
	// requested it.
	transfers map[pieceKey]*delegator.Transfer

	lastMessageReceived time.Time
}

type pieceKey struct {
	index, begin uint32
}

// NewPeer wires a fresh connection into t, sized for t's current piece
// count.
func NewPeer(t *Torrent, id string, source PeerSource, logger log.Logger) *Peer {
	p := &Peer{
		t:         t,
		id:        id,
		Source:    source,
		have:      bitfield.New(t.numPieces),
		logger:    logger,
		transfers: make(map[pieceKey]*delegator.Transfer),
	}
	p.Conn = peerconn.NewConnection(p, logger)

	p.upNode = throttle.NewNode(0, p.onUploadQuotaActive)
	p.downNode = throttle.NewNode(0, p.onDownloadQuotaActive)
	t.throttle.Up().Insert(p.upNode)
	t.throttle.Down().Insert(p.downNode)

	return p
}

// onUploadQuotaActive/onDownloadQuotaActive are throttle.Node's activation
// callbacks: the wire-send loop (outside this interface-level module)
// would resume writes for this connection here once quota frees up.
func (p *Peer) onUploadQuotaActive()   {}
func (p *Peer) onDownloadQuotaActive() {}

func (p *Peer) ID() string { return p.id }

// SetChoked implements both peerconn.Handler and choke.Peer: it vetoes the
// transition if the connection is already closed, matching spec §4.6's
// "the caller may veto an unchoke/choke transition" contract.
func (p *Peer) SetChoked(choked bool) bool {
	if p.closed.IsSet() {
		return false
	}
	p.Conn.AmChoking = choked
	return true
}

// OnPeerChoked implements spec §4.9's "a CHOKE cancels our download queue":
// every Transfer we hold on this peer is cancelled, since it can no longer
// serve them.
func (p *Peer) OnPeerChoked() {
	p.t.cancelAllTransfers(p)
}

// OnPeerUnchoked re-attempts delegation now that this peer can serve
// requests again, per spec §4.9's "an UNCHOKE ... only if we are
// interested".
func (p *Peer) OnPeerUnchoked() {
	if p.Conn.AmInterested {
		p.t.tryDelegate(p)
	}
}

func (p *Peer) OnPeerInterested() {
	p.t.choke.SetInterested(p, true)
}

func (p *Peer) OnPeerNotInterested() {
	p.t.choke.SetInterested(p, false)
}

func (p *Peer) NumPieces() int { return p.t.numPieces }

func (p *Peer) OnHave(index uint32) {
	wanted := false
	p.t.guardInternal("OnHave", func() {
		p.t.statistics.ReceivedHaveChunk(&p.tracking, p.have, int(index))
		wanted = p.t.selector.ReceivedHaveChunk(&p.cache, index)
	})
	if wanted {
		p.t.setInterested(p, true)
	}
}

func (p *Peer) OnBitfield(bits []byte) {
	p.have = bitfield.NewFromBytes(p.t.numPieces, bits)
	p.t.guardInternal("OnBitfield", func() {
		p.t.statistics.ReceivedConnect(&p.tracking, p.have)
	})

	wanted := false
	for i := 0; i < p.t.numPieces; i++ {
		if p.have.Get(i) && p.t.selector.IsWanted(uint32(i)) {
			wanted = true
			break
		}
	}
	p.t.setInterested(p, wanted)
}

func (p *Peer) OnRequest(index, begin, length uint32) {
	p.t.servePieceRequest(p, index, begin, length)
}

func (p *Peer) OnCancelRequest(index, begin, length uint32) {
	p.t.cancelPieceRequest(p, index, begin, length)
}

// AnnounceHave records that index has been (or is about to be) reported to
// this peer and returns whether a HAVE actually needs to go out, per
// Conn.ShouldSendHave's de-duplication; the wire send itself belongs to the
// (unbuilt) send loop, same as onUploadQuotaActive.
func (p *Peer) AnnounceHave(index uint32) bool {
	return p.Conn.ShouldSendHave(index)
}

func (p *Peer) OnPort(port uint16) {}

func (p *Peer) OnExtended(id byte, payload []byte) {}

func (p *Peer) FindTransfer(index, begin uint32) (*delegator.Transfer, bool) {
	t, ok := p.transfers[pieceKey{index, begin}]
	return t, ok
}

func (p *Peer) WriteChunk(index, begin uint32, data []byte) error {
	return p.t.writeChunk(p, index, begin, data)
}

func (p *Peer) ReportDissimilar(index, begin uint32) {
	p.t.reportCorruptPeer(p, index)
}

func (p *Peer) LeaderBytes(index, begin, length uint32) []byte {
	return p.t.leaderBytes(index, begin, length)
}

// Close marks the connection closed and drops its references from the
// torrent's Delegator/ChokeManager, per spec §5's cancellation policy:
// "Connection-level cancellation drops all references the connection
// holds into Delegator/TransferList; Blocks lose observers and may
// promote a new leader."
func (p *Peer) Close() {
	if !p.closed.Set() {
		return
	}
	p.t.cancelAllTransfers(p)
	p.t.guardInternal("Close.choke.Disconnected", func() {
		p.t.choke.Disconnected(p)
	})
	if p.tracking.UsingCounter() {
		p.t.guardInternal("Close.statistics.ReceivedDisconnect", func() {
			p.t.statistics.ReceivedDisconnect(&p.tracking, p.have)
		})
	}
	p.t.guardInternal("Close.throttle.Erase", func() {
		p.t.throttle.Up().Erase(p.upNode)
		p.t.throttle.Down().Erase(p.downNode)
	})
	if p.allocReservation != nil {
		p.allocReservation.Release()
		p.allocReservation = nil
	}
}
