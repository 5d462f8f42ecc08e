package torrent

import (
	"fmt"
	"time"

	"github.com/anacrolix/log"
	"github.com/dustin/go-humanize"

	"github.com/coriolis-labs/swarmcore/bitfield"
	"github.com/coriolis-labs/swarmcore/choke"
	"github.com/coriolis-labs/swarmcore/chunkselect"
	"github.com/coriolis-labs/swarmcore/delegator"
	"github.com/coriolis-labs/swarmcore/internal/metrics"
	"github.com/coriolis-labs/swarmcore/priority"
	"github.com/coriolis-labs/swarmcore/storage"
	"github.com/coriolis-labs/swarmcore/throttle"
	"github.com/coriolis-labs/swarmcore/tracker"
)

func nowMicros() int64 { return time.Now().UnixMicro() }

// Torrent binds one content item's piece-management packages together:
// storage, peer bookkeeping, tracker status, and piece state all meet in
// one struct, each concern routed through the dedicated package that
// owns it (priority, bitfield, chunkselect, delegator, choke, throttle,
// storage, tracker).
type Torrent struct {
	infoHash [20]byte

	numPieces   int
	pieceLength uint32
	totalLength int64

	have   *bitfield.Bitfield
	ranges *priority.Ranges

	statistics *chunkselect.Statistics
	selector   *chunkselect.Selector

	transferList *delegator.TransferList
	delegator    *delegator.Delegator

	choke    *choke.Manager
	throttle *throttle.Manager

	store   storage.ChunkStore
	sink    tracker.Sink
	metrics *metrics.Registry

	peers map[string]*Peer

	logger log.Logger
}

// NewTorrent builds a Torrent for content of totalLength bytes, split into
// chunks of pieceLength (the last one short per storage.Layout's rule),
// reading/writing through store and announcing through sink.
func NewTorrent(infoHash [20]byte, totalLength int64, pieceLength uint32, store storage.ChunkStore, sink tracker.Sink, uploadRate, downloadRate choke.RateFunc, reg *metrics.Registry, logger log.Logger) *Torrent {
	layout := storage.Layout{TotalLength: totalLength, ChunkSize: pieceLength}
	numPieces := int(layout.NumChunks())

	t := &Torrent{
		infoHash:    infoHash,
		numPieces:   numPieces,
		pieceLength: pieceLength,
		totalLength: totalLength,
		have:        bitfield.New(numPieces),
		ranges:      priority.New(),
		store:       store,
		sink:        sink,
		metrics:     reg,
		peers:       make(map[string]*Peer),
		logger:      logger,
	}
	t.ranges.Insert(priority.Normal, 0, numPieces)

	t.statistics = chunkselect.NewStatistics(numPieces)
	t.selector = chunkselect.NewSelector(t.have, t.statistics, t.ranges)
	t.selector.UpdatePriorities()

	t.transferList = delegator.NewTransferList(nowMicros)
	t.transferList.SetOnCompleted(t.onBlockListCompleted)

	t.delegator = delegator.NewDelegator(t.selector, t.transferList, t.counts, t.pieceLayout)

	t.choke = choke.NewManager(uploadRate, downloadRate, t.locallyUnchoked)
	t.throttle = throttle.NewManager()

	return t
}

// counts supplies delegator.Delegator's aggressive/endgame trigger inputs.
func (t *Torrent) counts() delegator.Counts {
	return delegator.Counts{
		Completed: uint32(t.have.SizeSet()),
		InFlight:  uint32(t.transferList.Len()),
		Total:     uint32(t.numPieces),
	}
}

// pieceLayout reports the true (offset, length) of piece index; every
// piece is t.pieceLength except the torrent's final one, which is
// whatever remains (storage.Layout's short-last-chunk rule).
func (t *Torrent) pieceLayout(index uint32) delegator.Piece {
	size := t.layout().ChunkIndexSize(index)
	return delegator.Piece{Index: index, Offset: 0, Length: size}
}

func (t *Torrent) layout() storage.Layout {
	return storage.Layout{TotalLength: t.totalLength, ChunkSize: t.pieceLength}
}

// locallyUnchoked reports how many upload slots are currently unchoked,
// the slot_locally_unchoked callback choke.Queue's Balance needs.
func (t *Torrent) locallyUnchoked() uint32 {
	return uint32(t.choke.Upload.SizeUnchoked())
}

// AddPeer registers a freshly connected peer with this torrent, sizing its
// bitfield to the torrent's own piece count.
func (t *Torrent) AddPeer(id string, source PeerSource, logger log.Logger) *Peer {
	p := NewPeer(t, id, source, logger)
	t.peers[id] = p
	return p
}

// RemovePeer drops a peer's bookkeeping after it has already closed
// (Peer.Close handles its own Delegator/ChokeManager cleanup).
func (t *Torrent) RemovePeer(id string) {
	delete(t.peers, id)
}

// tryDelegate asks the Delegator for p's next request and, on success,
// records the Transfer under p's own (index,begin) lookup table so a later
// PIECE/CANCEL can resolve it via FindTransfer.
func (t *Torrent) tryDelegate(p *Peer) (tr *delegator.Transfer, ok bool) {
	t.guardInternal("tryDelegate", func() {
		tr, ok = t.delegator.Delegate(p.id, p.have, p.isSeeder, &p.cache)
	})
	if !ok {
		return nil, false
	}
	key := pieceKey{index: tr.Piece().Index, begin: tr.Piece().Offset}
	p.transfers[key] = tr
	if t.metrics != nil {
		t.metrics.BlocksDelegated.Inc()
		t.metrics.RarityHistogram.Observe(float64(t.statistics.Rarity(int(tr.Piece().Index))))
	}
	return tr, true
}

// CycleChoke runs the periodic choke rebalance (spec §4.7/§5's
// choke-cycle task) and returns the upload and download unchoke deltas.
func (t *Torrent) CycleChoke(uploadQuota, downloadQuota uint32) (uploadDelta, downloadDelta int) {
	t.guardInternal("CycleChoke", func() {
		uploadDelta, downloadDelta = t.choke.Cycle(uploadQuota, downloadQuota)
	})
	if t.metrics != nil {
		t.metrics.UnchokedPeers.Set(float64(t.choke.Upload.SizeUnchoked() + t.choke.Download.SizeUnchoked()))
	}
	if uploadDelta != 0 || downloadDelta != 0 {
		t.logger.WithDefaultLevel(log.Debug).Printf("choke cycle: upload delta=%d download delta=%d\nupload queue:\n%sdownload queue:\n%s",
			uploadDelta, downloadDelta, t.choke.Upload.DebugDump(), t.choke.Download.DebugDump())
	}
	return uploadDelta, downloadDelta
}

// TickThrottle runs the periodic throttle-quota replenishment (spec
// §4.8/§5's throttle-tick task) and records the outstanding quota in the
// metrics and the debug log.
func (t *Torrent) TickThrottle() {
	t.guardInternal("TickThrottle", func() {
		t.throttle.Tick()
	})
	if t.metrics != nil {
		t.metrics.ThrottleInFlight.Set(float64(t.throttle.Up().OutstandingQuota() + t.throttle.Down().OutstandingQuota()))
	}
	t.logger.WithDefaultLevel(log.Debug).Printf("throttle quota outstanding: %s up, %s down",
		humanize.Bytes(uint64(t.throttle.Up().OutstandingQuota())),
		humanize.Bytes(uint64(t.throttle.Down().OutstandingQuota())))
}

// cancelAllTransfers cancels every Transfer p currently holds (spec §5:
// "Connection-level cancellation drops all references the connection
// holds into Delegator/TransferList"), used on both choke and disconnect.
func (t *Torrent) cancelAllTransfers(p *Peer) {
	for key, tr := range p.transfers {
		t.guardInternal("cancelAllTransfers", func() {
			t.delegator.Cancel(tr)
		})
		delete(p.transfers, key)
		if t.metrics != nil {
			t.metrics.BlocksCancelled.Inc()
		}
	}
}

// setInterested updates p's local interest flag and threads it through to
// the download-choke queue, per peerconn.Handler's OnPeerUnchoked contract
// ("inserts into it only if we are interested").
func (t *Torrent) setInterested(p *Peer, interested bool) {
	if p.Conn.AmInterested == interested {
		return
	}
	p.Conn.AmInterested = interested
	t.guardInternal("setInterested", func() {
		t.choke.SetRemoteInterested(p, interested)
	})
}

// servePieceRequest is called on an inbound REQUEST; the wire layer (not
// built at this interface level) is responsible for actually queuing and
// sending the PIECE reply once the throttle/choke state permits it. Here
// we only validate the request is for a piece we actually hold.
func (t *Torrent) servePieceRequest(p *Peer, index, begin, length uint32) {
	if !t.have.Get(int(index)) {
		return
	}
	_ = begin
	_ = length
}

// cancelPieceRequest is called on an inbound CANCEL; nothing to undo at
// this level beyond letting the (unbuilt) wire-send queue drop the
// matching pending reply, which is outside this package's scope.
func (t *Torrent) cancelPieceRequest(p *Peer, index, begin, length uint32) {
	_ = p
	_ = index
	_ = begin
	_ = length
}

// writeChunk stores an inbound PIECE body (leader path) through the
// ChunkStore, then tells the Delegator the owning Transfer finished.
func (t *Torrent) writeChunk(p *Peer, index, begin uint32, data []byte) error {
	tr, ok := p.FindTransfer(index, begin)
	if !ok {
		return fmt.Errorf("torrent: writeChunk: no transfer for index=%d begin=%d", index, begin)
	}
	chunk, err := t.store.CreateChunk(index, true)
	if err != nil {
		return err
	}
	if err := chunk.FromBuffer(data, begin); err != nil {
		return err
	}
	delete(p.transfers, pieceKey{index: index, begin: begin})
	tr.AdjustPosition(uint32(len(data)))
	t.guardInternal("writeChunk", func() {
		t.delegator.Finished(tr)
	})
	return nil
}

// reportCorruptPeer is called when a NOT_LEADER transfer's bytes diverge
// from the leader's, per spec §4.9's transfer_dissimilar.
func (t *Torrent) reportCorruptPeer(p *Peer, index uint32) {
	t.logger.WithDefaultLevel(log.Warning).Printf("peer %s delivered dissimilar bytes for piece %d", p.id, index)
	if t.metrics != nil {
		t.metrics.HashCorrupt.Inc()
	}
}

// leaderBytes returns however many bytes of the leader's already-stored
// chunk are available for [begin, begin+length), for a NOT_LEADER
// transfer's divergence check.
func (t *Torrent) leaderBytes(index, begin, length uint32) []byte {
	chunk, err := t.store.CreateChunk(index, false)
	if err != nil {
		return nil
	}
	dst := make([]byte, length)
	n, err := chunk.ToBuffer(dst, begin, length)
	if err != nil {
		return nil
	}
	return dst[:n]
}

// onBlockListCompleted is TransferList's onCompleted hook: every block of
// the piece has a completed leader, so it's time to hash-verify it. Actual
// SHA-1 comparison is the caller's concern (it owns the announced piece
// hashes); this only does the bookkeeping HashSucceeded/HashFailed expect
// once that verdict is known, via VerifyPiece below.
func (t *Torrent) onBlockListCompleted(index uint32) {
	t.logger.WithDefaultLevel(log.Debug).Printf("piece %d ready for hash verification; transfer list:\n%s", index, t.transferList.DebugDump())
}

// chunkAdapter satisfies delegator.Chunk (Bytes/WriteBytes) over a
// storage.Chunk (ToBuffer/FromBuffer), the two packages having been
// designed against slightly different read/write idioms (delegator wants
// a byte-slice return, storage wants a caller-supplied destination buffer
// so it can avoid an allocation on its own hot path).
type chunkAdapter struct {
	chunk storage.Chunk
}

func (a chunkAdapter) Bytes(offset, length uint32) []byte {
	dst := make([]byte, length)
	n, err := a.chunk.ToBuffer(dst, offset, length)
	if err != nil {
		return nil
	}
	return dst[:n]
}

func (a chunkAdapter) WriteBytes(offset uint32, data []byte) {
	_ = a.chunk.FromBuffer(data, offset)
}

// VerifyPiece applies a hash verdict for index once the caller has
// computed it (SHA-1 comparison against the announced piece hash is
// outside this module's scope, per spec §6), driving TransferList's
// HashSucceeded/HashFailed bookkeeping and, on success, marking the piece
// had in this torrent's own bitfield; the selector is not updated here.
func (t *Torrent) VerifyPiece(index uint32, succeeded bool) error {
	chunk, err := t.store.CreateChunk(index, false)
	if err != nil {
		return err
	}
	adapter := chunkAdapter{chunk: chunk}
	if succeeded {
		t.guardInternal("VerifyPiece.HashSucceeded", func() {
			t.transferList.HashSucceeded(index, adapter)
		})
		t.have.Set(int(index))
		if t.metrics != nil {
			t.metrics.HashSucceeded.Inc()
		}
		for _, p := range t.peers {
			p.AnnounceHave(index)
		}
		return nil
	}
	t.guardInternal("VerifyPiece.HashFailed", func() {
		t.transferList.HashFailed(index, adapter)
	})
	if t.metrics != nil {
		t.metrics.HashFailed.Inc()
	}
	return nil
}
