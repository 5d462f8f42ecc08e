package delegator

import (
	"github.com/coriolis-labs/swarmcore/bitfield"
	"github.com/coriolis-labs/swarmcore/chunkselect"
	"github.com/coriolis-labs/swarmcore/priority"
)

// endgameMargin is the constant from spec §4.4's aggressive-mode trigger:
// completed + in_flight + endgameMargin >= total.
const endgameMargin = 5

const invalidIndex = ^uint32(0)

// Counts supplies the torrent-level completion counters the aggressive
// (endgame) trigger needs: how many pieces are fully verified, how many are
// currently in flight, and how many the torrent has in total.
type Counts struct {
	Completed uint32
	InFlight  uint32
	Total     uint32
}

// Delegator couples a ChunkSelector to a TransferList and presents the
// single per-peer entry point (Delegate) peer connections call when they
// have spare request slots, per spec §4.4.
type Delegator struct {
	selector *chunkselect.Selector
	transfer *TransferList

	counts      func() Counts
	pieceLayout func(index uint32) Piece
}

// NewDelegator wires a ChunkSelector and TransferList together. counts is
// called on every Delegate to decide whether aggressive/endgame mode
// applies. pieceLayout supplies the true (offset, length) of a piece index
// — every piece is length-uniform except the torrent's last one.
func NewDelegator(selector *chunkselect.Selector, transfer *TransferList, counts func() Counts, pieceLayout func(index uint32) Piece) *Delegator {
	return &Delegator{selector: selector, transfer: transfer, counts: counts, pieceLayout: pieceLayout}
}

func (d *Delegator) aggressive() bool {
	c := d.counts()
	return c.Completed+c.InFlight+endgameMargin >= c.Total
}

// Delegate implements spec §4.4's five-rule ordered search. It returns the
// chosen Transfer and true on success; false means the peer currently has
// nothing useful to request.
func (d *Delegator) Delegate(peer PeerID, peerBitfield *bitfield.Bitfield, isSeeder bool, cache *chunkselect.PeerCache) (*Transfer, bool) {
	aggressive := d.aggressive()

	// Rule 1: affinity — continue a BlockList this peer already has
	// unfinished, unstalled blocks in, by handing it that list's first
	// unassigned block.
	if t, ok := d.affinity(peer); ok {
		return t, true
	}

	// Rule 2: any HIGH-priority BlockList with an unstalled unassigned
	// (or, in aggressive mode, re-leadable) block this peer can carry.
	if t, ok := d.existingUnstalled(peer, peerBitfield, priority.High, aggressive); ok {
		return t, true
	}

	// Rule 3: start a new HIGH piece.
	if t, ok := d.startNewPiece(peer, peerBitfield, isSeeder, cache, priority.High); ok {
		return t, true
	}

	// Rule 4: any NORMAL-priority BlockList, same as rule 2.
	if t, ok := d.existingUnstalled(peer, peerBitfield, priority.Normal, aggressive); ok {
		return t, true
	}

	// Rule 5: start a new NORMAL piece.
	if t, ok := d.startNewPiece(peer, peerBitfield, isSeeder, cache, priority.Normal); ok {
		return t, true
	}

	return nil, false
}

func (d *Delegator) affinity(peer PeerID) (*Transfer, bool) {
	var found *Transfer
	d.transfer.Scan(func(bl *BlockList) bool {
		for _, b := range bl.Blocks() {
			if b.IsFinished() {
				continue
			}
			t := b.Find(peer)
			if t == nil || b.IsStalled() {
				continue
			}
			for _, free := range bl.Blocks() {
				if free.IsFinished() || free.Leader() != nil || free.Find(peer) != nil {
					continue
				}
				found = free.insert(peer)
				free.transferring(found)
				return false
			}
			return true
		}
		return true
	})
	if found != nil {
		return found, true
	}
	return nil, false
}

// existingUnstalled scans every BlockList of the given priority class for
// an unassigned (or, in aggressive mode, already-leadered) block the peer
// both holds and doesn't already have a transfer on. In aggressive mode,
// a matched BlockList is walked to its end and the last qualifying
// stalled block wins, rather than the first: this matches the reference
// delegate_piece loop, which keeps overwriting its candidate through
// every remaining block of the piece instead of stopping at the first
// one. The unassigned (Leader() == nil) case still returns the instant
// it's found, since any unassigned block is an equally good candidate
// regardless of position.
func (d *Delegator) existingUnstalled(peer PeerID, peerBitfield *bitfield.Bitfield, class priority.Class, aggressive bool) (*Transfer, bool) {
	var found *Transfer
	d.transfer.Scan(func(bl *BlockList) bool {
		if bl.Priority() != class {
			return true
		}
		if !peerBitfield.Get(int(bl.Index())) {
			return true
		}
		var stalled *Block
		for _, b := range bl.Blocks() {
			if b.Find(peer) != nil {
				continue
			}
			if b.IsFinished() {
				continue
			}
			if b.Leader() == nil {
				t := b.insert(peer)
				b.transferring(t)
				found = t
				return false
			}
			if aggressive && b.IsStalled() {
				stalled = b
			}
		}
		if stalled != nil {
			t := stalled.insert(peer)
			stalled.transferring(t)
			found = t
			return false
		}
		return true
	})
	if found != nil {
		return found, true
	}
	return nil, false
}

// startNewPiece asks the ChunkSelector for a fresh index the peer holds,
// creates its BlockList under the given priority class, and leads its
// first block with this peer. Selector.Find takes no class: it returns a
// HIGH index when the peer has one and a NORMAL one otherwise, so the
// rule-3 call can start a NORMAL piece and record its BlockList as HIGH.
func (d *Delegator) startNewPiece(peer PeerID, peerBitfield *bitfield.Bitfield, isSeeder bool, cache *chunkselect.PeerCache, class priority.Class) (*Transfer, bool) {
	index := d.selector.Find(peerBitfield, isSeeder, cache)
	if index == invalidIndex {
		return nil, false
	}

	piece := d.pieceLayout(index)
	bl := d.transfer.Insert(piece, class)
	d.selector.UsingIndex(index)

	b := bl.Blocks()[0]
	t := b.insert(peer)
	b.transferring(t)
	return t, true
}

// Finished implements spec §4.4: the transfer's byte stream reached
// piece.length. Marks its Block completed and, once every block of the
// piece has a completed leader, emits slot_completed via the TransferList's
// onCompleted hook (driving the hash check).
func (d *Delegator) Finished(t *Transfer) {
	b := t.block
	if b == nil || !b.completed(t) {
		return
	}
	bl := b.parent
	bl.incFinished()

	if bl.IsAllFinished() {
		if d.transfer.onCompleted != nil {
			d.transfer.onCompleted(bl.Index())
		}
	}
}

// Cancel implements spec §4.4: remove t from its Block (queued or active),
// idempotent against an already-ERASED transfer.
func (d *Delegator) Cancel(t *Transfer) {
	if t.state == StateErased {
		return
	}
	b := t.block
	if b == nil {
		return
	}
	bl := b.parent
	b.erase(t)

	if len(b.queued)+len(b.transfers) == 0 && bl != nil {
		d.selector.NotUsingIndex(bl.Index())
	}
}
