package delegator

// Block is one request-sized byte range within a piece, tracking every
// Transfer (one per peer) that has been queued or is actively leading the
// download of this range.
type Block struct {
	parent *BlockList
	piece  Piece

	notStalled uint32

	queued    []*Transfer
	transfers []*Transfer

	leader *Transfer

	failed *BlockFailed
}

func newBlock(parent *BlockList, piece Piece) *Block {
	return &Block{parent: parent, piece: piece}
}

func (b *Block) Parent() *BlockList { return b.parent }
func (b *Block) Piece() Piece       { return b.piece }
func (b *Block) Index() uint32      { return b.piece.Index }

// IsStalled reports no transfer is currently making progress (every
// transfer queued against this block has been marked stalled).
func (b *Block) IsStalled() bool { return b.notStalled == 0 }

// IsFinished reports the leader's byte stream completed the block.
func (b *Block) IsFinished() bool { return b.leader != nil && b.leader.IsFinished() }

// IsTransferring reports there's a leader still in flight.
func (b *Block) IsTransferring() bool { return b.leader != nil && !b.leader.IsFinished() }

func (b *Block) Leader() *Transfer { return b.leader }

func (b *Block) SizeAll() int { return len(b.queued) + len(b.transfers) }

// findQueued / findTransferring look up a peer's existing Transfer in
// either bucket, used both by affinity selection (spec §4.4 rule 1) and to
// reject a duplicate request from the same peer.
func (b *Block) findQueued(peer PeerID) *Transfer {
	for _, t := range b.queued {
		if t.Peer == peer {
			return t
		}
	}
	return nil
}

func (b *Block) findTransferring(peer PeerID) *Transfer {
	for _, t := range b.transfers {
		if t.Peer == peer {
			return t
		}
	}
	return nil
}

func (b *Block) Find(peer PeerID) *Transfer {
	if t := b.findQueued(peer); t != nil {
		return t
	}
	return b.findTransferring(peer)
}

// insert creates a new queued Transfer for peer. Every transfer starts
// queued; transferring() then makes it the leader if the block has none
// yet, or a NotLeader (aggressive/endgame mode, spec §4.4) otherwise.
func (b *Block) insert(peer PeerID) *Transfer {
	t := newTransfer(peer, b)
	b.queued = append(b.queued, t)
	b.notStalled++
	return t
}

// transferring moves t from queued to the active transfers list and, if
// this block currently has no leader, promotes t immediately.
func (b *Block) transferring(t *Transfer) bool {
	for i, q := range b.queued {
		if q == t {
			b.queued = append(b.queued[:i], b.queued[i+1:]...)
			break
		}
	}
	if b.leader == nil {
		t.state = StateLeader
		b.leader = t
	} else {
		t.state = StateNotLeader
	}
	b.transfers = append(b.transfers, t)
	return t.state == StateLeader
}

// erase drops t entirely from the block. If t was the leader, the block's
// remaining NOT_LEADER transfers are searched for a replacement: the one
// with the largest delivered byte position (spec §4.4's "Block internal
// algorithm on leader erasure") is promoted; if none qualify, every erased
// transfer is purged and the block returns to the queue leaderless.
func (b *Block) erase(t *Transfer) {
	wasLeader := t == b.leader
	b.removeTransfer(t)
	t.state = StateErased
	t.block = nil

	if !wasLeader {
		return
	}
	b.leader = nil
	b.failedLeader()
}

func (b *Block) removeTransfer(t *Transfer) {
	for i, q := range b.queued {
		if q == t {
			b.queued = append(b.queued[:i], b.queued[i+1:]...)
			return
		}
	}
	for i, x := range b.transfers {
		if x == t {
			b.transfers = append(b.transfers[:i], b.transfers[i+1:]...)
			return
		}
	}
}

// failedLeader implements Block::failed_leader: promote the remaining
// NOT_LEADER transfer with the largest position to LEADER, or purge every
// erased transfer and leave the block leaderless.
func (b *Block) failedLeader() {
	var best *Transfer
	for _, t := range b.transfers {
		if t.state != StateNotLeader {
			continue
		}
		if best == nil || t.position > best.position {
			best = t
		}
	}
	if best != nil {
		best.state = StateLeader
		b.leader = best
		return
	}

	kept := b.transfers[:0]
	for _, t := range b.transfers {
		if t.state == StateErased {
			continue
		}
		kept = append(kept, t)
	}
	b.transfers = kept
}

// completed marks t (must be the leader) as having finished its byte
// stream. Returns true if this was in fact the leader (non-leader
// completion is a caller error the reference treats as a no-op).
func (b *Block) completed(t *Transfer) bool {
	return t == b.leader && t.IsFinished()
}

// stalledTransfer decrements the not-stalled counter the first time a
// given transfer is marked stalled (idempotent per transfer via stall>0
// check left to the caller).
func (b *Block) stalledTransfer(t *Transfer) {
	if b.notStalled == 0 {
		panic("delegator: stalledTransfer with notStalled already 0")
	}
	b.notStalled--
}

// retryTransfer resets stall accounting, used by TransferList.HashFailed
// when re-requesting a piece after a corrupt hash.
func (b *Block) retryTransfer() {
	b.notStalled = uint32(len(b.queued) + len(b.transfers))
}
