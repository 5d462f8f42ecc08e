package delegator

// PeerID is an opaque per-connection identity, used only as a map/search
// key — delegator never dereferences it.
type PeerID interface{}

// TransferState mirrors BlockTransfer::state_type: a transfer starts
// Queued (requested but not yet active), becomes Leader (its byte stream is
// the one Block.completed trusts) if its block has no leader yet, or
// NotLeader if it joins a block that already has one (endgame); a NotLeader
// is promoted to Leader when the leader is erased. Erased marks a transfer
// cancelled/disconnected and pending cleanup.
type TransferState int

const (
	StateErased TransferState = iota
	StateQueued
	StateLeader
	StateNotLeader
)

// Transfer is a BlockTransfer: one peer's outstanding or completed attempt
// at a Block.
type Transfer struct {
	Peer  PeerID
	block *Block
	piece Piece

	state TransferState

	position    uint32
	stall       uint32
	failedIndex uint32
}

func newTransfer(peer PeerID, b *Block) *Transfer {
	return &Transfer{Peer: peer, block: b, piece: b.piece, state: StateQueued, failedIndex: invalidFailedIndex}
}

func (t *Transfer) Block() *Block        { return t.block }
func (t *Transfer) Piece() Piece         { return t.piece }
func (t *Transfer) State() TransferState { return t.state }
func (t *Transfer) Position() uint32     { return t.position }
func (t *Transfer) IsValid() bool        { return t.block != nil }

// IsFinished reports whether this transfer's byte stream has reached the
// full length of its piece (spec §4.4's "byte stream reached piece.length").
func (t *Transfer) IsFinished() bool { return t.position == t.piece.Length }

// AdjustPosition advances the transfer's delivered-byte count; callers feed
// this from the peer-connection read path.
func (t *Transfer) AdjustPosition(n uint32) { t.position += n }

// SetFailedIndex records which failed-variant (by index into the Block's
// BlockFailed list) this transfer's bytes matched, so TransferList.hash
// succeeded can later tell which peers served the bytes that turned out to
// be corrupt.
func (t *Transfer) SetFailedIndex(i uint32) { t.failedIndex = i }
func (t *Transfer) FailedIndex() uint32     { return t.failedIndex }

func (t *Transfer) Stall() uint32     { return t.stall }
func (t *Transfer) SetStall(s uint32) { t.stall = s }
