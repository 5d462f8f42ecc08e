package delegator

import "github.com/coriolis-labs/swarmcore/priority"

// BlockList is the set of Blocks (request-sized byte ranges) covering one
// piece, plus the hash-retry bookkeeping spec §4.5 needs: how many attempts
// have been made, how many blocks have so far produced corrupt bytes, and
// whether the piece was originally requested from a seeder (a signal the
// reference keeps for rarity heuristics on future re-requests).
type BlockList struct {
	piece    Piece
	priority priority.Class
	blocks   []*Block

	finished uint32
	failed   uint32
	attempt  uint32
	bySeeder bool
}

// newBlockList splits piece into blockLength-sized Blocks, with the final
// block shortened to fit the piece's actual length.
func newBlockList(piece Piece, class priority.Class) *BlockList {
	bl := &BlockList{piece: piece, priority: class}

	remaining := piece.Length
	offset := uint32(0)
	for remaining > 0 {
		length := uint32(blockLength)
		if length > remaining {
			length = remaining
		}
		b := newBlock(bl, Piece{Index: piece.Index, Offset: offset, Length: length})
		bl.blocks = append(bl.blocks, b)
		offset += length
		remaining -= length
	}
	return bl
}

func (bl *BlockList) Piece() Piece            { return bl.piece }
func (bl *BlockList) Index() uint32           { return bl.piece.Index }
func (bl *BlockList) Blocks() []*Block        { return bl.blocks }
func (bl *BlockList) Size() int               { return len(bl.blocks) }
func (bl *BlockList) Priority() priority.Class { return bl.priority }
func (bl *BlockList) Finished() uint32         { return bl.finished }
func (bl *BlockList) Failed() uint32           { return bl.failed }
func (bl *BlockList) Attempt() uint32          { return bl.attempt }
func (bl *BlockList) BySeeder() bool           { return bl.bySeeder }
func (bl *BlockList) SetBySeeder(v bool)       { bl.bySeeder = v }
func (bl *BlockList) SetAttempt(a uint32)      { bl.attempt = a }

func (bl *BlockList) IsAllFinished() bool { return bl.finished == uint32(len(bl.blocks)) }

func (bl *BlockList) incFinished()   { bl.finished++ }
func (bl *BlockList) clearFinished() { bl.finished = 0 }
func (bl *BlockList) incFailed()     { bl.failed++ }

// DoAllFailed resets every block's finished/leader state so the whole
// piece is requested again, per spec §4.5's hash_failed "attempt > 0"
// branch: a corrupt piece with an unresolved majority variant needs a
// clean retry, not a partial patch.
func (bl *BlockList) DoAllFailed() {
	bl.clearFinished()
	for _, b := range bl.blocks {
		b.leader = nil
		for _, t := range b.transfers {
			t.state = StateQueued
			t.position = 0
		}
		b.queued = append(b.queued, b.transfers...)
		b.transfers = b.transfers[:0]
		b.retryTransfer()
	}
}
