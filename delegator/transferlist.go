package delegator

import (
	"github.com/davecgh/go-spew/spew"
	"github.com/tidwall/btree"

	"github.com/coriolis-labs/swarmcore/priority"
)

// Chunk is the minimal read surface TransferList needs from the storage
// layer to compare/re-request bytes during hash verdict processing: the
// verified (or suspect) bytes of one piece.
type Chunk interface {
	// Bytes returns a view of [offset, offset+length) within the chunk
	// backing piece index.
	Bytes(offset, length uint32) []byte
	// WriteBytes overwrites [offset, offset+length) — used to patch in the
	// most popular failed variant before a re-hash attempt.
	WriteBytes(offset uint32, data []byte)
}

// completedEntry is one entry of TransferList::completed_list: a
// (timestamp, piece index) pair appended every time a BlockList finishes
// hashing successfully, forming a resume-log style record of completion
// order.
type completedEntry struct {
	atMicros int64
	index    uint32
}

// CompletedEntry is completedEntry's exported read-only view, for a
// caller building a resume-data snapshot (spec §6: "the completed-chunks
// rolling list, pruned as in §4.5").
type CompletedEntry struct {
	AtMicros int64
	Index    uint32
}

// CorruptReport is emitted once per peer whose delivered bytes turn out not
// to match the now-verified chunk, driving whatever penalty/ban policy the
// caller wants to apply.
type CorruptReport struct {
	Peer  PeerID
	Index uint32
}

// TransferList owns every in-flight BlockList, keyed by piece index in a
// tidwall/btree-ordered map so Delegator can cheaply iterate pieces in
// index order when scanning for affinity/priority candidates (spec §4.4).
type TransferList struct {
	byIndex *btree.Map[uint32, *BlockList]

	completedList []completedEntry

	succeededCount uint32
	failedCount    uint32

	onCanceled  func(index uint32)
	onCompleted func(index uint32)
	onQueued    func(index uint32)
	onCorrupt   func(CorruptReport)

	nowMicros func() int64
}

// NewTransferList returns an empty TransferList. nowMicros supplies the
// clock for completedList timestamps (tests inject a fake one).
func NewTransferList(nowMicros func() int64) *TransferList {
	return &TransferList{
		byIndex:   btree.NewMap[uint32, *BlockList](32),
		nowMicros: nowMicros,
	}
}

func (l *TransferList) SetOnCanceled(f func(uint32))       { l.onCanceled = f }
func (l *TransferList) SetOnCompleted(f func(uint32))      { l.onCompleted = f }
func (l *TransferList) SetOnQueued(f func(uint32))         { l.onQueued = f }
func (l *TransferList) SetOnCorrupt(f func(CorruptReport)) { l.onCorrupt = f }

func (l *TransferList) SucceededCount() uint32 { return l.succeededCount }
func (l *TransferList) FailedCount() uint32    { return l.failedCount }
func (l *TransferList) Len() int               { return l.byIndex.Len() }

// blockListSnapshot is a plain-data view of one BlockList, for DebugDump to
// format with spew rather than hand-rolled printf layout.
type blockListSnapshot struct {
	Index    uint32
	Priority priority.Class
	Size     int
	Finished uint32
	Failed   uint32
	Attempt  uint32
}

// DebugDump renders every in-flight BlockList via go-spew, for a caller's
// debug-level log line when diagnosing a stuck or runaway piece.
func (l *TransferList) DebugDump() string {
	snapshots := make([]blockListSnapshot, 0, l.Len())
	l.Scan(func(bl *BlockList) bool {
		snapshots = append(snapshots, blockListSnapshot{
			Index:    bl.Index(),
			Priority: bl.Priority(),
			Size:     bl.Size(),
			Finished: bl.Finished(),
			Failed:   bl.Failed(),
			Attempt:  bl.Attempt(),
		})
		return true
	})
	return spew.Sdump(snapshots)
}

// CompletedEntries returns a copy of the completed_list, oldest first,
// for a caller snapshotting resume data.
func (l *TransferList) CompletedEntries() []CompletedEntry {
	out := make([]CompletedEntry, len(l.completedList))
	for i, e := range l.completedList {
		out[i] = CompletedEntry{AtMicros: e.atMicros, Index: e.index}
	}
	return out
}

// PruneCompletedBefore drops every completed_list entry older than
// cutoffMicros, per spec §4.5's retention rule ("entries older than 30
// minutes may be evicted; pruning runs at most every 60 minutes" — the
// caller is responsible for not calling this more often than that).
// Returns how many entries were dropped.
func (l *TransferList) PruneCompletedBefore(cutoffMicros int64) int {
	keep := l.completedList[:0]
	dropped := 0
	for _, e := range l.completedList {
		if e.atMicros < cutoffMicros {
			dropped++
			continue
		}
		keep = append(keep, e)
	}
	l.completedList = keep
	return dropped
}

func (l *TransferList) Find(index uint32) (*BlockList, bool) {
	return l.byIndex.Get(index)
}

// Insert creates a BlockList for piece, splitting it into blockLength
// blocks, and registers it by index.
func (l *TransferList) Insert(piece Piece, class priority.Class) *BlockList {
	bl := newBlockList(piece, class)
	l.byIndex.Set(piece.Index, bl)
	if l.onQueued != nil {
		l.onQueued(piece.Index)
	}
	return bl
}

// Scan calls f for every BlockList in ascending piece-index order, stopping
// early if f returns false.
func (l *TransferList) Scan(f func(*BlockList) bool) {
	l.byIndex.Scan(func(_ uint32, bl *BlockList) bool { return f(bl) })
}

// Erase drops index's BlockList entirely and fires the onCanceled hook.
func (l *TransferList) Erase(index uint32) {
	if bl, ok := l.byIndex.Get(index); ok {
		_ = bl
		l.byIndex.Delete(index)
		if l.onCanceled != nil {
			l.onCanceled(index)
		}
	}
}

// HashSucceeded implements spec §4.5: every block must already be
// finished; any recorded failed-attempt variants are resolved against the
// now-verified chunk bytes, corrupt reports fire for any transfer whose
// failed_index disagreed with the winning variant, the completion is
// logged, and the BlockList is erased.
func (l *TransferList) HashSucceeded(index uint32, chunk Chunk) {
	bl, ok := l.byIndex.Get(index)
	if !ok {
		return
	}
	for _, b := range bl.Blocks() {
		if !b.IsFinished() {
			panic("delegator: HashSucceeded with an unfinished block")
		}
	}

	if bl.Failed() > 0 {
		for _, b := range bl.Blocks() {
			if b.failed == nil {
				continue
			}
			data := chunk.Bytes(b.piece.Offset, b.piece.Length)
			variantIdx, _ := b.failed.FindOrAdd(data)
			b.failed.SetCurrent(variantIdx)

			for _, t := range b.transfers {
				if t.failedIndex != invalidFailedIndex && t.failedIndex != variantIdx {
					if l.onCorrupt != nil {
						l.onCorrupt(CorruptReport{Peer: t.Peer, Index: index})
					}
				}
			}
		}
	}

	l.completedList = append(l.completedList, completedEntry{atMicros: l.nowMicros(), index: index})
	l.succeededCount++
	l.byIndex.Delete(index)
}

// HashFailed implements spec §4.5. On the first failure for this BlockList
// (attempt == 0), every block's delivered bytes are compared against its
// existing failed-variants (fingerprint-filtered byte equality); a
// majority-variant change that wasn't already unbeaten before this attempt
// flips the BlockList into retry mode (attempt = 1) and the most popular
// variant of each block is written back into the chunk so the next hash
// attempt checks against our best guess. On a later failure (attempt > 0)
// the whole BlockList is simply reset for a clean re-request via
// DoAllFailed.
func (l *TransferList) HashFailed(index uint32, chunk Chunk) {
	bl, ok := l.byIndex.Get(index)
	if !ok {
		return
	}
	l.failedCount++
	bl.incFailed()

	if bl.Attempt() > 0 {
		bl.DoAllFailed()
		if l.onQueued != nil {
			l.onQueued(index)
		}
		return
	}

	promoted := 0
	for _, b := range bl.Blocks() {
		if b.failed == nil {
			b.failed = newBlockFailed()
		}
		prevBest := b.failed.MaxElement()
		prevWasUnique := prevBest != invalidFailedIndex && isUniqueMax(b.failed, prevBest)

		data := chunk.Bytes(b.piece.Offset, b.piece.Length)
		b.failed.FindOrAdd(data)

		newBest := b.failed.MaxElement()
		// A block only counts as "promoted" when the majority variant
		// actually changed and there was a prior majority to unseat
		// (the block's very first recorded variant is never a promotion).
		if newBest != prevBest && prevBest != invalidFailedIndex && !prevWasUnique {
			promoted++
		}
	}

	if promoted > 0 {
		bl.SetAttempt(1)
		for _, b := range bl.Blocks() {
			if b.failed == nil || b.failed.Len() == 0 {
				continue
			}
			best := b.failed.MaxElement()
			b.failed.SetCurrent(best)
			chunk.WriteBytes(b.piece.Offset, b.failed.Bytes(best))
		}
		if l.onCompleted != nil {
			l.onCompleted(index)
		}
		return
	}
}

// isUniqueMax reports whether variant idx is the strict maximum by
// refcount among all of a block's recorded variants (used to tell a
// genuine reshuffle of the majority apart from a tie that happens to
// report the same winner).
func isUniqueMax(f *BlockFailed, idx uint32) bool {
	if idx == invalidFailedIndex {
		return false
	}
	winnerCount := f.Refcount(idx)
	ties := 0
	for i := 0; i < f.Len(); i++ {
		if f.Refcount(uint32(i)) == winnerCount {
			ties++
		}
	}
	return ties == 1
}
