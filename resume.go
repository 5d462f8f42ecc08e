package torrent

import (
	"time"

	"github.com/coriolis-labs/swarmcore/delegator"
)

// FileBaseline is one file's byte-offset baseline within a torrent's flat
// chunk stream, for a caller that maps chunk-relative resume state back
// onto its own multi-file layout (spec §6: "the per-file baseline
// counters" — this module's own storage.Layout only knows about a single
// flat byte stream, so a caller supplies these rather than this package
// inventing a multi-file layout it has no other use for).
type FileBaseline struct {
	Path        string
	StartOffset int64
	Length      int64
}

// ResumeState is the snapshot spec §6 calls "persisted state layout":
// the completed bitfield (already padded to bytes by bitfield.Bitfield's
// own byte backing), the completed-chunks rolling list, and the
// per-file baseline counters. Serializing this to/from a concrete medium
// is the caller's concern (this module has no storage backend, per
// spec.md §1); ResumeState only captures and restores the in-memory
// shape.
type ResumeState struct {
	CompletedBitfield []byte
	CompletedList     []delegator.CompletedEntry
	FileBaselines     []FileBaseline
}

// completedListRetention is spec §4.5's 30-minute retention window for
// TransferList.completed_list entries.
const completedListRetention = 30 * time.Minute

// SaveResumeState snapshots t's current completed-chunks state, pruning
// completed_list entries older than the 30-minute retention window
// first (spec §4.5). fileBaselines is passed through unchanged; this
// package has no notion of multi-file layout of its own.
func (t *Torrent) SaveResumeState(fileBaselines []FileBaseline) ResumeState {
	cutoff := nowMicros() - completedListRetention.Microseconds()
	t.transferList.PruneCompletedBefore(cutoff)
	return ResumeState{
		CompletedBitfield: append([]byte(nil), t.have.Bytes()...),
		CompletedList:     t.transferList.CompletedEntries(),
		FileBaselines:     fileBaselines,
	}
}

// LoadResumeState restores t's completed bitfield from a previously
// saved ResumeState, mutating t.have and t.selector in place (rather
// than rebuilding either) since both delegator.Delegator and
// chunkselect.Selector hold direct pointers handed out at construction
// time — selector.UsingIndex is the same call Delegator makes when it
// starts a piece, applied here for every bit the saved state has set that
// t doesn't yet. The completed_list itself is
// historical (used only to drive resume pruning decisions) and is not
// re-injected into a fresh TransferList, which starts empty by
// construction; callers that need the history for diagnostics can read
// state.CompletedList directly.
func (t *Torrent) LoadResumeState(state ResumeState) {
	for i := 0; i < t.numPieces; i++ {
		if t.have.Get(i) {
			continue
		}
		byteIdx := i / 8
		if byteIdx >= len(state.CompletedBitfield) {
			continue
		}
		bit := byte(0x80) >> uint(i%8)
		if state.CompletedBitfield[byteIdx]&bit == 0 {
			continue
		}
		t.have.Set(i)
		// LoadResumeState runs before any peer connects, so every index
		// not yet in t.have is still marked wanted in the selector (no
		// delegation could have claimed it yet); UsingIndex's precondition
		// holds unconditionally here.
		t.selector.UsingIndex(uint32(i))
	}
}
