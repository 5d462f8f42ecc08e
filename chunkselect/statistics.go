// Package chunkselect implements the rarity-tracking and next-piece
// selection logic from spec §4.4: Statistics tallies, per piece index, how
// many connected (non-seed, non-complete) peers have announced that piece,
// and Selector walks priority-ranged bitfields to answer "what should this
// peer request next".
package chunkselect

import "github.com/coriolis-labs/swarmcore/bitfield"

// maxAccounted caps how many non-complete peers contribute to the rarity
// counters. Past this, tallying further peers would only risk overflowing
// the per-index byte counters (capped at 255) for no practical benefit —
// rarity is a heuristic signal, not something that needs every peer
// counted exactly.
const maxAccounted = 255

// Tracking is the per-connection flag the reference keeps as
// PeerChunks::using_counter: whether this peer's bitfield is currently
// folded into the Statistics totals, so a bitfield can be added and later
// subtracted exactly once regardless of how many times a connection goes
// through have/connect/disconnect transitions.
type Tracking struct {
	usingCounter bool
}

func (t *Tracking) UsingCounter() bool { return t.usingCounter }

// Statistics holds one rarity counter per piece index plus the complete/
// accounted peer tallies.
type Statistics struct {
	rarity    []uint8
	complete  uint32
	accounted uint32
}

// NewStatistics returns a Statistics sized for numPieces, all rarity
// counters zeroed.
func NewStatistics(numPieces int) *Statistics {
	return &Statistics{rarity: make([]uint8, numPieces)}
}

func (s *Statistics) Complete() uint32  { return s.complete }
func (s *Statistics) Accounted() uint32 { return s.accounted }
func (s *Statistics) Len() int          { return len(s.rarity) }

// Rarity returns how many accounted peers have announced piece index (not
// counting complete/seed peers, which are tracked separately via
// Complete instead of inflating every index's counter).
func (s *Statistics) Rarity(index int) uint8 { return s.rarity[index] }

func (s *Statistics) shouldAdd() bool { return s.accounted < maxAccounted }

// ReceivedConnect folds bf into the statistics: a seed's bitfield is
// counted only via the complete tally (every index is implicitly "rarer by
// one seed" without needing a per-index increment), a non-empty partial
// bitfield is added index-by-index if there's still room to account for
// another peer, and an empty bitfield is left for ReceivedHaveChunk to pick
// up lazily (cheaper than accounting a peer that's announced nothing yet).
func (s *Statistics) ReceivedConnect(t *Tracking, bf *bitfield.Bitfield) {
	if t.usingCounter {
		panic("chunkselect: ReceivedConnect called while already using_counter")
	}

	if bf.IsAllSet() {
		t.usingCounter = true
		s.complete++
		return
	}

	if !bf.IsAllUnset() && s.shouldAdd() {
		t.usingCounter = true
		s.accounted++
		for i := 0; i < bf.SizeBits(); i++ {
			if bf.Get(i) {
				s.rarity[i]++
			}
		}
	}
}

// ReceivedDisconnect reverses whatever ReceivedConnect (or a subsequent
// ReceivedHaveChunk promotion) did, and is a no-op for a peer that was
// never accounted in the first place.
func (s *Statistics) ReceivedDisconnect(t *Tracking, bf *bitfield.Bitfield) {
	if !t.usingCounter {
		return
	}
	t.usingCounter = false

	if bf.IsAllSet() {
		s.complete--
		return
	}

	if s.accounted == 0 {
		panic("chunkselect: ReceivedDisconnect accounted == 0")
	}
	s.accounted--
	for i := 0; i < bf.SizeBits(); i++ {
		if bf.Get(i) {
			s.rarity[i]--
		}
	}
}

// ReceivedHaveChunk accounts a single newly announced piece. A peer whose
// bitfield was empty (and thus skipped by ReceivedConnect) is lazily
// admitted here on its first HAVE, since by definition it's no longer an
// all-unset bitfield. If this HAVE completes the peer's bitfield, the peer
// graduates from "accounted" (per-index counters) to "complete" (the single
// aggregate counter), undoing its per-index contributions.
func (s *Statistics) ReceivedHaveChunk(t *Tracking, bf *bitfield.Bitfield, index int) {
	if bf.IsAllUnset() && s.shouldAdd() {
		if t.usingCounter {
			panic("chunkselect: ReceivedHaveChunk already using_counter on empty bitfield")
		}
		t.usingCounter = true
		s.accounted++
	}

	bf.Set(index)

	if t.usingCounter {
		s.rarity[index]++

		if bf.IsAllSet() {
			if s.accounted == 0 {
				panic("chunkselect: ReceivedHaveChunk accounted == 0 on completion")
			}
			s.complete++
			s.accounted--
			for i := range s.rarity {
				s.rarity[i]--
			}
		}
	} else if bf.IsAllSet() {
		t.usingCounter = true
		s.complete++
	}
}
