package chunkselect

import (
	"math/rand"

	"github.com/coriolis-labs/swarmcore/bitfield"
	"github.com/coriolis-labs/swarmcore/priority"
)

const invalidChunk = ^uint32(0)

// sharedQueueCapacity is the capacity of the seed-side shared partial
// queue; see partialQueue's doc comment for why this and
// peerQueueCapacity are heuristic, not protocol-visible.
const sharedQueueCapacity = 32

// peerQueueCapacity is the capacity newly enabled per-peer download caches
// get on their first use in Find.
const peerQueueCapacity = 8

// Selector picks which piece a peer connection should request next,
// preferring rarer pieces within whatever priority band (HIGH before
// NORMAL, OFF never) the caller has configured via its priority.Ranges.
type Selector struct {
	bitfield *bitfield.Bitfield // wanted[i] == true means "we don't have it"
	position uint32

	statistics *Statistics

	ranges *priority.Ranges

	sharedQueue partialQueue
}

// NewSelector builds a Selector whose "wanted" bitfield is the bitwise
// complement of have (pieces we already have are never wanted), and whose
// rarity lookups are served by stats.
func NewSelector(have *bitfield.Bitfield, stats *Statistics, ranges *priority.Ranges) *Selector {
	s := &Selector{
		bitfield:   have.Complement(),
		position:   invalidChunk,
		statistics: stats,
		ranges:     ranges,
	}
	s.sharedQueue.Enable(sharedQueueCapacity)
	return s
}

func (s *Selector) Size() int   { return s.bitfield.SizeBits() }
func (s *Selector) Empty() bool { return s.Size() == 0 }

// UpdatePriorities re-seeds the scan starting position whenever priority
// ranges (or the wanted set) change meaningfully; the reference reseeds
// randomly rather than always restarting at 0, so that the same chunk isn't
// perpetually favored across many peers that all call Find right after a
// priority change.
func (s *Selector) UpdatePriorities() {
	if s.Empty() {
		return
	}
	s.sharedQueue.Clear()
	if s.position == invalidChunk {
		s.position = uint32(rand.Intn(s.Size()))
	}
}

// IsWanted reports whether index is both not-yet-had and within a
// requestable (non-OFF) priority range.
func (s *Selector) IsWanted(index uint32) bool {
	if !s.bitfield.Get(int(index)) {
		return false
	}
	class := s.ranges.ClassOf(int(index))
	return class == priority.High || class == priority.Normal
}

// UsingIndex marks index as no longer wanted (we've started or finished
// downloading it — the caller owns the distinction; Selector only needs to
// stop offering it).
func (s *Selector) UsingIndex(index uint32) {
	if !s.bitfield.Get(int(index)) {
		panic("chunkselect: UsingIndex called on an index already not wanted")
	}
	s.bitfield.Unset(int(index))
	if index == s.position {
		s.advancePosition()
	}
}

// NotUsingIndex reverses UsingIndex (e.g. a cancelled or failed download
// returns the piece to the wanted pool).
func (s *Selector) NotUsingIndex(index uint32) {
	if s.bitfield.Get(int(index)) {
		panic("chunkselect: NotUsingIndex called on an index already wanted")
	}
	s.bitfield.Set(int(index))
	if s.position == invalidChunk {
		s.position = index
	}
}

func (s *Selector) advancePosition() {
	// The reference leaves this as a no-op stub pending a dedicated
	// fast-forward search (see original_source/chunk_selector.cc); Find
	// already re-derives a starting point on every call via its own linear
	// scan, so an out-of-date m_position only costs one extra wrap-around
	// pass rather than correctness.
}

// Find returns the next piece index this Selector recommends requesting
// from a peer whose announced pieces are peerBitfield, preferring
// previously cached rarest-first candidates, then falling back to a fresh
// linear scan of high-priority ranges, then normal-priority ranges.
// Returns invalidChunk if nothing is currently requestable from this peer.
func (s *Selector) Find(peerBitfield *bitfield.Bitfield, isSeeder bool, cache *PeerCache) uint32 {
	if s.position == invalidChunk {
		return invalidChunk
	}

	queue := &s.sharedQueue
	if !isSeeder {
		queue = &cache.queue
	}

	if queue.IsEnabled() {
		for queue.PreparePop() {
			pos := queue.Pop()
			if s.bitfield.Get(int(pos)) {
				return pos
			}
		}
	} else {
		queue.Enable(peerQueueCapacity)
	}

	queue.Clear()
	s.searchLinear(peerBitfield, queue, priority.High, s.position, uint32(s.Size()))
	s.searchLinear(peerBitfield, queue, priority.High, 0, s.position)

	if !queue.PreparePop() {
		queue.Clear()
		s.searchLinear(peerBitfield, queue, priority.Normal, s.position, uint32(s.Size()))
		s.searchLinear(peerBitfield, queue, priority.Normal, 0, s.position)

		if !queue.PreparePop() {
			return invalidChunk
		}
	}

	pos := queue.Pop()
	if !s.bitfield.Get(int(pos)) {
		panic("chunkselect: Find selected an index we no longer want")
	}
	return pos
}

// ReceivedHaveChunk opportunistically primes a peer's download cache the
// moment it announces a wanted piece, skipping the heavier linear scan path
// entirely for the common "peer has one new piece" case.
func (s *Selector) ReceivedHaveChunk(cache *PeerCache, index uint32) bool {
	if !s.bitfield.Get(int(index)) {
		return false
	}
	class := s.ranges.ClassOf(int(index))
	if class != priority.High && class != priority.Normal {
		return false
	}
	if cache.queue.IsEnabled() {
		cache.queue.Insert(s.statistics.Rarity(int(index)), index)
	}
	return true
}

// searchLinear walks every priority.Range of class within [first,last),
// inserting every index both peerBitfield and s.bitfield have set into
// queue, stopping early once queue is full and rejects a candidate.
func (s *Selector) searchLinear(peerBitfield *bitfield.Bitfield, queue *partialQueue, class priority.Class, first, last uint32) bool {
	if first >= last {
		return true
	}
	full := false
	s.ranges.Scan(class, func(r priority.Range) bool {
		begin := uint32(r.Begin)
		end := uint32(r.End)
		if begin < first {
			begin = first
		}
		if end > last {
			end = last
		}
		if begin >= end {
			return true
		}
		for i := begin; i < end; i++ {
			if !s.bitfield.Get(int(i)) || !peerBitfield.Get(int(i)) {
				continue
			}
			if !queue.Insert(s.statistics.Rarity(int(i)), i) && queue.IsFull() {
				full = true
				return false
			}
		}
		return true
	})
	return !full
}

// PeerCache is the per-connection download cache the reference keeps
// embedded in PeerChunks: a lazily-enabled partialQueue scoped to one peer
// connection.
type PeerCache struct {
	queue partialQueue
}
