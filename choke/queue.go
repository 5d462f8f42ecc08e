package choke

import (
	"math/rand"
	"sort"
	"time"

	"github.com/anacrolix/multiless"
	"github.com/davecgh/go-spew/spew"
)

// orderMaxSize is the number of weight bands a peer can fall into. How
// strongly each band is favored is set by the per-heuristic band weights in
// weights.go, not by the band's position; a band weight of 0 excludes that
// band from slot allocation entirely.
const orderMaxSize = 4

// orderBase mirrors the reference's banding trick: a peer's integer weight
// is computed as band*orderBase + tiebreak, so sorting by raw weight groups
// peers into their band first and orders within a band second.
const orderBase = 1 << 30

// unchokeGrace is the minimum time a peer must wait after being choked
// before it is eligible to be queued straight to an unchoked slot again.
const unchokeGrace = 10 * time.Second

// Heuristics selects which weight-calculation pair a Queue uses. Upload
// heuristics favor peers we're seeding to that download from us quickly
// (reciprocity); download heuristics favor peers we're leeching from that
// upload to us quickly.
type Heuristics int

const (
	UploadLeech Heuristics = iota
	DownloadLeech
)

// WeightFunc computes weights for a batch of entries in place, given each
// peer's current download/upload rate (the caller's choice, passed via
// RateFunc) and whether it's already locally unchoked on the other
// direction (used by the upload-unchoke heuristic's "stingy peer" check).
type WeightFunc func(entries []*entry, rate RateFunc, locallyUnchoked LocallyUnchokedFunc)

// RateFunc returns the relevant throughput rate (bytes/sec) for a peer, used
// purely as a weight-calculation input.
type RateFunc func(p Peer) float64

// LocallyUnchokedFunc reports whether the peer is unchoked in the opposite
// direction already (the upload-unchoke heuristic treats such peers
// specially: favor high download rate from them, deprioritize the rest into
// a semi-random optimistic-unchoke rotation).
type LocallyUnchokedFunc func(p Peer) bool

type entry struct {
	peer   Peer
	state  *State
	weight uint32
}

// Queue is a ChokeManager: it owns the queued/unchoked split for one
// direction (upload or download) of one torrent and rebalances it on
// demand.
type Queue struct {
	queued   []*entry
	unchoked []*entry

	byPeer map[Peer]*entry

	unchokeAllNew bool
	maxUnchoked   uint32 // choke.Unlimited for no cap
	generousUnchokes uint32

	heuristics Heuristics
	rate       RateFunc
	locallyUnchoked LocallyUnchokedFunc

	// onUnchokeDelta is called with the signed change in unchoked-count
	// whenever the Queue moves peers in or out of the unchoked set on its
	// own initiative (not in direct response to a cycle/balance call this
	// callback didn't originate), mirroring the reference's slot_unchoke
	// callback into the global ResourceManager.
	onUnchokeDelta func(delta int)

	// canUnchoke reports the number of additional slots the global
	// resource manager is currently willing to grant this Queue.
	canUnchoke func() uint32

	now func() time.Time
}

// Unlimited marks a Queue with no cap on unchoked peers.
const Unlimited = ^uint32(0)

// NewQueue returns a Queue with no cap and no generous-unchoke allowance
// configured beyond the reference's default of 3.
func NewQueue(h Heuristics, rate RateFunc, locallyUnchoked LocallyUnchokedFunc) *Queue {
	return &Queue{
		byPeer:           make(map[Peer]*entry),
		maxUnchoked:      Unlimited,
		generousUnchokes: 3,
		heuristics:       h,
		rate:             rate,
		locallyUnchoked:  locallyUnchoked,
		now:              time.Now,
	}
}

func (q *Queue) SetUnchokeAllNew(v bool)          { q.unchokeAllNew = v }
func (q *Queue) SetMaxUnchoked(v uint32)          { q.maxUnchoked = v }
func (q *Queue) MaxUnchoked() uint32              { return q.maxUnchoked }
func (q *Queue) GenerousUnchokes() uint32         { return q.generousUnchokes }
func (q *Queue) SetGenerousUnchokes(v uint32)     { q.generousUnchokes = v }
func (q *Queue) SetOnUnchokeDelta(f func(int))    { q.onUnchokeDelta = f }
func (q *Queue) SetCanUnchoke(f func() uint32)    { q.canUnchoke = f }

func (q *Queue) IsUnlimited() bool { return q.maxUnchoked == Unlimited }
func (q *Queue) IsFull() bool      { return !q.IsUnlimited() && uint32(len(q.unchoked)) >= q.maxUnchoked }

func (q *Queue) SizeUnchoked() int { return len(q.unchoked) }
func (q *Queue) SizeQueued() int   { return len(q.queued) }
func (q *Queue) SizeTotal() int    { return len(q.queued) + len(q.unchoked) }

// entrySnapshot is a plain-data view of one queue entry, for DebugDump to
// format with spew rather than hand-rolled printf layout.
type entrySnapshot struct {
	Weight   uint32
	Unchoked bool
}

// DebugDump renders the current queued/unchoked split via go-spew, for a
// caller's debug-level log line when diagnosing unexpected choke churn.
func (q *Queue) DebugDump() string {
	snapshots := make([]entrySnapshot, 0, len(q.queued)+len(q.unchoked))
	for _, e := range q.queued {
		snapshots = append(snapshots, entrySnapshot{Weight: e.weight})
	}
	for _, e := range q.unchoked {
		snapshots = append(snapshots, entrySnapshot{Weight: e.weight, Unchoked: true})
	}
	return spew.Sdump(snapshots)
}

func (q *Queue) emitDelta(n int) {
	if n != 0 && q.onUnchokeDelta != nil {
		q.onUnchokeDelta(n)
	}
}

func (q *Queue) availableSlots() uint32 {
	if q.canUnchoke == nil {
		return Unlimited
	}
	return q.canUnchoke()
}

// maxAlternate bounds how many already-unchoked peers may be swapped out
// for queued peers on a single cycle, per the reference's 1-in-8 (below 31
// unchoked) / 1-in-10 (at or above) ratio — this keeps churn gradual instead
// of thrashing the whole unchoked set every cycle.
func (q *Queue) maxAlternate() uint32 {
	n := uint32(len(q.unchoked))
	if n < 31 {
		return (n + 7) / 8
	}
	return (n + 9) / 10
}

// Balance adjusts the unchoked set toward MaxUnchoked without touching the
// weight-based churn logic in Cycle: it's the cheap path run whenever
// MaxUnchoked or interest changes outside of the periodic cycle.
func (q *Queue) Balance() {
	if uint32(len(q.unchoked)) == q.maxUnchoked {
		return
	}
	adjust := int(q.maxUnchoked) - len(q.unchoked)
	if q.IsUnlimited() {
		adjust = len(q.queued)
	}

	if adjust > 0 {
		avail := q.availableSlots()
		n := uint32(adjust)
		if avail < n {
			n = avail
		}
		got := q.unchokeN(q.queued, n)
		q.emitDelta(int(got))
	} else if adjust < 0 {
		got := q.chokeN(q.unchoked, uint32(-adjust))
		q.emitDelta(-int(got))
	}
}

// Cycle is the periodic rebalance: it unchokes up to quota peers (picking
// the better of "fill the gap to quota" and "rotate maxAlternate peers in"),
// then chokes any surplus above quota, returning the net change in unchoked
// count.
func (q *Queue) Cycle(quota uint32) int {
	oldSize := len(q.unchoked)

	// Generous-unchokes bootstrap: with fewer than GenerousUnchokes peers
	// connected at all, unchoke every one of them unconditionally instead
	// of running the weighted selection below.
	if uint32(len(q.queued)+len(q.unchoked)) < q.generousUnchokes {
		q.unchokeAll()
		q.emitDelta(len(q.unchoked) - oldSize)
		return len(q.unchoked) - oldSize
	}

	if quota > q.maxUnchoked {
		quota = q.maxUnchoked
	}

	want := uint32(0)
	if uint32(len(q.unchoked)) < quota {
		want = quota - uint32(len(q.unchoked))
	}
	alt := q.maxAlternate()
	if alt > quota {
		alt = quota
	}
	if alt > want {
		want = alt
	}

	unchokedNow := q.unchokeN(q.queued, want)

	if uint32(len(q.unchoked)) > quota {
		keepTail := q.unchoked[len(q.unchoked)-int(unchokedNow):]
		head := q.unchoked[:len(q.unchoked)-int(unchokedNow)]
		choked := q.chokeN(head, uint32(len(q.unchoked))-quota)
		_ = choked
		_ = keepTail
	}

	return len(q.unchoked) - oldSize
}

// SetQueued registers a newly-interested peer. Unless it's snubbed, it may
// be handed straight to an unchoked slot if UnchokeAllNew is set, or if
// there's room and it hasn't been choked too recently.
func (q *Queue) SetQueued(p Peer, s *State) {
	if s.queued || s.unchoked {
		return
	}
	s.queued = true
	q.byPeer[p] = &entry{peer: p, state: s}

	if s.snubbed {
		return
	}

	if q.unchokeAllNew || (!q.IsFull() && q.availableSlots() > 0 &&
		!s.recentlyChoked(q.now(), unchokeGrace)) {
		e := q.popQueuedEntry(p)
		q.pushUnchoked(e)
		p.SetChoked(false)
		q.emitDelta(1)
	} else {
		q.pushQueued(q.byPeer[p])
	}
}

// SetNotQueued reverses SetQueued: the peer is no longer interested.
func (q *Queue) SetNotQueued(p Peer, s *State) {
	if !s.queued {
		return
	}
	s.queued = false

	if s.snubbed {
		delete(q.byPeer, p)
		return
	}

	if s.unchoked {
		q.removeUnchoked(p)
		p.SetChoked(true)
		q.emitDelta(-1)
	} else {
		q.removeQueued(p)
	}
	delete(q.byPeer, p)
}

// SetSnubbed marks a peer as stalled; it's demoted out of the unchoked set
// immediately (a snubbed peer contributes nothing worth keeping a slot for).
func (q *Queue) SetSnubbed(p Peer, s *State) {
	if s.snubbed {
		return
	}
	s.snubbed = true

	if s.unchoked {
		q.removeUnchoked(p)
		p.SetChoked(true)
		q.emitDelta(-1)
	} else if s.queued {
		q.removeQueued(p)
	}
	s.queued = false
}

// SetNotSnubbed reverses SetSnubbed, re-queuing the peer exactly as
// SetQueued would for a fresh peer.
func (q *Queue) SetNotSnubbed(p Peer, s *State) {
	if !s.snubbed {
		return
	}
	s.snubbed = false

	if !s.queued {
		return
	}

	if q.unchokeAllNew || (!q.IsFull() && q.availableSlots() > 0 &&
		!s.recentlyChoked(q.now(), unchokeGrace)) {
		e := &entry{peer: p, state: s}
		q.byPeer[p] = e
		q.pushUnchoked(e)
		p.SetChoked(false)
		q.emitDelta(1)
	} else {
		q.pushQueued(&entry{peer: p, state: s})
	}
}

// Disconnected removes a peer from whichever set it's in, without emitting
// the choked-state callback (the connection is already gone).
func (q *Queue) Disconnected(p Peer, s *State) {
	if s.snubbed {
		// nothing to do
	} else if s.unchoked {
		q.removeUnchoked(p)
		q.emitDelta(-1)
	} else if s.queued {
		q.removeQueued(p)
	}
	s.queued = false
	delete(q.byPeer, p)
}

func (q *Queue) pushQueued(e *entry)   { q.queued = append(q.queued, e) }
func (q *Queue) pushUnchoked(e *entry) { e.state.lastChoke = time.Time{}; e.state.unchoked = true; q.unchoked = append(q.unchoked, e) }

func (q *Queue) popQueuedEntry(p Peer) *entry {
	for i, e := range q.queued {
		if e.peer == p {
			q.queued[i] = q.queued[len(q.queued)-1]
			q.queued = q.queued[:len(q.queued)-1]
			return e
		}
	}
	panic("choke: popQueuedEntry on unknown peer")
}

func (q *Queue) removeQueued(p Peer) {
	for i, e := range q.queued {
		if e.peer == p {
			q.queued[i] = q.queued[len(q.queued)-1]
			q.queued = q.queued[:len(q.queued)-1]
			return
		}
	}
	panic("choke: removeQueued on unknown peer")
}

func (q *Queue) removeUnchoked(p Peer) {
	for i, e := range q.unchoked {
		if e.peer == p {
			e.state.unchoked = false
			e.state.lastChoke = q.now()
			q.unchoked[i] = q.unchoked[len(q.unchoked)-1]
			q.unchoked = q.unchoked[:len(q.unchoked)-1]
			return
		}
	}
	panic("choke: removeUnchoked on unknown peer")
}

// unchokeAll unconditionally moves every currently queued entry to the
// unchoked set, skipping weight computation and banding entirely; any
// peer whose SetChoked refuses stays queued for a later cycle.
func (q *Queue) unchokeAll() {
	pending := q.queued
	q.queued = nil
	for _, e := range pending {
		if e.peer.SetChoked(false) {
			q.pushUnchoked(e)
		} else {
			q.queued = append(q.queued, e)
		}
	}
}

// unchokeN moves up to n entries out of src (assumed to be q.queued) into
// the unchoked set, weighted and banded per computeWeights/allocateSlots,
// and returns how many were actually moved (a peer's SetChoked(false) may
// refuse).
func (q *Queue) unchokeN(src []*entry, n uint32) uint32 {
	if n == 0 || len(src) == 0 {
		return 0
	}
	weights := unchokeWeights(q.heuristics)
	computeUnchokeWeights(q.heuristics, src, q.rate, q.locallyUnchoked)
	bands := allocateSlots(src, n, weights)

	var moved uint32
	// Walk bands from least to most favored so that the slice mutation
	// (removing matched entries from q.queued) doesn't disturb indices of
	// bands not yet processed; we instead collect then apply.
	var toMove []*entry
	idx := 0
	for b := 0; b < orderMaxSize; b++ {
		count := bands[b]
		for c := uint32(0); c < count && idx < len(src); c++ {
			toMove = append(toMove, src[idx])
			idx++
		}
		// skip any remaining entries of this band that weren't selected
		for idx < len(src) && bandOf(src[idx].weight) == b {
			idx++
		}
	}

	for _, e := range toMove {
		if !e.peer.SetChoked(false) {
			continue
		}
		q.removeQueued(e.peer)
		q.pushUnchoked(e)
		moved++
	}
	return moved
}

// chokeN moves up to n entries out of src (assumed to be q.unchoked) into
// the queued set.
func (q *Queue) chokeN(src []*entry, n uint32) uint32 {
	if n == 0 || len(src) == 0 {
		return 0
	}
	weights := chokeWeights(q.heuristics)
	computeChokeWeights(q.heuristics, src, q.rate)
	bands := allocateSlots(src, n, weights)

	var toMove []*entry
	idx := 0
	for b := 0; b < orderMaxSize; b++ {
		count := bands[b]
		for c := uint32(0); c < count && idx < len(src); c++ {
			toMove = append(toMove, src[idx])
			idx++
		}
		for idx < len(src) && bandOf(src[idx].weight) == b {
			idx++
		}
	}

	var moved uint32
	for _, e := range toMove {
		if !e.peer.SetChoked(true) {
			continue
		}
		q.removeUnchoked(e.peer)
		q.pushQueued(e)
		moved++
	}
	return moved
}

func bandOf(weight uint32) int {
	b := int(weight / orderBase)
	if b >= orderMaxSize {
		b = orderMaxSize - 1
	}
	return b
}

// allocateSlots sorts entries by weight (ascending, so lower bands come
// first), then
// spreads max slots across bands: first an equal base share per band while
// every contributing band still has capacity, then the remainder spread
// starting from a weighted-random offset so the bias evens out over many
// cycles rather than always favoring the same band. It returns the number
// of slots granted per band, same order as entries after the sort.
func allocateSlots(entries []*entry, max uint32, weights [orderMaxSize]uint32) [orderMaxSize]uint32 {
	sort.SliceStable(entries, func(i, j int) bool {
		return multiless.New().Uint32(entries[i].weight, entries[j].weight).Less()
	})

	var bandSize [orderMaxSize]uint32
	var bandStart [orderMaxSize + 1]int
	for _, e := range entries {
		bandSize[bandOf(e.weight)]++
	}
	for b := 0; b < orderMaxSize; b++ {
		bandStart[b+1] = bandStart[b] + int(bandSize[b])
	}

	var granted [orderMaxSize]uint32
	var weightTotal uint32
	for b := 0; b < orderMaxSize; b++ {
		if bandSize[b] != 0 {
			weightTotal += weights[b]
		}
	}

	unchoke := max
	for weightTotal != 0 && unchoke/weightTotal > 0 {
		base := unchoke / weightTotal
		for b := 0; b < orderMaxSize; b++ {
			if weights[b] == 0 || granted[b] >= bandSize[b] {
				continue
			}
			room := bandSize[b] - granted[b]
			grant := base * weights[b]
			if grant > room {
				grant = room
			}
			unchoke -= grant
			granted[b] += grant
			if granted[b] >= bandSize[b] {
				weightTotal -= weights[b]
			}
		}
	}

	if weightTotal != 0 && unchoke != 0 {
		start := uint32(rand.Intn(int(weightTotal)))
		b := 0
		for {
			if weights[b] != 0 && granted[b] < bandSize[b] {
				if start < weights[b] {
					break
				}
				start -= weights[b]
			}
			b = (b + 1) % orderMaxSize
		}
		for weightTotal != 0 && unchoke != 0 {
			if weights[b] != 0 && granted[b] < bandSize[b] {
				room := bandSize[b] - granted[b]
				grant := unchoke
				if grant > room {
					grant = room
				}
				if grant > weights[b]-start {
					grant = weights[b] - start
				}
				start = 0
				unchoke -= grant
				granted[b] += grant
				if granted[b] >= bandSize[b] {
					weightTotal -= weights[b]
				}
			}
			b = (b + 1) % orderMaxSize
		}
	}

	return granted
}
