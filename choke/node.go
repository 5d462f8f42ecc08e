// Package choke implements the weighted unchoke-slot allocator from spec
// §4.7: a Queue holds every interested peer split between "queued" (choked,
// waiting) and "unchoked", and periodically rebalances the split according
// to a pluggable weight heuristic and a banded distribution that spreads
// slots fairly across weight classes before handing out the remainder at
// random.
package choke

import "time"

// Peer is the minimum surface a connection must expose to participate in a
// Queue. SetChoked is allowed to refuse (return false) exactly the way the
// reference's slot_connection callback can: the caller may veto an
// unchoke/choke transition (e.g. a connection mid-teardown), in which case
// the Queue treats the peer as if it had stayed on the queued side.
type Peer interface {
	SetChoked(choked bool) bool
}

// State is the per-connection bookkeeping the reference keeps in
// ChokeManagerNode: whether the peer is interested (queued), currently
// unchoked, snubbed (stalled long enough to be deprioritized), and when it
// was last choked (used to throttle how quickly a newly-queued peer can be
// handed a slot).
type State struct {
	queued     bool
	unchoked   bool
	snubbed    bool
	lastChoke  time.Time
}

func (s *State) Queued() bool   { return s.queued }
func (s *State) Unchoked() bool { return s.unchoked }
func (s *State) Choked() bool   { return !s.unchoked }
func (s *State) Snubbed() bool  { return s.snubbed }

func (s *State) LastChoke() time.Time { return s.lastChoke }

// recentlyChoked reports whether this peer was choked within the grace
// window, which new-unchoke eligibility is gated on so a peer doesn't get
// unchoked and re-choked in rapid succession.
func (s *State) recentlyChoked(now time.Time, grace time.Duration) bool {
	return !s.lastChoke.IsZero() && now.Sub(s.lastChoke) < grace
}
