// Package throttle implements the token-bucket quota distribution tree
// described in spec §4.8: a List per direction/scope holds Nodes split
// between an active segment (enough quota to transmit) and an inactive
// segment (waiting for more), replenished on each tick from a shared quota
// pool.
package throttle

import (
	"math"
	"time"

	glist "github.com/bahlo/generic-list-go"

	"github.com/coriolis-labs/swarmcore/ratemeter"
)

func timeNow() time.Time { return time.Now() }

// List is a ThrottleList: an intrusive doubly-linked list of Nodes split at
// splitActive into an active prefix and an inactive suffix. nil splitActive
// means "no inactive nodes" (split == end()).
type List struct {
	enabled bool
	size    uint32

	outstandingQuota uint32
	unallocatedQuota uint32
	unusedUnthrottled uint32

	minChunkSize uint32
	maxChunkSize uint32

	rateSlow *ratemeter.Meter
	rateAdded uint32

	nodes       *glist.List[*Node]
	splitActive *glist.Element[*Node]
}

// NewList returns a disabled List with the reference implementation's
// default 2KiB/16KiB chunk bounds (callers recompute these via
// SetChunkSizeForRate once a rate cap is known).
func NewList() *List {
	return &List{
		nodes:        glist.New[*Node](),
		minChunkSize: 2 << 10,
		maxChunkSize: 16 << 10,
		rateSlow:     ratemeter.New(),
	}
}

func (l *List) IsEnabled() bool { return l.enabled }
func (l *List) Size() uint32    { return l.size }

func (l *List) OutstandingQuota() uint32  { return l.outstandingQuota }
func (l *List) UnallocatedQuota() uint32  { return l.unallocatedQuota }
func (l *List) MinChunkSize() uint32      { return l.minChunkSize }
func (l *List) MaxChunkSize() uint32      { return l.maxChunkSize }
func (l *List) SetMinChunkSize(v uint32)  { l.minChunkSize = v }
func (l *List) SetMaxChunkSize(v uint32)  { l.maxChunkSize = v }
func (l *List) RateSlow() *ratemeter.Meter { return l.rateSlow }

// RateAdded returns and resets the bytes added to the slow rate meter since
// the last call.
func (l *List) RateAdded() uint32 {
	v := l.rateAdded
	l.rateAdded = 0
	return v
}

func (l *List) isActive(node *Node) bool {
	if node.elem == nil {
		return false
	}
	for e := l.nodes.Front(); e != l.splitActive; e = e.Next() {
		if e == node.elem {
			return true
		}
		if e == nil {
			break
		}
	}
	return false
}

func (l *List) isInactive(node *Node) bool {
	return node.elem != nil && !l.isActive(node)
}

// allocateQuota tops a node up to at most maxChunkSize using the shared
// unallocated pool, leaving any quota the node already holds untouched.
func (l *List) allocateQuota(node *Node) {
	if node.quota >= int32(l.minChunkSize) {
		return
	}
	room := int32(l.maxChunkSize) - node.quota
	grant := room
	if u := int32(l.unallocatedQuota); u < grant {
		grant = u
	}
	if grant <= 0 {
		return
	}
	node.setQuota(node.quota + grant)
	l.outstandingQuota += uint32(grant)
	l.unallocatedQuota -= uint32(grant)
}

// Enable turns throttling on for this list. Newly inserted nodes will
// receive quota through UpdateQuota instead of running unthrottled.
func (l *List) Enable() {
	if l.enabled {
		return
	}
	l.enabled = true
}

// Disable removes the throttle: every node's quota is cleared and every
// currently-inactive node is activated unconditionally, as if quota were
// infinite.
func (l *List) Disable() {
	if !l.enabled {
		return
	}
	l.enabled = false
	l.outstandingQuota = 0
	l.unallocatedQuota = 0
	l.unusedUnthrottled = 0

	for e := l.nodes.Front(); e != nil; e = e.Next() {
		e.Value.clearQuota()
	}
	for e := l.splitActive; e != nil; e = e.Next() {
		e.Value.activateNode()
	}
	l.splitActive = nil
}

// UpdateQuota distributes quota bytes for this tick: leftover unthrottled
// quota from the previous tick is folded into the pool first, then
// inactive nodes are walked from splitActive forward, each topped up to
// maxChunkSize until it crosses minChunkSize and is activated, advancing
// the split. Returns the amount of quota actually used (quota minus any
// unallocated overflow capped at quota, matching the reference's "use
// quota as an upper bound" rule).
func (l *List) UpdateQuota(quota uint32) int32 {
	if !l.enabled {
		panic("throttle: UpdateQuota called on a disabled list")
	}
	l.unallocatedQuota += l.unusedUnthrottled
	l.unusedUnthrottled = quota

	for l.splitActive != nil {
		node := l.splitActive.Value
		l.allocateQuota(node)
		if node.quota < int32(l.minChunkSize) {
			break
		}
		node.activateNode()
		l.splitActive = l.splitActive.Next()
	}

	used := int32(quota)
	if l.unallocatedQuota > quota {
		used -= int32(l.unallocatedQuota - quota)
		l.unallocatedQuota = quota
	}
	return used
}

// NodeQuota returns the quota currently available to node: when the list is
// disabled, effectively unbounded (INT32_MAX/2, matching the reference's
// overflow-avoidance convention); when enabled, node.quota plus the shared
// unallocated pool if that total clears minChunkSize, else 0.
func (l *List) NodeQuota(node *Node) uint32 {
	if !l.enabled {
		return math.MaxInt32 / 2
	}
	if !l.isActive(node) {
		panic("throttle: NodeQuota called on a non-active node")
	}
	total := node.quota + int32(l.unallocatedQuota)
	if total >= int32(l.minChunkSize) {
		return uint32(total)
	}
	return 0
}

func (l *List) addRate(used uint32) {
	l.rateSlow.Record(int64(used))
	l.rateAdded += used
}

// NodeUsed debits used bytes from node then the shared pool, saturating at
// zero, and records used against both the node's own rate meter and the
// list's slow rate meter.
func (l *List) NodeUsed(node *Node, used uint32) uint32 {
	l.addRate(used)
	node.rate.Record(int64(used))

	if used == 0 || !l.enabled || node.elem == nil {
		return used
	}

	debit := used
	if uint32(node.quota) < debit {
		debit = uint32(node.quota)
	}
	if debit > l.outstandingQuota {
		panic("throttle: node used more quota than outstanding")
	}
	node.setQuota(node.quota - int32(debit))
	l.outstandingQuota -= debit

	remainder := used - debit
	if remainder > l.unallocatedQuota {
		remainder = l.unallocatedQuota
	}
	l.unallocatedQuota -= remainder
	return used
}

// NodeUsedUnthrottled debits used bytes from the unthrottled reserve,
// spilling any excess into the throttled pool (saturating at zero), and
// always returns used so an unthrottled caller never sees a cap.
func (l *List) NodeUsedUnthrottled(used uint32) uint32 {
	l.addRate(used)
	avail := used
	if l.unusedUnthrottled < avail {
		avail = l.unusedUnthrottled
	}
	l.unusedUnthrottled -= avail

	remainder := used - avail
	if remainder > l.unallocatedQuota {
		remainder = l.unallocatedQuota
	}
	l.unallocatedQuota -= remainder
	return used
}

// NodeDeactivate moves an active node to the inactive tail. If there were
// no inactive nodes before, the split marker becomes this node (so it is
// immediately recognized as inactive).
func (l *List) NodeDeactivate(node *Node) {
	if !l.isActive(node) {
		panic("throttle: NodeDeactivate called on an inactive (or unknown) node")
	}
	wasEnd := l.splitActive == nil
	l.nodes.MoveToBack(node.elem)
	if wasEnd {
		l.splitActive = node.elem
	}
}

// Insert adds node to the list. If disabled, it joins the waiting queue
// with zero quota. If enabled, it is inserted immediately before the
// active/inactive split (so it starts active) and is granted quota
// opportunistically.
func (l *List) Insert(node *Node) {
	if node.elem != nil {
		return
	}
	if !l.enabled {
		node.elem = l.nodes.PushBack(node)
		node.clearQuota()
	} else if l.splitActive == nil {
		node.elem = l.nodes.PushBack(node)
		l.allocateQuota(node)
	} else {
		node.elem = l.nodes.InsertBefore(node, l.splitActive)
		l.allocateQuota(node)
	}
	l.size++
}

// Erase removes node from the list, reclaiming any quota it held back into
// the shared pool.
func (l *List) Erase(node *Node) {
	if node.elem == nil {
		return
	}
	if l.size == 0 {
		panic("throttle: Erase called on an empty list")
	}
	if node.quota != 0 {
		if uint32(node.quota) > l.outstandingQuota {
			panic("throttle: node quota exceeds outstanding quota")
		}
		l.outstandingQuota -= uint32(node.quota)
		l.unallocatedQuota += uint32(node.quota)
	}
	if node.elem == l.splitActive {
		l.splitActive = node.elem.Next()
	}
	l.nodes.Remove(node.elem)
	node.clearQuota()
	node.elem = nil
	l.size--
}

// IsThrottled reports whether node is currently a member of this list.
func (l *List) IsThrottled(node *Node) bool { return node.elem != nil }
