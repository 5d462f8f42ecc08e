package throttle

import (
	glist "github.com/bahlo/generic-list-go"
	"golang.org/x/time/rate"

	"github.com/coriolis-labs/swarmcore/ratemeter"
)

// Node is a per-connection, per-direction token-bucket leaf. Its lifetime is
// the peer connection: the owner calls List.Insert when the connection is
// created and List.Erase when it is torn down.
type Node struct {
	quota int32

	// elem is this node's position in the owning List's intrusive list, or
	// nil if the node isn't currently a member of any List.
	elem *glist.Element[*Node]

	rate *ratemeter.Meter

	// burst is a secondary, independent cap layered under the List's custom
	// quota distribution: even a node sitting on a fat quota cannot write
	// faster than burst allows in a single instant. This absorbs bursts
	// that would otherwise be legal under the coarser per-tick allocation
	// in List.UpdateQuota.
	burst *rate.Limiter

	activate func()
}

// NewNode constructs a Node with no quota and no list membership. burstRate
// of zero disables the secondary burst limiter (AllowBurst always true).
func NewNode(burstRate float64, activate func()) *Node {
	n := &Node{
		rate:     ratemeter.New(),
		activate: activate,
	}
	if burstRate > 0 {
		n.burst = rate.NewLimiter(rate.Limit(burstRate), int(burstRate))
	}
	return n
}

// Quota returns the node's current byte quota.
func (n *Node) Quota() int32 { return n.quota }

// clearQuota zeroes the node's quota without touching the owning list's
// accounting; only List methods should normally call this.
func (n *Node) clearQuota() { n.quota = 0 }

func (n *Node) setQuota(q int32) { n.quota = q }

// Rate returns the node's own sliding-window rate meter.
func (n *Node) Rate() *ratemeter.Meter { return n.rate }

// AllowBurst consults the secondary token-bucket limiter, if configured, for
// an instantaneous write of n bytes. A Node with no burst limiter configured
// always allows.
func (n *Node) AllowBurst(nBytes int) bool {
	if n.burst == nil {
		return true
	}
	return n.burst.AllowN(timeNow(), nBytes)
}

func (n *Node) activateNode() {
	if n.activate != nil {
		n.activate()
	}
}
