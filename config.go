package torrent

import (
	"time"

	"github.com/coriolis-labs/swarmcore/choke"
)

// AddressThrottleResolver maps a peer's remote address to a named
// throttle group, so e.g. LAN peers can share a separate quota pool from
// WAN peers (spec §6: "address_throttle_resolver").
type AddressThrottleResolver func(addr string) string

// ClientConfig enumerates spec §6's "Config the core accepts" list.
// Zero value is not valid on its own; use NewDefaultClientConfig.
type ClientConfig struct {
	// MaxUnchoked bounds unchoked peers, enforced per torrent by
	// choke.Queue.Balance and process-wide by resourcemanager.Manager.
	MaxUnchoked int
	// GenerousUnchokes is the peer-count threshold below which
	// choke.Queue.Cycle unchokes every connected peer, skipping the weighted
	// selection (default 3, per spec §6). Client does not pass this value to
	// its choke queues.
	GenerousUnchokes int
	UploadChokeHeuristic   choke.Heuristics
	DownloadChokeHeuristic choke.Heuristics
	MinPeers               int
	MaxPeers               int

	RateLimitUp   int64
	RateLimitDown int64

	AddressThrottleResolver AddressThrottleResolver

	// FlagUnchokeAllNew makes a ChokeQueue unchoke a newly queued peer at
	// once, without the free-slot check or the 10-second grace that
	// otherwise follows a choke (spec §6). Client does not pass this flag to
	// its choke queues; choke.Queue.SetUnchokeAllNew sets it.
	FlagUnchokeAllNew bool

	// AggressiveEndgameThreshold holds the endgame margin (default 5, per
	// spec §6 and §4.4). No code reads this field: Delegator uses its own
	// fixed endgameMargin of 5 to decide when to start duplicating
	// in-flight requests.
	AggressiveEndgameThreshold int

	// ChokeCycleInterval paces choke-cycle task reschedule (spec §5:
	// "every choke-interval seconds").
	ChokeCycleInterval time.Duration
	// ThrottleTickInterval paces throttle quota replenishment (spec §5:
	// "every ≈ 100 ms").
	ThrottleTickInterval time.Duration
}

// NewDefaultClientConfig returns a ClientConfig with every spec §6
// default applied: GenerousUnchokes=3, AggressiveEndgameThreshold=5, no
// rate limiting, a 10-second choke cycle and a 100ms throttle tick.
func NewDefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		MaxUnchoked:                4,
		GenerousUnchokes:           3,
		UploadChokeHeuristic:       choke.UploadLeech,
		DownloadChokeHeuristic:     choke.DownloadLeech,
		MinPeers:                   30,
		MaxPeers:                   200,
		AggressiveEndgameThreshold: 5,
		ChokeCycleInterval:         10 * time.Second,
		ThrottleTickInterval:       100 * time.Millisecond,
	}
}
