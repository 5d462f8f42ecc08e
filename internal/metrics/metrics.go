// Package metrics wires the ambient Prometheus instrumentation
// SPEC_FULL.md's domain-stack section calls for: gauges and counters
// over the core's decision points (unchoke slots, throttle quota, hash
// verdicts, rarity) so github.com/prometheus/client_golang is exercised
// rather than left as an unused direct dependency.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry wraps a prometheus.Registerer so callers can either plug in
// the global default registry or an isolated one per test/torrent.
type Registry struct {
	UnchokedPeers     prometheus.Gauge
	ThrottleInFlight  prometheus.Gauge
	HashSucceeded     prometheus.Counter
	HashFailed        prometheus.Counter
	HashCorrupt       prometheus.Counter
	RarityHistogram   prometheus.Histogram
	BlocksDelegated   prometheus.Counter
	BlocksCancelled   prometheus.Counter
}

// New registers and returns a fresh metric set against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with other
// packages registering under the same names against the default
// registry.
func New(reg prometheus.Registerer) *Registry {
	factory := promauto.With(reg)
	return &Registry{
		UnchokedPeers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "swarmcore",
			Subsystem: "choke",
			Name:      "unchoked_peers",
			Help:      "Number of currently unchoked peer connections across all registered torrents.",
		}),
		ThrottleInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "swarmcore",
			Subsystem: "throttle",
			Name:      "quota_in_flight_bytes",
			Help:      "Bytes of throttle quota currently reserved but not yet spent.",
		}),
		HashSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "swarmcore",
			Subsystem: "delegator",
			Name:      "hash_succeeded_total",
			Help:      "Pieces whose hash verified successfully.",
		}),
		HashFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "swarmcore",
			Subsystem: "delegator",
			Name:      "hash_failed_total",
			Help:      "Pieces whose hash failed to verify.",
		}),
		HashCorrupt: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "swarmcore",
			Subsystem: "delegator",
			Name:      "hash_corrupt_peers_total",
			Help:      "Peers flagged as having sent a block that disagreed with the verified majority variant.",
		}),
		RarityHistogram: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "swarmcore",
			Subsystem: "chunkselect",
			Name:      "piece_rarity",
			Help:      "Distribution of observed peer counts per piece index at selection time.",
			Buckets:   prometheus.LinearBuckets(0, 2, 10),
		}),
		BlocksDelegated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "swarmcore",
			Subsystem: "delegator",
			Name:      "blocks_delegated_total",
			Help:      "Blocks assigned to a peer as leader via Delegate.",
		}),
		BlocksCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "swarmcore",
			Subsystem: "delegator",
			Name:      "blocks_cancelled_total",
			Help:      "Blocks cancelled before completion, e.g. on peer disconnect.",
		}),
	}
}
