// Package resourcemanager implements the global unchoke-quota coordinator
// described in spec §4.7/§5: each torrent's ChokeManager asks permission to
// unchoke and reports its actions here; on tick the Manager rebalances by
// weighting each registered torrent by its configured priority and cycling
// its ChokeQueue with the allotted quota.
package resourcemanager

import (
	"github.com/elliotchance/orderedmap"
)

// Cycler is the subset of choke.Manager the resource manager drives: ask it
// to rotate up to quota unchoke slots, and read back the delta it actually
// applied.
type Cycler interface {
	Cycle(uploadQuota, downloadQuota uint32) (uploadDelta, downloadDelta int)
}

// entry is one registered torrent's bookkeeping: its priority weight, its
// ChokeManager façade, and how many of the global cap it currently holds.
type entry struct {
	cycler   Cycler
	priority uint32
	unchoked int
}

// Manager enforces a process-wide cap on total unchoked connections across
// every registered torrent (spec §4.7: "keep the total unchoked across all
// torrents ≤ the process-wide cap"). Registration order is preserved via
// orderedmap so Tick's weighted distribution is deterministic across runs
// with the same registration sequence — useful for tests and for matching
// logs to behavior.
type Manager struct {
	maxUnchoked int
	totalUsed   int

	// torrents maps an opaque torrent key to *entry, in registration
	// order.
	torrents *orderedmap.OrderedMap
}

// NewManager returns a Manager capped at maxUnchoked total unchoked
// connections process-wide.
func NewManager(maxUnchoked int) *Manager {
	return &Manager{maxUnchoked: maxUnchoked, torrents: orderedmap.NewOrderedMap()}
}

// Register adds a torrent (keyed by any comparable identity, e.g. its
// info-hash) with the given priority weight and ChokeManager façade.
func (m *Manager) Register(key interface{}, priority uint32, cycler Cycler) {
	m.torrents.Set(key, &entry{cycler: cycler, priority: priority})
}

// Unregister drops a torrent, reclaiming whatever slots it held (spec
// §4.7's destruction invariant is the caller's ChokeQueue's job; this just
// stops counting it against the global cap).
func (m *Manager) Unregister(key interface{}) {
	if v, ok := m.torrents.Get(key); ok {
		m.totalUsed -= v.(*entry).unchoked
		if m.totalUsed < 0 {
			m.totalUsed = 0
		}
	}
	m.torrents.Delete(key)
}

// CanUnchoke reports whether there is global headroom for one more
// unchoked connection anywhere — the callback ChokeQueue.Balance plugs in
// as slot_can_unchoke.
func (m *Manager) CanUnchoke() bool {
	return m.maxUnchoked <= 0 || m.totalUsed < m.maxUnchoked
}

// ReportDelta records a torrent's ChokeManager having unchoked (positive)
// or choked (negative) delta connections, the slot_unchoke(+/-n) callback
// from spec §4.7.
func (m *Manager) ReportDelta(key interface{}, delta int) {
	v, ok := m.torrents.Get(key)
	if !ok {
		return
	}
	e := v.(*entry)
	e.unchoked += delta
	if e.unchoked < 0 {
		e.unchoked = 0
	}
	m.totalUsed += delta
	if m.totalUsed < 0 {
		m.totalUsed = 0
	}
}

// Tick rebalances every registered torrent by weighting the global upload
// and download quotas by each torrent's configured priority (spec §5:
// "rebalances on tick by weighting each torrent's entry by configured
// priority and cycling each subordinate ChokeQueue with the allotted
// quota"), then folds the upload delta each Cycle reports back into the
// global counter via ReportDelta; the download delta is not counted.
func (m *Manager) Tick(uploadQuota, downloadQuota uint32) {
	totalWeight := uint32(0)
	keys := m.torrents.Keys()
	for _, k := range keys {
		v, _ := m.torrents.Get(k)
		totalWeight += v.(*entry).priority
	}
	if totalWeight == 0 {
		return
	}

	for _, k := range keys {
		v, _ := m.torrents.Get(k)
		e := v.(*entry)
		share := uint64(e.priority) * uint64(uploadQuota) / uint64(totalWeight)
		downShare := uint64(e.priority) * uint64(downloadQuota) / uint64(totalWeight)
		upDelta, downDelta := e.cycler.Cycle(uint32(share), uint32(downShare))
		_ = downDelta
		m.ReportDelta(k, upDelta)
	}
}

// TotalUnchoked reports the current process-wide unchoke count.
func (m *Manager) TotalUnchoked() int { return m.totalUsed }

// Len reports how many torrents are currently registered.
func (m *Manager) Len() int { return m.torrents.Len() }
