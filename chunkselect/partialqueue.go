package chunkselect

import "github.com/ajwerner/btree"

// partialEntry is one candidate piece index ordered first by rarity (rarer
// pieces sort first — the classic rarest-first heuristic) and then by index
// for a stable tiebreak.
type partialEntry struct {
	rarity uint8
	index  uint32
}

func partialLess(a, b partialEntry) bool {
	if a.rarity != b.rarity {
		return a.rarity < b.rarity
	}
	return a.index < b.index
}

// partialQueue is a capacity-bounded ordered set of candidate indices: the
// reference's rak::partial_queue. Insert keeps only the capacity
// lowest-rarity entries, evicting the current worst (highest-rarity) entry
// when full and the new candidate would beat it. This is a local
// performance bound, not a protocol-visible one: the capacity controls how
// many rarest-first candidates Selector.Find considers per linear scan
// before picking one, trading a larger memory footprint for slightly better
// rarest-first accuracy. The reference's capacities of 8 (per-peer download
// cache) and 32 (shared seed-side queue) are both heuristic tunables, not
// values any wire behavior depends on.
type partialQueue struct {
	capacity int
	enabled  bool
	set      *btree.Set[partialEntry]
}

func newPartialQueue() *partialQueue {
	return &partialQueue{set: btree.NewSet(partialLess)}
}

func (q *partialQueue) IsEnabled() bool { return q.enabled }
func (q *partialQueue) IsFull() bool    { return q.enabled && q.set.Len() >= q.capacity }

func (q *partialQueue) Enable(capacity int) {
	q.enabled = true
	q.capacity = capacity
}

func (q *partialQueue) Clear() {
	q.set = btree.NewSet(partialLess)
}

// Insert adds (rarity, index) if there's room, or if it beats the current
// worst entry (evicting that entry). Returns false if the candidate was
// rejected outright (queue full and candidate no better than the worst).
func (q *partialQueue) Insert(rarity uint8, index uint32) bool {
	e := partialEntry{rarity: rarity, index: index}
	if q.set.Len() < q.capacity {
		q.set.Upsert(e)
		return true
	}

	it := q.set.Iterator()
	it.Last()
	if !it.Valid() {
		q.set.Upsert(e)
		return true
	}
	worst := it.Cur()
	if !partialLess(e, worst) {
		return false
	}
	q.set.Delete(worst)
	q.set.Upsert(e)
	return true
}

// PreparePop reports whether there is at least one entry to Pop.
func (q *partialQueue) PreparePop() bool { return q.set.Len() > 0 }

// Pop removes and returns the best (lowest-rarity) candidate's index.
func (q *partialQueue) Pop() uint32 {
	it := q.set.Iterator()
	it.First()
	if !it.Valid() {
		panic("chunkselect: Pop on empty partialQueue")
	}
	best := it.Cur()
	q.set.Delete(best)
	return best.index
}
