package delegator

import "github.com/cespare/xxhash/v2"

// invalidFailedIndex marks "no variant selected yet", matching
// BlockFailed::invalid_index.
const invalidFailedIndex = ^uint32(0)

// failedVariant is one candidate byte sequence previously seen for a block
// that later turned out (at least once) to hash-fail at the piece level.
// fingerprint is an xxhash pre-filter: two variants are only ever
// byte-compared if their fingerprints already match, so a block with many
// distinct corrupt contributions doesn't pay an O(n) bytewise compare
// against every prior variant on each new attempt.
type failedVariant struct {
	bytes       []byte
	fingerprint uint64
	refcount    uint32
}

// BlockFailed is the per-block forensic ledger: every distinct byte
// sequence ever observed for this block across failed hash attempts, each
// with a reference count of how many transfers produced it, plus which
// variant is currently believed to be the genuine one.
type BlockFailed struct {
	variants []*failedVariant
	current  uint32
}

func newBlockFailed() *BlockFailed {
	return &BlockFailed{current: invalidFailedIndex}
}

func (f *BlockFailed) Current() uint32      { return f.current }
func (f *BlockFailed) SetCurrent(idx uint32) { f.current = idx }
func (f *BlockFailed) Len() int             { return len(f.variants) }

func (f *BlockFailed) Bytes(idx uint32) []byte { return f.variants[idx].bytes }
func (f *BlockFailed) Refcount(idx uint32) uint32 { return f.variants[idx].refcount }

// MaxElement returns the index of the most-referenced variant, or
// invalidFailedIndex if there are none.
func (f *BlockFailed) MaxElement() uint32 {
	if len(f.variants) == 0 {
		return invalidFailedIndex
	}
	best := uint32(0)
	for i, v := range f.variants {
		if v.refcount > f.variants[best].refcount {
			best = uint32(i)
		}
	}
	return best
}

// FindOrAdd compares data against every existing variant (fingerprint
// pre-filter, then exact byte equality over the full length as spec §4.5
// requires), incrementing its refcount on a match, or appending data as a
// new variant with refcount 1. Returns the variant's index and whether it
// was newly created.
func (f *BlockFailed) FindOrAdd(data []byte) (index uint32, created bool) {
	fp := xxhash.Sum64(data)
	for i, v := range f.variants {
		if v.fingerprint != fp || len(v.bytes) != len(data) {
			continue
		}
		if byteEqual(v.bytes, data) {
			v.refcount++
			return uint32(i), false
		}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.variants = append(f.variants, &failedVariant{bytes: cp, fingerprint: fp, refcount: 1})
	return uint32(len(f.variants) - 1), true
}

func byteEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
