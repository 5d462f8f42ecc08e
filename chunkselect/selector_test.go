package chunkselect

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/coriolis-labs/swarmcore/bitfield"
	"github.com/coriolis-labs/swarmcore/priority"
)

func newTestSelector(c *qt.C, numPieces int) (*Selector, *Statistics) {
	have := bitfield.New(numPieces)
	stats := NewStatistics(numPieces)
	ranges := priority.New()
	ranges.Insert(priority.Normal, 0, numPieces)
	return NewSelector(have, stats, ranges), stats
}

func TestFindReturnsInvalidWhenNoPositionSet(t *testing.T) {
	c := qt.New(t)
	s, _ := newTestSelector(c, 0)
	peerBf := bitfield.New(0)
	cache := &PeerCache{}
	c.Assert(s.Find(peerBf, false, cache), qt.Equals, invalidChunk)
}

func TestFindPicksRarestWantedPieceFromPeer(t *testing.T) {
	c := qt.New(t)
	s, stats := newTestSelector(c, 4)
	s.position = 0

	peerBf := bitfield.New(4)
	peerBf.SetAll()

	trA := &Tracking{}
	trB := &Tracking{}
	bfA := bitfield.New(4)
	bfA.Set(2)
	bfB := bitfield.New(4)
	bfB.Set(0)
	bfB.Set(2)
	stats.ReceivedConnect(trA, bfA)
	stats.ReceivedConnect(trB, bfB)

	cache := &PeerCache{}
	pos := s.Find(peerBf, false, cache)
	c.Assert(pos, qt.Equals, uint32(1)) // rarity 0, the rarest unaccounted index
}

func TestUsingIndexStopsOfferingPiece(t *testing.T) {
	c := qt.New(t)
	s, _ := newTestSelector(c, 4)
	s.position = 0
	c.Assert(s.bitfield.Get(0), qt.IsTrue)
	s.UsingIndex(0)
	c.Assert(s.bitfield.Get(0), qt.IsFalse)
}

func TestNotUsingIndexReturnsPieceToPool(t *testing.T) {
	c := qt.New(t)
	s, _ := newTestSelector(c, 4)
	s.UsingIndex(0)
	s.NotUsingIndex(0)
	c.Assert(s.bitfield.Get(0), qt.IsTrue)
}

func TestIsWantedRespectsOffRange(t *testing.T) {
	c := qt.New(t)
	have := bitfield.New(4)
	stats := NewStatistics(4)
	ranges := priority.New()
	ranges.Insert(priority.Off, 0, 2)
	ranges.Insert(priority.Normal, 2, 4)
	s := NewSelector(have, stats, ranges)

	c.Assert(s.IsWanted(0), qt.IsFalse)
	c.Assert(s.IsWanted(2), qt.IsTrue)
}

func TestReceivedHaveChunkPrimesCache(t *testing.T) {
	c := qt.New(t)
	s, _ := newTestSelector(c, 4)
	cache := &PeerCache{}
	cache.queue.Enable(peerQueueCapacity)

	ok := s.ReceivedHaveChunk(cache, 1)
	c.Assert(ok, qt.IsTrue)
	c.Assert(cache.queue.PreparePop(), qt.IsTrue)
}
