package choke

import "math/rand"

// weights_upload_choke / weights_upload_unchoke / weights_download_choke /
// weights_download_unchoke from the reference: band weights used by
// allocateSlots to decide how unchoke/choke slots are split across bands.
// A weight of 0 excludes a band from ever receiving a slot.
var (
	uploadChokeWeights     = [orderMaxSize]uint32{1, 1, 1, 1}
	uploadUnchokeWeights   = [orderMaxSize]uint32{1, 3, 9, 0}
	downloadChokeWeights   = [orderMaxSize]uint32{1, 1, 1, 1}
	downloadUnchokeWeights = [orderMaxSize]uint32{1, 1, 1, 1}
)

func chokeWeights(h Heuristics) [orderMaxSize]uint32 {
	if h == DownloadLeech {
		return downloadChokeWeights
	}
	return uploadChokeWeights
}

func unchokeWeights(h Heuristics) [orderMaxSize]uint32 {
	if h == DownloadLeech {
		return downloadUnchokeWeights
	}
	return uploadUnchokeWeights
}

// computeChokeWeights assigns each entry a weight inversely proportional to
// its rate (band 0, the most favored for staying unchoked / least favored
// for being choked): orderBase-1-rate, clamped to stay within band 0 so a
// very fast peer never spills into higher (more chokeable) bands.
func computeChokeWeights(h Heuristics, entries []*entry, rate RateFunc) {
	for _, e := range entries {
		r := uint32(rate(e.peer))
		if r >= orderBase-1 {
			r = orderBase - 2
		}
		e.weight = orderBase - 1 - r
	}
}

// computeUnchokeWeights implements the two distinct heuristics the
// reference keeps for "who deserves a slot":
//
//   - UploadLeech: peers for which locallyUnchoked reports true are weighted
//     by rate: at or above a trickle (1000 B/s) they go to the favored band 2,
//     below it they stay in band 0 with weight = rate. Every other peer lands
//     in the semi-random optimistic-unchoke band 1, so it gets occasional
//     exploratory slots regardless of known rate.
//   - DownloadLeech: a simple rate-proportional weight, lowest rate = most
//     eligible (reflecting "give a chance to peers we're not already getting
//     much from").
func computeUnchokeWeights(h Heuristics, entries []*entry, rate RateFunc, locallyUnchoked LocallyUnchokedFunc) {
	if h == DownloadLeech {
		for _, e := range entries {
			e.weight = uint32(rate(e.peer))
		}
		return
	}

	for _, e := range entries {
		if locallyUnchoked != nil && locallyUnchoked(e.peer) {
			r := uint32(rate(e.peer))
			if r < 1000 {
				e.weight = r
			} else {
				e.weight = 2*orderBase + r
			}
		} else {
			e.weight = orderBase + uint32(rand.Intn(1<<10))
		}
	}
}
