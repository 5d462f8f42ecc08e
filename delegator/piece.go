// Package delegator implements spec §4.4/§4.5: the piece/block request
// lifecycle coupling ChunkSelector to a per-piece TransferList, including
// hash-failure forensic variant tracking and aggressive/endgame
// multi-download promotion.
package delegator

// Piece identifies a requestable byte range: Index selects which torrent
// piece, Offset/Length the byte range within it (a "block" request in wire
// terms).
type Piece struct {
	Index  uint32
	Offset uint32
	Length uint32
}

// blockLength is the standard request size; the reference's delegator
// splits every piece into blocks of this size with the final block in each
// piece left short.
const blockLength = 1 << 14
