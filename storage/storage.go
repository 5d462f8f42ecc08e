// Package storage implements the chunk-storage seam spec §6 describes at
// interface level: create_chunk(index, writable) -> (Chunk, error), a Chunk
// exposing to_buffer/from_buffer/compare_buffer, and chunk_index_size(index)
// for the last-chunk short-length edge case. PeerConnection's READ_PIECE
// path writes inbound bytes through a Chunk; Delegator's hash-check path
// reads them back out to verify against the announced SHA-1.
package storage

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by any ChunkStore/Chunk operation performed after
// Close.
var ErrClosed = errors.New("storage: closed")

// ErrOutOfRange is returned when a buffer operation's offset+length falls
// outside a chunk's bounds.
var ErrOutOfRange = errors.New("storage: offset/length out of chunk range")

// Layout describes how the content's byte stream is divided into
// fixed-size chunks, with the final chunk shortened to whatever remains
// (spec: "Last chunk short-length: chunk_index_size(last) = total_bytes mod
// chunk_size (or chunk_size when divisible)").
type Layout struct {
	TotalLength int64
	ChunkSize   uint32
}

// NumChunks returns how many chunks this layout divides TotalLength into.
func (l Layout) NumChunks() uint32 {
	if l.ChunkSize == 0 {
		return 0
	}
	n := l.TotalLength / int64(l.ChunkSize)
	if l.TotalLength%int64(l.ChunkSize) != 0 {
		n++
	}
	return uint32(n)
}

// ChunkIndexSize implements chunk_index_size(index): the full ChunkSize for
// every chunk except the last, which is the remainder (or a full ChunkSize
// when TotalLength divides evenly).
func (l Layout) ChunkIndexSize(index uint32) uint32 {
	last := l.NumChunks() - 1
	if index != last {
		return l.ChunkSize
	}
	rem := l.TotalLength % int64(l.ChunkSize)
	if rem == 0 {
		return l.ChunkSize
	}
	return uint32(rem)
}

// Offset returns the byte offset of a chunk's first byte within the
// content stream.
func (l Layout) Offset(index uint32) int64 {
	return int64(index) * int64(l.ChunkSize)
}

// Chunk is a single content chunk's read/write/verify surface. Every
// offset is relative to the chunk's own start, never the whole torrent.
type Chunk interface {
	// ToBuffer copies length bytes starting at offset into dst, per spec
	// §6's to_buffer(dst, offset, length).
	ToBuffer(dst []byte, offset, length uint32) (int, error)
	// FromBuffer writes src into the chunk starting at offset, per spec
	// §6's from_buffer(src, offset, length) (length is len(src)).
	FromBuffer(src []byte, offset uint32) error
	// CompareBuffer reports whether the chunk's bytes in [offset,
	// offset+length) equal src, per spec §6's compare_buffer(src, offset,
	// length) — used by peerconn's NOT_LEADER divergence check and by
	// delegator's corrupt-peer detection.
	CompareBuffer(src []byte, offset, length uint32) (bool, error)
	// Index is this chunk's piece index.
	Index() uint32
	// Size is chunk_index_size(Index()).
	Size() uint32
}

// ChunkStore opens and sizes chunks backed by some concrete medium (a
// memory-mapped file, a key/value store, ...).
type ChunkStore interface {
	// CreateChunk opens index for reading, and for writing too if
	// writable is set, per spec §6's create_chunk(index, writable).
	CreateChunk(index uint32, writable bool) (Chunk, error)
	// ChunkIndexSize implements spec §6's chunk_index_size(index).
	ChunkIndexSize(index uint32) uint32
	Close() error
}

func checkBounds(size, offset, length uint32) error {
	if uint64(offset)+uint64(length) > uint64(size) {
		return fmt.Errorf("%w: offset=%d length=%d size=%d", ErrOutOfRange, offset, length, size)
	}
	return nil
}
