package peer_protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Decoder reads successive Messages off r. It does not itself implement the
// PeerConnection state machine's READ_PIECE fast path (spec §4.9) — that
// lives in peerconn, which drains a PIECE's body directly into a Chunk
// instead of buffering it here. Decoder is for every other message, and for
// parsing a PIECE's fixed 8-byte header before peerconn takes over.
type Decoder struct {
	r         io.Reader
	MaxLength int
}

// NewDecoder wraps r with the default MaxLength.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r, MaxLength: MaxLength}
}

func (d *Decoder) readFull(buf []byte) error {
	_, err := io.ReadFull(d.r, buf)
	return err
}

// Decode reads one message into msg, returning ErrMessageTooLong or
// ErrUnknownMessageType for protocol violations (both communication_error
// per spec §7), or an io error for a torn/closed connection.
//
// For a PIECE message, Decode returns with msg.Length set to the body
// length and msg.Piece left nil — callers in the READ_PIECE state read the body
// directly via ReadPieceBody to avoid an extra buffer copy for what may be
// many kilobytes.
func (d *Decoder) Decode(msg *Message) error {
	var lenBuf [4]byte
	if err := d.readFull(lenBuf[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])

	max := d.MaxLength
	if max == 0 {
		max = MaxLength
	}
	if int(length) > max {
		return ErrMessageTooLong
	}

	*msg = Message{}
	if length == 0 {
		msg.Keepalive = true
		return nil
	}

	var typeBuf [1]byte
	if err := d.readFull(typeBuf[:]); err != nil {
		return err
	}
	msg.Type = MessageType(typeBuf[0])
	remaining := int(length) - 1

	switch msg.Type {
	case Choke, Unchoke, Interested, NotInterested:
		return d.expectExact(remaining, 0)
	case Have:
		if err := d.expectExact(remaining, 4); err != nil {
			return err
		}
		var b [4]byte
		if err := d.readFull(b[:]); err != nil {
			return err
		}
		msg.Index = binary.BigEndian.Uint32(b[:])
		return nil
	case Bitfield:
		msg.BitfieldBytes = make([]byte, remaining)
		return d.readFull(msg.BitfieldBytes)
	case Request, Cancel:
		if err := d.expectExact(remaining, 12); err != nil {
			return err
		}
		var b [12]byte
		if err := d.readFull(b[:]); err != nil {
			return err
		}
		msg.Index = binary.BigEndian.Uint32(b[0:4])
		msg.Begin = binary.BigEndian.Uint32(b[4:8])
		msg.Length = binary.BigEndian.Uint32(b[8:12])
		return nil
	case Piece:
		if remaining < 8 {
			return fmt.Errorf("peer_protocol: piece message too short: %d", remaining)
		}
		pieceLen := remaining - 8
		if pieceLen == 0 || pieceLen > MaxPieceLength {
			return fmt.Errorf("peer_protocol: piece length %d out of (0, %d]", pieceLen, MaxPieceLength)
		}
		var b [8]byte
		if err := d.readFull(b[:]); err != nil {
			return err
		}
		msg.Index = binary.BigEndian.Uint32(b[0:4])
		msg.Begin = binary.BigEndian.Uint32(b[4:8])
		msg.Length = uint32(pieceLen)
		// Body intentionally not read here — see doc comment.
		return nil
	case Port:
		if err := d.expectExact(remaining, 2); err != nil {
			return err
		}
		var b [2]byte
		if err := d.readFull(b[:]); err != nil {
			return err
		}
		msg.Port = binary.BigEndian.Uint16(b[:])
		return nil
	case Extended:
		if remaining < 1 {
			return fmt.Errorf("peer_protocol: extended message too short: %d", remaining)
		}
		var idBuf [1]byte
		if err := d.readFull(idBuf[:]); err != nil {
			return err
		}
		msg.ExtendedID = idBuf[0]
		msg.ExtendedPayload = make([]byte, remaining-1)
		return d.readFull(msg.ExtendedPayload)
	default:
		// Drain the unknown body so the stream stays framed even though
		// the caller will close the connection (communication_error).
		if remaining > 0 {
			_ = d.readFull(make([]byte, remaining))
		}
		return ErrUnknownMessageType
	}
}

func (d *Decoder) expectExact(got, want int) error {
	if got != want {
		return fmt.Errorf("peer_protocol: expected %d body bytes, got %d", want, got)
	}
	return nil
}

// ReadPieceBody reads exactly len(dst) bytes of a PIECE message's chunk
// body directly into dst, implementing the READ_PIECE state's "consume
// directly into the mmap'd chunk" behavior from spec §4.9.
func (d *Decoder) ReadPieceBody(dst []byte) error {
	return d.readFull(dst)
}

// SkipPieceBody discards n bytes of a PIECE body without retaining them,
// implementing READ_SKIP_PIECE for a transfer that has become NOT_LEADER
// (spec §4.9).
func (d *Decoder) SkipPieceBody(n int) error {
	_, err := io.CopyN(io.Discard, d.r, int64(n))
	return err
}
