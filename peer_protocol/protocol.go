// Package peer_protocol implements the BitTorrent v1 wire protocol framing
// described in spec §6: the handshake preamble, the u32-length-prefixed
// message stream, and the fixed message ID table.
package peer_protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Integer is the wire integer width used throughout the protocol (piece
// index, offsets, lengths, bitfield lengths): always a big-endian uint32.
type Integer = uint32

// IntegerMax is the largest value an Integer field can hold without
// overflowing when added to another field (guards chunkOverflowsPiece-style
// checks in peerconn).
const IntegerMax = ^Integer(0)

// MessageType is the single ID byte following the length prefix.
type MessageType byte

const (
	Choke MessageType = iota
	Unchoke
	Interested
	NotInterested
	Have
	Bitfield
	Request
	Piece
	Cancel
	Port
)

// Extended is the BEP-10 extension protocol message id (20), handled
// separately from the dense 0..9 core IDs above.
const Extended MessageType = 20

// MaxLength is the largest length prefix this implementation accepts before
// treating the stream as a protocol violation (spec §6: "max message length
// 2^20").
const MaxLength = 1 << 20

// MaxPieceLength is the largest body a PIECE message's chunk may carry
// (spec §6: "length ∈ (0, 2^17]").
const MaxPieceLength = 1 << 17

func (t MessageType) String() string {
	switch t {
	case Choke:
		return "choke"
	case Unchoke:
		return "unchoke"
	case Interested:
		return "interested"
	case NotInterested:
		return "not interested"
	case Have:
		return "have"
	case Bitfield:
		return "bitfield"
	case Request:
		return "request"
	case Piece:
		return "piece"
	case Cancel:
		return "cancel"
	case Port:
		return "port"
	case Extended:
		return "extended"
	default:
		return fmt.Sprintf("unknown message type %d", byte(t))
	}
}

// ErrUnknownMessageType is returned by Decode when the wire ID byte doesn't
// match any known MessageType (spec §6: "unknown message id" closes the
// connection — communication_error, per §7).
var ErrUnknownMessageType = errors.New("peer_protocol: unknown message type")

// ErrMessageTooLong is returned by Decode when the length prefix exceeds
// MaxLength.
var ErrMessageTooLong = errors.New("peer_protocol: message length overflow")

// Message is a single decoded (or to-be-encoded) wire message. Only the
// fields relevant to Type are populated; callers must not read fields
// outside that set.
type Message struct {
	Keepalive bool
	Type      MessageType

	Index  Integer
	Begin  Integer
	Length Integer

	Piece []byte

	// BitfieldBytes is the raw byte payload of a BITFIELD message (the
	// packed bits, padded to a byte boundary).
	BitfieldBytes []byte

	Port uint16

	ExtendedID      byte
	ExtendedPayload []byte
}

// MakeCancelMessage builds a CANCEL, which carries the same three fields
// as a REQUEST.
func MakeCancelMessage(index, begin, length Integer) Message {
	return Message{Type: Cancel, Index: index, Begin: begin, Length: length}
}

// MakeRequestMessage builds a REQUEST for the given chunk.
func MakeRequestMessage(index, begin, length Integer) Message {
	return Message{Type: Request, Index: index, Begin: begin, Length: length}
}

// MakeHaveMessage builds a HAVE(index).
func MakeHaveMessage(index Integer) Message {
	return Message{Type: Have, Index: index}
}

// MakePieceMessage builds a PIECE carrying body for [index,begin).
func MakePieceMessage(index, begin Integer, body []byte) Message {
	return Message{Type: Piece, Index: index, Begin: begin, Piece: body}
}

// fixedBodyLength returns how many bytes follow the type byte on the wire
// for m, not counting any body-bearing slice (Piece/BitfieldBytes/
// ExtendedPayload) which callers append separately. Neither MarshalBinary
// nor Decoder calls it.
func (m Message) fixedBodyLength() int {
	switch m.Type {
	case Choke, Unchoke, Interested, NotInterested:
		return 0
	case Have:
		return 4
	case Bitfield:
		return 0
	case Request, Cancel:
		return 12
	case Piece:
		return 8
	case Port:
		return 2
	case Extended:
		return 1
	default:
		return 0
	}
}

// MarshalBinary encodes m as it appears on the wire, including its own
// u32_be length prefix.
func (m Message) MarshalBinary() ([]byte, error) {
	if m.Keepalive {
		return []byte{0, 0, 0, 0}, nil
	}

	var body []byte
	switch m.Type {
	case Choke, Unchoke, Interested, NotInterested:
	case Have:
		body = make([]byte, 4)
		binary.BigEndian.PutUint32(body, m.Index)
	case Bitfield:
		body = m.BitfieldBytes
	case Request, Cancel:
		body = make([]byte, 12)
		binary.BigEndian.PutUint32(body[0:4], m.Index)
		binary.BigEndian.PutUint32(body[4:8], m.Begin)
		binary.BigEndian.PutUint32(body[8:12], m.Length)
	case Piece:
		body = make([]byte, 8+len(m.Piece))
		binary.BigEndian.PutUint32(body[0:4], m.Index)
		binary.BigEndian.PutUint32(body[4:8], m.Begin)
		copy(body[8:], m.Piece)
	case Port:
		body = make([]byte, 2)
		binary.BigEndian.PutUint16(body, m.Port)
	case Extended:
		body = make([]byte, 1+len(m.ExtendedPayload))
		body[0] = m.ExtendedID
		copy(body[1:], m.ExtendedPayload)
	default:
		return nil, fmt.Errorf("peer_protocol: cannot marshal %v", m.Type)
	}

	out := make([]byte, 4+1+len(body))
	binary.BigEndian.PutUint32(out[0:4], uint32(1+len(body)))
	out[4] = byte(m.Type)
	copy(out[5:], body)
	return out, nil
}

// MustMarshalBinary panics on a marshal error; used for the fixed-size
// messages (interested, request) whose length is needed as a constant at
// init time.
func (m Message) MustMarshalBinary() []byte {
	b, err := m.MarshalBinary()
	if err != nil {
		panic(err)
	}
	return b
}
