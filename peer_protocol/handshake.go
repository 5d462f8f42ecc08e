package peer_protocol

import (
	"fmt"
	"io"
)

const protocolString = "BitTorrent protocol"

// HandshakeLen is the total fixed length of the handshake preamble: 1 +
// len(protocolString) + 8 reserved + 20 info-hash + 20 peer-id.
const HandshakeLen = 1 + len(protocolString) + 8 + 20 + 20

// ExtensionBit identifies a single reserved-byte flag in the handshake
// (spec §6: "reserved byte 5 bit 4 = extension-protocol support; reserved
// byte 7 bit 0 = DHT").
type ExtensionBit struct {
	byteIndex int
	mask      byte
}

var (
	ExtensionBitExtended = ExtensionBit{byteIndex: 5, mask: 1 << 4}
	ExtensionBitDHT      = ExtensionBit{byteIndex: 7, mask: 1 << 0}
)

// Handshake is the decoded preamble exchanged before any framed message.
type Handshake struct {
	Reserved [8]byte
	InfoHash [20]byte
	PeerID   [20]byte
}

// Set toggles bit on in the reserved bytes.
func (h *Handshake) Set(bit ExtensionBit) {
	h.Reserved[bit.byteIndex] |= bit.mask
}

// Has reports whether bit is set.
func (h Handshake) Has(bit ExtensionBit) bool {
	return h.Reserved[bit.byteIndex]&bit.mask != 0
}

// Marshal writes h as the 68-byte wire preamble.
func (h Handshake) Marshal() []byte {
	buf := make([]byte, 0, HandshakeLen)
	buf = append(buf, byte(len(protocolString)))
	buf = append(buf, protocolString...)
	buf = append(buf, h.Reserved[:]...)
	buf = append(buf, h.InfoHash[:]...)
	buf = append(buf, h.PeerID[:]...)
	return buf
}

// WriteHandshake writes h's wire form to w.
func WriteHandshake(w io.Writer, h Handshake) error {
	_, err := w.Write(h.Marshal())
	return err
}

// ReadHandshake reads and validates a 68-byte preamble from r. A mismatched
// protocol string name is a communication_error (spec §7): the peer isn't
// speaking BitTorrent v1 at all.
func ReadHandshake(r io.Reader) (Handshake, error) {
	var h Handshake

	var pstrlen [1]byte
	if _, err := io.ReadFull(r, pstrlen[:]); err != nil {
		return h, err
	}
	if int(pstrlen[0]) != len(protocolString) {
		return h, fmt.Errorf("peer_protocol: unexpected pstrlen %d", pstrlen[0])
	}

	pstr := make([]byte, pstrlen[0])
	if _, err := io.ReadFull(r, pstr); err != nil {
		return h, err
	}
	if string(pstr) != protocolString {
		return h, fmt.Errorf("peer_protocol: unexpected protocol string %q", pstr)
	}

	if _, err := io.ReadFull(r, h.Reserved[:]); err != nil {
		return h, err
	}
	if _, err := io.ReadFull(r, h.InfoHash[:]); err != nil {
		return h, err
	}
	if _, err := io.ReadFull(r, h.PeerID[:]); err != nil {
		return h, err
	}
	return h, nil
}
