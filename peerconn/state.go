// Package peerconn implements the PeerConnection state machine described
// at interface level in spec §4.9: message dispatch, the choke/interest
// invariants, and PIECE body routing between the active leader and any
// demoted (NOT_LEADER) observer of the same block.
package peerconn

// ReadState names where a connection's read side currently is in the
// length-prefix → type → body pipeline. Decoder.Decode collapses
// READ_LENGTH/READ_TYPE/READ_MSG into one call, and Connection keeps no
// ReadState field of its own: ReadLoop's PIECE handling corresponds to
// ReadPiece and ReadSkipPiece, and the other names are kept so the state
// names stay spec-traceable.
type ReadState int

const (
	ReadIdle ReadState = iota
	ReadLength
	ReadType
	ReadMsg
	ReadPiece
	ReadSkipPiece
	ReadExtension
)

func (s ReadState) String() string {
	switch s {
	case ReadIdle:
		return "idle"
	case ReadLength:
		return "read_length"
	case ReadType:
		return "read_type"
	case ReadMsg:
		return "read_msg"
	case ReadPiece:
		return "read_piece"
	case ReadSkipPiece:
		return "read_skip_piece"
	case ReadExtension:
		return "read_extension"
	default:
		return "unknown"
	}
}

// WriteState mirrors the write-side machine: Idle → Msg →
// {Idle|WritePiece|WriteExtension}.
type WriteState int

const (
	WriteIdle WriteState = iota
	WriteMsg
	WritePiece
	WriteExtension
)

func (s WriteState) String() string {
	switch s {
	case WriteIdle:
		return "idle"
	case WriteMsg:
		return "msg"
	case WritePiece:
		return "write_piece"
	case WriteExtension:
		return "write_extension"
	default:
		return "unknown"
	}
}
