package torrent

import (
	"github.com/pkg/errors"
)

// Kind classifies a core error per spec §7, driving how the event loop
// reacts to it.
type Kind int

const (
	// InputError: caller handed the core something invalid (a malformed
	// config, an out-of-range piece index). Reject, don't crash.
	InputError Kind = iota
	// CommunicationError: a peer misbehaved (violated the wire protocol).
	// Close the connection and log to the network-log signal.
	CommunicationError
	// NetworkError: a transport-level failure (read/write error,
	// connection reset). Close the connection and log to the
	// network-log signal.
	NetworkError
	// StorageError: disk I/O failure. Surfaces to the torrent; may pause
	// it.
	StorageError
	// InternalError: invariant violation — a bug. Abort in debug builds,
	// log-and-close in release.
	InternalError
	// CloseConnection: a signalled control-flow disconnect, not a true
	// error (e.g. a clean choke-driven teardown).
	CloseConnection
)

func (k Kind) String() string {
	switch k {
	case InputError:
		return "input_error"
	case CommunicationError:
		return "communication_error"
	case NetworkError:
		return "network_error"
	case StorageError:
		return "storage_error"
	case InternalError:
		return "internal_error"
	case CloseConnection:
		return "close_connection"
	default:
		return "unknown_error"
	}
}

// Error wraps a Kind-classified failure, with the underlying cause
// preserved for errors.Cause/errors.Unwrap.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Kind.String() + ": " + e.Message + ": " + e.cause.Error()
	}
	return e.Kind.String() + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }
func (e *Error) Cause() error  { return e.cause }

// wrapErr builds a Kind-classified Error from cause, per spec §7's error
// taxonomy. message describes what the core was doing when cause
// occurred.
func wrapErr(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, cause: errors.WithStack(cause)}
}

// NetworkLogEvent is what propagation policy (§7) emits on
// communication/network/storage errors: "a signal of (kind, message) per
// torrent for network log and storage log".
type NetworkLogEvent struct {
	Kind    Kind
	Message string
}

// TrackerFailedEvent surfaces a tracker error per §7's
// tracker_failed(message).
type TrackerFailedEvent struct {
	Message string
}

// guardInternal runs fn, converting any panic raised from within it into a
// Kind-classified InternalError instead of letting it unwind past the
// caller. recoverInternal's two build-tag variants decide what happens
// next: swarmcore_debug builds re-raise the panic so the native stack
// trace reaches the developer immediately, release builds log it and
// leave the caller's own zero-value/partial result in place, so the one
// offending operation aborts instead of taking the whole process down.
func (t *Torrent) guardInternal(context string, fn func()) {
	defer recoverInternal(t.logger, context)
	fn()
}
