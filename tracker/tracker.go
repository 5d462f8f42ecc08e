// Package tracker defines the request-sink seam spec §6 names at
// interface level only: spec.md §1 lists "tracker HTTP/UDP protocol" under
// OUT OF SCOPE, external-collaborator-by-interface, and SPEC_FULL.md's
// domain-stack section places the wire-level libraries a real announcer
// would need (gorilla/websocket, fsnotify) in the same out-of-scope
// bucket. This package only defines what the core sends and expects back.
package tracker

import (
	"context"
	"time"
)

// Event is the announce event the core reports on each send_event call
// (spec §6: "send_event({STARTED, STOPPED, COMPLETED, NONE, SCRAPE})").
type Event int

const (
	None Event = iota
	Started
	Stopped
	Completed
	Scrape
)

func (e Event) String() string {
	switch e {
	case None:
		return "none"
	case Started:
		return "started"
	case Stopped:
		return "stopped"
	case Completed:
		return "completed"
	case Scrape:
		return "scrape"
	default:
		return "unknown"
	}
}

// Peer is one swarm member a tracker response advertises.
type Peer struct {
	ID   [20]byte
	IP   string
	Port uint16
}

// Response carries the announce result: a candidate peer list and the
// interval the core should wait before its next announce (spec §6:
// "response carries peer list and interval_seconds").
type Response struct {
	Peers           []Peer
	IntervalSeconds int
	// Complete/Incomplete are scrape-style swarm-size hints a tracker may
	// include alongside the peer list; zero when not reported.
	Complete   int
	Incomplete int
}

// Request is what the core reports to a Sink on each announce.
type Request struct {
	InfoHash   [20]byte
	PeerID     [20]byte
	Event      Event
	Uploaded   int64
	Downloaded int64
	Left       int64
	NumWant    int
	Port       uint16
}

// Sink is the tracker request sink the core consumes; a real
// implementation speaks HTTP or UDP announce/scrape, entirely outside
// this module's scope.
type Sink interface {
	SendEvent(ctx context.Context, req Request) (Response, error)
}

// Status is the per-tracker monitoring surface the core's owner polls
// (e.g. for a UI): URL, whether it's currently working, and the last
// announce outcome.
type Status struct {
	URL          string
	LastAnnounce time.Time
	NextAnnounce time.Time
	NumPeers     int
	Interval     time.Duration
	LastError    error
}

// IsWorking reports whether the most recent announce to this tracker
// succeeded.
func (s Status) IsWorking() bool { return s.LastError == nil && !s.LastAnnounce.IsZero() }
