package peerconn

import (
	"io"
	"time"

	"github.com/anacrolix/chansync"
	"github.com/anacrolix/log"

	pp "github.com/coriolis-labs/swarmcore/peer_protocol"
)

// KeepAliveTimeout is spec §4.9's "a peer silent for > 240 s is
// disconnected; a locally silent connection emits keep-alive" threshold.
const KeepAliveTimeout = 240 * time.Second

// ReadLoop decodes and dispatches messages from r until a fatal/IO error,
// closed signals it, or the caller's handler closes the connection through
// some other path. It owns pacing the PIECE fast path described in spec
// §4.9: a PIECE header transitions into either ReadPiece (read directly
// into storage) or ReadSkipPiece (discard after a divergence check)
// without buffering the body through Decoder.
func ReadLoop(r io.Reader, conn *Connection, closed *chansync.SetOnce) error {
	d := pp.NewDecoder(r)
	var msg pp.Message
	for {
		if closed != nil && closed.IsSet() {
			return nil
		}
		if err := d.Decode(&msg); err != nil {
			return err
		}
		if msg.Keepalive {
			continue
		}
		if msg.Type == pp.Piece {
			conn.HandlePieceHeader(msg.Index, msg.Begin, msg.Length)
			body := make([]byte, conn.PendingPieceLength())
			if conn.PendingPieceIsLeader() {
				if err := d.ReadPieceBody(body); err != nil {
					return err
				}
				if err := conn.CompleteLeaderPiece(body); err != nil {
					return err
				}
			} else {
				if err := d.ReadPieceBody(body); err != nil {
					return err
				}
				leaderBytes := conn.Handler.LeaderBytes(msg.Index, msg.Begin, msg.Length)
				conn.CompleteSkippedPiece(body, leaderBytes)
			}
			continue
		}
		if err := conn.HandleMessage(&msg); err != nil {
			return err
		}
	}
}

// KeepAliveLoop periodically checks whether this connection has been
// locally silent for KeepAliveTimeout and, if so, asks send to emit one.
// lastActivity is read under the caller's lock.
func KeepAliveLoop(lastActivity func() time.Time, send func() bool, closed *chansync.SetOnce, logger log.Logger) {
	timer := time.NewTimer(KeepAliveTimeout)
	defer timer.Stop()
	for {
		select {
		case <-closed.Done():
			return
		case <-timer.C:
			if time.Since(lastActivity()) >= KeepAliveTimeout {
				if !send() {
					logger.WithDefaultLevel(log.Debug).Printf("keepalive send failed")
				}
			}
			timer.Reset(KeepAliveTimeout)
		}
	}
}
