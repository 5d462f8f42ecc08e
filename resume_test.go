package torrent

import (
	"testing"

	"github.com/anacrolix/log"
	qt "github.com/frankban/quicktest"
)

func TestSaveResumeStateCapturesCompletedBitfield(t *testing.T) {
	c := qt.New(t)
	tt, _ := newTestTorrent(c, 32, 16) // 2 pieces
	tt.choke.Upload.SetMaxUnchoked(10)
	tt.choke.Download.SetMaxUnchoked(10)

	p := tt.AddPeer("peer-1", PeerSourceIncoming, log.Default)
	p.OnBitfield([]byte{0xC0})
	p.OnPeerUnchoked()
	c.Assert(p.WriteChunk(0, 0, make([]byte, 16)), qt.IsNil)
	c.Assert(tt.VerifyPiece(0, true), qt.IsNil)

	state := tt.SaveResumeState([]FileBaseline{{Path: "f", StartOffset: 0, Length: 32}})
	c.Assert(state.CompletedBitfield[0], qt.Equals, byte(0x80))
	c.Assert(state.FileBaselines, qt.HasLen, 1)
}

func TestLoadResumeStateRestoresHaveAndSelector(t *testing.T) {
	c := qt.New(t)
	tt, _ := newTestTorrent(c, 48, 16) // 3 pieces
	tt.choke.Upload.SetMaxUnchoked(10)
	tt.choke.Download.SetMaxUnchoked(10)

	// Piece 0 and 2 marked complete (bits 0 and 2 of byte, MSB-first).
	tt.LoadResumeState(ResumeState{CompletedBitfield: []byte{0xA0}})

	c.Assert(tt.have.Get(0), qt.IsTrue)
	c.Assert(tt.have.Get(1), qt.IsFalse)
	c.Assert(tt.have.Get(2), qt.IsTrue)
	c.Assert(tt.selector.IsWanted(0), qt.IsFalse)
	c.Assert(tt.selector.IsWanted(1), qt.IsTrue)
	c.Assert(tt.selector.IsWanted(2), qt.IsFalse)
}
