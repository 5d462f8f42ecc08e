package torrent

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestGuardInternalRecoversPanicInReleaseBuild(t *testing.T) {
	c := qt.New(t)
	tt, _ := newTestTorrent(c, 4096, 1024)

	ran := false
	tt.guardInternal("test panic", func() {
		ran = true
		panic("boom")
	})
	// Reaching here (instead of crashing the test binary) is the point:
	// in a release build, guardInternal recovers the panic.
	c.Assert(ran, qt.IsTrue)
}
