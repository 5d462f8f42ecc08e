package torrent

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"
)

func TestSchedulerWakeReleasesLockAndWaitsForBroadcast(t *testing.T) {
	c := qt.New(t)
	var l clientLock
	var wake schedulerWake

	done := make(chan struct{})
	l.Lock()
	go func() {
		l.Lock()
		defer l.Unlock()
		wake.Wait(&l)
		close(done)
	}()

	// Give the goroutine a chance to register as a waiter before we
	// unlock and broadcast.
	time.Sleep(10 * time.Millisecond)
	l.Unlock()

	l.Lock()
	wake.Broadcast()
	l.Unlock()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("waiter never woke")
	}
}
