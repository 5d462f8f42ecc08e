package torrent

import (
	"fmt"
	"sync"

	g "github.com/anacrolix/generics"
	"github.com/anacrolix/missinggo/v2/panicif"
	xsync "github.com/anacrolix/sync"
)

// clientLock is the single club-level lock a Client holds across its event
// loop, per spec §5's single cooperative event loop: one lock serializes
// every torrent's state transitions, and deferred actions let a handler
// queue follow-up work (rescheduling a task, waking another goroutine)
// that must run only after the current critical section fully unwinds —
// never interleaved with it.
type clientLock struct {
	internal      xsync.RWMutex
	unlockActions []func()
	uniqueActions map[any]struct{}
	allowDefers   bool
}

func (l *clientLock) Lock() {
	l.internal.Lock()
	panicif.True(l.allowDefers)
	l.allowDefers = true
}

func (l *clientLock) Unlock() {
	panicif.False(l.allowDefers)
	l.allowDefers = false
	l.runUnlockActions()
	l.internal.Unlock()
}

func (l *clientLock) RLock()   { l.internal.RLock() }
func (l *clientLock) RUnlock() { l.internal.RUnlock() }

// Defer schedules action to run after the current Unlock, in the order
// scheduled, per spec §5's "suspension points: a handler may suspend only
// by returning" — a handler queues its follow-up instead of recursing
// back into the lock.
func (l *clientLock) Defer(action func()) {
	panicif.False(l.allowDefers)
	l.unlockActions = append(l.unlockActions, action)
}

// DeferUnique schedules action under key, silently dropping the request
// if key is already pending this unlock — spec §5's idempotent
// reschedule ("erase-then-insert") for the choke-cycle/throttle-tick/
// tracker-request/keepalive tasks.
func (l *clientLock) DeferUnique(key any, action func()) {
	panicif.False(l.allowDefers)
	g.MakeMapIfNil(&l.uniqueActions)
	if g.MapContains(l.uniqueActions, key) {
		return
	}
	l.uniqueActions[key] = struct{}{}
	l.Defer(action)
}

func (l *clientLock) runUnlockActions() {
	startLen := len(l.unlockActions)
	for i := 0; i < len(l.unlockActions); i++ {
		l.unlockActions[i]()
	}
	if startLen != len(l.unlockActions) {
		panic(fmt.Sprintf("num deferred actions changed while running: %v -> %v", startLen, len(l.unlockActions)))
	}
	l.unlockActions = l.unlockActions[:0]
	l.uniqueActions = nil
}

// safeUnlock/safeLock bypass deferred actions entirely, for
// schedulerWake.Wait to release and reacquire the underlying mutex without running
// unlock-time callbacks meant for the "real" critical section boundary.
func (l *clientLock) safeUnlock() {
	panicif.False(l.allowDefers)
	l.allowDefers = false
	l.internal.Unlock()
}

func (l *clientLock) safeLock() {
	l.internal.Lock()
	panicif.True(l.allowDefers)
	l.allowDefers = true
}

// safeLocker adapts clientLock's safe (defer-bypassing) lock/unlock pair
// to sync.Locker.
type safeLocker struct{ l *clientLock }

func (s safeLocker) Lock()   { s.l.safeLock() }
func (s safeLocker) Unlock() { s.l.safeUnlock() }

var _ sync.Locker = safeLocker{}
