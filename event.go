package torrent

import "sync"

// schedulerWake is a broadcast condition variable compatible with
// clientLock: waking the scheduler loop when new work becomes available
// (a block finished, a connection closed, a timer fired) must not itself
// run clientLock's deferred actions, since the waiter is still inside the
// same critical section that queued them — merged into one type since
// this core only ever needs LIFO-less broadcast wakeups, not
// sync.Cond's full Signal/Wait contract.
type schedulerWake struct {
	mu      sync.Mutex
	waiters []chan struct{}
}

// Wait releases l (bypassing any deferred actions queued on it) and
// blocks until the next Broadcast, then reacquires l before returning.
// The caller must hold l when calling Wait.
func (e *schedulerWake) Wait(l *clientLock) {
	e.mu.Lock()
	ch := make(chan struct{})
	e.waiters = append(e.waiters, ch)
	e.mu.Unlock()

	l.safeUnlock()
	<-ch
	l.safeLock()
}

// Broadcast wakes every goroutine currently blocked in Wait.
func (e *schedulerWake) Broadcast() {
	e.mu.Lock()
	waiters := e.waiters
	e.waiters = nil
	e.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
}
