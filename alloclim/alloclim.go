// Package alloclim bounds how many bytes of inbound request/response
// buffers may be outstanding at once, so a swarm of peers simultaneously
// requesting large chunks can't force unbounded heap growth while their
// PIECE bodies wait to be read or written. It sits underneath peerconn's
// READ_PIECE/WRITE_PIECE paths as a byte-budget gate, not a rate limiter —
// throttle already owns pacing; this only owns peak concurrent memory.
package alloclim

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Limiter grants byte-sized reservations up to a configurable ceiling,
// built on a weighted semaphore so a single large reservation (a whole
// piece) and many small ones (individual blocks) share the same budget
// fairly via FIFO acquire ordering.
type Limiter struct {
	max int64
	sem *semaphore.Weighted
}

// NewLimiter returns a Limiter capped at maxBytes total outstanding
// reservations. maxBytes <= 0 means unlimited (every Reserve succeeds
// immediately without consuming a real token).
func NewLimiter(maxBytes int64) *Limiter {
	if maxBytes <= 0 {
		return &Limiter{max: 0}
	}
	return &Limiter{max: maxBytes, sem: semaphore.NewWeighted(maxBytes)}
}

// Unlimited reports whether this Limiter imposes no cap.
func (l *Limiter) Unlimited() bool { return l.sem == nil }

// Max returns the configured byte ceiling (0 for unlimited).
func (l *Limiter) Max() int64 { return l.max }

// Reservation is a held allocation of n bytes; callers must call Release
// exactly once when the buffer it guards is freed.
type Reservation struct {
	limiter *Limiter
	n       int64
}

// Reserve blocks (respecting ctx) until n bytes of budget are available,
// or returns immediately if this Limiter is unlimited. n larger than Max
// is clamped to Max so a single oversized request can't deadlock forever
// waiting for capacity that will never exist.
func (l *Limiter) Reserve(ctx context.Context, n int64) (*Reservation, error) {
	if l.Unlimited() {
		return &Reservation{limiter: l, n: 0}, nil
	}
	if n > l.max {
		n = l.max
	}
	if err := l.sem.Acquire(ctx, n); err != nil {
		return nil, err
	}
	return &Reservation{limiter: l, n: n}, nil
}

// TryReserve attempts a non-blocking reservation, returning nil if the
// budget isn't currently available.
func (l *Limiter) TryReserve(n int64) *Reservation {
	if l.Unlimited() {
		return &Reservation{limiter: l, n: 0}
	}
	if n > l.max {
		n = l.max
	}
	if !l.sem.TryAcquire(n) {
		return nil
	}
	return &Reservation{limiter: l, n: n}
}

// Release returns r's bytes to the budget. Call it once: a second call
// panics only when the limiter holds fewer than r's bytes at that moment
// (the semaphore package panics on releasing more than is held), and
// otherwise credits the budget a second time.
func (r *Reservation) Release() {
	if r.limiter.Unlimited() {
		return
	}
	r.limiter.sem.Release(r.n)
}

// Bytes reports how many bytes this reservation actually holds (may be
// less than requested if it was clamped to Max).
func (r *Reservation) Bytes() int64 { return r.n }
