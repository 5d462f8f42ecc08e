// Package ratemeter implements a sliding-window byte-rate estimator used
// throughout the engine to answer "how fast is this peer/connection/torrent
// moving bytes right now".
package ratemeter

import (
	"sync"
	"time"
)

const (
	// defaultWindow is the span over which the rate is averaged.
	defaultWindow = 20 * time.Second
	// defaultBuckets divides the window into fixed slots; a sample lands in
	// whichever slot covers its arrival time, and slots age out as the
	// window slides forward.
	defaultBuckets = 20
)

// Meter accumulates byte counts into a ring of time-bucketed slots and
// reports a smoothed rate. Not safe to share across goroutines without the
// caller providing its own exclusion (the engine's single-threaded event
// loop already guarantees this; the internal mutex exists only so Meter can
// also be polled from a Stats()-style reporting goroutine).
type Meter struct {
	mu          sync.Mutex
	window      time.Duration
	bucketSpan  time.Duration
	buckets     []int64
	bucketStart []time.Time
	cursor      int
	lastSample  time.Time
	now         func() time.Time
}

// New returns a Meter with the default 20-second window split into 20
// one-second buckets.
func New() *Meter {
	return NewWithWindow(defaultWindow, defaultBuckets)
}

// NewWithWindow returns a Meter with a custom window and bucket count.
func NewWithWindow(window time.Duration, buckets int) *Meter {
	if buckets < 1 {
		buckets = 1
	}
	m := &Meter{
		window:      window,
		bucketSpan:  window / time.Duration(buckets),
		buckets:     make([]int64, buckets),
		bucketStart: make([]time.Time, buckets),
		now:         time.Now,
	}
	return m
}

// Record accounts n bytes as transferred at the current time.
func (m *Meter) Record(n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.rotate(now)
	m.buckets[m.cursor] += n
	m.lastSample = now
}

// rotate advances the cursor past any buckets whose span has fully elapsed
// since they were last written, zeroing them as they come back into use.
// Must be called with mu held.
func (m *Meter) rotate(now time.Time) {
	if m.bucketStart[m.cursor].IsZero() {
		m.bucketStart[m.cursor] = now
		return
	}
	elapsed := now.Sub(m.bucketStart[m.cursor])
	steps := int(elapsed / m.bucketSpan)
	if steps <= 0 {
		return
	}
	if steps > len(m.buckets) {
		// The whole window elapsed; reset everything rather than spinning.
		for i := range m.buckets {
			m.buckets[i] = 0
			m.bucketStart[i] = time.Time{}
		}
		m.cursor = 0
		m.bucketStart[0] = now
		return
	}
	for i := 0; i < steps; i++ {
		m.cursor = (m.cursor + 1) % len(m.buckets)
		m.buckets[m.cursor] = 0
		m.bucketStart[m.cursor] = now
	}
}

// Rate returns the estimated bytes/second over the configured window, as of
// now. Buckets that have aged out of the window (because no Record call has
// touched them recently) are treated as zero without mutating state, so
// Rate can be called freely from a reporting path.
func (m *Meter) Rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	var total int64
	oldestObservedStart := now
	for i, start := range m.bucketStart {
		if start.IsZero() {
			continue
		}
		if now.Sub(start) > m.window {
			continue
		}
		total += m.buckets[i]
		if start.Before(oldestObservedStart) {
			oldestObservedStart = start
		}
	}
	if total == 0 {
		return 0
	}
	span := now.Sub(oldestObservedStart) + m.bucketSpan
	if span <= 0 {
		span = m.bucketSpan
	}
	if span > m.window {
		span = m.window
	}
	return float64(total) / span.Seconds()
}

// LastSample reports when Record was last called.
func (m *Meter) LastSample() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastSample
}

// setNowFunc overrides the clock source; used by tests to avoid real sleeps.
func (m *Meter) setNowFunc(f func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = f
}
