// Package timesync keeps a rolling estimate of the offset between the local
// clock and the broker's server clock, derived from tick timestamps.
package timesync

import (
	"sync"
	"time"
)

// Clock abstracts wall time for deterministic testing.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

const windowSize = 256

// TimeSync holds a fixed-capacity ring of recent (server - local) offsets
// and exposes their mean. Insertions after the ring fills update the running
// sum incrementally, so the mean stays O(1) per tick.
type TimeSync struct {
	mu     sync.Mutex
	ring   [windowSize]float64
	idx    int
	count  int
	sum    float64
	mean   float64
	lastTs float64 // newest tick timestamp seen, monotonicity guard

	clock Clock
}

func New(clock Clock) *TimeSync {
	if clock == nil {
		clock = RealClock{}
	}
	return &TimeSync{clock: clock}
}

// Observe feeds one tick timestamp (fractional unix seconds) paired with the
// local receive time. Retrograde or repeated timestamps are ignored so a
// replayed tick cannot pollute the estimate.
func (t *TimeSync) Observe(tickTs, localTs float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tickTs <= t.lastTs {
		return
	}
	t.lastTs = tickTs

	offset := tickTs - localTs
	if t.count < windowSize {
		t.ring[t.idx] = offset
		t.idx++
		t.count++
		t.sum += offset
		t.mean = t.sum / float64(t.count)
		if t.idx == windowSize {
			t.idx = 0
		}
		return
	}

	// Full ring: replace the oldest sample, adjust the sum by the delta.
	t.sum += offset - t.ring[t.idx]
	t.ring[t.idx] = offset
	t.idx++
	if t.idx == windowSize {
		t.idx = 0
	}
	t.mean = t.sum / float64(windowSize)
}

// Estimate returns the current mean offset in fractional seconds.
func (t *TimeSync) Estimate() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mean
}

// LastServerTimestamp returns the newest tick timestamp observed.
func (t *TimeSync) LastServerTimestamp() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastTs
}

// ServerNow returns the estimated broker time as fractional unix seconds.
func (t *TimeSync) ServerNow() float64 {
	now := t.clock.Now()
	local := float64(now.UnixNano()) / float64(time.Second)
	return local + t.Estimate()
}
