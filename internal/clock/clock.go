package clock

import (
	"sync/atomic"
	"time"
)

// Clock returns the current time in milliseconds.
type Clock interface {
	NowMs() int64
}

// Func adapts a plain function to the Clock interface.
type Func func() int64

// NowMs calls f.
func (f Func) NowMs() int64 {
	return f()
}

type systemClock struct{}

func (systemClock) NowMs() int64 {
	return time.Now().UnixMilli()
}

// System returns a Clock backed by the wall clock.
func System() Clock {
	return systemClock{}
}

// Manual is a Clock whose value only changes when told to.
//
// Thread-safety: Manual is safe for concurrent use (atomic operations).
type Manual struct {
	ms atomic.Int64
}

// NewManual creates a manual clock starting at startMs.
func NewManual(startMs int64) *Manual {
	m := &Manual{}
	m.ms.Store(startMs)
	return m
}

// NowMs returns the current manual time.
func (m *Manual) NowMs() int64 {
	return m.ms.Load()
}

// Set moves the clock to ms. Moving backwards is allowed so tests can
// exercise out-of-order delivery; components never assume monotonicity
// beyond what their callers guarantee.
func (m *Manual) Set(ms int64) {
	m.ms.Store(ms)
}

// Advance moves the clock forward by d and returns the new time.
func (m *Manual) Advance(d time.Duration) int64 {
	return m.ms.Add(d.Milliseconds())
}

// AdvanceMs moves the clock forward by delta milliseconds.
func (m *Manual) AdvanceMs(delta int64) int64 {
	return m.ms.Add(delta)
}

// Must panics when c is nil. Constructors use it so a missing clock
// fails at wiring time rather than on the first call.
func Must(c Clock) Clock {
	if c == nil {
		panic("clock: nil Clock")
	}
	return c
}
