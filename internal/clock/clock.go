package clock

import (
	"sync"
	"time"
)

// Clock is the time source shared by the drivers and the control loop
type Clock interface {
	// Now returns the current time; differences between two calls are monotonic
	Now() time.Time

	// Sleep blocks for d
	Sleep(d time.Duration)
}

// System is the wall clock
type System struct{}

// Now returns time.Now()
func (System) Now() time.Time { return time.Now() }

// Sleep calls time.Sleep
func (System) Sleep(d time.Duration) { time.Sleep(d) }

// Fake is a manually driven clock for tests
// Sleep advances the clock instead of blocking
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake creates a fake clock starting at start
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake time
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Sleep advances the fake time by d
func (f *Fake) Sleep(d time.Duration) {
	f.Advance(d)
}

// Advance moves the fake time forward
func (f *Fake) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Elapsed reports whether at least d has passed since since
func Elapsed(c Clock, since time.Time, d time.Duration) bool {
	return c.Now().Sub(since) >= d
}
