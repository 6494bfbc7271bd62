// Package uarttest provides a scripted serial port driven by a fake clock
package uarttest

import (
	"sync"
	"time"

	"github.com/afroash/envmon/internal/clock"
)

type chunk struct {
	at   time.Time
	data []byte
}

// Port is a fake serial port
// Bytes fed with FeedAt become readable once the clock reaches their time.
// A read with nothing available advances the clock by the read timeout and returns (0, nil).
type Port struct {
	mu          sync.Mutex
	clock       *clock.Fake
	pending     []chunk
	readTimeout time.Duration
	written     []byte
	resets      int
	onWrite     func(w []byte) []byte
}

// New creates a port bound to a fake clock
func New(c *clock.Fake) *Port {
	return &Port{clock: c, readTimeout: 10 * time.Millisecond}
}

// Feed makes data readable immediately
func (p *Port) Feed(data []byte) {
	p.FeedAt(p.clock.Now(), data)
}

// FeedAfter makes data readable after d
func (p *Port) FeedAfter(d time.Duration, data []byte) {
	p.FeedAt(p.clock.Now().Add(d), data)
}

// FeedAt makes data readable once the clock reaches at
func (p *Port) FeedAt(at time.Time, data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, chunk{at: at, data: append([]byte(nil), data...)})
}

// OnWrite installs a responder; its return value is fed immediately after each write
func (p *Port) OnWrite(fn func(w []byte) []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onWrite = fn
}

// Written returns everything written so far
func (p *Port) Written() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.written...)
}

// Resets returns how many times the input buffer was reset
func (p *Port) Resets() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.resets
}

// Read implements io.Reader
func (p *Port) Read(b []byte) (int, error) {
	p.mu.Lock()
	now := p.clock.Now()
	n := 0
	for n < len(b) && len(p.pending) > 0 && !p.pending[0].at.After(now) {
		c := &p.pending[0]
		k := copy(b[n:], c.data)
		n += k
		c.data = c.data[k:]
		if len(c.data) == 0 {
			p.pending = p.pending[1:]
		}
	}
	timeout := p.readTimeout
	p.mu.Unlock()

	if n == 0 {
		p.clock.Advance(timeout)
	}
	return n, nil
}

// Write implements io.Writer
func (p *Port) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.written = append(p.written, b...)
	fn := p.onWrite
	p.mu.Unlock()

	if fn != nil {
		if reply := fn(append([]byte(nil), b...)); len(reply) > 0 {
			p.Feed(reply)
		}
	}
	return len(b), nil
}

// SetReadTimeout records the per-read timeout
func (p *Port) SetReadTimeout(t time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.readTimeout = t
	return nil
}

// ResetInputBuffer discards bytes that are already readable
func (p *Port) ResetInputBuffer() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.clock.Now()
	kept := p.pending[:0]
	for _, c := range p.pending {
		if c.at.After(now) {
			kept = append(kept, c)
		}
	}
	p.pending = kept
	p.resets++
	return nil
}
