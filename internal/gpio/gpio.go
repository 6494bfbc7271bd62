// Package gpio wraps the character-device GPIO lines used by the monitor
package gpio

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/warthog618/go-gpiocdev"
)

// Output is a single output line
type Output struct {
	line *gpiocdev.Line
	name string
}

// OpenOutput requests offset on chip as an output, initially low
func OpenOutput(chip string, offset int, name string) (*Output, error) {
	l, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer("envmon-"+name),
	)
	if err != nil {
		return nil, fmt.Errorf("gpio: request %s (%s:%d): %w", name, chip, offset, err)
	}
	return &Output{line: l, name: name}, nil
}

// Set drives the line
func (o *Output) Set(on bool) error {
	v := 0
	if on {
		v = 1
	}
	if err := o.line.SetValue(v); err != nil {
		return fmt.Errorf("gpio: set %s: %w", o.name, err)
	}
	return nil
}

// Close drives the line low and releases it
func (o *Output) Close() error {
	_ = o.line.SetValue(0)
	return o.line.Close()
}

// Button is a momentary push button reported on its rising edge
// The edge handler only stores true into the pending flag; the consumer clears it
type Button struct {
	line     *gpiocdev.Line
	pending  *atomic.Bool
	debounce time.Duration
	last     time.Duration // kernel event timestamp of the last accepted edge
	logger   zerolog.Logger
}

// NewButton creates a button that sets pending on every accepted press
func NewButton(pending *atomic.Bool, debounce time.Duration, logger zerolog.Logger) *Button {
	return &Button{
		pending:  pending,
		debounce: debounce,
		last:     -1,
		logger:   logger.With().Str("component", "button").Logger(),
	}
}

// Open requests the input line with rising-edge detection
func (b *Button) Open(chip string, offset int) error {
	l, err := gpiocdev.RequestLine(chip, offset,
		gpiocdev.AsInput,
		gpiocdev.WithPullDown,
		gpiocdev.WithRisingEdge,
		gpiocdev.WithDebounce(b.debounce),
		gpiocdev.WithConsumer("envmon-button"),
		gpiocdev.WithEventHandler(b.handle),
	)
	if err != nil {
		return fmt.Errorf("gpio: request button (%s:%d): %w", chip, offset, err)
	}
	b.line = l
	b.logger.Info().Str("chip", chip).Int("offset", offset).Msg("button ready")
	return nil
}

// handle runs on the gpiocdev event goroutine
func (b *Button) handle(evt gpiocdev.LineEvent) {
	if evt.Type != gpiocdev.LineEventRisingEdge {
		return
	}
	if b.last >= 0 && evt.Timestamp-b.last < b.debounce {
		return
	}
	b.last = evt.Timestamp
	b.pending.Store(true)
}

// Close releases the line
func (b *Button) Close() error {
	if b.line == nil {
		return nil
	}
	return b.line.Close()
}
