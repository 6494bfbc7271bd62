package gpio

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/warthog618/go-gpiocdev"
)

func TestButton_Handle(t *testing.T) {
	var pending atomic.Bool
	b := NewButton(&pending, 300*time.Millisecond, zerolog.Nop())

	tests := []struct {
		name string
		evt  gpiocdev.LineEvent
		want bool
	}{
		{"first press", gpiocdev.LineEvent{Type: gpiocdev.LineEventRisingEdge, Timestamp: 5 * time.Second}, true},
		{"bounce", gpiocdev.LineEvent{Type: gpiocdev.LineEventRisingEdge, Timestamp: 5*time.Second + 50*time.Millisecond}, false},
		{"falling edge", gpiocdev.LineEvent{Type: gpiocdev.LineEventFallingEdge, Timestamp: 6 * time.Second}, false},
		{"second press", gpiocdev.LineEvent{Type: gpiocdev.LineEventRisingEdge, Timestamp: 6 * time.Second}, true},
	}

	for _, tt := range tests {
		pending.Store(false)
		b.handle(tt.evt)
		if got := pending.Load(); got != tt.want {
			t.Errorf("%s: pending = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestButton_HandlerNeverClears(t *testing.T) {
	var pending atomic.Bool
	pending.Store(true)
	b := NewButton(&pending, 0, zerolog.Nop())

	b.handle(gpiocdev.LineEvent{Type: gpiocdev.LineEventFallingEdge})
	if !pending.Load() {
		t.Error("handler must only ever set the flag")
	}
}

func TestButton_CloseUnopened(t *testing.T) {
	var pending atomic.Bool
	if err := NewButton(&pending, 0, zerolog.Nop()).Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
}
