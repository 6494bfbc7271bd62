package display

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/bus"
	"github.com/afroash/envmon/internal/clock"
)

// LCDAddr is the usual PCF8574 backpack address
const LCDAddr = 0x27

// PCF8574 pin mapping on the common backpack
const (
	pinRS        = 0x01
	pinEnable    = 0x04
	pinBacklight = 0x08
)

// HD44780 instructions
const (
	cmdClear       = 0x01
	cmdEntryMode   = 0x06 // increment, no shift
	cmdDisplayOn   = 0x0C // display on, cursor off
	cmdFunctionSet = 0x28 // 4-bit, 2 line, 5x8
	cmdSetDDRAM    = 0x80
)

var rowOffsets = [Rows]byte{0x00, 0x40, 0x14, 0x54}

// LCD is a 20x4 HD44780 character display behind a PCF8574 I2C expander
type LCD struct {
	bus    *bus.Bus
	addr   uint16
	clock  clock.Clock
	shown  Frame
	valid  [Rows]bool
	logger zerolog.Logger
}

// NewLCD creates an LCD on addr
func NewLCD(b *bus.Bus, addr uint16, clk clock.Clock, logger zerolog.Logger) *LCD {
	if addr == 0 {
		addr = LCDAddr
	}
	return &LCD{
		bus:    b,
		addr:   addr,
		clock:  clk,
		logger: logger.With().Str("component", "lcd").Logger(),
	}
}

// Init runs the 4-bit initialization sequence and clears the display
func (l *LCD) Init() error {
	if err := l.bus.Probe(l.addr); err != nil {
		return fmt.Errorf("lcd: no backpack at 0x%02X: %w", l.addr, err)
	}
	l.clock.Sleep(50 * time.Millisecond)

	// three 8-bit resets, then switch to 4-bit
	for _, d := range []time.Duration{5 * time.Millisecond, 5 * time.Millisecond, 200 * time.Microsecond} {
		if err := l.nibble(0x30, 0); err != nil {
			return fmt.Errorf("lcd: init: %w", err)
		}
		l.clock.Sleep(d)
	}
	if err := l.nibble(0x20, 0); err != nil {
		return fmt.Errorf("lcd: init: %w", err)
	}

	for _, c := range []byte{cmdFunctionSet, cmdDisplayOn, cmdEntryMode} {
		if err := l.command(c); err != nil {
			return fmt.Errorf("lcd: init: %w", err)
		}
	}
	if err := l.Clear(); err != nil {
		return err
	}
	l.logger.Info().Uint16("addr", l.addr).Msg("lcd initialized")
	return nil
}

// Clear blanks the display
func (l *LCD) Clear() error {
	if err := l.command(cmdClear); err != nil {
		return fmt.Errorf("lcd: clear: %w", err)
	}
	l.clock.Sleep(2 * time.Millisecond)
	l.valid = [Rows]bool{}
	return nil
}

// Render writes the rows that differ from what is already shown
func (l *LCD) Render(f Frame) error {
	for i, row := range f {
		if l.valid[i] && l.shown[i] == row {
			continue
		}
		l.valid[i] = false
		if err := l.command(cmdSetDDRAM | rowOffsets[i]); err != nil {
			return fmt.Errorf("lcd: row %d: %w", i, err)
		}
		for j := 0; j < len(row); j++ {
			if err := l.data(row[j]); err != nil {
				return fmt.Errorf("lcd: row %d: %w", i, err)
			}
		}
		l.shown[i] = row
		l.valid[i] = true
	}
	return nil
}

func (l *LCD) command(c byte) error {
	return l.send(c, 0)
}

func (l *LCD) data(c byte) error {
	return l.send(c, pinRS)
}

func (l *LCD) send(v, mode byte) error {
	if err := l.nibble(v&0xF0, mode); err != nil {
		return err
	}
	return l.nibble(v<<4, mode)
}

// nibble clocks the high four bits of v into the controller
func (l *LCD) nibble(v, mode byte) error {
	out := v&0xF0 | mode | pinBacklight
	if err := l.bus.Write(l.addr, []byte{out | pinEnable}); err != nil {
		return err
	}
	return l.bus.Write(l.addr, []byte{out})
}
