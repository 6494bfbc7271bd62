package uart

import (
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"
)

// Port is the subset of a serial port the drivers need
// Read returns (0, nil) when the read timeout elapses with no data
type Port interface {
	io.ReadWriter
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
}

// Open opens a serial device at 8N1 with the given baud rate
func Open(name string, baud int) (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(name, mode)
	if err != nil {
		return nil, fmt.Errorf("uart: open %s at %d baud: %w", name, baud, err)
	}
	return p, nil
}

// Compile-time interface check
var _ Port = (serial.Port)(nil)
