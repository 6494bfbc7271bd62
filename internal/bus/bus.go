package bus

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/i2c"
)

// Bus provides register-level access to devices on a shared I2C bus
// Every read is one transaction: the register selector is written, then n bytes are read back
type Bus struct {
	i2c i2c.Bus
	mu  sync.Mutex
}

// New wraps an I2C bus
func New(b i2c.Bus) *Bus {
	return &Bus{i2c: b}
}

// String returns the underlying bus name
func (b *Bus) String() string {
	return b.i2c.String()
}

// WriteByte writes a single value to a device register
func (b *Bus) WriteByte(addr uint16, reg, value byte) error {
	if err := b.tx(addr, []byte{reg, value}, nil); err != nil {
		return fmt.Errorf("bus: write 0x%02X to 0x%02X reg 0x%02X: %w", value, addr, reg, err)
	}
	return nil
}

// ReadByte reads a single register
func (b *Bus) ReadByte(addr uint16, reg byte) (byte, error) {
	r := make([]byte, 1)
	if err := b.tx(addr, []byte{reg}, r); err != nil {
		return 0, fmt.Errorf("bus: read 0x%02X reg 0x%02X: %w", addr, reg, err)
	}
	return r[0], nil
}

// ReadWord16LE reads two consecutive registers, low byte first
func (b *Bus) ReadWord16LE(addr uint16, reg byte) (uint16, error) {
	r := make([]byte, 2)
	if err := b.tx(addr, []byte{reg}, r); err != nil {
		return 0, fmt.Errorf("bus: read word 0x%02X reg 0x%02X: %w", addr, reg, err)
	}
	return uint16(r[0]) | uint16(r[1])<<8, nil
}

// ReadBlock reads n consecutive registers starting at reg
func (b *Bus) ReadBlock(addr uint16, reg byte, n int) ([]byte, error) {
	if n <= 0 {
		return nil, fmt.Errorf("bus: invalid block length %d", n)
	}
	r := make([]byte, n)
	if err := b.tx(addr, []byte{reg}, r); err != nil {
		return nil, fmt.Errorf("bus: read %d bytes 0x%02X reg 0x%02X: %w", n, addr, reg, err)
	}
	return r, nil
}

// Write sends raw bytes to a device with no register selector
func (b *Bus) Write(addr uint16, data []byte) error {
	if err := b.tx(addr, data, nil); err != nil {
		return fmt.Errorf("bus: write 0x%02X: %w", addr, err)
	}
	return nil
}

// Probe checks whether a device acknowledges its address
// A bare one-byte read is used since some adapters reject empty transactions
func (b *Bus) Probe(addr uint16) error {
	if err := b.tx(addr, nil, make([]byte, 1)); err != nil {
		return fmt.Errorf("bus: no device at 0x%02X: %w", addr, err)
	}
	return nil
}

func (b *Bus) tx(addr uint16, w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.i2c.Tx(addr, w, r)
}
