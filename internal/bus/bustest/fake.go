// Package bustest provides an in-memory I2C bus for driver tests
package bustest

import (
	"errors"
	"fmt"
	"sync"

	"periph.io/x/conn/v3/physic"
)

// ErrNack is returned for addresses with no device attached
var ErrNack = errors.New("bustest: nack")

// Write records a register write seen by the fake
type Write struct {
	Addr uint16
	Reg  byte
	Data []byte
}

// Fake is a register-map I2C bus
// Each attached device is a 256-byte register file; writes store consecutive bytes
// starting at the selected register and reads return consecutive bytes from it
type Fake struct {
	mu      sync.Mutex
	devices map[uint16]*[256]byte
	failReg map[uint16]map[byte]bool
	writes  []Write
	raw     map[uint16][][]byte
}

// New creates an empty fake bus
func New() *Fake {
	return &Fake{
		devices: make(map[uint16]*[256]byte),
		failReg: make(map[uint16]map[byte]bool),
		raw:     make(map[uint16][][]byte),
	}
}

// Attach adds a device at addr
func (f *Fake) Attach(addr uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[addr]; !ok {
		f.devices[addr] = &[256]byte{}
	}
}

// Detach removes the device at addr
func (f *Fake) Detach(addr uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.devices, addr)
}

// Set stores register values starting at reg
func (f *Fake) Set(addr uint16, reg byte, values ...byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	regs, ok := f.devices[addr]
	if !ok {
		regs = &[256]byte{}
		f.devices[addr] = regs
	}
	for i, v := range values {
		regs[byte(int(reg)+i)] = v
	}
}

// Get returns a register value
func (f *Fake) Get(addr uint16, reg byte) byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	if regs, ok := f.devices[addr]; ok {
		return regs[reg]
	}
	return 0
}

// FailReads makes every transaction that selects reg on addr fail
func (f *Fake) FailReads(addr uint16, reg byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failReg[addr] == nil {
		f.failReg[addr] = make(map[byte]bool)
	}
	f.failReg[addr][reg] = true
}

// Writes returns all register writes in order
func (f *Fake) Writes() []Write {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Write, len(f.writes))
	copy(out, f.writes)
	return out
}

// RawWrites returns every raw payload written to addr
func (f *Fake) RawWrites(addr uint16) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.raw[addr]...)
}

// Tx implements i2c.Bus
func (f *Fake) Tx(addr uint16, w, r []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	regs, ok := f.devices[addr]
	if !ok {
		return fmt.Errorf("%w at 0x%02X", ErrNack, addr)
	}
	if len(w) > 0 {
		f.raw[addr] = append(f.raw[addr], append([]byte(nil), w...))
	}
	var reg byte
	if len(w) > 0 {
		reg = w[0]
		if f.failReg[addr][reg] {
			return fmt.Errorf("bustest: injected failure at 0x%02X reg 0x%02X", addr, reg)
		}
	}
	if len(w) > 1 {
		data := append([]byte(nil), w[1:]...)
		for i, v := range data {
			regs[byte(int(reg)+i)] = v
		}
		f.writes = append(f.writes, Write{Addr: addr, Reg: reg, Data: data})
	}
	for i := range r {
		r[i] = regs[byte(int(reg)+i)]
	}
	return nil
}

// SetSpeed implements i2c.Bus
func (f *Fake) SetSpeed(physic.Frequency) error { return nil }

// String implements i2c.Bus
func (f *Fake) String() string { return "bustest" }
