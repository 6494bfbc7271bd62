package sensor

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/clock"
	"github.com/afroash/envmon/internal/models"
	"github.com/afroash/envmon/internal/uart"
)

// FrameLen is the length of a PMS5003 data frame
const FrameLen = 32

const (
	pmsStart1 byte = 0x42
	pmsStart2 byte = 0x4D

	// how often the port is polled while waiting for bytes
	pmsPollStep = 10 * time.Millisecond
)

var (
	pmsWakeCmd   = []byte{0x42, 0x4D, 0xE4, 0x00, 0x01, 0x01, 0x74}
	pmsActiveCmd = []byte{0x42, 0x4D, 0xE1, 0x00, 0x01, 0x01, 0x71}
)

// PMSFrame is a decoded PMS5003 data frame (atmospheric environment values)
type PMSFrame struct {
	PM1_0     uint16
	PM2_5     uint16
	PM10      uint16
	Particles models.ParticleCounts
}

// ParseFrame validates and decodes a 32-byte frame
func ParseFrame(buf [FrameLen]byte) (PMSFrame, error) {
	if buf[0] != pmsStart1 || buf[1] != pmsStart2 {
		return PMSFrame{}, fmt.Errorf("pms5003: bad start marker % X", buf[:2])
	}

	var sum uint16
	for _, b := range buf[:30] {
		sum += uint16(b)
	}
	if want := binary.BigEndian.Uint16(buf[30:32]); sum != want {
		return PMSFrame{}, fmt.Errorf("pms5003: sum 0x%04X want 0x%04X: %w", sum, want, ErrChecksum)
	}

	word := func(off int) uint16 { return binary.BigEndian.Uint16(buf[off : off+2]) }
	return PMSFrame{
		PM1_0: word(4),
		PM2_5: word(6),
		PM10:  word(8),
		Particles: models.ParticleCounts{
			Over0_3um: word(16),
			Over0_5um: word(18),
			Over1_0um: word(20),
			Over2_5um: word(22),
			Over5_0um: word(24),
			Over10um:  word(26),
		},
	}, nil
}

// PMS5003Config holds the serial protocol timings
type PMS5003Config struct {
	WakeSettle    time.Duration
	ModeSettle    time.Duration
	FlushAttempts int
	FlushWait     time.Duration
	PreScanWait   time.Duration
	ScanWindow    time.Duration
	MarkerTimeout time.Duration
	ByteTimeout   time.Duration
}

// DefaultPMS5003Config returns the timings used on the reference board
func DefaultPMS5003Config() PMS5003Config {
	return PMS5003Config{
		WakeSettle:    3 * time.Second,
		ModeSettle:    2 * time.Second,
		FlushAttempts: 5,
		FlushWait:     100 * time.Millisecond,
		PreScanWait:   300 * time.Millisecond,
		ScanWindow:    3 * time.Second,
		MarkerTimeout: 100 * time.Millisecond,
		ByteTimeout:   500 * time.Millisecond,
	}
}

// PMS5003 reads particulate matter from a Plantower PMS5003 in active mode
type PMS5003 struct {
	port   uart.Port
	clock  clock.Clock
	cfg    PMS5003Config
	logger zerolog.Logger
	one    [1]byte
}

// NewPMS5003 creates a particulate sensor driver
func NewPMS5003(port uart.Port, clk clock.Clock, cfg PMS5003Config, logger zerolog.Logger) *PMS5003 {
	return &PMS5003{
		port:   port,
		clock:  clk,
		cfg:    cfg,
		logger: logger.With().Str("driver", "pms5003").Logger(),
	}
}

// Name implements Driver
func (d *PMS5003) Name() string { return "particulate" }

// Init wakes the sensor and selects active (free-running) mode
func (d *PMS5003) Init() error {
	if err := d.port.SetReadTimeout(pmsPollStep); err != nil {
		return fmt.Errorf("pms5003: set read timeout: %w", err)
	}
	if _, err := d.port.Write(pmsWakeCmd); err != nil {
		return fmt.Errorf("pms5003: wake: %w", err)
	}
	d.clock.Sleep(d.cfg.WakeSettle)
	if _, err := d.port.Write(pmsActiveCmd); err != nil {
		return fmt.Errorf("pms5003: active mode: %w", err)
	}
	d.clock.Sleep(d.cfg.ModeSettle)

	d.logger.Info().Msg("particulate sensor initialized")
	return nil
}

// Read waits for the next complete frame and updates the particulate fields of snap
func (d *PMS5003) Read(snap *models.SensorSnapshot) error {
	d.flush()
	d.clock.Sleep(d.cfg.PreScanWait)

	if err := d.scanStart(); err != nil {
		return err
	}

	var buf [FrameLen]byte
	buf[0], buf[1] = pmsStart1, pmsStart2
	for i := 2; i < FrameLen; i++ {
		b, err := d.readByte(d.cfg.ByteTimeout)
		if err != nil {
			return fmt.Errorf("pms5003: byte %d: %w", i, err)
		}
		buf[i] = b
	}

	frame, err := ParseFrame(buf)
	if err != nil {
		return err
	}

	snap.PM1_0 = frame.PM1_0
	snap.PM2_5 = frame.PM2_5
	snap.PM10 = frame.PM10
	snap.Particles = frame.Particles

	d.logger.Debug().
		Uint16("pm1_0", frame.PM1_0).
		Uint16("pm2_5", frame.PM2_5).
		Uint16("pm10", frame.PM10).
		Msg("particulate read")
	return nil
}

// flush drops partial frames left in the receive buffer
func (d *PMS5003) flush() {
	for i := 0; i < d.cfg.FlushAttempts; i++ {
		if err := d.port.ResetInputBuffer(); err != nil {
			d.logger.Debug().Err(err).Msg("flush failed")
		}
		d.clock.Sleep(d.cfg.FlushWait)
	}
}

// scanStart consumes bytes until the two-byte start marker is seen
func (d *PMS5003) scanStart() error {
	deadline := d.clock.Now().Add(d.cfg.ScanWindow)
	for d.clock.Now().Before(deadline) {
		b, err := d.readByte(deadline.Sub(d.clock.Now()))
		if err != nil {
			break
		}
		if b != pmsStart1 {
			continue
		}
		for {
			next, err := d.readByte(d.cfg.MarkerTimeout)
			if err != nil || (next != pmsStart1 && next != pmsStart2) {
				break
			}
			if next == pmsStart2 {
				return nil
			}
		}
	}
	return fmt.Errorf("pms5003: %w within %v", ErrNoFrame, d.cfg.ScanWindow)
}

// readByte returns the next byte or ErrTimeout once timeout has passed
func (d *PMS5003) readByte(timeout time.Duration) (byte, error) {
	deadline := d.clock.Now().Add(timeout)
	for {
		n, err := d.port.Read(d.one[:])
		if err != nil {
			return 0, err
		}
		if n == 1 {
			return d.one[0], nil
		}
		if !d.clock.Now().Before(deadline) {
			return 0, ErrTimeout
		}
	}
}
