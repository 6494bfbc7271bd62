package sensor

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/bus"
	"github.com/afroash/envmon/internal/clock"
	"github.com/afroash/envmon/internal/models"
)

// ENS160Addr is the default ENS160 address with ADDR high
const ENS160Addr uint16 = 0x53

const (
	ensRegPartID byte = 0x00
	ensRegOpMode byte = 0x10
	ensRegStatus byte = 0x20
	ensRegAQI    byte = 0x21
	ensRegTVOC   byte = 0x22
	ensRegECO2   byte = 0x24

	ensPartID       uint16 = 0x0160
	ensModeStandard byte   = 0x02

	ensStatusValid   byte = 0x01
	ensStatusNewData byte = 0x02
	ensStatusReady        = ensStatusValid | ensStatusNewData
)

// ENS160Config holds tuning for the air-quality sensor
type ENS160Config struct {
	Addr      uint16
	Stabilize time.Duration
}

// DefaultENS160Config returns the defaults used on the reference board
func DefaultENS160Config() ENS160Config {
	return ENS160Config{
		Addr:      ENS160Addr,
		Stabilize: 2 * time.Second,
	}
}

// ENS160 reads AQI, TVOC and eCO2 from a ScioSense ENS160
type ENS160 struct {
	bus    *bus.Bus
	clock  clock.Clock
	cfg    ENS160Config
	logger zerolog.Logger
}

// NewENS160 creates an air-quality sensor driver
func NewENS160(b *bus.Bus, clk clock.Clock, cfg ENS160Config, logger zerolog.Logger) *ENS160 {
	if cfg.Addr == 0 {
		cfg.Addr = ENS160Addr
	}
	return &ENS160{
		bus:    b,
		clock:  clk,
		cfg:    cfg,
		logger: logger.With().Str("driver", "ens160").Logger(),
	}
}

// Name implements Driver
func (d *ENS160) Name() string { return "air_quality" }

// Init verifies the part id and switches to standard continuous sampling
func (d *ENS160) Init() error {
	id, err := d.bus.ReadWord16LE(d.cfg.Addr, ensRegPartID)
	if err != nil {
		return fmt.Errorf("ens160: read part id: %w", err)
	}
	if id != ensPartID {
		return fmt.Errorf("ens160: part id 0x%04X, want 0x%04X", id, ensPartID)
	}
	if err := d.bus.WriteByte(d.cfg.Addr, ensRegOpMode, ensModeStandard); err != nil {
		return fmt.Errorf("ens160: set standard mode: %w", err)
	}
	d.clock.Sleep(d.cfg.Stabilize)

	d.logger.Info().Msg("air-quality sensor initialized")
	return nil
}

// Read updates the air-quality fields of snap
// Nothing beyond the status register is read unless new valid data is flagged
func (d *ENS160) Read(snap *models.SensorSnapshot) error {
	status, err := d.bus.ReadByte(d.cfg.Addr, ensRegStatus)
	if err != nil {
		return fmt.Errorf("ens160: status: %w", err)
	}
	if status&ensStatusReady != ensStatusReady {
		return fmt.Errorf("ens160: status 0x%02X: %w", status, ErrNotReady)
	}

	aqi, err := d.bus.ReadByte(d.cfg.Addr, ensRegAQI)
	if err != nil {
		return fmt.Errorf("ens160: aqi: %w", err)
	}
	tvoc, err := d.bus.ReadWord16LE(d.cfg.Addr, ensRegTVOC)
	if err != nil {
		return fmt.Errorf("ens160: tvoc: %w", err)
	}
	eco2, err := d.bus.ReadWord16LE(d.cfg.Addr, ensRegECO2)
	if err != nil {
		return fmt.Errorf("ens160: eco2: %w", err)
	}

	snap.AQI = aqi
	snap.TVOC = tvoc
	snap.ECO2 = eco2

	d.logger.Debug().
		Uint8("aqi", aqi).
		Uint16("tvoc", tvoc).
		Uint16("eco2", eco2).
		Msg("air-quality read")
	return nil
}

// AQIDescription names a UBA air quality index class
func AQIDescription(aqi uint8) string {
	switch aqi {
	case 1:
		return "Excellent"
	case 2:
		return "Good"
	case 3:
		return "Moderate"
	case 4:
		return "Poor"
	case 5:
		return "Unhealthy"
	default:
		return "Invalid"
	}
}
