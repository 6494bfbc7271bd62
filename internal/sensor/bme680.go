package sensor

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/bus"
	"github.com/afroash/envmon/internal/clock"
	"github.com/afroash/envmon/internal/models"
)

// BME680Addr is the default BME680 address with SDO low
const BME680Addr uint16 = 0x76

const (
	bmeRegChipID   byte = 0xD0
	bmeRegCtrlHum  byte = 0x72
	bmeRegCtrlMeas byte = 0x74
	bmeRegPress    byte = 0x1F
	bmeRegTemp     byte = 0x22
	bmeRegHum      byte = 0x25

	bmeChipID byte = 0x61

	// 1x humidity oversampling
	bmeCtrlHum byte = 0x01
	// 1x temperature and pressure oversampling, forced mode
	bmeCtrlMeasForced byte = 0x25
)

// BME680Config holds tuning for the climate sensor
type BME680Config struct {
	Addr uint16
	// OffsetX10 is subtracted from every temperature, in tenths of a degree
	OffsetX10 int32
	Settle    time.Duration
}

// DefaultBME680Config returns the defaults used on the reference board
func DefaultBME680Config() BME680Config {
	return BME680Config{
		Addr:      BME680Addr,
		OffsetX10: 70,
		Settle:    100 * time.Millisecond,
	}
}

// BME680 reads temperature, pressure and humidity from a Bosch BME680
type BME680 struct {
	bus    *bus.Bus
	clock  clock.Clock
	cfg    BME680Config
	logger zerolog.Logger
}

// NewBME680 creates a climate sensor driver
func NewBME680(b *bus.Bus, clk clock.Clock, cfg BME680Config, logger zerolog.Logger) *BME680 {
	if cfg.Addr == 0 {
		cfg.Addr = BME680Addr
	}
	return &BME680{
		bus:    b,
		clock:  clk,
		cfg:    cfg,
		logger: logger.With().Str("driver", "bme680").Logger(),
	}
}

// Name implements Driver
func (d *BME680) Name() string { return "climate" }

// Init checks the chip is present and puts it in forced measurement mode
func (d *BME680) Init() error {
	if err := d.bus.Probe(d.cfg.Addr); err != nil {
		return fmt.Errorf("bme680: %w", err)
	}

	id, err := d.bus.ReadByte(d.cfg.Addr, bmeRegChipID)
	if err != nil {
		return fmt.Errorf("bme680: read chip id: %w", err)
	}
	if id != bmeChipID {
		d.logger.Warn().Uint8("chip_id", id).Uint8("want", bmeChipID).Msg("unexpected chip id")
	}

	if err := d.bus.WriteByte(d.cfg.Addr, bmeRegCtrlHum, bmeCtrlHum); err != nil {
		return fmt.Errorf("bme680: configure humidity: %w", err)
	}
	if err := d.bus.WriteByte(d.cfg.Addr, bmeRegCtrlMeas, bmeCtrlMeasForced); err != nil {
		return fmt.Errorf("bme680: configure measurement: %w", err)
	}

	d.logger.Info().Uint8("chip_id", id).Msg("climate sensor initialized")
	return nil
}

// Read triggers a forced measurement and updates the climate fields of snap
// snap is left untouched unless all three blocks are read
func (d *BME680) Read(snap *models.SensorSnapshot) error {
	if err := d.bus.WriteByte(d.cfg.Addr, bmeRegCtrlMeas, bmeCtrlMeasForced); err != nil {
		return fmt.Errorf("bme680: trigger: %w", err)
	}
	d.clock.Sleep(d.cfg.Settle)

	t, err := d.bus.ReadBlock(d.cfg.Addr, bmeRegTemp, 3)
	if err != nil {
		return fmt.Errorf("bme680: temperature: %w", err)
	}
	p, err := d.bus.ReadBlock(d.cfg.Addr, bmeRegPress, 3)
	if err != nil {
		return fmt.Errorf("bme680: pressure: %w", err)
	}
	h, err := d.bus.ReadBlock(d.cfg.Addr, bmeRegHum, 2)
	if err != nil {
		return fmt.Errorf("bme680: humidity: %w", err)
	}

	snap.TemperatureX10 = ScaleTemperature(unpack20(t)) - d.cfg.OffsetX10
	snap.PressureX10 = ScalePressure(unpack20(p))
	snap.HumidityX10 = ScaleHumidity(uint32(h[0])<<8 | uint32(h[1]))

	d.logger.Debug().
		Int32("temperature_x10", snap.TemperatureX10).
		Int32("pressure_x10", snap.PressureX10).
		Int32("humidity_x10", snap.HumidityX10).
		Msg("climate read")
	return nil
}

// unpack20 assembles a 20-bit ADC value from msb, lsb and the top nibble of xlsb
func unpack20(b []byte) uint32 {
	return uint32(b[0])<<12 | uint32(b[1])<<4 | uint32(b[2])>>4
}

// ScaleTemperature converts a raw temperature ADC value to tenths of °C before calibration
func ScaleTemperature(adc uint32) int32 {
	return int32(adc * 10 / 5120)
}

// ScalePressure converts a raw pressure ADC value to tenths of hPa
func ScalePressure(adc uint32) int32 {
	return int32(adc * 10 / 16)
}

// ScaleHumidity converts a raw humidity ADC value to tenths of %RH
func ScaleHumidity(adc uint32) int32 {
	return int32(adc * 10 / 1024)
}
