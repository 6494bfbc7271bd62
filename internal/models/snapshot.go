package models

import "fmt"

// ParticleCounts holds the PMS5003 size-binned particle counts per 0.1 L of air
type ParticleCounts struct {
	Over0_3um uint16 `json:"over_0_3um"`
	Over0_5um uint16 `json:"over_0_5um"`
	Over1_0um uint16 `json:"over_1_0um"`
	Over2_5um uint16 `json:"over_2_5um"`
	Over5_0um uint16 `json:"over_5_0um"`
	Over10um  uint16 `json:"over_10um"`
}

// SensorSnapshot is the latest value of every measured quantity
// Fields are only written by a driver's successful read; failed reads leave them stale
type SensorSnapshot struct {
	TemperatureX10 int32  `json:"temperature_x10"` // tenths of °C
	PressureX10    int32  `json:"pressure_x10"`    // tenths of hPa
	HumidityX10    int32  `json:"humidity_x10"`    // tenths of %RH
	AQI            uint8  `json:"aqi"`             // 1-5
	TVOC           uint16 `json:"tvoc"`            // ppb
	ECO2           uint16 `json:"eco2"`            // ppm
	PM1_0          uint16 `json:"pm1_0"`           // µg/m³
	PM2_5          uint16 `json:"pm2_5"`
	PM10           uint16 `json:"pm10"`

	Particles ParticleCounts `json:"particles"`
}

// NewSensorSnapshot returns a snapshot with the startup defaults
func NewSensorSnapshot() SensorSnapshot {
	return SensorSnapshot{
		AQI:  1,
		ECO2: 400,
	}
}

// Temperature returns the temperature in °C
func (s SensorSnapshot) Temperature() float64 { return float64(s.TemperatureX10) / 10 }

// Humidity returns the relative humidity in %
func (s SensorSnapshot) Humidity() float64 { return float64(s.HumidityX10) / 10 }

// Pressure returns the pressure in hPa
func (s SensorSnapshot) Pressure() float64 { return float64(s.PressureX10) / 10 }

func (s SensorSnapshot) String() string {
	return fmt.Sprintf("T=%.1fC H=%.1f%% P=%.1fhPa AQI=%d TVOC=%d eCO2=%d PM1=%d PM2.5=%d PM10=%d",
		s.Temperature(),
		s.Humidity(),
		s.Pressure(),
		s.AQI,
		s.TVOC,
		s.ECO2,
		s.PM1_0,
		s.PM2_5,
		s.PM10,
	)
}

// DriverHealth records which drivers initialized at startup
// A false flag disables polling of that driver for the whole session
type DriverHealth struct {
	Climate     bool `json:"climate"`
	AirQuality  bool `json:"air_quality"`
	Particulate bool `json:"particulate"`
}
