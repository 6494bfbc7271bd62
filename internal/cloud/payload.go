// Package cloud builds the prediction payloads and posts them through the WiFi modem
package cloud

import (
	"strconv"
	"time"

	"github.com/afroash/envmon/internal/models"
)

// Prediction endpoints
const (
	AirPath  = "/api/predict"
	FirePath = "/api/predict-fire"
)

// Gas-proxy fields the board has no sensor for
const (
	PlaceholderRawH2      = 150
	PlaceholderRawEthanol = 90
)

// Time placeholders used without a trusted wall clock
const (
	PlaceholderHour      = 12
	PlaceholderDayOfWeek = 3
)

// Decimal1 is a float that always marshals with one fractional digit
type Decimal1 float64

// MarshalJSON implements json.Marshaler
func (d Decimal1) MarshalJSON() ([]byte, error) {
	return strconv.AppendFloat(nil, float64(d), 'f', 1, 64), nil
}

// AirPayload is the body of the air-quality prediction request
type AirPayload struct {
	DeviceID      string   `json:"device_id"`
	CO2           int      `json:"co2"`
	PM2_5         int      `json:"pm2_5"`
	PM10          int      `json:"pm10"`
	Temperature   Decimal1 `json:"temperature"`
	Humidity      Decimal1 `json:"humidity"`
	CO2Category   int      `json:"co2_category"`
	PM2_5Category int      `json:"pm2_5_category"`
	PM10Category  int      `json:"pm10_category"`
	Hour          int      `json:"hour"`
	DayOfWeek     int      `json:"day_of_week"`
	IsWeekend     int      `json:"is_weekend"`
}

// FirePayload is the body of the fire-detection prediction request
type FirePayload struct {
	DeviceID    string   `json:"device_id"`
	Temperature Decimal1 `json:"temperature"`
	Humidity    Decimal1 `json:"humidity"`
	TVOC        int      `json:"tvoc"`
	ECO2        int      `json:"eco2"`
	RawH2       int      `json:"raw_h2"`
	RawEthanol  int      `json:"raw_ethanol"`
	Pressure    Decimal1 `json:"pressure"`
	PM1_0       int      `json:"pm1_0"`
	PM2_5       int      `json:"pm2_5"`
	NC0_5       int      `json:"nc0_5"`
	NC1_0       int      `json:"nc1_0"`
	NC2_5       int      `json:"nc2_5"`
}

// CO2Category buckets eCO2: >1000 is 2, >800 is 1
func CO2Category(ppm int) int {
	return category(ppm, 800, 1000)
}

// PM2_5Category buckets PM2.5: >25 is 2, >12 is 1
func PM2_5Category(ug int) int {
	return category(ug, 12, 25)
}

// PM10Category buckets PM10: >50 is 2, >25 is 1
func PM10Category(ug int) int {
	return category(ug, 25, 50)
}

func category(v, warn, high int) int {
	switch {
	case v > high:
		return 2
	case v > warn:
		return 1
	default:
		return 0
	}
}

// NewAirPayload builds the air-quality payload
// A zero at keeps the placeholder time fields
func NewAirPayload(deviceID string, s models.SensorSnapshot, at time.Time) AirPayload {
	p := AirPayload{
		DeviceID:      deviceID,
		CO2:           int(s.ECO2),
		PM2_5:         int(s.PM2_5),
		PM10:          int(s.PM10),
		Temperature:   Decimal1(s.Temperature()),
		Humidity:      Decimal1(s.Humidity()),
		CO2Category:   CO2Category(int(s.ECO2)),
		PM2_5Category: PM2_5Category(int(s.PM2_5)),
		PM10Category:  PM10Category(int(s.PM10)),
		Hour:          PlaceholderHour,
		DayOfWeek:     PlaceholderDayOfWeek,
	}
	if !at.IsZero() {
		p.Hour = at.Hour()
		p.DayOfWeek = int(at.Weekday())
		if at.Weekday() == time.Saturday || at.Weekday() == time.Sunday {
			p.IsWeekend = 1
		}
	}
	return p
}

// NewFirePayload builds the fire-detection payload
func NewFirePayload(deviceID string, s models.SensorSnapshot) FirePayload {
	return FirePayload{
		DeviceID:    deviceID,
		Temperature: Decimal1(s.Temperature()),
		Humidity:    Decimal1(s.Humidity()),
		TVOC:        int(s.TVOC),
		ECO2:        int(s.ECO2),
		RawH2:       PlaceholderRawH2,
		RawEthanol:  PlaceholderRawEthanol,
		Pressure:    Decimal1(s.Pressure()),
		PM1_0:       int(s.PM1_0),
		PM2_5:       int(s.PM2_5),
		NC0_5:       int(s.Particles.Over0_5um),
		NC1_0:       int(s.Particles.Over1_0um),
		NC2_5:       int(s.Particles.Over2_5um),
	}
}
