// Package display renders the monitor state as fixed 20x4 text frames
package display

import (
	"fmt"
	"strings"
	"time"

	"github.com/afroash/envmon/internal/models"
	"github.com/afroash/envmon/internal/sensor"
)

// Frame geometry
const (
	Rows    = 4
	Columns = 20
)

// NumScreens is the number of rotating screens
const NumScreens = 6

// Screen indexes
const (
	ScreenEnvironment = iota
	ScreenAirQuality
	ScreenCombined
	ScreenParticles
	ScreenSafety
	ScreenCloud
)

// Frame is one full display; every row is exactly Columns wide
type Frame [Rows]string

// NewFrame pads or truncates each row to the display width
func NewFrame(rows ...string) Frame {
	var f Frame
	for i := range f {
		var s string
		if i < len(rows) {
			s = rows[i]
		}
		f[i] = fit(s)
	}
	return f
}

func fit(s string) string {
	if len(s) > Columns {
		return s[:Columns]
	}
	return s + strings.Repeat(" ", Columns-len(s))
}

// String joins the rows with newlines
func (f Frame) String() string {
	return strings.Join(f[:], "\n")
}

// View is everything a screen can show
type View struct {
	Snapshot     models.SensorSnapshot
	Health       models.DriverHealth
	Prediction   models.PredictionState
	Connectivity models.ConnectivityView
}

// Renderer puts a frame on a physical or virtual display
type Renderer interface {
	Render(f Frame) error
}

// Screen renders screen index (mod NumScreens)
func Screen(v View, index int) Frame {
	index %= NumScreens
	if index < 0 {
		index += NumScreens
	}

	switch index {
	case ScreenEnvironment:
		return environment(v)
	case ScreenAirQuality:
		return airQuality(v)
	case ScreenCombined:
		return combined(v)
	case ScreenParticles:
		return particles(v)
	case ScreenSafety:
		return safety(v)
	default:
		return cloud(v)
	}
}

func environment(v View) Frame {
	s := v.Snapshot
	return NewFrame(
		"ENVIRONMENT",
		fmt.Sprintf("Temp: %.1fC", s.Temperature()),
		fmt.Sprintf("Hum:  %.1f%%", s.Humidity()),
		fmt.Sprintf("Pres: %.1fhPa", s.Pressure()),
	)
}

func airQuality(v View) Frame {
	if !v.Health.AirQuality {
		return NewFrame("AIR QUALITY", "Sensor offline")
	}
	s := v.Snapshot
	return NewFrame(
		"AIR QUALITY",
		fmt.Sprintf("AQI: %d %s", s.AQI, sensor.AQIDescription(s.AQI)),
		fmt.Sprintf("TVOC: %dppb", s.TVOC),
		fmt.Sprintf("eCO2: %dppm", s.ECO2),
	)
}

func combined(v View) Frame {
	s := v.Snapshot
	return NewFrame(
		fmt.Sprintf("T:%.1fC H:%.1f%%", s.Temperature(), s.Humidity()),
		fmt.Sprintf("CO2:%d TVOC:%d", s.ECO2, s.TVOC),
		fmt.Sprintf("PM2.5:%d PM10:%d", s.PM2_5, s.PM10),
		fmt.Sprintf("Alert: %s", v.Prediction.Alert),
	)
}

func particles(v View) Frame {
	if !v.Health.Particulate {
		return NewFrame("PARTICLES /0.1L", "Sensor offline")
	}
	p := v.Snapshot.Particles
	return NewFrame(
		"PARTICLES /0.1L",
		fmt.Sprintf(">0.3:%d >0.5:%d", p.Over0_3um, p.Over0_5um),
		fmt.Sprintf(">1.0:%d >2.5:%d", p.Over1_0um, p.Over2_5um),
		fmt.Sprintf(">5.0:%d >10:%d", p.Over5_0um, p.Over10um),
	)
}

// flag marks an active class so it stands out on a character display
func flag(label string, active bool) string {
	if active {
		return "!" + label + "!"
	}
	return label
}

func safety(v View) Frame {
	p := v.Prediction
	status := "Status: Normal"
	if p.Alert > models.AlertNone {
		status = "ALERT ACTIVE"
	}
	return NewFrame(
		"SAFETY",
		"Fire: "+flag(p.Fire.String(), p.Fire >= models.FirePossible),
		"Zone: "+flag(p.Zone.String(), p.Zone >= models.ZoneWarning),
		status,
	)
}

func outcome(attempted, ok bool) string {
	switch {
	case !attempted:
		return "--"
	case ok:
		return "OK"
	default:
		return "FAIL"
	}
}

func cloud(v View) Frame {
	c := v.Connectivity
	wifi := "WiFi: Disconnected"
	if c.Associated {
		wifi = "WiFi: " + c.IP
		if c.IP == "" {
			wifi = "WiFi: Connected"
		}
	}
	last := "Last: never"
	if !c.LastSync.IsZero() {
		last = "Last: " + c.LastSync.Format(time.TimeOnly)
	}
	return NewFrame(
		"CLOUD SYNC",
		wifi,
		fmt.Sprintf("Air:%s Fire:%s", outcome(c.Attempted, c.AirOK), outcome(c.Attempted, c.FireOK)),
		last,
	)
}

// Welcome is shown while waiting for the start button
func Welcome() Frame {
	return NewFrame(
		"ENV MONITOR",
		"Smart fire & air",
		"",
		"Press to start",
	)
}

// Calibrating shows calibration progress
func Calibrating(n, total int) Frame {
	return NewFrame(
		"CALIBRATING",
		fmt.Sprintf("Sample %d/%d", n, total),
		"",
		"Please wait...",
	)
}

// Fault is shown when the monitor halts
func Fault(msg string) Frame {
	return NewFrame(
		"SYSTEM FAULT",
		msg,
		"",
		"Check sensors",
	)
}
