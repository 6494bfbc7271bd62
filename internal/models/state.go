package models

import (
	"sync"
	"sync/atomic"
	"time"
)

// FireClass is the fire classifier output
type FireClass int

const (
	FireNone FireClass = iota
	FirePossible
	FireActive
)

func (f FireClass) String() string {
	switch f {
	case FireNone:
		return "No fire"
	case FirePossible:
		return "Possible"
	case FireActive:
		return "Fire!"
	default:
		return "Unknown"
	}
}

// ZoneClass is the zone safety classifier output
type ZoneClass int

const (
	ZoneSafe ZoneClass = iota
	ZoneWarning
	ZoneHazardous
)

func (z ZoneClass) String() string {
	switch z {
	case ZoneSafe:
		return "Safe"
	case ZoneWarning:
		return "Warning"
	case ZoneHazardous:
		return "Hazardous"
	default:
		return "Unknown"
	}
}

// AlertLevel drives the buzzer pattern
type AlertLevel int

const (
	AlertNone AlertLevel = iota
	AlertLow
	AlertHigh
)

func (a AlertLevel) String() string {
	switch a {
	case AlertNone:
		return "none"
	case AlertLow:
		return "low"
	case AlertHigh:
		return "high"
	default:
		return "unknown"
	}
}

// PredictionState is the latest classifier result
type PredictionState struct {
	Fire  FireClass  `json:"fire"`
	Zone  ZoneClass  `json:"zone"`
	Alert AlertLevel `json:"alert"`
}

// BuzzerState is the alert controller's phase tracking
type BuzzerState struct {
	Level     AlertLevel
	On        bool
	ChangedAt time.Time
}

// UiState is the display and button state
// ButtonPending is set by the edge handler and cleared only by the control loop
type UiState struct {
	Screen        int
	Started       bool
	ButtonPending atomic.Bool
}

// ConnectivityView is a point-in-time copy of ConnectivityState
type ConnectivityView struct {
	Associated bool      `json:"associated"`
	IP         string    `json:"ip,omitempty"`
	LastSync   time.Time `json:"last_sync,omitempty"`
	AirOK      bool      `json:"air_ok"`
	FireOK     bool      `json:"fire_ok"`
	Attempted  bool      `json:"attempted"`
}

// ConnectivityState is written by the sync worker and read by the display
type ConnectivityState struct {
	mu   sync.RWMutex
	view ConnectivityView
}

// SetAssociated records the WiFi association result
func (c *ConnectivityState) SetAssociated(ok bool, ip string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.Associated = ok
	if !ok {
		ip = ""
	}
	c.view.IP = ip
}

// RecordSync stores the outcome of one sync attempt
// LastSync only moves when both posts succeeded
func (c *ConnectivityState) RecordSync(airOK, fireOK bool, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.view.Attempted = true
	c.view.AirOK = airOK
	c.view.FireOK = fireOK
	if airOK && fireOK {
		c.view.LastSync = at
	}
}

// View returns a copy of the current state
func (c *ConnectivityState) View() ConnectivityView {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.view
}

// SystemState is the aggregate owned by the control loop
type SystemState struct {
	Snapshot     SensorSnapshot
	Health       DriverHealth
	Prediction   PredictionState
	Connectivity ConnectivityState
	UI           UiState
}

// NewSystemState returns the startup state
func NewSystemState() *SystemState {
	return &SystemState{
		Snapshot: NewSensorSnapshot(),
	}
}
