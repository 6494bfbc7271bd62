package models

import (
	"time"

	"github.com/google/uuid"
)

// DeviceInfo contains metadata about the monitor device
type DeviceInfo struct {
	ID        string    `json:"id"`
	Location  string    `json:"location"`
	Version   string    `json:"version"`
	SessionID string    `json:"session_id"`
	StartTime time.Time `json:"start_time"`
}

// Uptime returns the duration since the device started
func (d *DeviceInfo) Uptime() time.Duration {
	return time.Since(d.StartTime)
}

// NewDeviceInfo creates a DeviceInfo with a fresh session id and the current time as start time
func NewDeviceInfo(id, location, version string) *DeviceInfo {
	return &DeviceInfo{
		ID:        id,
		Location:  location,
		Version:   version,
		SessionID: uuid.NewString(),
		StartTime: time.Now(),
	}
}
