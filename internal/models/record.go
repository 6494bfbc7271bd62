package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record is one completed sampling cycle: the snapshot and the prediction derived from it
// Records are what gets persisted, published and streamed upstream
type Record struct {
	ID         string          `json:"id"`
	DeviceID   string          `json:"device_id"`
	Timestamp  time.Time       `json:"timestamp"`
	Snapshot   SensorSnapshot  `json:"snapshot"`
	Prediction PredictionState `json:"prediction"`
	Health     DriverHealth    `json:"health"`
}

// IsValid checks the record against the physical ranges of the sensors
func (r *Record) IsValid() bool {
	const (
		minTempX10     = -400
		maxTempX10     = 850
		minHumidityX10 = 0
		maxHumidityX10 = 1000
	)

	if r.DeviceID == "" {
		return false
	}

	if r.Timestamp.IsZero() {
		return false
	}

	if r.Snapshot.TemperatureX10 < minTempX10 || r.Snapshot.TemperatureX10 > maxTempX10 {
		return false
	}

	if r.Snapshot.HumidityX10 < minHumidityX10 || r.Snapshot.HumidityX10 > maxHumidityX10 {
		return false
	}

	if r.Prediction.Alert < AlertNone || r.Prediction.Alert > AlertHigh {
		return false
	}

	return true
}

func (r *Record) String() string {
	return fmt.Sprintf("DeviceID: %s, Timestamp: %s, %s, Fire: %s, Zone: %s, Alert: %s",
		r.DeviceID,
		r.Timestamp.Format(time.RFC3339),
		r.Snapshot.String(),
		r.Prediction.Fire,
		r.Prediction.Zone,
		r.Prediction.Alert,
	)
}

// NewRecord creates a record with a fresh id
func NewRecord(deviceID string, at time.Time, snap SensorSnapshot, pred PredictionState, health DriverHealth) *Record {
	return &Record{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		Timestamp:  at,
		Snapshot:   snap,
		Prediction: pred,
		Health:     health,
	}
}

// Copy returns a copy of the record
func (r *Record) Copy() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}
