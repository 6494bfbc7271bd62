package sensor

import "errors"

var (
	// ErrNotReady is returned when a sensor has no new valid sample
	ErrNotReady = errors.New("sensor: data not ready")

	// ErrChecksum is returned for a frame whose checksum does not match
	ErrChecksum = errors.New("sensor: checksum mismatch")

	// ErrTimeout is returned when a serial sensor stops sending mid-frame
	ErrTimeout = errors.New("sensor: timeout")

	// ErrNoFrame is returned when no frame start is seen in the scan window
	ErrNoFrame = errors.New("sensor: no frame start")

	// ErrClimateUnavailable is returned by Suite.Init when the mandatory climate sensor fails
	ErrClimateUnavailable = errors.New("sensor: climate sensor unavailable")
)
