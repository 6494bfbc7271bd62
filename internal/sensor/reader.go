package sensor

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/models"
)

// Driver is a sensor that updates its own fields of a snapshot
type Driver interface {
	// Name identifies the driver in logs and metrics
	Name() string

	// Init prepares the device; it is called once at startup
	Init() error

	// Read updates snap on success and leaves it untouched on failure
	Read(snap *models.SensorSnapshot) error
}

// Observer is notified of every driver read
type Observer interface {
	DriverRead(driver string, err error)
}

// PollResult reports which drivers produced fresh data in one poll
type PollResult struct {
	Climate     bool
	AirQuality  bool
	Particulate bool
}

// Any reports whether at least one driver produced data
func (p PollResult) Any() bool {
	return p.Climate || p.AirQuality || p.Particulate
}

// Suite owns the three environment sensors
type Suite struct {
	climate     Driver
	airQuality  Driver
	particulate Driver
	observer    Observer
	logger      zerolog.Logger
}

// NewSuite creates a sensor suite; airQuality and particulate may be nil when not fitted
func NewSuite(climate, airQuality, particulate Driver, logger zerolog.Logger) *Suite {
	return &Suite{
		climate:     climate,
		airQuality:  airQuality,
		particulate: particulate,
		logger:      logger,
	}
}

// SetObserver installs a read observer
func (s *Suite) SetObserver(o Observer) {
	s.observer = o
}

// Init initializes every driver and records the outcome in health
// Only a climate failure is returned; the other drivers are just disabled
func (s *Suite) Init(health *models.DriverHealth) error {
	health.AirQuality = s.initOptional(s.airQuality)
	health.Particulate = s.initOptional(s.particulate)

	if err := s.climate.Init(); err != nil {
		health.Climate = false
		s.logger.Error().Err(err).Msg("climate sensor init failed")
		return fmt.Errorf("%w: %v", ErrClimateUnavailable, err)
	}
	health.Climate = true

	s.logger.Info().
		Bool("climate", health.Climate).
		Bool("air_quality", health.AirQuality).
		Bool("particulate", health.Particulate).
		Msg("sensors initialized")
	return nil
}

func (s *Suite) initOptional(d Driver) bool {
	if d == nil {
		return false
	}
	if err := d.Init(); err != nil {
		s.logger.Warn().Err(err).Str("driver", d.Name()).Msg("sensor init failed, polling disabled")
		return false
	}
	return true
}

// Poll reads every healthy driver once, climate first
func (s *Suite) Poll(snap *models.SensorSnapshot, health models.DriverHealth) PollResult {
	var res PollResult
	if health.Climate {
		res.Climate = s.read(s.climate, snap)
	}
	if health.AirQuality {
		res.AirQuality = s.read(s.airQuality, snap)
	}
	if health.Particulate {
		res.Particulate = s.read(s.particulate, snap)
	}
	return res
}

// read performs one driver read, keeping the stale value on failure
func (s *Suite) read(d Driver, snap *models.SensorSnapshot) bool {
	err := d.Read(snap)
	if s.observer != nil {
		s.observer.DriverRead(d.Name(), err)
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("driver", d.Name()).Msg("failed to read from sensor")
		return false
	}
	return true
}
