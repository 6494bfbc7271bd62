// Package monitor runs the cooperative control loop that ties the sensors,
// prediction, alerting, display and cloud sync together.
//
// Everything that touches the bus or the sensor UARTs happens on the goroutine
// that calls Step or Run. Within one sampling cycle sensor reads complete before
// prediction, and prediction completes before the alert level and display update.
package monitor

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/alert"
	"github.com/afroash/envmon/internal/clock"
	"github.com/afroash/envmon/internal/display"
	"github.com/afroash/envmon/internal/models"
	"github.com/afroash/envmon/internal/predict"
	"github.com/afroash/envmon/internal/sensor"
)

// Phase is the control loop state
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseCalibrating
	PhaseRunning
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseCalibrating:
		return "calibrating"
	case PhaseRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Sensors polls every healthy driver into a snapshot
type Sensors interface {
	Poll(snap *models.SensorSnapshot, health models.DriverHealth) sensor.PollResult
}

// Syncer accepts a snapshot for an asynchronous cloud sync
type Syncer interface {
	Trigger(snap models.SensorSnapshot) bool
}

// Recorder receives every evaluated sampling cycle
// Implementations must not block the loop
type Recorder interface {
	Record(rec *models.Record)
}

// Config holds the loop cadences
type Config struct {
	DeviceID            string
	TickInterval        time.Duration
	SampleInterval      time.Duration
	SyncInterval        time.Duration
	RotateInterval      time.Duration
	CalibrationSamples  int
	CalibrationInterval time.Duration
	// AutoStart skips waiting for the start button
	AutoStart bool
}

// DefaultConfig returns the cadences used by the reference firmware
func DefaultConfig() Config {
	return Config{
		DeviceID:            "envmon",
		TickInterval:        100 * time.Millisecond,
		SampleInterval:      30 * time.Second,
		SyncInterval:        60 * time.Second,
		RotateInterval:      5 * time.Second,
		CalibrationSamples:  4,
		CalibrationInterval: 4 * time.Second,
	}
}

// Deps are the collaborators of the loop; Syncer and Recorders are optional
type Deps struct {
	Sensors   Sensors
	Predictor *predict.Predictor
	Alert     *alert.Controller
	Renderer  display.Renderer
	LED       alert.Output
	Syncer    Syncer
	Recorders []Recorder
}

// Monitor is the main control loop
type Monitor struct {
	cfg    Config
	clock  clock.Clock
	state  *models.SystemState
	deps   Deps
	logger zerolog.Logger

	phase Phase
	ledOn bool

	lastSample time.Time
	lastSync   time.Time
	lastRotate time.Time

	cal calibration
}

// New creates a monitor in the idle phase
// state must already carry the driver health from sensor init
func New(cfg Config, clk clock.Clock, state *models.SystemState, deps Deps, logger zerolog.Logger) *Monitor {
	def := DefaultConfig()
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = def.SampleInterval
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = def.SyncInterval
	}
	if cfg.RotateInterval <= 0 {
		cfg.RotateInterval = def.RotateInterval
	}
	if cfg.CalibrationSamples < 2 {
		cfg.CalibrationSamples = def.CalibrationSamples
	}
	if cfg.CalibrationInterval <= 0 {
		cfg.CalibrationInterval = def.CalibrationInterval
	}

	m := &Monitor{
		cfg:    cfg,
		clock:  clk,
		state:  state,
		deps:   deps,
		logger: logger.With().Str("component", "monitor").Logger(),
	}
	m.show(display.Welcome())
	return m
}

// Phase returns the current phase
func (m *Monitor) Phase() Phase {
	return m.phase
}

// Run steps the loop every tick until ctx is done
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info().
		Dur("sample", m.cfg.SampleInterval).
		Dur("sync", m.cfg.SyncInterval).
		Dur("rotate", m.cfg.RotateInterval).
		Msg("control loop started")

	for {
		if err := ctx.Err(); err != nil {
			m.shutdown()
			return err
		}
		m.Step()
		m.clock.Sleep(m.cfg.TickInterval)
	}
}

// Step runs one loop iteration
func (m *Monitor) Step() {
	now := m.clock.Now()
	m.heartbeat()

	pressed := m.state.UI.ButtonPending.Swap(false)

	switch m.phase {
	case PhaseIdle:
		if pressed || m.cfg.AutoStart {
			m.startCalibration()
		}
	case PhaseCalibrating:
		m.calibrate(now)
	case PhaseRunning:
		m.run(now, pressed)
	}

	if m.deps.Alert != nil {
		m.deps.Alert.Tick(now)
	}
}

func (m *Monitor) run(now time.Time, pressed bool) {
	if pressed {
		m.advanceScreen(now)
	}

	if clock.Elapsed(m.clock, m.lastSample, m.cfg.SampleInterval) {
		m.lastSample = now
		res := m.deps.Sensors.Poll(&m.state.Snapshot, m.state.Health)
		m.logger.Debug().
			Bool("climate", res.Climate).
			Bool("air_quality", res.AirQuality).
			Bool("particulate", res.Particulate).
			Stringer("snapshot", m.state.Snapshot).
			Msg("sampled")
		m.evaluate()

		if clock.Elapsed(m.clock, m.lastSync, m.cfg.SyncInterval) {
			m.lastSync = now
			m.triggerSync()
		}
		m.render()
	}

	if clock.Elapsed(m.clock, m.lastRotate, m.cfg.RotateInterval) {
		m.advanceScreen(now)
	}
}

// evaluate recomputes the prediction and alert level from the current snapshot
func (m *Monitor) evaluate() {
	prev := m.state.Prediction
	m.state.Prediction = m.deps.Predictor.Predict(m.state.Snapshot)
	if m.deps.Alert != nil {
		m.deps.Alert.SetLevel(m.state.Prediction.Alert)
	}
	if m.state.Prediction != prev {
		m.logger.Info().
			Stringer("fire", m.state.Prediction.Fire).
			Stringer("zone", m.state.Prediction.Zone).
			Stringer("alert", m.state.Prediction.Alert).
			Msg("prediction changed")
	}

	if len(m.deps.Recorders) == 0 {
		return
	}
	rec := models.NewRecord(m.cfg.DeviceID, m.clock.Now(), m.state.Snapshot, m.state.Prediction, m.state.Health)
	for _, r := range m.deps.Recorders {
		r.Record(rec)
	}
}

func (m *Monitor) triggerSync() {
	if m.deps.Syncer == nil {
		return
	}
	if !m.deps.Syncer.Trigger(m.state.Snapshot) {
		m.logger.Warn().Msg("previous cloud sync still running, skipping")
	}
}

func (m *Monitor) advanceScreen(now time.Time) {
	m.state.UI.Screen = (m.state.UI.Screen + 1) % display.NumScreens
	m.lastRotate = now
	m.render()
}

func (m *Monitor) view() display.View {
	return display.View{
		Snapshot:     m.state.Snapshot,
		Health:       m.state.Health,
		Prediction:   m.state.Prediction,
		Connectivity: m.state.Connectivity.View(),
	}
}

func (m *Monitor) render() {
	m.show(display.Screen(m.view(), m.state.UI.Screen))
}

func (m *Monitor) show(f display.Frame) {
	if m.deps.Renderer == nil {
		return
	}
	if err := m.deps.Renderer.Render(f); err != nil {
		m.logger.Warn().Err(err).Msg("failed to render frame")
	}
}

func (m *Monitor) heartbeat() {
	if m.deps.LED == nil {
		return
	}
	m.ledOn = !m.ledOn
	if err := m.deps.LED.Set(m.ledOn); err != nil {
		m.logger.Debug().Err(err).Msg("heartbeat led")
	}
}

func (m *Monitor) shutdown() {
	if m.deps.Alert != nil {
		m.deps.Alert.SetLevel(models.AlertNone)
		m.deps.Alert.Tick(m.clock.Now())
	}
	if m.deps.LED != nil {
		_ = m.deps.LED.Set(false)
	}
	m.logger.Info().Msg("control loop stopped")
}

// Halt shows msg and blinks the LED every 100ms until ctx is done
// It is the terminal state when the climate sensor cannot be initialized
func Halt(ctx context.Context, clk clock.Clock, led alert.Output, r display.Renderer, msg string, logger zerolog.Logger) {
	logger.Error().Str("reason", msg).Msg("system halted")
	if r != nil {
		if err := r.Render(display.Fault(msg)); err != nil {
			logger.Warn().Err(err).Msg("failed to render fault")
		}
	}

	on := false
	for ctx.Err() == nil {
		on = !on
		if led != nil {
			_ = led.Set(on)
		}
		clk.Sleep(100 * time.Millisecond)
	}
	if led != nil {
		_ = led.Set(false)
	}
}
