package monitor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/alert"
	"github.com/afroash/envmon/internal/clock"
	"github.com/afroash/envmon/internal/display"
	"github.com/afroash/envmon/internal/models"
	"github.com/afroash/envmon/internal/predict"
	"github.com/afroash/envmon/internal/sensor"
)

const tick = 100 * time.Millisecond

// MockSensors returns scripted climate readings, one per poll
type MockSensors struct {
	Temps     []int32
	AirFails  bool
	Polls     int
	LastValue int32
}

func (s *MockSensors) Poll(snap *models.SensorSnapshot, health models.DriverHealth) sensor.PollResult {
	i := s.Polls
	s.Polls++
	if i >= len(s.Temps) {
		i = len(s.Temps) - 1
	}

	var res sensor.PollResult
	if health.Climate {
		snap.TemperatureX10 = s.Temps[i]
		snap.HumidityX10 = 450
		s.LastValue = s.Temps[i]
		res.Climate = true
	}
	if health.AirQuality && !s.AirFails {
		snap.ECO2 = 500
		res.AirQuality = true
	}
	return res
}

type MockSyncer struct {
	Triggers []models.SensorSnapshot
}

func (s *MockSyncer) Trigger(snap models.SensorSnapshot) bool {
	s.Triggers = append(s.Triggers, snap)
	return true
}

type MockRenderer struct {
	Frames []display.Frame
}

func (r *MockRenderer) Render(f display.Frame) error {
	r.Frames = append(r.Frames, f)
	return nil
}

func (r *MockRenderer) Last() display.Frame {
	return r.Frames[len(r.Frames)-1]
}

type MockOutput struct {
	Writes []bool
}

func (o *MockOutput) Set(on bool) error {
	o.Writes = append(o.Writes, on)
	return nil
}

type MockRecorder struct {
	Records []*models.Record
}

func (r *MockRecorder) Record(rec *models.Record) {
	r.Records = append(r.Records, rec)
}

type harness struct {
	m        *Monitor
	clk      *clock.Fake
	state    *models.SystemState
	sensors  *MockSensors
	syncer   *MockSyncer
	renderer *MockRenderer
	led      *MockOutput
	buzzer   *MockOutput
	recorder *MockRecorder
	seen     []predict.Vector
}

func newHarness(t *testing.T, fire int) *harness {
	t.Helper()
	h := &harness{
		clk:      clock.NewFake(time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)),
		state:    models.NewSystemState(),
		sensors:  &MockSensors{Temps: []int32{999, 200, 210, 220, 300}},
		syncer:   &MockSyncer{},
		renderer: &MockRenderer{},
		led:      &MockOutput{},
		buzzer:   &MockOutput{},
		recorder: &MockRecorder{},
	}
	h.state.Health = models.DriverHealth{Climate: true, AirQuality: true}

	fireClassifier := predict.ClassifierFunc(func(v predict.Vector) int {
		h.seen = append(h.seen, v)
		return fire
	})
	zoneClassifier := predict.ClassifierFunc(func(predict.Vector) int { return 0 })

	h.m = New(DefaultConfig(), h.clk, h.state, Deps{
		Sensors:   h.sensors,
		Predictor: predict.NewPredictor(fireClassifier, zoneClassifier),
		Alert:     alert.NewController(h.buzzer, h.clk.Now(), zerolog.Nop()),
		Renderer:  h.renderer,
		LED:       h.led,
		Syncer:    h.syncer,
		Recorders: []Recorder{h.recorder},
	}, zerolog.Nop())
	return h
}

// runFor advances the clock one tick at a time, stepping after each advance
func (h *harness) runFor(d time.Duration) {
	for i := 0; i < int(d/tick); i++ {
		h.clk.Advance(tick)
		h.m.Step()
	}
}

func (h *harness) press() {
	h.state.UI.ButtonPending.Store(true)
}

// start presses the button and steps until calibration finishes
func (h *harness) start(t *testing.T) {
	t.Helper()
	h.press()
	for i := 0; i < 1000 && h.m.Phase() != PhaseRunning; i++ {
		h.clk.Advance(tick)
		h.m.Step()
	}
	if h.m.Phase() != PhaseRunning {
		t.Fatalf("phase = %v, want running", h.m.Phase())
	}
}

func TestMonitor_IdleUntilButton(t *testing.T) {
	h := newHarness(t, 0)

	h.runFor(10 * time.Second)
	if h.m.Phase() != PhaseIdle {
		t.Fatalf("phase = %v, want idle", h.m.Phase())
	}
	if h.renderer.Last() != display.Welcome() {
		t.Error("idle should show the welcome screen")
	}
	if h.sensors.Polls != 0 {
		t.Error("no sampling before start")
	}

	h.press()
	h.runFor(tick)
	if h.m.Phase() != PhaseCalibrating {
		t.Fatalf("phase = %v, want calibrating", h.m.Phase())
	}
	if h.state.UI.ButtonPending.Load() {
		t.Error("loop should clear the button flag")
	}
	if !h.state.UI.Started {
		t.Error("Started should be set")
	}
}

func TestMonitor_AutoStart(t *testing.T) {
	h := newHarness(t, 0)
	h.m.cfg.AutoStart = true

	h.runFor(tick)
	if h.m.Phase() != PhaseCalibrating {
		t.Errorf("phase = %v, want calibrating", h.m.Phase())
	}
}

func TestMonitor_Calibration(t *testing.T) {
	h := newHarness(t, 0)
	h.sensors.AirFails = true
	start := h.clk.Now()

	h.start(t)

	if h.sensors.Polls != 4 {
		t.Errorf("calibration polls = %d, want 4", h.sensors.Polls)
	}
	if got := h.clk.Now().Sub(start); got < 12*time.Second {
		t.Errorf("calibration finished after %v, samples should be 4s apart", got)
	}
	// warm-up 999 discarded, mean of 200/210/220
	if h.state.Snapshot.TemperatureX10 != 210 {
		t.Errorf("TemperatureX10 = %d, want 210", h.state.Snapshot.TemperatureX10)
	}
	if h.state.Snapshot.ECO2 != 400 {
		t.Errorf("ECO2 = %d, failing driver should keep its prior value", h.state.Snapshot.ECO2)
	}
	if len(h.syncer.Triggers) != 1 {
		t.Errorf("sync triggers = %d, want 1 after calibration", len(h.syncer.Triggers))
	}
	if len(h.recorder.Records) != 1 {
		t.Errorf("records = %d, want 1", len(h.recorder.Records))
	}
	if h.state.UI.Screen != 0 {
		t.Errorf("screen = %d, want 0", h.state.UI.Screen)
	}
	if !strings.HasPrefix(h.renderer.Last()[0], "ENVIRONMENT") {
		t.Errorf("first running frame = %q", h.renderer.Last()[0])
	}
}

func TestMonitor_CalibrationShowsProgress(t *testing.T) {
	h := newHarness(t, 0)
	h.start(t)

	seen := map[display.Frame]bool{}
	for _, f := range h.renderer.Frames {
		seen[f] = true
	}
	for i := 1; i <= 4; i++ {
		if !seen[display.Calibrating(i, 4)] {
			t.Errorf("calibration frame %d/4 never shown", i)
		}
	}
}

func TestMonitor_Cadence(t *testing.T) {
	h := newHarness(t, 0)
	h.start(t)
	polls := h.sensors.Polls

	h.runFor(60 * time.Second)

	if got := h.sensors.Polls - polls; got != 2 {
		t.Errorf("samples in 60s = %d, want 2", got)
	}
	if len(h.syncer.Triggers) != 2 {
		t.Errorf("sync triggers = %d, want calibration + one at 60s", len(h.syncer.Triggers))
	}
	if len(h.recorder.Records) != 3 {
		t.Errorf("records = %d, want 3", len(h.recorder.Records))
	}
	if h.state.UI.Screen != 12%display.NumScreens {
		t.Errorf("screen = %d after 12 rotations", h.state.UI.Screen)
	}
}

func TestMonitor_Rotation(t *testing.T) {
	h := newHarness(t, 0)
	h.start(t)

	h.runFor(5*time.Second - tick)
	if h.state.UI.Screen != 0 {
		t.Fatalf("screen rotated early: %d", h.state.UI.Screen)
	}
	h.runFor(tick)
	if h.state.UI.Screen != 1 {
		t.Fatalf("screen = %d, want 1 at 5s", h.state.UI.Screen)
	}
}

func TestMonitor_ButtonAdvancesScreen(t *testing.T) {
	h := newHarness(t, 0)
	h.start(t)

	h.runFor(3 * time.Second)
	h.press()
	h.runFor(tick)
	if h.state.UI.Screen != 1 {
		t.Fatalf("screen = %d, want 1 after press", h.state.UI.Screen)
	}
	if h.m.Phase() != PhaseRunning {
		t.Error("press while running must not restart calibration")
	}

	// rotation timer restarts from the press
	h.runFor(5*time.Second - tick)
	if h.state.UI.Screen != 1 {
		t.Errorf("screen = %d, rotation should restart after a press", h.state.UI.Screen)
	}
	h.runFor(tick)
	if h.state.UI.Screen != 2 {
		t.Errorf("screen = %d, want 2", h.state.UI.Screen)
	}
}

func TestMonitor_PredictsFromFreshSample(t *testing.T) {
	h := newHarness(t, 0)
	h.start(t)
	seen := len(h.seen)

	h.runFor(30 * time.Second)

	if len(h.seen) != seen+1 {
		t.Fatalf("predictions = %d, want one more", len(h.seen)-seen)
	}
	got := h.seen[len(h.seen)-1][predict.FeatureTemperature]
	if want := float64(h.sensors.LastValue) / 10; got != want {
		t.Errorf("prediction used temperature %v, want the same-cycle reading %v", got, want)
	}
}

func TestMonitor_AlertDrivesBuzzer(t *testing.T) {
	h := newHarness(t, 1)
	h.start(t)

	if h.state.Prediction.Alert != models.AlertHigh {
		t.Fatalf("alert = %v, want high", h.state.Prediction.Alert)
	}
	h.runFor(time.Second)

	toggles := 0
	for _, on := range h.buzzer.Writes {
		if on {
			toggles++
		}
	}
	if toggles < 2 {
		t.Errorf("buzzer on-phases in 1s = %d, want the 200ms pattern", toggles)
	}
}

func TestMonitor_Heartbeat(t *testing.T) {
	h := newHarness(t, 0)
	h.runFor(3 * tick)

	want := []bool{true, false, true}
	if len(h.led.Writes) != len(want) {
		t.Fatalf("led writes = %v", h.led.Writes)
	}
	for i := range want {
		if h.led.Writes[i] != want[i] {
			t.Errorf("led writes = %v, want %v", h.led.Writes, want)
			break
		}
	}
}

func TestMonitor_RunStopsOnCancel(t *testing.T) {
	h := newHarness(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := h.m.Run(ctx); err != context.Canceled {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
	if n := len(h.led.Writes); n == 0 || h.led.Writes[n-1] {
		t.Error("led should be off after shutdown")
	}
}

// cancelAfter cancels a context after n writes
type cancelAfter struct {
	n      int
	writes []bool
	cancel context.CancelFunc
}

func (c *cancelAfter) Set(on bool) error {
	c.writes = append(c.writes, on)
	if len(c.writes) == c.n {
		c.cancel()
	}
	return nil
}

func TestHalt(t *testing.T) {
	clk := clock.NewFake(time.Unix(0, 0))
	ctx, cancel := context.WithCancel(context.Background())
	led := &cancelAfter{n: 6, cancel: cancel}
	r := &MockRenderer{}

	Halt(ctx, clk, led, r, "Climate sensor", zerolog.Nop())

	if r.Last() != display.Fault("Climate sensor") {
		t.Errorf("frame = %v", r.Last())
	}
	if got := clk.Now().Sub(time.Unix(0, 0)); got != 600*time.Millisecond {
		t.Errorf("blinked for %v, want 6 x 100ms", got)
	}
	for i := 0; i < 6; i++ {
		if led.writes[i] != (i%2 == 0) {
			t.Fatalf("writes = %v, want alternating", led.writes)
		}
	}
	if led.writes[len(led.writes)-1] {
		t.Error("led should be left off")
	}
}
