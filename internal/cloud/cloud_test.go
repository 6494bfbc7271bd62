package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/clock"
	"github.com/afroash/envmon/internal/models"
)

func testSnapshot() models.SensorSnapshot {
	s := models.NewSensorSnapshot()
	s.TemperatureX10 = 235
	s.HumidityX10 = 450
	s.PressureX10 = 10125
	s.TVOC = 120
	s.ECO2 = 850
	s.PM1_0 = 5
	s.PM2_5 = 13
	s.PM10 = 26
	s.Particles = models.ParticleCounts{Over0_3um: 1200, Over0_5um: 340, Over1_0um: 60, Over2_5um: 4}
	return s
}

func TestCategories(t *testing.T) {
	tests := []struct {
		name string
		fn   func(int) int
		v    int
		want int
	}{
		{"co2 low", CO2Category, 800, 0},
		{"co2 warn", CO2Category, 801, 1},
		{"co2 edge", CO2Category, 1000, 1},
		{"co2 high", CO2Category, 1001, 2},
		{"pm2.5 low", PM2_5Category, 12, 0},
		{"pm2.5 warn", PM2_5Category, 13, 1},
		{"pm2.5 high", PM2_5Category, 26, 2},
		{"pm10 low", PM10Category, 25, 0},
		{"pm10 warn", PM10Category, 50, 1},
		{"pm10 high", PM10Category, 51, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.v); got != tt.want {
				t.Errorf("got %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAirPayload_JSON(t *testing.T) {
	p := NewAirPayload("k64f-monitor", testSnapshot(), time.Time{})
	got, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	want := `{"device_id":"k64f-monitor","co2":850,"pm2_5":13,"pm10":26,"temperature":23.5,"humidity":45.0,` +
		`"co2_category":1,"pm2_5_category":1,"pm10_category":1,"hour":12,"day_of_week":3,"is_weekend":0}`
	if string(got) != want {
		t.Errorf("payload =\n%s\nwant\n%s", got, want)
	}
}

func TestAirPayload_WallClock(t *testing.T) {
	tests := []struct {
		at      time.Time
		hour    int
		day     int
		weekend int
	}{
		{time.Date(2026, 1, 5, 14, 20, 0, 0, time.UTC), 14, 1, 0}, // Monday
		{time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC), 8, 6, 1},   // Saturday
		{time.Date(2026, 1, 11, 23, 59, 0, 0, time.UTC), 23, 0, 1}, // Sunday
	}
	for _, tt := range tests {
		p := NewAirPayload("dev", testSnapshot(), tt.at)
		if p.Hour != tt.hour || p.DayOfWeek != tt.day || p.IsWeekend != tt.weekend {
			t.Errorf("%v: got hour=%d day=%d weekend=%d", tt.at, p.Hour, p.DayOfWeek, p.IsWeekend)
		}
	}
}

func TestFirePayload_JSON(t *testing.T) {
	got, err := json.Marshal(NewFirePayload("k64f-monitor", testSnapshot()))
	if err != nil {
		t.Fatalf("Marshal() failed: %v", err)
	}

	want := `{"device_id":"k64f-monitor","temperature":23.5,"humidity":45.0,"tvoc":120,"eco2":850,` +
		`"raw_h2":150,"raw_ethanol":90,"pressure":1012.5,"pm1_0":5,"pm2_5":13,"nc0_5":340,"nc1_0":60,"nc2_5":4}`
	if string(got) != want {
		t.Errorf("payload =\n%s\nwant\n%s", got, want)
	}
}

func TestDecimal1(t *testing.T) {
	tests := []struct {
		v    Decimal1
		want string
	}{
		{0, "0.0"},
		{-4.5, "-4.5"},
		{23.45, "23.4"},
		{100, "100.0"},
	}
	for _, tt := range tests {
		got, _ := json.Marshal(tt.v)
		if string(got) != tt.want {
			t.Errorf("Marshal(%v) = %s, want %s", float64(tt.v), got, tt.want)
		}
	}
}

// MockModem is a scripted modem
type MockModem struct {
	mu         sync.Mutex
	Alive      bool
	ConnectErr error
	PostErr    map[string]error
	Posts      map[string][]byte
	Connects   int
	block      chan struct{}
}

func newMockModem() *MockModem {
	return &MockModem{Alive: true, PostErr: map[string]error{}, Posts: map[string][]byte{}}
}

func (m *MockModem) Connect(ssid, password string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Connects++
	if m.ConnectErr == nil {
		m.Alive = true
	}
	return m.ConnectErr
}

func (m *MockModem) CheckLiveness() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Alive
}

func (m *MockModem) IP() string { return "192.168.1.42" }

func (m *MockModem) Post(host, path string, body []byte) error {
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Posts[path] = body
	return m.PostErr[path]
}

type recordingObserver struct {
	calls int
	air   bool
	fire  bool
}

func (r *recordingObserver) SyncCompleted(airOK, fireOK bool, took time.Duration) {
	r.calls++
	r.air, r.fire = airOK, fireOK
}

func newTestSyncer(m *MockModem, cfg Config) (*Syncer, *models.ConnectivityState, *clock.Fake) {
	clk := clock.NewFake(time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC))
	state := &models.ConnectivityState{}
	if cfg.Host == "" {
		cfg.Host = "example.com"
	}
	if cfg.DeviceID == "" {
		cfg.DeviceID = "k64f-monitor"
	}
	return NewSyncer(m, clk, cfg, state, zerolog.Nop()), state, clk
}

func TestSyncer_Sync(t *testing.T) {
	m := newMockModem()
	s, state, clk := newTestSyncer(m, Config{})
	obs := &recordingObserver{}
	s.SetObserver(obs)
	start := clk.Now()

	s.Sync(testSnapshot())

	if len(m.Posts[AirPath]) == 0 || len(m.Posts[FirePath]) == 0 {
		t.Fatalf("both payloads should be posted, got %v", m.Posts)
	}
	v := state.View()
	if !v.Associated || !v.AirOK || !v.FireOK || v.IP != "192.168.1.42" {
		t.Errorf("view = %+v", v)
	}
	if got := clk.Now().Sub(start); got < 3*time.Second {
		t.Errorf("posts should be spaced by the post gap, elapsed %v", got)
	}
	if !v.LastSync.Equal(clk.Now()) {
		t.Errorf("LastSync = %v, want %v", v.LastSync, clk.Now())
	}
	if obs.calls != 1 || !obs.air || !obs.fire {
		t.Errorf("observer = %+v", obs)
	}
}

func TestSyncer_SyncDisconnected(t *testing.T) {
	m := newMockModem()
	m.Alive = false
	s, state, _ := newTestSyncer(m, Config{})

	s.Sync(testSnapshot())

	if len(m.Posts) != 0 {
		t.Error("nothing should be posted without a link")
	}
	v := state.View()
	if v.Associated || v.AirOK || v.FireOK || !v.Attempted {
		t.Errorf("view = %+v, want both outcomes failed", v)
	}
	if !v.LastSync.IsZero() {
		t.Error("LastSync should not move on failure")
	}
	if m.Connects != 0 {
		t.Error("no reconnect unless enabled")
	}
}

func TestSyncer_Reconnect(t *testing.T) {
	m := newMockModem()
	m.Alive = false
	s, state, _ := newTestSyncer(m, Config{Reconnect: true})

	s.Sync(testSnapshot())

	if m.Connects != 1 {
		t.Errorf("Connects = %d, want 1", m.Connects)
	}
	v := state.View()
	if !v.Associated || v.AirOK {
		t.Errorf("view = %+v, want associated with the failed outcome kept", v)
	}
}

func TestSyncer_PartialFailure(t *testing.T) {
	m := newMockModem()
	m.PostErr[FirePath] = errors.New("no response")
	s, state, _ := newTestSyncer(m, Config{})

	s.Sync(testSnapshot())

	v := state.View()
	if !v.AirOK || v.FireOK {
		t.Errorf("view = %+v", v)
	}
	if !v.LastSync.IsZero() {
		t.Error("LastSync should only move when both posts succeed")
	}
}

func TestSyncer_Connect(t *testing.T) {
	m := newMockModem()
	m.ConnectErr = errors.New("join timeout")
	s, state, _ := newTestSyncer(m, Config{SSID: "ssid"})

	if s.Connect() {
		t.Fatal("Connect() should fail")
	}
	if state.View().Associated {
		t.Error("state should not be associated")
	}
}

func TestSyncer_TriggerDroppedWhileBusy(t *testing.T) {
	m := newMockModem()
	m.block = make(chan struct{})
	s, _, _ := newTestSyncer(m, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !s.Trigger(testSnapshot()) {
		if time.Now().After(deadline) {
			t.Fatal("syncer never accepted a trigger")
		}
		time.Sleep(time.Millisecond)
	}

	// the first post is blocked, so the syncer is busy
	if s.Trigger(testSnapshot()) {
		t.Error("trigger should be dropped while a sync is running")
	}

	close(m.block)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}
