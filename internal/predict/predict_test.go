package predict

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/afroash/envmon/internal/models"
)

func TestAlertLevel(t *testing.T) {
	tests := []struct {
		fire models.FireClass
		zone models.ZoneClass
		want models.AlertLevel
	}{
		{models.FireNone, models.ZoneSafe, models.AlertNone},
		{models.FireNone, models.ZoneWarning, models.AlertLow},
		{models.FireNone, models.ZoneHazardous, models.AlertHigh},
		{models.FirePossible, models.ZoneSafe, models.AlertHigh},
		{models.FirePossible, models.ZoneWarning, models.AlertHigh},
		{models.FirePossible, models.ZoneHazardous, models.AlertHigh},
		{models.FireActive, models.ZoneSafe, models.AlertHigh},
		{models.FireActive, models.ZoneWarning, models.AlertHigh},
		{models.FireActive, models.ZoneHazardous, models.AlertHigh},
	}

	for _, tt := range tests {
		t.Run(tt.fire.String()+"/"+tt.zone.String(), func(t *testing.T) {
			if got := AlertLevel(tt.fire, tt.zone); got != tt.want {
				t.Errorf("AlertLevel(%d, %d) = %v, want %v", tt.fire, tt.zone, got, tt.want)
			}
		})
	}
}

func TestVectorFrom(t *testing.T) {
	s := models.NewSensorSnapshot()
	s.TemperatureX10 = 235
	s.HumidityX10 = 451
	s.TVOC = 120
	s.ECO2 = 450
	s.PM2_5 = 9
	s.PM10 = 14

	v := VectorFrom(s)
	want := Vector{23.5, 45.1, 120, 450, 9, 14}
	for i := range want {
		if diff := v[i] - want[i]; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("%s = %v, want %v", FeatureNames[i], v[i], want[i])
		}
	}
}

func TestPredictor_ClampsClasses(t *testing.T) {
	p := NewPredictor(
		ClassifierFunc(func(Vector) int { return 7 }),
		ClassifierFunc(func(Vector) int { return -3 }),
	)

	got := p.Predict(models.NewSensorSnapshot())
	if got.Fire != models.FireActive {
		t.Errorf("Fire = %v, want clamped to active", got.Fire)
	}
	if got.Zone != models.ZoneSafe {
		t.Errorf("Zone = %v, want clamped to safe", got.Zone)
	}
	if got.Alert != models.AlertHigh {
		t.Errorf("Alert = %v, want high", got.Alert)
	}
}

func TestPredictor_DefaultRules(t *testing.T) {
	p := NewPredictor(MustRules(DefaultFireRules()), MustRules(DefaultZoneRules()))

	tests := []struct {
		name   string
		mutate func(*models.SensorSnapshot)
		want   models.PredictionState
	}{
		{
			name:   "clean room",
			mutate: func(s *models.SensorSnapshot) { s.TemperatureX10 = 220; s.ECO2 = 420; s.PM2_5 = 5 },
			want:   models.PredictionState{Fire: models.FireNone, Zone: models.ZoneSafe, Alert: models.AlertNone},
		},
		{
			name:   "stuffy room",
			mutate: func(s *models.SensorSnapshot) { s.TemperatureX10 = 240; s.ECO2 = 900 },
			want:   models.PredictionState{Fire: models.FireNone, Zone: models.ZoneWarning, Alert: models.AlertLow},
		},
		{
			name:   "smoke",
			mutate: func(s *models.SensorSnapshot) { s.TemperatureX10 = 600; s.TVOC = 1800; s.PM2_5 = 120 },
			want:   models.PredictionState{Fire: models.FireActive, Zone: models.ZoneHazardous, Alert: models.AlertHigh},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := models.NewSensorSnapshot()
			tt.mutate(&s)
			if got := p.Predict(s); got != tt.want {
				t.Errorf("Predict() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRules_HighestClassWins(t *testing.T) {
	r, err := NewRules([]Rule{
		{Class: 2, When: map[string]float64{"temperature": 50, "tvoc": 1000}},
		{Class: 1, When: map[string]float64{"temperature": 40}},
	})
	if err != nil {
		t.Fatalf("NewRules() failed: %v", err)
	}

	tests := []struct {
		v    Vector
		want int
	}{
		{Vector{FeatureTemperature: 30}, 0},
		{Vector{FeatureTemperature: 45}, 1},
		{Vector{FeatureTemperature: 55}, 1},
		{Vector{FeatureTemperature: 55, FeatureTVOC: 1200}, 2},
		{Vector{FeatureTemperature: 40}, 0}, // strictly above
	}
	for _, tt := range tests {
		if got := r.Classify(tt.v); got != tt.want {
			t.Errorf("Classify(%v) = %d, want %d", tt.v, got, tt.want)
		}
	}
}

func TestNewRules_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		rules []Rule
	}{
		{"unknown feature", []Rule{{Class: 1, When: map[string]float64{"co": 1}}}},
		{"negative class", []Rule{{Class: -1, When: map[string]float64{"tvoc": 1}}}},
		{"no conditions", []Rule{{Class: 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRules(tt.rules); !errors.Is(err, ErrBadModel) {
				t.Errorf("err = %v, want ErrBadModel", err)
			}
		})
	}
}

func TestAirQualityRules(t *testing.T) {
	r := MustRules(AirQualityRules())

	tests := []struct {
		name string
		v    Vector
		want int
	}{
		{"safe", Vector{FeatureECO2: 450, FeaturePM2_5: 8, FeaturePM10: 20}, 0},
		{"co2", Vector{FeatureECO2: 700}, 1},
		{"pm10", Vector{FeaturePM10: 130}, 1},
		{"pm2_5 category", Vector{FeaturePM2_5: 13}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Classify(tt.v); got != tt.want {
				t.Errorf("Classify() = %d, want %d", got, tt.want)
			}
		})
	}
}

const forestYAML = `
type: forest
classes: 3
trees:
  - nodes:
      - {feature: temperature, threshold: 50, left: 1, right: 2}
      - {leaf: 0}
      - {leaf: 2}
  - nodes:
      - {feature: tvoc, threshold: 1000, left: 1, right: 2}
      - {leaf: 0}
      - {leaf: 1}
  - nodes:
      - {feature: pm2_5, threshold: 100, left: 1, right: 2}
      - {leaf: 1}
      - {leaf: 2}
`

func TestForest_MajorityVote(t *testing.T) {
	c, err := ParseModel([]byte(forestYAML))
	if err != nil {
		t.Fatalf("ParseModel() failed: %v", err)
	}

	tests := []struct {
		name string
		v    Vector
		want int
	}{
		// votes 0,0,1
		{"cool", Vector{FeatureTemperature: 20, FeatureTVOC: 100, FeaturePM2_5: 10}, 0},
		// votes 2,1,2
		{"hot and smoky", Vector{FeatureTemperature: 60, FeatureTVOC: 1500, FeaturePM2_5: 150}, 2},
		// votes 2,0,1 tie goes low
		{"tie", Vector{FeatureTemperature: 60, FeatureTVOC: 100, FeaturePM2_5: 10}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.v); got != tt.want {
				t.Errorf("Classify() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestParseModel_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown type", "type: svm\n"},
		{"no trees", "type: forest\nclasses: 3\n"},
		{"leaf out of range", "type: forest\nclasses: 2\ntrees:\n  - nodes:\n      - {leaf: 2}\n"},
		{"backward child", "type: forest\nclasses: 2\ntrees:\n  - nodes:\n      - {feature: tvoc, threshold: 1, left: 0, right: 1}\n      - {leaf: 0}\n"},
		{"unknown feature", "type: forest\nclasses: 2\ntrees:\n  - nodes:\n      - {feature: co, threshold: 1, left: 1, right: 2}\n      - {leaf: 0}\n      - {leaf: 1}\n"},
		{"not yaml", "type: [forest"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseModel([]byte(tt.data)); !errors.Is(err, ErrBadModel) {
				t.Errorf("err = %v, want ErrBadModel", err)
			}
		})
	}
}

func TestLoadClassifier(t *testing.T) {
	c, err := LoadClassifier("", DefaultFireRules())
	if err != nil {
		t.Fatalf("LoadClassifier(\"\") failed: %v", err)
	}
	if got := c.Classify(Vector{FeatureTemperature: 60}); got != 2 {
		t.Errorf("fallback rules Classify() = %d, want 2", got)
	}

	path := filepath.Join(t.TempDir(), "fire.yaml")
	if err := os.WriteFile(path, []byte(forestYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadClassifier(path, nil); err != nil {
		t.Errorf("LoadClassifier(file) failed: %v", err)
	}

	if _, err := LoadClassifier(filepath.Join(t.TempDir(), "missing.yaml"), nil); err == nil {
		t.Error("missing model file should fail")
	}
}

func TestLoadClassifier_ShippedZoneModel(t *testing.T) {
	c, err := LoadClassifier(filepath.Join("..", "..", "configs", "models", "zone.yaml"), nil)
	if err != nil {
		t.Fatalf("LoadClassifier() error = %v", err)
	}
	tests := []struct {
		name string
		v    Vector
		want int
	}{
		{"clean", Vector{FeatureECO2: 450, FeaturePM2_5: 5, FeatureTVOC: 100}, 0},
		{"stale air", Vector{FeatureECO2: 900, FeaturePM2_5: 20, FeaturePM10: 60, FeatureTVOC: 100}, 1},
		{"smoke", Vector{FeatureECO2: 1800, FeaturePM2_5: 80, FeatureTVOC: 2500}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := c.Classify(tt.v); got != tt.want {
				t.Errorf("Classify() = %d, want %d", got, tt.want)
			}
		})
	}
}
