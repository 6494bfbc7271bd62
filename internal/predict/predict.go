package predict

import (
	"github.com/afroash/envmon/internal/models"
)

// Feature indexes of a Vector
const (
	FeatureTemperature = iota
	FeatureHumidity
	FeatureTVOC
	FeatureECO2
	FeaturePM2_5
	FeaturePM10

	NumFeatures
)

// FeatureNames maps feature indexes to the names used in model files
var FeatureNames = [NumFeatures]string{"temperature", "humidity", "tvoc", "eco2", "pm2_5", "pm10"}

// FeatureIndex returns the index of a named feature
func FeatureIndex(name string) (int, bool) {
	for i, n := range FeatureNames {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

// Vector is the classifier input in fixed feature order
type Vector [NumFeatures]float64

// VectorFrom builds the classifier input from a snapshot
func VectorFrom(s models.SensorSnapshot) Vector {
	return Vector{
		FeatureTemperature: s.Temperature(),
		FeatureHumidity:    s.Humidity(),
		FeatureTVOC:        float64(s.TVOC),
		FeatureECO2:        float64(s.ECO2),
		FeaturePM2_5:       float64(s.PM2_5),
		FeaturePM10:        float64(s.PM10),
	}
}

// Classifier maps a feature vector to a class
// Implementations must be deterministic and free of side effects
type Classifier interface {
	Classify(v Vector) int
}

// ClassifierFunc adapts a function to Classifier
type ClassifierFunc func(v Vector) int

// Classify implements Classifier
func (f ClassifierFunc) Classify(v Vector) int { return f(v) }

// AlertLevel derives the alert level from the two classes
func AlertLevel(fire models.FireClass, zone models.ZoneClass) models.AlertLevel {
	switch {
	case fire >= models.FirePossible || zone >= models.ZoneHazardous:
		return models.AlertHigh
	case fire == models.FireNone && zone == models.ZoneWarning:
		return models.AlertLow
	default:
		return models.AlertNone
	}
}

// Predictor runs the fire and zone classifiers over a snapshot
type Predictor struct {
	Fire Classifier
	Zone Classifier
}

// NewPredictor creates a predictor
func NewPredictor(fire, zone Classifier) *Predictor {
	return &Predictor{Fire: fire, Zone: zone}
}

// Predict classifies a snapshot; class outputs are clamped to 0..2
func (p *Predictor) Predict(s models.SensorSnapshot) models.PredictionState {
	v := VectorFrom(s)
	fire := models.FireClass(clampClass(p.Fire.Classify(v)))
	zone := models.ZoneClass(clampClass(p.Zone.Classify(v)))
	return models.PredictionState{
		Fire:  fire,
		Zone:  zone,
		Alert: AlertLevel(fire, zone),
	}
}

func clampClass(c int) int {
	if c < 0 {
		return 0
	}
	if c > 2 {
		return 2
	}
	return c
}
