package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/cloud"
	"github.com/afroash/envmon/internal/models"
	"github.com/afroash/envmon/internal/predict"
)

const maxPayloadBytes = 4096

// PredictionObserver is told about every prediction served
type PredictionObserver interface {
	Prediction(kind string, class int)
}

// AirResult is the air-quality prediction for one payload
type AirResult struct {
	DeviceID   string    `json:"device_id"`
	Prediction int       `json:"prediction"`
	Label      string    `json:"label"`
	Timestamp  time.Time `json:"timestamp"`
}

// FireResult is the fire and zone prediction for one payload
type FireResult struct {
	DeviceID  string            `json:"device_id"`
	Fire      models.FireClass  `json:"fire"`
	FireLabel string            `json:"fire_label"`
	Zone      models.ZoneClass  `json:"zone"`
	ZoneLabel string            `json:"zone_label"`
	Alert     models.AlertLevel `json:"alert"`
	Timestamp time.Time         `json:"timestamp"`
}

// LatestPrediction holds the newest results for a device
type LatestPrediction struct {
	DeviceID string      `json:"device_id"`
	Air      *AirResult  `json:"air,omitempty"`
	Fire     *FireResult `json:"fire,omitempty"`
}

// PredictHandler serves the air-quality and fire prediction endpoints
type PredictHandler struct {
	air       predict.Classifier
	predictor *predict.Predictor
	observer  PredictionObserver
	logger    zerolog.Logger
	now       func() time.Time

	mutex  sync.RWMutex
	latest map[string]*LatestPrediction
}

// NewPredictHandler creates the handler; air answers /api/predict, fire and zone answer /api/predict-fire
func NewPredictHandler(air, fire, zone predict.Classifier, logger zerolog.Logger) *PredictHandler {
	return &PredictHandler{
		air:       air,
		predictor: predict.NewPredictor(fire, zone),
		logger:    logger.With().Str("component", "predict").Logger(),
		now:       time.Now,
		latest:    make(map[string]*LatestPrediction),
	}
}

func (ph *PredictHandler) SetObserver(o PredictionObserver) {
	ph.observer = o
}

// AirVector maps the air payload onto the classifier features
func AirVector(p cloud.AirPayload) predict.Vector {
	return predict.Vector{
		predict.FeatureTemperature: float64(p.Temperature),
		predict.FeatureHumidity:    float64(p.Humidity),
		predict.FeatureECO2:        float64(p.CO2),
		predict.FeaturePM2_5:       float64(p.PM2_5),
		predict.FeaturePM10:        float64(p.PM10),
	}
}

// FireSnapshot rebuilds the snapshot fields the fire payload carries
func FireSnapshot(p cloud.FirePayload) models.SensorSnapshot {
	s := models.NewSensorSnapshot()
	s.TemperatureX10 = int32(float64(p.Temperature)*10 + sign(float64(p.Temperature))*0.5)
	s.HumidityX10 = int32(float64(p.Humidity)*10 + 0.5)
	s.PressureX10 = int32(float64(p.Pressure)*10 + 0.5)
	s.TVOC = clampU16(p.TVOC)
	s.ECO2 = clampU16(p.ECO2)
	s.PM1_0 = clampU16(p.PM1_0)
	s.PM2_5 = clampU16(p.PM2_5)
	s.Particles.Over0_5um = clampU16(p.NC0_5)
	s.Particles.Over1_0um = clampU16(p.NC1_0)
	s.Particles.Over2_5um = clampU16(p.NC2_5)
	return s
}

func sign(f float64) float64 {
	if f < 0 {
		return -1
	}
	return 1
}

func clampU16(v int) uint16 {
	return uint16(min(max(v, 0), 0xFFFF))
}

// HandleAir answers POST /api/predict
func (ph *PredictHandler) HandleAir(w http.ResponseWriter, r *http.Request) {
	var p cloud.AirPayload
	if err := decodePayload(w, r, &p); err != nil {
		ph.reject(w, err)
		return
	}
	if p.DeviceID == "" {
		ph.reject(w, errMissingDevice)
		return
	}

	class := ph.air.Classify(AirVector(p))
	if class != 0 {
		class = 1
	}
	res := &AirResult{
		DeviceID:   p.DeviceID,
		Prediction: class,
		Label:      airLabel(class),
		Timestamp:  ph.now().UTC(),
	}

	ph.update(p.DeviceID, func(l *LatestPrediction) { l.Air = res })
	ph.observe("air", class)
	ph.logger.Info().Str("device_id", p.DeviceID).Int("co2", p.CO2).Int("pm2_5", p.PM2_5).Str("label", res.Label).Msg("Air prediction")

	writeJSON(w, http.StatusOK, res)
}

// HandleFire answers POST /api/predict-fire
func (ph *PredictHandler) HandleFire(w http.ResponseWriter, r *http.Request) {
	var p cloud.FirePayload
	if err := decodePayload(w, r, &p); err != nil {
		ph.reject(w, err)
		return
	}
	if p.DeviceID == "" {
		ph.reject(w, errMissingDevice)
		return
	}

	pred := ph.predictor.Predict(FireSnapshot(p))
	res := &FireResult{
		DeviceID:  p.DeviceID,
		Fire:      pred.Fire,
		FireLabel: pred.Fire.String(),
		Zone:      pred.Zone,
		ZoneLabel: pred.Zone.String(),
		Alert:     pred.Alert,
		Timestamp: ph.now().UTC(),
	}

	ph.update(p.DeviceID, func(l *LatestPrediction) { l.Fire = res })
	ph.observe("fire", int(pred.Fire))
	ph.observe("zone", int(pred.Zone))
	ph.logger.Info().
		Str("device_id", p.DeviceID).
		Stringer("fire", pred.Fire).
		Stringer("zone", pred.Zone).
		Stringer("alert", pred.Alert).
		Msg("Fire prediction")

	writeJSON(w, http.StatusOK, res)
}

// HandleLatest answers GET /api/latest, optionally filtered by device_id
func (ph *PredictHandler) HandleLatest(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")

	if deviceID != "" {
		l := ph.Latest(deviceID)
		if l == nil {
			http.Error(w, "No predictions for device", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, l)
		return
	}
	writeJSON(w, http.StatusOK, ph.AllLatest())
}

// Latest returns a copy of the newest results for a device
func (ph *PredictHandler) Latest(deviceID string) *LatestPrediction {
	ph.mutex.RLock()
	defer ph.mutex.RUnlock()
	l, ok := ph.latest[deviceID]
	if !ok {
		return nil
	}
	return copyLatest(l)
}

// AllLatest returns the newest results of every device, sorted by device id
func (ph *PredictHandler) AllLatest() []*LatestPrediction {
	ph.mutex.RLock()
	defer ph.mutex.RUnlock()
	out := make([]*LatestPrediction, 0, len(ph.latest))
	for _, l := range ph.latest {
		out = append(out, copyLatest(l))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DeviceID < out[j].DeviceID })
	return out
}

func copyLatest(l *LatestPrediction) *LatestPrediction {
	c := &LatestPrediction{DeviceID: l.DeviceID}
	if l.Air != nil {
		air := *l.Air
		c.Air = &air
	}
	if l.Fire != nil {
		fire := *l.Fire
		c.Fire = &fire
	}
	return c
}

func (ph *PredictHandler) update(deviceID string, fn func(*LatestPrediction)) {
	ph.mutex.Lock()
	defer ph.mutex.Unlock()
	l, ok := ph.latest[deviceID]
	if !ok {
		l = &LatestPrediction{DeviceID: deviceID}
		ph.latest[deviceID] = l
	}
	fn(l)
}

func (ph *PredictHandler) observe(kind string, class int) {
	if ph.observer != nil {
		ph.observer.Prediction(kind, class)
	}
}

func (ph *PredictHandler) reject(w http.ResponseWriter, err error) {
	ph.logger.Warn().Err(err).Msg("Rejected prediction request")
	http.Error(w, err.Error(), http.StatusBadRequest)
}

var (
	errMissingDevice = errors.New("device_id is required")
	errInvalidRange  = errors.New("from must not be after to")
)

func errBadTime(param, value string) error {
	return fmt.Errorf("%s: %q is not an RFC 3339 time", param, value)
}

func decodePayload(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

func airLabel(class int) string {
	if class == 0 {
		return "safe"
	}
	return "unsafe"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
