// Package metrics exposes Prometheus metrics for the gateway and the prediction service
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/afroash/envmon/internal/models"
)

// Metrics holds every collector on a private registry
// All methods are safe on a nil *Metrics
type Metrics struct {
	registry *prometheus.Registry

	driverReads  *prometheus.CounterVec
	readings     *prometheus.GaugeVec
	prediction   *prometheus.GaugeVec
	syncs        *prometheus.CounterVec
	syncDuration prometheus.Histogram
	dropped      *prometheus.CounterVec
	predictions  *prometheus.CounterVec
	streamed     prometheus.Counter

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New creates the metrics and registers them together with the Go runtime collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		driverReads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "envmon_driver_reads_total",
			Help: "Sensor driver reads by driver and result.",
		}, []string{"driver", "result"}),
		readings: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "envmon_reading",
			Help: "Latest sensor snapshot value by quantity.",
		}, []string{"quantity"}),
		prediction: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "envmon_prediction",
			Help: "Latest prediction (fire class, zone class, alert level).",
		}, []string{"kind"}),
		syncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "envmon_cloud_posts_total",
			Help: "Cloud prediction posts by endpoint and result.",
		}, []string{"endpoint", "result"}),
		syncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "envmon_cloud_sync_duration_seconds",
			Help:    "Duration of a full cloud sync over the modem.",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 60},
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "envmon_records_dropped_total",
			Help: "Records a sink could not accept.",
		}, []string{"sink"}),
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "predictd_predictions_total",
			Help: "Predictions served by kind and class.",
		}, []string{"kind", "class"}),
		streamed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "predictd_stream_records_total",
			Help: "Records received over the gateway stream.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.driverReads,
		m.readings,
		m.prediction,
		m.syncs,
		m.syncDuration,
		m.dropped,
		m.predictions,
		m.streamed,
		m.httpRequestsTotal,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// DriverRead implements sensor.Observer
func (m *Metrics) DriverRead(driver string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.driverReads.WithLabelValues(driver, result).Inc()
}

// Record implements monitor.Recorder
func (m *Metrics) Record(rec *models.Record) {
	if m == nil || rec == nil {
		return
	}
	s := rec.Snapshot
	for q, v := range map[string]float64{
		"temperature_celsius": s.Temperature(),
		"humidity_percent":    s.Humidity(),
		"pressure_hpa":        s.Pressure(),
		"aqi":                 float64(s.AQI),
		"tvoc_ppb":            float64(s.TVOC),
		"eco2_ppm":            float64(s.ECO2),
		"pm1_0_ugm3":          float64(s.PM1_0),
		"pm2_5_ugm3":          float64(s.PM2_5),
		"pm10_ugm3":           float64(s.PM10),
	} {
		m.readings.WithLabelValues(q).Set(v)
	}
	m.prediction.WithLabelValues("fire").Set(float64(rec.Prediction.Fire))
	m.prediction.WithLabelValues("zone").Set(float64(rec.Prediction.Zone))
	m.prediction.WithLabelValues("alert").Set(float64(rec.Prediction.Alert))
}

// SyncCompleted implements cloud.Observer
func (m *Metrics) SyncCompleted(airOK, fireOK bool, took time.Duration) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues("air", result(airOK)).Inc()
	m.syncs.WithLabelValues("fire", result(fireOK)).Inc()
	m.syncDuration.Observe(took.Seconds())
}

// RecordDropped counts a record a sink had to drop
func (m *Metrics) RecordDropped(sink string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(sink).Inc()
}

// Prediction counts a prediction served by the prediction service
func (m *Metrics) Prediction(kind string, class int) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(kind, strconv.Itoa(class)).Inc()
}

// Streamed counts records received over the gateway stream
func (m *Metrics) Streamed(n int) {
	if m == nil {
		return
	}
	m.streamed.Add(float64(n))
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and their duration under route
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}
