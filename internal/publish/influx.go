package publish

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/config"
	"github.com/afroash/envmon/internal/models"
)

// Measurement is the InfluxDB measurement every record is written to
const Measurement = "environment"

// PointWriter is the part of api.WriteAPI the sink needs
type PointWriter interface {
	WritePoint(point *write.Point)
	Flush()
	Errors() <-chan error
}

// InfluxSink writes each record as a point; the write API batches and sends asynchronously
type InfluxSink struct {
	client influxdb2.Client
	writer PointWriter
	logger zerolog.Logger
	drops  DropCounter
}

// OpenInfluxSink creates a client for cfg and a sink on its write API
func OpenInfluxSink(cfg config.InfluxConfig, logger zerolog.Logger) *InfluxSink {
	opts := influxdb2.DefaultOptions().
		SetBatchSize(50).
		SetFlushInterval(uint((10 * time.Second).Milliseconds()))
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	s := NewInfluxSink(client.WriteAPI(cfg.Org, cfg.Bucket), logger)
	s.client = client
	s.logger.Info().Str("url", cfg.URL).Str("bucket", cfg.Bucket).Msg("InfluxDB sink ready")
	return s
}

// NewInfluxSink wraps a write API and logs its asynchronous errors
func NewInfluxSink(w PointWriter, logger zerolog.Logger) *InfluxSink {
	s := &InfluxSink{
		writer: w,
		logger: logger.With().Str("component", "influx").Logger(),
	}
	go func() {
		for err := range w.Errors() {
			if s.drops != nil {
				s.drops.RecordDropped("influx")
			}
			s.logger.Warn().Err(err).Msg("InfluxDB write failed")
		}
	}()
	return s
}

// SetDropCounter must be called before the first Record
func (s *InfluxSink) SetDropCounter(d DropCounter) {
	s.drops = d
}

// Record implements monitor.Recorder
func (s *InfluxSink) Record(rec *models.Record) {
	s.writer.WritePoint(RecordPoint(rec))
}

// Close flushes pending points and closes the client
func (s *InfluxSink) Close() {
	s.writer.Flush()
	if s.client != nil {
		s.client.Close()
	}
}

// RecordPoint converts a record into a point tagged by device
func RecordPoint(rec *models.Record) *write.Point {
	snap := rec.Snapshot
	tags := map[string]string{
		"device_id": rec.DeviceID,
	}
	fields := map[string]interface{}{
		"temperature": snap.Temperature(),
		"humidity":    snap.Humidity(),
		"pressure":    snap.Pressure(),
		"aqi":         int64(snap.AQI),
		"tvoc":        int64(snap.TVOC),
		"eco2":        int64(snap.ECO2),
		"pm1_0":       int64(snap.PM1_0),
		"pm2_5":       int64(snap.PM2_5),
		"pm10":        int64(snap.PM10),
		"nc0_3":       int64(snap.Particles.Over0_3um),
		"fire":        int64(rec.Prediction.Fire),
		"zone":        int64(rec.Prediction.Zone),
		"alert":       int64(rec.Prediction.Alert),
	}
	return influxdb2.NewPoint(Measurement, tags, fields, rec.Timestamp)
}
