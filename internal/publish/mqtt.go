// Package publish fans completed records out to telemetry systems
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/afroash/envmon/internal/config"
	"github.com/afroash/envmon/internal/models"
)

// ErrPublishTimeout is returned when the broker does not confirm a publish in time
var ErrPublishTimeout = errors.New("publish: broker did not confirm in time")

// DropCounter is told about every record a sink could not deliver
type DropCounter interface {
	RecordDropped(sink string)
}

// Publisher is the part of mqtt.Client the sink needs
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// DialMQTT connects to the broker, retrying with exponential backoff
func DialMQTT(ctx context.Context, cfg config.MQTTConfig, logger zerolog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 30 * time.Second

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = mqtt.NewClient(opts)
		token := client.Connect()
		if !token.WaitTimeout(10 * time.Second) {
			return ErrPublishTimeout
		}
		if err := token.Error(); err != nil {
			logger.Warn().Err(err).Str("broker", cfg.Broker).Msg("MQTT connect failed")
			return err
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 4), ctx))
	if err != nil {
		return nil, fmt.Errorf("publish: connect to %s: %w", cfg.Broker, err)
	}

	logger.Info().Str("broker", cfg.Broker).Msg("Connected to MQTT broker")
	return client, nil
}

// MQTTSinkConfig holds the sink settings
type MQTTSinkConfig struct {
	Topic          string
	QoS            byte
	QueueSize      int
	PublishTimeout time.Duration
	// consecutive failures before the breaker opens, and how long it stays open
	MaxFailures uint32
	OpenTimeout time.Duration
}

// MQTTSink publishes each record as JSON from its own goroutine
type MQTTSink struct {
	pub     Publisher
	cfg     MQTTSinkConfig
	breaker *gobreaker.CircuitBreaker
	logger  zerolog.Logger
	drops   DropCounter

	queue    chan *models.Record
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMQTTSink starts the publishing goroutine
func NewMQTTSink(pub Publisher, cfg MQTTSinkConfig, logger zerolog.Logger) *MQTTSink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}

	logger = logger.With().Str("component", "mqtt").Logger()
	s := &MQTTSink{
		pub:    pub,
		cfg:    cfg,
		logger: logger,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "mqtt",
			Timeout: cfg.OpenTimeout,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= cfg.MaxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
			},
		}),
		queue:    make(chan *models.Record, cfg.QueueSize),
		stopChan: make(chan struct{}),
	}

	s.wg.Add(1)
	go s.loop()
	return s
}

// SetDropCounter must be called before the first Record
func (s *MQTTSink) SetDropCounter(d DropCounter) {
	s.drops = d
}

// Record implements monitor.Recorder
func (s *MQTTSink) Record(rec *models.Record) {
	select {
	case s.queue <- rec.Copy():
	default:
		s.dropped(rec, errors.New("queue full"))
	}
}

func (s *MQTTSink) dropped(rec *models.Record, err error) {
	if s.drops != nil {
		s.drops.RecordDropped("mqtt")
	}
	s.logger.Warn().Err(err).Str("id", rec.ID).Msg("Record not published")
}

func (s *MQTTSink) loop() {
	defer s.wg.Done()
	for {
		select {
		case rec := <-s.queue:
			if err := s.Publish(rec); err != nil {
				s.dropped(rec, err)
			}
		case <-s.stopChan:
			return
		}
	}
}

// Publish sends one record through the circuit breaker
func (s *MQTTSink) Publish(rec *models.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("publish: encode record: %w", err)
	}

	_, err = s.breaker.Execute(func() (interface{}, error) {
		token := s.pub.Publish(s.cfg.Topic, s.cfg.QoS, false, payload)
		if !token.WaitTimeout(s.cfg.PublishTimeout) {
			return nil, ErrPublishTimeout
		}
		return nil, token.Error()
	})
	if err != nil {
		return fmt.Errorf("publish: %s: %w", s.cfg.Topic, err)
	}
	s.logger.Debug().Str("topic", s.cfg.Topic).Str("id", rec.ID).Msg("Published record")
	return nil
}

// BreakerState reports the circuit breaker state
func (s *MQTTSink) BreakerState() gobreaker.State {
	return s.breaker.State()
}

// Stop stops the publishing goroutine; queued records are discarded
func (s *MQTTSink) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.wg.Wait()
	})
}
