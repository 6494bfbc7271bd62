package cloud

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/clock"
	"github.com/afroash/envmon/internal/models"
)

// Modem is the subset of the WiFi driver the syncer needs
type Modem interface {
	Connect(ssid, password string) error
	CheckLiveness() bool
	IP() string
	Post(host, path string, body []byte) error
}

// Observer is notified after every sync attempt
type Observer interface {
	SyncCompleted(airOK, fireOK bool, took time.Duration)
}

// Config holds the sync settings
type Config struct {
	Host     string
	DeviceID string
	SSID     string
	Password string
	// PostGap separates the two posts of one sync
	PostGap time.Duration
	// WallClock fills the time fields from the clock instead of placeholders
	WallClock bool
	// Reconnect rejoins the network after a failed liveness check
	Reconnect bool
}

// Syncer posts prediction payloads from its own goroutine
// It is the only user of the modem; triggers that arrive while a sync is running are dropped
type Syncer struct {
	modem    Modem
	clock    clock.Clock
	cfg      Config
	state    *models.ConnectivityState
	trigger  chan models.SensorSnapshot
	observer Observer
	logger   zerolog.Logger
}

// NewSyncer creates a syncer that publishes outcomes into state
func NewSyncer(modem Modem, clk clock.Clock, cfg Config, state *models.ConnectivityState, logger zerolog.Logger) *Syncer {
	if cfg.PostGap <= 0 {
		cfg.PostGap = 3 * time.Second
	}
	return &Syncer{
		modem:   modem,
		clock:   clk,
		cfg:     cfg,
		state:   state,
		trigger: make(chan models.SensorSnapshot),
		logger:  logger.With().Str("component", "cloud").Logger(),
	}
}

// SetObserver installs a sync observer
func (s *Syncer) SetObserver(o Observer) {
	s.observer = o
}

// Trigger hands a snapshot to the syncer
// It returns false without blocking when the syncer is busy
func (s *Syncer) Trigger(snap models.SensorSnapshot) bool {
	select {
	case s.trigger <- snap:
		return true
	default:
		s.logger.Debug().Msg("sync still running, trigger dropped")
		return false
	}
}

// Run joins the network and then serves triggers until ctx is done
func (s *Syncer) Run(ctx context.Context) {
	s.Connect()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-s.trigger:
			s.Sync(snap)
		}
	}
}

// Connect joins the configured network and records the result
func (s *Syncer) Connect() bool {
	if err := s.modem.Connect(s.cfg.SSID, s.cfg.Password); err != nil {
		s.logger.Warn().Err(err).Str("ssid", s.cfg.SSID).Msg("wifi connect failed")
		s.state.SetAssociated(false, "")
		return false
	}
	ip := s.modem.IP()
	s.state.SetAssociated(true, ip)
	s.logger.Info().Str("ssid", s.cfg.SSID).Str("ip", ip).Msg("wifi connected")
	return true
}

// Sync runs one sync: liveness check, then both posts
// A dead link marks both outcomes failed
func (s *Syncer) Sync(snap models.SensorSnapshot) {
	start := s.clock.Now()

	if !s.modem.CheckLiveness() {
		s.logger.Warn().Msg("wifi link down, skipping sync")
		s.state.SetAssociated(false, "")
		s.state.RecordSync(false, false, start)
		s.notify(false, false, start)
		if s.cfg.Reconnect {
			s.Connect()
		}
		return
	}
	s.state.SetAssociated(true, s.modem.IP())

	var at time.Time
	if s.cfg.WallClock {
		at = start
	}

	airOK := s.post(AirPath, NewAirPayload(s.cfg.DeviceID, snap, at))
	s.clock.Sleep(s.cfg.PostGap)
	fireOK := s.post(FirePath, NewFirePayload(s.cfg.DeviceID, snap))

	s.state.RecordSync(airOK, fireOK, s.clock.Now())
	s.notify(airOK, fireOK, start)
	s.logger.Info().Bool("air", airOK).Bool("fire", fireOK).Msg("sync finished")
}

func (s *Syncer) post(path string, payload any) bool {
	body, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Str("path", path).Msg("failed to encode payload")
		return false
	}
	if err := s.modem.Post(s.cfg.Host, path, body); err != nil {
		s.logger.Warn().Err(fmt.Errorf("post %s: %w", path, err)).Msg("prediction post failed")
		return false
	}
	s.logger.Debug().Str("path", path).Int("bytes", len(body)).Msg("posted")
	return true
}

func (s *Syncer) notify(airOK, fireOK bool, start time.Time) {
	if s.observer != nil {
		s.observer.SyncCompleted(airOK, fireOK, s.clock.Now().Sub(start))
	}
}
