package wifi

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/clock"
	"github.com/afroash/envmon/internal/uart"
)

var (
	// ErrNoResponse is returned when an expected response does not arrive in time
	ErrNoResponse = errors.New("wifi: no response")

	// ErrNotConnected is returned when an operation needs an associated modem
	ErrNotConnected = errors.New("wifi: not connected")

	// ErrHTTPStatus is returned when the server answers a POST with a non-2xx status
	ErrHTTPStatus = errors.New("wifi: unexpected http status")
)

// pollStep is the serial read timeout used while waiting for responses
const pollStep = 20 * time.Millisecond

// Config holds the per-command timeouts
type Config struct {
	BufferSize        int
	SendSettle        time.Duration
	ResetWait         time.Duration
	ResetDrain        time.Duration
	ATTimeout         time.Duration
	ModeTimeout       time.Duration
	JoinTimeout       time.Duration
	IPTimeout         time.Duration
	ConnectTimeout    time.Duration
	PromptTimeout     time.Duration
	CompletionTimeout time.Duration
	CloseTimeout      time.Duration
	CloseWait         time.Duration
	Port              int
}

// DefaultConfig returns the timings used with the stock ESP8266 AT firmware
func DefaultConfig() Config {
	return Config{
		BufferSize:        512,
		SendSettle:        300 * time.Millisecond,
		ResetWait:         2 * time.Second,
		ResetDrain:        5 * time.Second,
		ATTimeout:         2 * time.Second,
		ModeTimeout:       3 * time.Second,
		JoinTimeout:       15 * time.Second,
		IPTimeout:         3 * time.Second,
		ConnectTimeout:    5 * time.Second,
		PromptTimeout:     3 * time.Second,
		CompletionTimeout: 10 * time.Second,
		CloseTimeout:      3 * time.Second,
		CloseWait:         1 * time.Second,
		Port:              80,
	}
}

// Modem drives an ESP8266 over its AT command interface
// It is not safe for concurrent use; one goroutine must own it
type Modem struct {
	port   uart.Port
	clock  clock.Clock
	cfg    Config
	logger zerolog.Logger

	timeoutOnce sync.Once
	chunk       [64]byte
	buf         []byte

	joined bool
	alive  bool
	ip     string
}

// NewModem creates a modem driver on an open serial port
func NewModem(port uart.Port, clk clock.Clock, cfg Config, logger zerolog.Logger) *Modem {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 512
	}
	return &Modem{
		port:   port,
		clock:  clk,
		cfg:    cfg,
		logger: logger.With().Str("driver", "esp8266").Logger(),
		buf:    make([]byte, 0, cfg.BufferSize),
	}
}

// Connected reports whether the modem joined a network and answered its last liveness probe
func (m *Modem) Connected() bool {
	return m.joined && m.alive
}

// IP returns the station address, if known
func (m *Modem) IP() string {
	return m.ip
}

// Send writes one command line and waits for the settle delay
// Unread input is discarded first so stale responses cannot match the new command
func (m *Modem) Send(cmd string) error {
	m.timeoutOnce.Do(func() {
		if err := m.port.SetReadTimeout(pollStep); err != nil {
			m.logger.Warn().Err(err).Msg("failed to set read timeout")
		}
	})
	if err := m.port.ResetInputBuffer(); err != nil {
		m.logger.Debug().Err(err).Msg("failed to reset input")
	}
	m.logger.Debug().Str("cmd", redact(cmd)).Msg("send")
	if _, err := m.port.Write(Line(cmd)); err != nil {
		return fmt.Errorf("wifi: send %q: %w", redact(cmd), err)
	}
	m.clock.Sleep(m.cfg.SendSettle)
	return nil
}

// AwaitResponse reads until expect appears or timeout passes
// Only the most recent BufferSize bytes are kept
func (m *Modem) AwaitResponse(timeout time.Duration, expect string) bool {
	_, ok := m.await(timeout, func(buf []byte) bool {
		return bytes.Contains(buf, []byte(expect))
	})
	return ok
}

func (m *Modem) await(timeout time.Duration, match func([]byte) bool) (string, bool) {
	deadline := m.clock.Now().Add(timeout)
	m.buf = m.buf[:0]
	for {
		n, err := m.port.Read(m.chunk[:])
		if err != nil {
			m.logger.Warn().Err(err).Msg("serial read failed")
			return string(m.buf), false
		}
		if n > 0 {
			m.buf = append(m.buf, m.chunk[:n]...)
			if over := len(m.buf) - m.cfg.BufferSize; over > 0 {
				copy(m.buf, m.buf[over:])
				m.buf = m.buf[:m.cfg.BufferSize]
			}
			if match(m.buf) {
				return string(m.buf), true
			}
		}
		if !m.clock.Now().Before(deadline) {
			return string(m.buf), false
		}
	}
}

// command sends cmd and waits for expect
func (m *Modem) command(cmd string, timeout time.Duration, expect string) error {
	if err := m.Send(cmd); err != nil {
		return err
	}
	if !m.AwaitResponse(timeout, expect) {
		return fmt.Errorf("wifi: %s: %w (want %q within %v)", redact(cmd), ErrNoResponse, expect, timeout)
	}
	return nil
}

// Connect resets the module and joins the given network
// Any failed step aborts and leaves the modem disconnected
func (m *Modem) Connect(ssid, password string) error {
	m.joined, m.alive, m.ip = false, false, ""

	if err := m.Send(Reset()); err != nil {
		return err
	}
	m.clock.Sleep(m.cfg.ResetWait)
	m.AwaitResponse(m.cfg.ResetDrain, RespReady)

	if err := m.command(Attention(), m.cfg.ATTimeout, RespOK); err != nil {
		return err
	}
	if err := m.command(StationMode(), m.cfg.ModeTimeout, RespOK); err != nil {
		return err
	}
	if err := m.command(Join(ssid, password), m.cfg.JoinTimeout, RespGotIP); err != nil {
		return err
	}
	m.joined, m.alive = true, true

	m.ip = m.queryIP()
	m.logger.Info().Str("ssid", ssid).Str("ip", m.ip).Msg("wifi connected")
	return nil
}

// queryIP asks for the station address; failures only cost the display an address
func (m *Modem) queryIP() string {
	if err := m.Send(IPQuery()); err != nil {
		return ""
	}
	resp, ok := m.await(m.cfg.IPTimeout, func(buf []byte) bool {
		return bytes.Contains(buf, []byte(RespOK))
	})
	if !ok {
		return ""
	}
	ip, _ := ParseStationIP(resp)
	return ip
}

// CheckLiveness probes the module, closing any stuck socket and retrying once on failure
func (m *Modem) CheckLiveness() bool {
	if m.command(Attention(), m.cfg.ATTimeout, RespOK) == nil {
		m.alive = true
		return true
	}

	m.logger.Debug().Msg("liveness probe failed, closing socket and retrying")
	if err := m.Send(Close()); err != nil {
		m.logger.Debug().Err(err).Msg("close failed")
	}
	m.clock.Sleep(m.cfg.CloseWait)

	m.alive = m.command(Attention(), m.cfg.ATTimeout, RespOK) == nil
	if !m.alive {
		m.logger.Warn().Msg("wifi module not responding")
	}
	return m.alive
}

// Post sends body as a JSON POST to host/path over a raw TCP socket
// Every step runs even after a failed wait so the socket is always closed
func (m *Modem) Post(host, path string, body []byte) error {
	req := HTTPRequest(host, path, body)
	var errs []error

	if err := m.command(Start(host, m.cfg.Port), m.cfg.ConnectTimeout, RespConnect); err != nil {
		errs = append(errs, err)
	}
	if err := m.command(SendLength(len(req)), m.cfg.PromptTimeout, RespPrompt); err != nil {
		errs = append(errs, err)
	}

	if _, err := m.port.Write(req); err != nil {
		errs = append(errs, fmt.Errorf("wifi: write request: %w", err))
	}
	resp, ok := m.await(m.cfg.CompletionTimeout, func(buf []byte) bool {
		return httpStatusRe.Match(buf)
	})
	if !ok {
		errs = append(errs, fmt.Errorf("wifi: %s%s: %w", host, path, ErrNoResponse))
	} else if code, _ := ParseHTTPStatus(resp); code < 200 || code > 299 {
		errs = append(errs, fmt.Errorf("wifi: %s%s: %w %d", host, path, ErrHTTPStatus, code))
	}

	if err := m.command(Close(), m.cfg.CloseTimeout, RespOK); err != nil {
		m.logger.Debug().Err(err).Msg("socket close not acknowledged")
	}

	if err := errors.Join(errs...); err != nil {
		m.logger.Warn().Err(err).Str("path", path).Msg("post failed")
		return err
	}
	m.logger.Debug().Str("path", path).Int("bytes", len(req)).Msg("post sent")
	return nil
}

// redact hides credentials in join commands
func redact(cmd string) string {
	if len(cmd) > 8 && cmd[:8] == "AT+CWJAP" {
		return "AT+CWJAP=****"
	}
	return cmd
}
