// Package uplink streams records from the gateway to the prediction service over a websocket
package uplink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/models"
)

// ErrNotConnected is returned by sends while the stream is down
var ErrNotConnected = errors.New("uplink: not connected")

// ConnectionState represents the current state of the connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// DropCounter is told about every record evicted from the buffer
type DropCounter interface {
	RecordDropped(sink string)
}

// Connection owns the websocket to the prediction service and the buffer of records to send
type Connection struct {
	url                  string
	authToken            string
	device               *models.DeviceInfo
	buffer               *RecordBuffer
	logger               zerolog.Logger
	drops                DropCounter
	connectTimeout       time.Duration
	reconnectInterval    time.Duration
	maxReconnectInterval time.Duration
	pingInterval         time.Duration
	pongTimeout          time.Duration
	flushInterval        time.Duration
	batchSize            int

	notify chan struct{}

	stateMutex sync.RWMutex
	state      ConnectionState
	conn       *websocket.Conn

	// serializes writes; gorilla allows one concurrent writer
	writeMutex sync.Mutex

	lastPongMutex sync.RWMutex
	lastPong      time.Time
}

// ConnectionConfig holds configuration for the connection
type ConnectionConfig struct {
	URL                  string
	AuthToken            string
	ConnectTimeout       time.Duration
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration
	PongTimeout          time.Duration
	FlushInterval        time.Duration
	BatchSize            int
	BufferSize           int
}

// NewConnection creates a disconnected stream; Run connects it
func NewConnection(config ConnectionConfig, device *models.DeviceInfo, logger zerolog.Logger) *Connection {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = time.Second
	}
	if config.MaxReconnectInterval < config.ReconnectInterval {
		config.MaxReconnectInterval = config.ReconnectInterval
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.PongTimeout <= 0 {
		config.PongTimeout = 2 * config.PingInterval
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}

	return &Connection{
		url:                  config.URL,
		authToken:            config.AuthToken,
		device:               device,
		buffer:               NewRecordBuffer(config.BufferSize, true),
		logger:               logger.With().Str("component", "uplink").Logger(),
		connectTimeout:       config.ConnectTimeout,
		reconnectInterval:    config.ReconnectInterval,
		maxReconnectInterval: config.MaxReconnectInterval,
		pingInterval:         config.PingInterval,
		pongTimeout:          config.PongTimeout,
		flushInterval:        config.FlushInterval,
		batchSize:            config.BatchSize,
		notify:               make(chan struct{}, 1),
	}
}

// SetDropCounter must be called before the first Record
func (c *Connection) SetDropCounter(d DropCounter) {
	c.drops = d
}

// Buffer exposes the pending records
func (c *Connection) Buffer() *RecordBuffer {
	return c.buffer
}

func (c *Connection) setState(state ConnectionState) {
	c.stateMutex.Lock()
	c.state = state
	c.stateMutex.Unlock()
	c.logger.Info().Str("state", state.String()).Msg("Connection state updated")
}

// State returns the current connection state
func (c *Connection) State() ConnectionState {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()
	return c.state
}

// IsConnected returns true if currently connected
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// Record implements monitor.Recorder; it never blocks on the network
func (c *Connection) Record(rec *models.Record) {
	full := c.buffer.Size() >= c.buffer.Capacity()
	c.buffer.Push(rec.Copy())
	if full && c.drops != nil {
		c.drops.RecordDropped("uplink")
	}
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Connect dials the prediction service and registers the device
func (c *Connection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	c.logger.Info().Str("url", c.url).Msg("Connecting to prediction service")

	dialer := websocket.Dialer{
		HandshakeTimeout: c.connectTimeout,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.authToken)

	conn, resp, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		c.setState(StateDisconnected)
		if resp != nil {
			return fmt.Errorf("uplink: dial %s: %w (status %d)", c.url, err, resp.StatusCode)
		}
		return fmt.Errorf("uplink: dial %s: %w", c.url, err)
	}
	resp.Body.Close()

	c.stateMutex.Lock()
	c.conn = conn
	c.stateMutex.Unlock()
	c.updateLastPong()
	c.setState(StateConnected)

	if err := c.sendHeartbeat(); err != nil {
		c.disconnect()
		return fmt.Errorf("uplink: register: %w", err)
	}
	return nil
}

// Run keeps the stream connected until ctx is cancelled, backing off between attempts
func (c *Connection) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.reconnectInterval
	b.MaxInterval = c.maxReconnectInterval
	b.MaxElapsedTime = 0

	for {
		err := backoff.RetryNotify(
			func() error { return c.Connect(ctx) },
			backoff.WithContext(b, ctx),
			func(err error, delay time.Duration) {
				c.logger.Warn().Err(err).Dur("delay", delay).Msg("Connection failed")
			},
		)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		c.runMessageLoops(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Info().Int("pending", c.buffer.Size()).Msg("Connection lost, will reconnect")
	}
}

// runMessageLoops runs until any loop fails or ctx is cancelled, then closes the socket
func (c *Connection) runMessageLoops(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var wg sync.WaitGroup
	loops := []func(context.Context){c.readLoop, c.heartbeatLoop, c.flushLoop}
	for _, loop := range loops {
		wg.Add(1)
		go func(loop func(context.Context)) {
			defer wg.Done()
			defer cancel()
			loop(ctx)
		}(loop)
	}

	<-ctx.Done()
	if parent.Err() != nil {
		c.writeMutex.Lock()
		c.currentConn().WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMutex.Unlock()
	}
	// unblocks readLoop
	c.disconnect()
	wg.Wait()
}

func (c *Connection) currentConn() *websocket.Conn {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()
	return c.conn
}

func (c *Connection) disconnect() {
	c.stateMutex.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.state = StateDisconnected
	c.stateMutex.Unlock()
	c.logger.Info().Msg("Connection disconnected")
}

// Send sends a single record
func (c *Connection) Send(rec *models.Record) error {
	msg, err := models.NewMessage(models.MessageTypeRecord, rec)
	if err != nil {
		return fmt.Errorf("uplink: encode record: %w", err)
	}
	return c.sendMessage(msg)
}

// SendBatch sends multiple records in one message
func (c *Connection) SendBatch(recs []*models.Record) error {
	if len(recs) == 0 {
		return nil
	}
	batch := models.BatchMessage{
		Records: make([]models.Record, len(recs)),
		Count:   len(recs),
	}
	for i, r := range recs {
		batch.Records[i] = *r
	}
	msg, err := models.NewMessage(models.MessageTypeBatch, batch)
	if err != nil {
		return fmt.Errorf("uplink: encode batch: %w", err)
	}
	return c.sendMessage(msg)
}

func (c *Connection) sendMessage(msg *models.Message) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	conn := c.currentConn()

	c.writeMutex.Lock()
	defer c.writeMutex.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(msg)
}

// flushLoop drains the buffer whenever a record arrives or the flush interval passes
func (c *Connection) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		if err := c.flush(); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to send records")
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-c.notify:
		case <-ticker.C:
		}
	}
}

func (c *Connection) flush() error {
	for {
		batch := c.buffer.PopBatch(c.batchSize)
		if len(batch) == 0 {
			return nil
		}

		var err error
		if len(batch) == 1 {
			err = c.Send(batch[0])
		} else {
			err = c.SendBatch(batch)
		}
		if err != nil {
			c.buffer.Requeue(batch)
			return err
		}
		c.logger.Debug().Int("count", len(batch)).Msg("Sent records")
	}
}

func (c *Connection) readLoop(ctx context.Context) {
	conn := c.currentConn()
	for ctx.Err() == nil {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("Read error")
			}
			return
		}
		c.handleMessage(&msg)
	}
}

func (c *Connection) handleMessage(msg *models.Message) {
	switch msg.Type {
	case models.MessageTypeAck:
		c.updateLastPong()
	case models.MessageTypeError:
		var errMsg models.ErrorMessage
		if err := msg.UnmarshalPayload(&errMsg); err == nil {
			c.logger.Warn().Str("code", errMsg.Code).Str("msg", errMsg.Message).Msg("Server error")
		}
	case models.MessageTypeConfig:
		var cfg models.ConfigMessage
		if err := msg.UnmarshalPayload(&cfg); err == nil {
			c.logger.Info().Int("sample_interval", cfg.SampleInterval).Msg("Received config update")
		}
	default:
		c.logger.Debug().Str("type", string(msg.Type)).Msg("Unknown message type")
	}
}

func (c *Connection) updateLastPong() {
	c.lastPongMutex.Lock()
	defer c.lastPongMutex.Unlock()
	c.lastPong = time.Now()
}

func (c *Connection) timeSinceLastPong() time.Duration {
	c.lastPongMutex.RLock()
	defer c.lastPongMutex.RUnlock()
	return time.Since(c.lastPong)
}

// heartbeatLoop sends periodic heartbeats and gives up when acks stop arriving
func (c *Connection) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.timeSinceLastPong() > c.pongTimeout {
				c.logger.Warn().Msg("No ack received, connection appears dead")
				return
			}
			if err := c.sendHeartbeat(); err != nil {
				c.logger.Warn().Err(err).Msg("Failed to send heartbeat")
				return
			}
		}
	}
}

func (c *Connection) sendHeartbeat() error {
	heartbeat := models.HeartbeatMessage{
		DeviceID:   c.device.ID,
		SessionID:  c.device.SessionID,
		Uptime:     int64(c.device.Uptime().Seconds()),
		BufferSize: c.buffer.Size(),
	}
	msg, err := models.NewMessage(models.MessageTypeHeartbeat, heartbeat)
	if err != nil {
		return err
	}
	return c.sendMessage(msg)
}
