package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/models"
)

const (
	writeWait = 10 * time.Second
	// the gateway heartbeats every 30s by default
	readWait = 90 * time.Second
)

// StreamObserver is told how many records each stream message carried
type StreamObserver interface {
	Streamed(n int)
}

// Handler accepts the gateway record streams
type Handler struct {
	upgrader       websocket.Upgrader
	authToken      string
	store          RecordStore
	writer         RecordWriter
	observer       StreamObserver
	logger         zerolog.Logger
	allowedOrigins []string

	mutex         sync.RWMutex
	activeDevices map[string]*DeviceConnection
}

// DeviceConnection is one connected gateway
type DeviceConnection struct {
	DeviceID    string    `json:"device_id"`
	SessionID   string    `json:"session_id"`
	RemoteAddr  string    `json:"remote_addr"`
	Pending     int       `json:"pending"`
	LastSeen    time.Time `json:"last_seen"`
	ConnectedAt time.Time `json:"connected_at"`
}

// NewHandler creates a stream handler that keeps records in store
func NewHandler(authToken string, store RecordStore, logger zerolog.Logger, allowedOrigins ...string) *Handler {
	h := &Handler{
		authToken:      authToken,
		store:          store,
		logger:         logger.With().Str("component", "stream").Logger(),
		allowedOrigins: allowedOrigins,
		activeDevices:  make(map[string]*DeviceConnection),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// SetDBWriter persists every valid streamed record as well
func (h *Handler) SetDBWriter(w RecordWriter) {
	h.writer = w
}

func (h *Handler) SetObserver(o StreamObserver) {
	h.observer = o
}

// checkOrigin allows requests without an Origin header and those from the allowlist
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}
	h.logger.Warn().Str("origin", origin).Msg("Rejected stream: origin not in allowlist")
	return false
}

// ServeHTTP authenticates and upgrades a gateway connection
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.validateToken(r.Header.Get("Authorization")) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}
	h.handleConnection(conn)
}

func (h *Handler) validateToken(authHeader string) bool {
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || h.authToken == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(h.authToken)) == 1
}

func (h *Handler) handleConnection(conn *websocket.Conn) {
	connKey := conn.RemoteAddr().String()
	now := time.Now()

	h.mutex.Lock()
	h.activeDevices[connKey] = &DeviceConnection{
		DeviceID:    connKey,
		RemoteAddr:  connKey,
		LastSeen:    now,
		ConnectedAt: now,
	}
	h.mutex.Unlock()

	defer conn.Close()
	defer h.removeDevice(connKey)

	for {
		conn.SetReadDeadline(time.Now().Add(readWait))
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("Stream error")
			}
			return
		}
		h.handleMessage(conn, connKey, &msg)
	}
}

func (h *Handler) handleMessage(conn *websocket.Conn, connKey string, msg *models.Message) {
	h.logger.Debug().Str("type", string(msg.Type)).Msg("Received message")

	switch msg.Type {
	case models.MessageTypeRecord:
		var rec models.Record
		if err := msg.UnmarshalPayload(&rec); err != nil {
			h.sendError(conn, "bad_payload", err.Error())
			return
		}
		h.store1(&rec)
		h.observe(1)
	case models.MessageTypeBatch:
		var batch models.BatchMessage
		if err := msg.UnmarshalPayload(&batch); err != nil {
			h.sendError(conn, "bad_payload", err.Error())
			return
		}
		stored := 0
		for i := range batch.Records {
			if h.store1(&batch.Records[i]) {
				stored++
			}
		}
		h.observe(len(batch.Records))
		h.logger.Info().Int("count", batch.Count).Int("stored", stored).Msg("Batch received")
	case models.MessageTypeHeartbeat:
		var hb models.HeartbeatMessage
		if err := msg.UnmarshalPayload(&hb); err != nil {
			h.sendError(conn, "bad_payload", err.Error())
			return
		}
		h.handleHeartbeat(connKey, hb)
	default:
		h.logger.Warn().Str("type", string(msg.Type)).Msg("Unknown message type")
		h.sendError(conn, "unknown_type", string(msg.Type))
		return
	}

	h.touch(connKey)
	h.send(conn, models.MessageTypeAck, models.AckMessage{MessageID: msg.ID, Status: "ok"})
}

// store1 keeps one valid record; invalid records are logged and skipped
func (h *Handler) store1(rec *models.Record) bool {
	if !rec.IsValid() {
		h.logger.Warn().Str("device_id", rec.DeviceID).Str("id", rec.ID).Msg("Record ignored: invalid")
		return false
	}
	h.store.Add(rec)
	if h.writer != nil {
		h.writer.Write(rec.Copy())
	}
	h.logger.Debug().Str("device_id", rec.DeviceID).Stringer("alert", rec.Prediction.Alert).Msg("Record stored")
	return true
}

func (h *Handler) observe(n int) {
	if h.observer != nil {
		h.observer.Streamed(n)
	}
}

func (h *Handler) handleHeartbeat(connKey string, hb models.HeartbeatMessage) {
	h.mutex.Lock()
	if dev, ok := h.activeDevices[connKey]; ok {
		if hb.DeviceID != "" && dev.DeviceID != hb.DeviceID {
			h.logger.Info().Str("device_id", hb.DeviceID).Str("session_id", hb.SessionID).Msg("Gateway registered")
			dev.DeviceID = hb.DeviceID
		}
		dev.SessionID = hb.SessionID
		dev.Pending = hb.BufferSize
	}
	h.mutex.Unlock()

	h.logger.Debug().Str("device_id", hb.DeviceID).Int64("uptime", hb.Uptime).Int("pending", hb.BufferSize).Msg("Heartbeat received")
}

func (h *Handler) touch(connKey string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	if dev, ok := h.activeDevices[connKey]; ok {
		dev.LastSeen = time.Now()
	}
}

func (h *Handler) sendError(conn *websocket.Conn, code, message string) {
	h.logger.Warn().Str("code", code).Str("msg", message).Msg("Rejected stream message")
	h.send(conn, models.MessageTypeError, models.ErrorMessage{Code: code, Message: message})
}

func (h *Handler) send(conn *websocket.Conn, t models.MessageType, payload any) {
	msg, err := models.NewMessage(t, payload)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to create message")
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.logger.Warn().Err(err).Str("type", string(t)).Msg("Failed to send message")
	}
}

func (h *Handler) removeDevice(connKey string) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	deviceID := connKey
	if dev, ok := h.activeDevices[connKey]; ok {
		deviceID = dev.DeviceID
	}
	delete(h.activeDevices, connKey)
	h.logger.Info().Str("device_id", deviceID).Msg("Gateway disconnected")
}

// GetActiveDevices returns the currently connected gateways
func (h *Handler) GetActiveDevices() []DeviceConnection {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	devices := make([]DeviceConnection, 0, len(h.activeDevices))
	for _, dev := range h.activeDevices {
		devices = append(devices, *dev)
	}
	return devices
}
