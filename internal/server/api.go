package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/models"
	"github.com/afroash/envmon/internal/storage"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 5000
	defaultDailyRange   = 7 * 24 * time.Hour
)

// APIHandler serves the record queries
type APIHandler struct {
	store   RecordStore
	history HistoricalStore
	logger  zerolog.Logger
}

// NewAPIHandler creates an API handler backed by the in-memory store only
func NewAPIHandler(store RecordStore, logger zerolog.Logger) *APIHandler {
	return &APIHandler{
		store:  store,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// NewAPIHandlerWithHistory also answers range and daily queries from persistent storage
func NewAPIHandlerWithHistory(store RecordStore, history HistoricalStore, logger zerolog.Logger) *APIHandler {
	api := NewAPIHandler(store, logger)
	api.history = history
	return api
}

// deviceParam returns the requested device, defaulting to the first known one
func (api *APIHandler) deviceParam(r *http.Request) string {
	if id := r.URL.Query().Get("device_id"); id != "" {
		return id
	}
	ids := api.store.GetDeviceIDs()
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

// HandleCurrent returns the current record for a device
func (api *APIHandler) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	deviceID := api.deviceParam(r)
	if deviceID == "" {
		http.Error(w, "No devices found", http.StatusNotFound)
		return
	}

	rec := api.store.GetCurrent(deviceID)
	if rec == nil {
		http.Error(w, "No records available", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleHistory returns recent records, newest first
// With from or to set the query goes to persistent storage
func (api *APIHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultHistoryLimit
	if s := q.Get("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			limit = min(parsed, maxHistoryLimit)
		}
	}

	if q.Get("from") != "" || q.Get("to") != "" {
		api.handleRange(w, r, limit)
		return
	}

	deviceID := api.deviceParam(r)
	if deviceID == "" {
		writeJSON(w, http.StatusOK, []*models.Record{})
		return
	}
	recs := api.store.GetLatest(deviceID, limit)
	if recs == nil {
		recs = []*models.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (api *APIHandler) handleRange(w http.ResponseWriter, r *http.Request, limit int) {
	if api.history == nil {
		http.Error(w, "History storage is not enabled", http.StatusNotImplemented)
		return
	}
	start, end, err := parseRange(r, 24*time.Hour)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	recs, err := api.history.GetRecordsInRange(r.URL.Query().Get("device_id"), start, end, limit)
	if err != nil {
		api.logger.Error().Err(err).Msg("History query failed")
		http.Error(w, "History query failed", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []*models.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// HandleDailyStats returns per-day aggregates, the last 7 days by default
func (api *APIHandler) HandleDailyStats(w http.ResponseWriter, r *http.Request) {
	if api.history == nil {
		http.Error(w, "History storage is not enabled", http.StatusNotImplemented)
		return
	}
	start, end, err := parseRange(r, defaultDailyRange)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	stats, err := api.history.GetDailyStats(r.URL.Query().Get("device_id"), start, end)
	if err != nil {
		api.logger.Error().Err(err).Msg("Daily stats query failed")
		http.Error(w, "Daily stats query failed", http.StatusInternalServerError)
		return
	}
	if stats == nil {
		stats = []storage.DailyStat{}
	}
	writeJSON(w, http.StatusOK, stats)
}

// StatsResponse combines memory and storage statistics
type StatsResponse struct {
	Memory  StoreStats            `json:"memory"`
	Storage *storage.StorageStats `json:"storage,omitempty"`
}

// HandleStats returns store statistics
func (api *APIHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Memory: api.store.Stats()}
	if api.history != nil {
		stats, err := api.history.GetStorageStats()
		if err != nil {
			api.logger.Warn().Err(err).Msg("Storage stats unavailable")
		} else {
			resp.Storage = stats
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleDevices lists the devices with records in memory
func (api *APIHandler) HandleDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, api.store.GetDeviceIDs())
}

// DashboardData contains all data for the dashboard
type DashboardData struct {
	CurrentRecord *models.Record `json:"current_record"`
	Stats         StoreStats     `json:"stats"`
	DeviceIDs     []string       `json:"device_ids"`
	LastUpdate    time.Time      `json:"last_update"`
}

// HandleDashboardData returns combined data for the dashboard
func (api *APIHandler) HandleDashboardData(w http.ResponseWriter, r *http.Request) {
	data := DashboardData{
		Stats:      api.store.Stats(),
		DeviceIDs:  api.store.GetDeviceIDs(),
		LastUpdate: time.Now(),
	}
	if deviceID := api.deviceParam(r); deviceID != "" {
		data.CurrentRecord = api.store.GetCurrent(deviceID)
	}
	writeJSON(w, http.StatusOK, data)
}

// parseRange reads RFC 3339 from/to parameters; to defaults to now and from to to minus def
func parseRange(r *http.Request, def time.Duration) (time.Time, time.Time, error) {
	q := r.URL.Query()
	end := time.Now()
	if s := q.Get("to"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, errBadTime("to", s)
		}
		end = t
	}
	start := end.Add(-def)
	if s := q.Get("from"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, time.Time{}, errBadTime("from", s)
		}
		start = t
	}
	if start.After(end) {
		return time.Time{}, time.Time{}, errInvalidRange
	}
	return start, end, nil
}
