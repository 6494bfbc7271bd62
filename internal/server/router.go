package server

import (
	"io"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/afroash/envmon/internal/metrics"
)

// Routes selects the handlers a router serves; nil handlers are left out
type Routes struct {
	Version string
	API     *APIHandler
	Predict *PredictHandler
	Stream  *Handler
	Metrics *metrics.Metrics
}

// NewRouter builds the HTTP routes
// Every route except the websocket stream is counted by the metrics middleware
func NewRouter(rt Routes) *mux.Router {
	r := mux.NewRouter()

	handle := func(path string, h http.HandlerFunc, methods ...string) {
		r.Handle(path, rt.Metrics.WrapHandler(path, h)).Methods(methods...)
	}

	handle("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": rt.Version})
	}, http.MethodGet)
	r.Handle("/metrics", rt.Metrics.Handler()).Methods(http.MethodGet)

	if rt.API != nil {
		handle("/api/current", rt.API.HandleCurrent, http.MethodGet)
		handle("/api/history", rt.API.HandleHistory, http.MethodGet)
		handle("/api/stats", rt.API.HandleStats, http.MethodGet)
		handle("/api/daily", rt.API.HandleDailyStats, http.MethodGet)
		handle("/api/devices", rt.API.HandleDevices, http.MethodGet)
		handle("/api/dashboard-data", rt.API.HandleDashboardData, http.MethodGet)
	}
	if rt.Predict != nil {
		handle("/api/predict", rt.Predict.HandleAir, http.MethodPost)
		handle("/api/predict-fire", rt.Predict.HandleFire, http.MethodPost)
		handle("/api/latest", rt.Predict.HandleLatest, http.MethodGet)
	}
	if rt.Stream != nil {
		r.Handle("/stream", rt.Stream).Methods(http.MethodGet)
		handle("/api/gateways", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, rt.Stream.GetActiveDevices())
		}, http.MethodGet)
	}
	return r
}

// Wrap adds access logging in combined log format and, when origins are given, CORS
func Wrap(h http.Handler, accessLog io.Writer, origins ...string) http.Handler {
	if len(origins) > 0 {
		h = handlers.CORS(
			handlers.AllowedOrigins(origins),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
		)(h)
	}
	return handlers.CombinedLoggingHandler(accessLog, h)
}
