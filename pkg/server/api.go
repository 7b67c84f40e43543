package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/bitechdev/TrackSpec/pkg/config"
	"github.com/bitechdev/TrackSpec/pkg/detection"
	"github.com/bitechdev/TrackSpec/pkg/gqlclient"
	"github.com/bitechdev/TrackSpec/pkg/logger"
	"github.com/bitechdev/TrackSpec/pkg/metrics"
	"github.com/bitechdev/TrackSpec/pkg/middleware"
	"github.com/bitechdev/TrackSpec/pkg/relay"
	"github.com/bitechdev/TrackSpec/pkg/store"
)

// UpstreamClient is the one-shot GraphQL surface the API needs.
// Implemented by gqlclient.Client.
type UpstreamClient interface {
	FetchDevices(ctx context.Context) ([]detection.Device, error)
	RunAllQueries(ctx context.Context) *gqlclient.QueryResults
	RunAllMutations(ctx context.Context) *gqlclient.MutationResults
}

// SessionRegistry exposes the live upstream sessions.
// Implemented by upstream.Registry.
type SessionRegistry interface {
	Active() []string
	Count() int
}

// API serves the REST surface: device inventory, background query and
// mutation jobs, and the local detection database.
type API struct {
	cfg      *config.Config
	store    *store.Store
	client   UpstreamClient
	registry SessionRegistry
	relay    *relay.Relay // nil when disabled

	queryJob    *JobRunner
	mutationJob *JobRunner
}

// NewAPI creates the REST API
func NewAPI(cfg *config.Config, st *store.Store, client UpstreamClient, registry SessionRegistry, r *relay.Relay) *API {
	return &API{
		cfg:         cfg,
		store:       st,
		client:      client,
		registry:    registry,
		relay:       r,
		queryJob:    NewJobRunner("queries"),
		mutationJob: NewJobRunner("mutations"),
	}
}

// Routes registers the API routes on a subrouter with auth and rate
// limiting applied.
func (a *API) Routes(router *mux.Router) {
	api := router.PathPrefix("/api").Subrouter()

	api.Use(middleware.PanicRecovery)
	api.Use(middleware.CORS(a.cfg.Middleware.CORSOrigins))
	api.Use(middleware.NewRateLimiter(a.cfg.Middleware.RateLimitRPS, a.cfg.Middleware.RateLimitBurst).Middleware)
	api.Use(middleware.BasicAuth(a.cfg.Auth))
	api.Use(metrics.GetProvider().Middleware)

	api.HandleFunc("/devices", a.handleDevices).Methods(http.MethodGet)
	api.HandleFunc("/sessions", a.handleSessions).Methods(http.MethodGet)

	api.HandleFunc("/run-queries", a.handleRunQueries).Methods(http.MethodPost)
	api.HandleFunc("/query-results", a.handleQueryResults).Methods(http.MethodGet)
	api.HandleFunc("/run-mutations", a.handleRunMutations).Methods(http.MethodPost)
	api.HandleFunc("/mutation-results", a.handleMutationResults).Methods(http.MethodGet)

	api.HandleFunc("/relay/stats", a.handleRelayStats).Methods(http.MethodGet)

	api.HandleFunc("/database/stats", a.handleDatabaseStats).Methods(http.MethodGet)
	api.HandleFunc("/database/detection-stats", a.handleDetectionStats).Methods(http.MethodGet)
	api.HandleFunc("/database/recent-detections", a.handleRecentDetections).Methods(http.MethodGet)
	api.HandleFunc("/database/detections-by-time", a.handleDetectionsByTime).Methods(http.MethodGet)
	api.HandleFunc("/database/tags", a.handleTags).Methods(http.MethodGet)
	api.HandleFunc("/database/longest-tracks-per-tag", a.handleLongestTracks).Methods(http.MethodGet)
}

// handleDevices fetches the device inventory from upstream and refreshes
// the local device table as a side effect.
func (a *API) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := a.client.FetchDevices(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error())
		return
	}

	for i := range devices {
		if err := a.store.InsertDevice(r.Context(), &devices[i]); err != nil {
			logger.Warn("Failed to upsert device %s: %v", devices[i].ID, err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"count":   len(devices),
	})
}

func (a *API) handleSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active": a.registry.Active(),
		"count":  a.registry.Count(),
	})
}

func (a *API) handleRunQueries(w http.ResponseWriter, r *http.Request) {
	err := a.queryJob.Start(func(ctx context.Context) (interface{}, error) {
		return a.client.RunAllQueries(ctx), nil
	})
	if err != nil {
		writeError(w, http.StatusConflict, "job_running", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (a *API) handleQueryResults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.queryJob.Snapshot())
}

func (a *API) handleRunMutations(w http.ResponseWriter, r *http.Request) {
	err := a.mutationJob.Start(func(ctx context.Context) (interface{}, error) {
		return a.client.RunAllMutations(ctx), nil
	})
	if err != nil {
		writeError(w, http.StatusConflict, "job_running", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

func (a *API) handleMutationResults(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.mutationJob.Snapshot())
}

func (a *API) handleRelayStats(w http.ResponseWriter, r *http.Request) {
	if a.relay == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}

	stats, err := a.relay.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "relay_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": true, "stats": stats})
}

func (a *API) handleDatabaseStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.store.DatabaseStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleDetectionStats(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	hours := queryInt(r, "hours", 24)

	stats, err := a.store.DetectionStatsByDevice(r.Context(), deviceID, hours)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"device_id": deviceID,
		"hours":     hours,
		"stats":     stats,
	})
}

func (a *API) handleRecentDetections(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	deviceID := r.URL.Query().Get("device_id")

	rows, err := a.store.RecentDetections(r.Context(), limit, deviceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"detections": rows,
		"count":      len(rows),
	})
}

func (a *API) handleDetectionsByTime(w http.ResponseWriter, r *http.Request) {
	startTime := r.URL.Query().Get("start_time")
	endTime := r.URL.Query().Get("end_time")
	if startTime == "" || endTime == "" {
		writeError(w, http.StatusBadRequest, "missing_parameter", "start_time and end_time are required")
		return
	}
	deviceID := r.URL.Query().Get("device_id")

	rows, err := a.store.DetectionsByTimeRange(r.Context(), startTime, endTime, deviceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"detections": rows,
		"count":      len(rows),
	})
}

func (a *API) handleTags(w http.ResponseWriter, r *http.Request) {
	tags, err := a.store.AllTags(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tags": tags})
}

func (a *API) handleLongestTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := a.store.LongestTrackPerTag(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "database_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tracks": tracks})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{"error": code, "message": message})
}
