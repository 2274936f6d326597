package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/asadbukhari/weather-alert-cache/internal/alerts"
	"github.com/asadbukhari/weather-alert-cache/internal/fetch"
	"github.com/asadbukhari/weather-alert-cache/internal/models"
	"github.com/asadbukhari/weather-alert-cache/internal/store"
	"github.com/asadbukhari/weather-alert-cache/internal/tasks"
	"github.com/asadbukhari/weather-alert-cache/internal/validation"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	fetcher  *fetch.Orchestrator
	pipeline *alerts.Pipeline
	runner   *tasks.Runner
	regions  models.RegionTable
	logger   *zap.Logger
}

// NewHandler returns a new Handler.
func NewHandler(
	st *store.Store,
	fetcher *fetch.Orchestrator,
	pipeline *alerts.Pipeline,
	runner *tasks.Runner,
	regions models.RegionTable,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		store:    st,
		fetcher:  fetcher,
		pipeline: pipeline,
		runner:   runner,
		regions:  regions,
		logger:   logger,
	}
}

// scopeRequest is the JSON body shared by generate and purge endpoints.
type scopeRequest struct {
	Region       string   `json:"region"`
	Locations    []string `json:"locations"`
	ForecastDays int      `json:"forecast_days"`
}

// parseScope validates a scope body and resolves its coordinate set.
// Returns false after writing the error response.
func (h *Handler) parseScope(w http.ResponseWriter, r *http.Request) (scopeRequest, map[string]models.Coordinates, bool) {
	var req scopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return req, nil, false
	}

	region, err := validation.ValidateRegion(req.Region)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REGION", err.Error())
		return req, nil, false
	}
	req.Region = region

	if req.ForecastDays == 0 {
		req.ForecastDays = 1
	}
	if err := validation.ValidateForecastDays(req.ForecastDays); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_FORECAST_DAYS", err.Error())
		return req, nil, false
	}

	coords, ok := h.regions.LocationsFor(req.Region, req.Locations)
	if !ok {
		writeError(w, r, http.StatusBadRequest, "UNKNOWN_REGION", "unknown region: "+req.Region)
		return req, nil, false
	}
	if len(coords) == 0 {
		writeError(w, r, http.StatusBadRequest, "UNKNOWN_LOCATIONS", "no known locations in request")
		return req, nil, false
	}
	return req, coords, true
}

// pathScope extracts and validates {region}/{location}/{days} path segments.
func pathScope(w http.ResponseWriter, r *http.Request) (region, location string, days int, ok bool) {
	vars := mux.Vars(r)

	region, err := validation.ValidateRegion(vars["region"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REGION", err.Error())
		return "", "", 0, false
	}
	location, err = validation.ValidateLocation(vars["location"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return "", "", 0, false
	}
	days, err = strconv.Atoi(vars["days"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_FORECAST_DAYS", "forecast days must be an integer")
		return "", "", 0, false
	}
	if err := validation.ValidateForecastDays(days); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_FORECAST_DAYS", err.Error())
		return "", "", 0, false
	}
	return region, location, days, true
}

// GetForecast handles GET /forecast/{region}/{location}/{days}.
// Serves only from cache; POST /generate/forecast fills it.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	region, location, days, ok := pathScope(w, r)
	if !ok {
		return
	}

	key := models.WeatherCacheKey(days, region, location)
	payload, _, found, err := h.store.GetWeather(r.Context(), key)
	if err != nil {
		logStoreError(r, err)
	}
	if !found {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"location": location,
			"days":     days,
			"forecast": nil,
			"error":    "no forecast data available",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"location": location,
		"days":     days,
		"forecast": payload,
	})
}

// GetAlert handles GET /alert/{region}/{location}/{days}.
func (h *Handler) GetAlert(w http.ResponseWriter, r *http.Request) {
	region, location, days, ok := pathScope(w, r)
	if !ok {
		return
	}

	text, found, err := h.store.GetAlert(r.Context(), region, location, days)
	if err != nil {
		logStoreError(r, err)
	}
	if !found {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"location": location,
			"alert":    "No alert generated yet.",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"location": location,
		"alert":    text,
	})
}

// GetAllAlerts handles GET /alerts/{days}. Every known region and location is
// present in the response; locations without a live alert get a placeholder.
func (h *Handler) GetAllAlerts(w http.ResponseWriter, r *http.Request) {
	days, err := strconv.Atoi(mux.Vars(r)["days"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_FORECAST_DAYS", "forecast days must be an integer")
		return
	}
	if err := validation.ValidateForecastDays(days); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_FORECAST_DAYS", err.Error())
		return
	}

	all := make(map[string]map[string]string, len(h.regions))
	for region := range h.regions {
		all[region] = make(map[string]string)
		for _, location := range h.regions.LocationNames(region) {
			all[region][location] = "No alert generated yet."
		}
	}

	live, err := h.store.GetAllAlerts(r.Context(), days)
	if err != nil {
		logStoreError(r, err)
	}
	for region, locations := range live {
		if all[region] == nil {
			continue
		}
		for location, text := range locations {
			if _, known := all[region][location]; known {
				all[region][location] = text
			}
		}
	}

	writeJSON(w, http.StatusOK, all)
}

// PostGenerateForecast handles POST /generate/forecast. Synchronous bulk
// fetch with forced refresh; returns how many locations resolved.
func (h *Handler) PostGenerateForecast(w http.ResponseWriter, r *http.Request) {
	req, coords, ok := h.parseScope(w, r)
	if !ok {
		return
	}

	resolved, err := h.fetcher.Resolve(r.Context(), req.Region, coords, req.ForecastDays, fetch.Options{ForceRefresh: true})
	if err != nil {
		writeError(w, r, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", "cache store unavailable")
		logStoreError(r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "success",
		"region":        req.Region,
		"forecast_days": req.ForecastDays,
		"resolved":      len(resolved),
		"requested":     len(coords),
	})
}

// PostGenerateAlerts handles POST /generate/alerts. Schedules the regeneration
// pipeline as a background task and returns its ID for polling.
func (h *Handler) PostGenerateAlerts(w http.ResponseWriter, r *http.Request) {
	req, coords, ok := h.parseScope(w, r)
	if !ok {
		return
	}

	taskID, err := h.runner.Schedule("generate_alerts_"+req.Region, func(ctx context.Context) (string, error) {
		return h.pipeline.Regenerate(ctx, req.Region, coords, req.ForecastDays)
	})
	if err != nil {
		if errors.Is(err, tasks.ErrQueueFull) {
			writeError(w, r, http.StatusServiceUnavailable, "QUEUE_FULL", "too many pending tasks, try again later")
			return
		}
		writeError(w, r, http.StatusServiceUnavailable, "RUNNER_UNAVAILABLE", "could not schedule alert generation")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"status":  "processing",
		"message": "Alert generation started for " + req.Region + ". This may take a few minutes.",
		"task_id": taskID,
		"region":  req.Region,
	})
}

// GetTask handles GET /tasks/{id}.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	status := h.runner.Status(id)
	resp := map[string]interface{}{
		"task_id": id,
		"status":  string(status),
	}
	switch status {
	case tasks.StatusUnknown:
		writeError(w, r, http.StatusNotFound, "UNKNOWN_TASK", "no such task: "+id)
		return
	case tasks.StatusSucceeded:
		if result, ok := h.runner.Result(id); ok {
			if json.Valid([]byte(result)) {
				resp["result"] = json.RawMessage(result)
			} else {
				resp["result"] = result
			}
		}
	case tasks.StatusFailed:
		if msg, ok := h.runner.Err(id); ok {
			resp["error"] = msg
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// PostPurge handles POST /purge. Deletes alert and related weather cache rows
// for the scope; the count is approximate on the weather side.
func (h *Handler) PostPurge(w http.ResponseWriter, r *http.Request) {
	var req scopeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body")
		return
	}

	region, err := validation.ValidateRegion(req.Region)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REGION", err.Error())
		return
	}
	if req.ForecastDays == 0 {
		req.ForecastDays = 1
	}
	if err := validation.ValidateForecastDays(req.ForecastDays); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_FORECAST_DAYS", err.Error())
		return
	}

	purged, err := h.store.Purge(r.Context(), region, req.Locations, req.ForecastDays)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "PURGE_FAILED", "failed to purge cache")
		logStoreError(r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "success",
		"message":      "Cache purged successfully. Deleted approx " + strconv.FormatInt(purged, 10) + " records.",
		"purged_count": purged,
	})
}

// GetHealth handles GET /health. Reports store reachability and row counts.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	status := "healthy"
	statusCode := http.StatusOK
	if err != nil {
		status = "unhealthy"
		statusCode = http.StatusServiceUnavailable
		logStoreError(r, err)
	}

	writeJSON(w, statusCode, map[string]interface{}{
		"status":    status,
		"service":   "weather-alert-cache",
		"cache":     stats,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code,
// message, and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value(correlationIDKey); v != nil {
		corrID, _ = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// logStoreError logs a store failure at WARN on the request-scoped logger.
// Handlers degrade to empty results; the error never shapes the response body.
func logStoreError(r *http.Request, err error) {
	if logger, ok := r.Context().Value(loggerKey).(*zap.Logger); ok && logger != nil {
		logger.Warn("store error", zap.Error(err))
	}
}
