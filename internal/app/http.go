package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"triplog/tracker-server/internal/geo"
	"triplog/tracker-server/internal/model"
	"triplog/tracker-server/internal/timestamp"
)

const maxBodyBytes = 4 << 20

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/readyz", a.handleReadyz)
	mux.HandleFunc("/api/fixes", a.handleFixes)
	mux.HandleFunc("/api/vehicles", a.handleVehicles)
	mux.HandleFunc("/api/vehicles/latest", a.handleLatest)
	mux.HandleFunc("/api/locations", a.handleLocations)
	mux.HandleFunc("/api/sessions/unsaved", a.handleUnsavedSessions)
	mux.HandleFunc("/api/logs", a.handleLogs)
	mux.HandleFunc("/api/config", a.handleConfig)
	return mux
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.store == nil || !a.transportReady() {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"starting"}`))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.StoreTimeout())
	defer cancel()
	if err := a.store.Ping(ctx); err != nil {
		a.logger.Error("readiness check failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"status":"store unavailable"}`))
		return
	}
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

func (a *App) handleFixes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !a.ready(w) {
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	fixes, err := model.DecodeFixes(body)
	if err != nil {
		a.recordIngestionError(r.Context(), "", body, err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, a.ingestFixes(r.Context(), fixes))
}

func (a *App) handleVehicles(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) || !a.ready(w) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.StoreTimeout())
	defer cancel()

	ids, err := a.store.DeviceIDs(ctx)
	if err != nil {
		a.logger.Error("failed to list vehicles", "error", err)
		http.Error(w, "failed to list vehicles", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Vehicles []string `json:"vehicles"`
	}{Vehicles: ids})
}

func (a *App) handleLatest(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) || !a.ready(w) {
		return
	}

	vehicleID := strings.TrimSpace(r.URL.Query().Get("vehicle_id"))
	if vehicleID == "" {
		writeError(w, http.StatusBadRequest, "vehicle_id is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.StoreTimeout())
	defer cancel()

	point, err := a.store.LatestPoint(ctx, vehicleID)
	if err != nil {
		a.writeLookupError(w, err, "failed to load latest location")
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Point   model.StoredPoint `json:"point"`
		Geohash string            `json:"geohash"`
	}{Point: point, Geohash: geo.Cell(point.Lat, point.Lon)})
}

func (a *App) handleLocations(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) || !a.ready(w) {
		return
	}

	q := r.URL.Query()
	vehicleID := strings.TrimSpace(q.Get("vehicle_id"))
	if vehicleID == "" {
		writeError(w, http.StatusBadRequest, "vehicle_id is required")
		return
	}

	from, to := int64(0), a.now().Unix()
	if v := q.Get("start"); v != "" {
		ts, err := timestamp.Epoch(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start: "+err.Error())
			return
		}
		from = ts
	}
	if v := q.Get("end"); v != "" {
		ts, err := timestamp.Epoch(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end: "+err.Error())
			return
		}
		to = ts
	}
	if from > to {
		writeError(w, http.StatusBadRequest, "start is after end")
		return
	}
	cleaned, _ := strconv.ParseBool(q.Get("cleaned"))

	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.StoreTimeout())
	defer cancel()

	var (
		points []model.StoredPoint
		err    error
	)
	if cleaned {
		points, err = a.scanner.CleanedHistory(ctx, vehicleID, from, to)
	} else {
		points, err = a.store.QueryRange(ctx, vehicleID, from, to)
	}
	if err != nil {
		a.logger.Error("failed to load locations", "vehicle", vehicleID, "error", err)
		http.Error(w, "failed to load locations", http.StatusInternalServerError)
		return
	}
	if points == nil {
		points = []model.StoredPoint{}
	}

	writeJSON(w, http.StatusOK, struct {
		VehicleID string              `json:"vehicle_id"`
		Cleaned   bool                `json:"cleaned"`
		Points    []model.StoredPoint `json:"points"`
	}{VehicleID: vehicleID, Cleaned: cleaned, Points: points})
}

func (a *App) handleUnsavedSessions(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) || !a.ready(w) {
		return
	}

	q := r.URL.Query()
	vehicleID := strings.TrimSpace(q.Get("vehicle_id"))
	if vehicleID == "" {
		writeError(w, http.StatusBadRequest, "vehicle_id is required")
		return
	}

	// A scan reads the whole window.
	ctx, cancel := context.WithTimeout(r.Context(), 5*a.cfg.StoreTimeout())
	defer cancel()

	res, err := a.scanner.Scan(ctx, vehicleID, q.Get("days"), a.now())
	if err != nil {
		a.writeLookupError(w, err, "failed to scan sessions")
		return
	}

	a.logger.Debug("scanned unsaved sessions", "vehicle", vehicleID, "sessions", res.TotalSessionsFound,
		"points", res.ScanPeriod.TotalDataPoints)
	writeJSON(w, http.StatusOK, res)
}

func (a *App) handleLogs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.serveLogs(w, r)
	case http.MethodPost:
		a.saveLog(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (a *App) serveLogs(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.StoreTimeout())
	defer cancel()

	q := r.URL.Query()
	if id := strings.TrimSpace(q.Get("id")); id != "" {
		l, err := a.store.GetLog(ctx, id)
		if err != nil {
			a.writeLookupError(w, err, "failed to load log")
			return
		}
		writeJSON(w, http.StatusOK, l)
		return
	}

	logs, err := a.store.ListLogs(ctx, strings.TrimSpace(q.Get("vehicle_id")))
	if err != nil {
		a.logger.Error("failed to list logs", "error", err)
		http.Error(w, "failed to list logs", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Logs []model.DriversLog `json:"logs"`
	}{Logs: logs})
}

type saveLogRequest struct {
	SessionID string   `json:"sessionId"`
	VehicleID string   `json:"vehicleId"`
	StartTime any      `json:"startTime"`
	EndTime   any      `json:"endTime"`
	Distance  *float64 `json:"distance"`
	Duration  *float64 `json:"duration"`
	Purpose   string   `json:"purpose"`
	Notes     string   `json:"notes"`
}

func (a *App) saveLog(w http.ResponseWriter, r *http.Request) {
	if !a.ready(w) {
		return
	}

	var req saveLogRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	l, err := req.toLog()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	l.CreatedAt = a.now().UTC()

	ctx, cancel := context.WithTimeout(r.Context(), a.cfg.StoreTimeout())
	defer cancel()

	if err := a.store.SaveLog(ctx, l); err != nil {
		a.logger.Error("failed to save log", "id", l.ID, "error", err)
		http.Error(w, "failed to save log", http.StatusInternalServerError)
		return
	}

	a.logger.Info("saved drivers log", "id", l.ID, "vehicle", l.VehicleID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "Log entry saved successfully", "id": l.ID})
}

// toLog validates the request. A missing vehicleId is recovered from a
// session id of the form session_<start>_<vehicle>.
func (req saveLogRequest) toLog() (model.DriversLog, error) {
	id := strings.TrimSpace(req.SessionID)
	if id == "" || isEmpty(req.StartTime) || isEmpty(req.EndTime) {
		return model.DriversLog{}, errors.New("missing required fields")
	}

	start, err := timestamp.Epoch(req.StartTime)
	if err != nil {
		return model.DriversLog{}, errors.New("invalid startTime")
	}
	end, err := timestamp.Epoch(req.EndTime)
	if err != nil {
		return model.DriversLog{}, errors.New("invalid endTime")
	}
	if end < start {
		return model.DriversLog{}, errors.New("endTime is before startTime")
	}

	vehicleID := strings.TrimSpace(req.VehicleID)
	if vehicleID == "" {
		vehicleID = vehicleFromSessionID(id)
	}
	if vehicleID == "" {
		return model.DriversLog{}, errors.New("vehicleId is required")
	}

	return model.DriversLog{
		ID:        id,
		VehicleID: vehicleID,
		StartTime: start,
		EndTime:   end,
		Distance:  req.Distance,
		Duration:  req.Duration,
		Purpose:   req.Purpose,
		Notes:     req.Notes,
	}, nil
}

func vehicleFromSessionID(id string) string {
	rest, ok := strings.CutPrefix(id, "session_")
	if !ok {
		return ""
	}
	start, vehicle, ok := strings.Cut(rest, "_")
	if !ok {
		return ""
	}
	if _, err := strconv.ParseInt(start, 10, 64); err != nil {
		return ""
	}
	return vehicle
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	default:
		return false
	}
}

func (a *App) handleConfig(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, a.cfg)
}

func (a *App) ready(w http.ResponseWriter) bool {
	if a.store == nil {
		http.Error(w, "store not initialized", http.StatusServiceUnavailable)
		return false
	}
	return true
}

func (a *App) writeLookupError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, model.ErrUpstreamUnavailable):
		a.logger.Error(msg, "error", err)
		http.Error(w, msg, http.StatusServiceUnavailable)
	default:
		a.logger.Error(msg, "error", err)
		http.Error(w, msg, http.StatusInternalServerError)
	}
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
