// Package server is the HTTP surface: sensor ingestion, device command
// polling, manual valve control, automation and profile configuration, and
// history queries.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/growlog/irrigationd/internal/automation"
	"github.com/growlog/irrigationd/internal/command"
	"github.com/growlog/irrigationd/internal/metrics"
	"github.com/growlog/irrigationd/internal/model"
	"github.com/growlog/irrigationd/internal/profile"
	"github.com/growlog/irrigationd/internal/store"
	"github.com/growlog/irrigationd/internal/valve"
)

// ReadingArchiver mirrors accepted readings into the time-series archive.
// Writes are fire-and-forget; LastErrorAge feeds /healthz.
type ReadingArchiver interface {
	WriteReading(ctx context.Context, r model.MoistureReading)
	LastErrorAge() time.Duration
}

type Server struct {
	store      *store.Store
	engine     *automation.Engine
	dispatcher *valve.Dispatcher
	queue      *command.Queue
	profiles   *profile.Cache
	archive    ReadingArchiver // nil when no archive configured
}

func New(st *store.Store, engine *automation.Engine, dispatcher *valve.Dispatcher, q *command.Queue, profiles *profile.Cache, archive ReadingArchiver) *Server {
	return &Server{
		store:      st,
		engine:     engine,
		dispatcher: dispatcher,
		queue:      q,
		profiles:   profiles,
		archive:    archive,
	}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/sensor-data", s.handleSensorData)
		r.Get("/commands/{deviceID}", s.handlePollCommand)
		r.Post("/valve/control", s.handleValveControl)

		r.Get("/automation", s.handleGetRule)
		r.Post("/automation", s.handleSetRule)
		r.Post("/automation/override", s.handleOverride)
		r.Get("/automation/state/{deviceID}", s.handleAutomationState)

		r.Get("/profiles", s.handleGetProfile)
		r.Get("/profiles/all", s.handleListProfiles)
		r.Post("/profiles", s.handleSaveProfile)

		r.Get("/analytics/moisture", s.handleMoistureHistory)
		r.Get("/analytics/valve", s.handleValveHistory)

		r.Post("/measurements", s.handleAddMeasurement)
		r.Get("/measurements/{deviceID}", s.handleListMeasurements)
	})
	return r
}

// ---------- ingestion & commands ----------

type sensorDataRequest struct {
	DeviceID string   `json:"device_id"`
	Moisture *float64 `json:"moisture"`
	RawADC   *int     `json:"raw_adc_value"`
}

func (s *Server) handleSensorData(w http.ResponseWriter, r *http.Request) {
	var req sensorDataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.DeviceID == "" || req.Moisture == nil {
		writeError(w, http.StatusBadRequest, "device_id and moisture are required")
		return
	}

	reading := model.MoistureReading{
		DeviceID:  req.DeviceID,
		Moisture:  *req.Moisture,
		RawADC:    req.RawADC,
		Timestamp: time.Now(),
	}
	if _, err := s.store.InsertReading(r.Context(), reading); err != nil {
		log.Printf("server: store reading %s: %v", req.DeviceID, err)
		writeError(w, http.StatusInternalServerError, "failed to store reading")
		return
	}
	metrics.ReadingsIngested.WithLabelValues("http").Inc()
	if s.archive != nil {
		s.archive.WriteReading(r.Context(), reading)
	}

	// Automation runs after the ack-worthy write; its outcome is observable
	// through valve history, not this response.
	s.engine.HandleReading(r.Context(), req.DeviceID, *req.Moisture, time.Now())

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handlePollCommand(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	cmd, ok := s.queue.Poll(deviceID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"command": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"command": cmd.Command()})
}

type valveControlRequest struct {
	DeviceID string `json:"device_id"`
	State    *int   `json:"state"`
}

func (s *Server) handleValveControl(w http.ResponseWriter, r *http.Request) {
	var req valveControlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.DeviceID == "" || req.State == nil || (*req.State != 0 && *req.State != 1) {
		writeError(w, http.StatusBadRequest, "device_id and state (0|1) are required")
		return
	}

	state := model.ValveState(*req.State)
	if err := s.dispatcher.Dispatch(r.Context(), req.DeviceID, state, "manual", ""); err != nil {
		log.Printf("server: manual valve %s: %v", req.DeviceID, err)
		writeError(w, http.StatusInternalServerError, "failed to issue command")
		return
	}
	// A human command stands until the next daily reset.
	s.engine.Tracker().SetManualOverride(req.DeviceID, true, time.Now())

	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

type overrideRequest struct {
	DeviceID string `json:"device_id"`
	On       *bool  `json:"on"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.DeviceID == "" || req.On == nil {
		writeError(w, http.StatusBadRequest, "device_id and on are required")
		return
	}
	s.engine.Tracker().SetManualOverride(req.DeviceID, *req.On, time.Now())
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (s *Server) handleAutomationState(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	snap, ok := s.engine.Tracker().Snapshot(deviceID)
	if !ok {
		writeError(w, http.StatusNotFound, "device has no automation state")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// ---------- automation rules ----------

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	rule, err := s.store.GetRule(r.Context(), deviceID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, model.DefaultRule(deviceID))
		return
	}
	if err != nil {
		log.Printf("server: get rule %s: %v", deviceID, err)
		writeError(w, http.StatusInternalServerError, "failed to read rule")
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

type ruleRequest struct {
	DeviceID      string   `json:"device_id"`
	Enabled       *bool    `json:"enabled"`
	LowThreshold  *float64 `json:"low_threshold"`
	HighThreshold *float64 `json:"high_threshold"`
}

func (s *Server) handleSetRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.DeviceID == "" || req.Enabled == nil || req.LowThreshold == nil || req.HighThreshold == nil {
		writeError(w, http.StatusBadRequest, "device_id, enabled, low_threshold and high_threshold are required")
		return
	}
	rule := model.AutomationRule{
		DeviceID:      req.DeviceID,
		Enabled:       *req.Enabled,
		LowThreshold:  *req.LowThreshold,
		HighThreshold: *req.HighThreshold,
	}
	if err := s.store.UpsertRule(r.Context(), rule); err != nil {
		log.Printf("server: save rule %s: %v", req.DeviceID, err)
		writeError(w, http.StatusInternalServerError, "failed to save rule")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

// ---------- watering profiles ----------

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	p, err := s.profiles.Get(r.Context(), deviceID)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusOK, model.DefaultProfile(deviceID))
		return
	}
	if err != nil {
		log.Printf("server: get profile %s: %v", deviceID, err)
		writeError(w, http.StatusInternalServerError, "failed to read profile")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListProfiles(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	list, err := s.store.ListProfiles(r.Context(), deviceID)
	if err != nil {
		log.Printf("server: list profiles %s: %v", deviceID, err)
		writeError(w, http.StatusInternalServerError, "failed to list profiles")
		return
	}
	if list == nil {
		list = []model.WateringProfile{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	var p model.WateringProfile
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if p.DeviceID == "" || p.WickingWaitTime < 0 || p.WateringDuration <= 0 || p.MaxDailyCycles <= 0 {
		writeError(w, http.StatusBadRequest, "device_id, watering_duration and max_daily_cycles are required")
		return
	}
	id, err := s.store.SaveProfile(r.Context(), p)
	if err != nil {
		log.Printf("server: save profile %s: %v", p.DeviceID, err)
		writeError(w, http.StatusInternalServerError, "failed to save profile")
		return
	}
	s.profiles.Invalidate(p.DeviceID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "id": id})
}

// ---------- history ----------

func (s *Server) handleMoistureHistory(w http.ResponseWriter, r *http.Request) {
	deviceID, since, ok := historyParams(w, r)
	if !ok {
		return
	}
	list, err := s.store.ReadingsSince(r.Context(), deviceID, since)
	if err != nil {
		log.Printf("server: moisture history %s: %v", deviceID, err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if list == nil {
		list = []model.MoistureReading{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleValveHistory(w http.ResponseWriter, r *http.Request) {
	deviceID, since, ok := historyParams(w, r)
	if !ok {
		return
	}
	list, err := s.store.ValveHistory(r.Context(), deviceID, since)
	if err != nil {
		log.Printf("server: valve history %s: %v", deviceID, err)
		writeError(w, http.StatusInternalServerError, "failed to read history")
		return
	}
	if list == nil {
		list = []model.ValveAction{}
	}
	writeJSON(w, http.StatusOK, list)
}

// ---------- plant measurements ----------

func (s *Server) handleAddMeasurement(w http.ResponseWriter, r *http.Request) {
	var m model.PlantMeasurement
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if m.DeviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return
	}
	if m.PlantName == "" {
		m.PlantName = "My Plant"
	}
	m.Timestamp = time.Now()

	id, err := s.store.InsertMeasurement(r.Context(), m)
	if err != nil {
		log.Printf("server: add measurement %s: %v", m.DeviceID, err)
		writeError(w, http.StatusInternalServerError, "failed to store measurement")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "id": id})
}

func (s *Server) handleListMeasurements(w http.ResponseWriter, r *http.Request) {
	deviceID := chi.URLParam(r, "deviceID")
	days := queryInt(r, "days", 30)
	since := time.Now().AddDate(0, 0, -days)

	list, err := s.store.MeasurementsSince(r.Context(), deviceID, since)
	if err != nil {
		log.Printf("server: list measurements %s: %v", deviceID, err)
		writeError(w, http.StatusInternalServerError, "failed to read measurements")
		return
	}
	if list == nil {
		list = []model.PlantMeasurement{}
	}
	writeJSON(w, http.StatusOK, list)
}

// ---------- health ----------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type health struct {
		Status         string   `json:"status"`
		ArchiveErrAgeS *float64 `json:"archive_last_error_age_sec,omitempty"`
	}
	h := health{Status: "ok"}
	if s.archive != nil {
		age := s.archive.LastErrorAge().Seconds()
		h.ArchiveErrAgeS = &age
		if age < 30 {
			h.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, h)
}

// ---------- helpers ----------

func historyParams(w http.ResponseWriter, r *http.Request) (deviceID string, since time.Time, ok bool) {
	deviceID = r.URL.Query().Get("device_id")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id is required")
		return "", time.Time{}, false
	}
	days := queryInt(r, "days", 1)
	return deviceID, time.Now().AddDate(0, 0, -days), true
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
