// Package api exposes the daemon over HTTP under /api/rfp.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"rfp_scout/daemon"
	"rfp_scout/discovery"
	"rfp_scout/models"
	"rfp_scout/scheduler"
)

const (
	defaultRunLimit = 10
	defaultLogLimit = 1000
)

type Server struct {
	daemon *daemon.Daemon
}

func NewServer(d *daemon.Daemon) *Server {
	return &Server{daemon: d}
}

// Handler returns the router with every route mounted under /api/rfp.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api/rfp", func(r chi.Router) {
		r.Post("/daemon/start", s.handleStart)
		r.Post("/daemon/stop", s.handleStop)
		r.Get("/daemon/status", s.handleStatus)

		r.Get("/schedules", s.handleListSchedules)
		r.Post("/schedules", s.handleAddSchedule)
		r.Put("/schedules/{id}", s.handleUpdateSchedule)
		r.Delete("/schedules/{id}", s.handleRemoveSchedule)

		r.Get("/runs", s.handleListRuns)
		r.Post("/runs/current/cancel", s.handleCancelRun)
		r.Get("/runs/{id}", s.handleGetRun)
		r.Get("/runs/{id}/logs", s.handleRunLogs)

		r.Post("/discover/background", s.handleDiscover)
		r.Post("/maintenance", s.handleMaintenance)
	})
	return r
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[API] Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// writeFailure maps domain errors to their HTTP status.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, daemon.ErrNotRunning):
		writeError(w, http.StatusServiceUnavailable, "not_running", err.Error())
	case errors.Is(err, discovery.ErrRunInProgress):
		writeError(w, http.StatusConflict, "run_in_progress", err.Error())
	case errors.Is(err, scheduler.ErrScheduleInvalid):
		writeError(w, http.StatusBadRequest, "invalid_schedule", err.Error())
	default:
		log.Printf("[API] Internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func queryInt(r *http.Request, key string, def int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// =============================================================================
// Daemon
// =============================================================================

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.Start(r.Context()); err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Daemon started", "is_running": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.daemon.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"message": "Daemon stopped", "is_running": false})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.Status())
}

// =============================================================================
// Schedules
// =============================================================================

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.daemon.ListSchedules(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	if schedules == nil {
		schedules = []models.Schedule{}
	}
	writeJSON(w, http.StatusOK, schedules)
}

func (s *Server) handleAddSchedule(w http.ResponseWriter, r *http.Request) {
	var sched models.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	id, err := s.daemon.AddSchedule(r.Context(), sched)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"schedule_id": id, "message": "Schedule created"})
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	var sched models.Schedule
	if err := json.NewDecoder(r.Body).Decode(&sched); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	sched.ID = chi.URLParam(r, "id")

	found, err := s.daemon.UpdateSchedule(r.Context(), sched)
	if !found && err == nil {
		writeError(w, http.StatusNotFound, "not_found", "schedule not found")
		return
	}
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"schedule_id": sched.ID, "message": "Schedule updated"})
}

func (s *Server) handleRemoveSchedule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed, err := s.daemon.RemoveSchedule(r.Context(), id)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "not_found", "schedule not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"schedule_id": id, "message": "Schedule removed"})
}

// =============================================================================
// Runs
// =============================================================================

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.ListRecentRuns(queryInt(r, "limit", defaultRunLimit)))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.daemon.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeFailure(w, err)
		return
	}
	if run == nil {
		writeError(w, http.StatusNotFound, "not_found", "run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.daemon.GetRunLogs(r.Context(), chi.URLParam(r, "id"), queryInt(r, "limit", defaultLogLimit))
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	if !s.daemon.CancelCurrentRun() {
		writeError(w, http.StatusNotFound, "not_found", "no run in progress")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Cancellation requested"})
}

// =============================================================================
// Control
// =============================================================================

// handleDiscover accepts an optional search config body.
func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	var cfg *models.SearchConfig
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if len(body) > 0 {
		cfg = &models.SearchConfig{}
		if err := json.Unmarshal(body, cfg); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_body", err.Error())
			return
		}
	}

	ack, err := s.daemon.TriggerImmediateRun(r.Context(), cfg)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.daemon.RunMaintenance(r.Context()))
}
