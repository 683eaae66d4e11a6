package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
)

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, map[string]string{"error": msg})
}

// handleHealth reports liveness plus a database ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	code := http.StatusOK

	if s.db != nil {
		if err := s.db.Conn().PingContext(r.Context()); err != nil {
			health["status"] = "degraded"
			health["database"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			health["database"] = "ok"
		}
	}
	s.respondJSON(w, code, health)
}

// handleStatus returns the monitor loop's current snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.monitor == nil {
		s.respondError(w, http.StatusServiceUnavailable, "monitor not running")
		return
	}
	s.respondJSON(w, http.StatusOK, s.monitor.Status())
}

func limitParam(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// handleCycles lists recent cycles, newest first.
func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	cycles, err := s.history.RecentCycles(r.Context(), limitParam(r, 50))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"cycles": cycles})
}

// handleCycleSnapshot returns the report rows captured during one cycle.
func (s *Server) handleCycleSnapshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rows, err := s.history.CycleSnapshot(r.Context(), id)
	if err != nil {
		s.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"cycle_id": id,
		"rows":     rows,
	})
}

// handleIssues lists recent findings, newest first.
func (s *Server) handleIssues(w http.ResponseWriter, r *http.Request) {
	issues, err := s.history.RecentIssues(r.Context(), limitParam(r, 100))
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"issues": issues})
}
