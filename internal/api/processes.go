package api

import (
	"net/http"

	"github.com/nerrad567/beacon/internal/automation"
)

// handleListProcesses returns the automation processes currently in use.
func (s *Server) handleListProcesses(w http.ResponseWriter, r *http.Request) {
	if s.processes == nil {
		writeJSON(w, http.StatusOK, map[string]any{"processes": []automation.StateTriggerProcess{}, "count": 0})
		return
	}

	procs, err := s.processes.Processes(r.Context())
	if err != nil {
		s.logger.Warn("listing processes failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "process catalog unavailable")
		return
	}
	if procs == nil {
		procs = []automation.StateTriggerProcess{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"processes": procs,
		"count":     len(procs),
	})
}

// handleRefreshCatalog reloads devices and processes from the cloud.
func (s *Server) handleRefreshCatalog(w http.ResponseWriter, r *http.Request) {
	if s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "catalog refresh is not available")
		return
	}
	if err := s.catalog.RefreshCatalog(r.Context()); err != nil {
		s.logger.Warn("catalog refresh failed", "error", err)
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
