package api

import (
	"fmt"
	"net/http"
	"strconv"
)

// handleGetHistory returns recorded values of one target, newest first.
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "state history is not enabled")
		return
	}

	target, err := targetFromPath(r)
	if err != nil {
		writeBadRequest(w, "invalid target")
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	entries, err := s.history.List(r.Context(), target, limit)
	if err != nil {
		s.logger.Error("listing state history failed", "target", target.String(), "error", err)
		writeInternalError(w, "failed to list state history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"target":  target,
		"entries": entries,
		"count":   len(entries),
	})
}

// parseLimit parses an optional positive limit. Zero means the store default.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("limit must be a positive integer")
	}
	return n, nil
}
