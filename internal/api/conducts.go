package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/nerrad567/beacon/internal/conduct"
)

// handleRequestConduct accepts a conduct request for a catalog device.
// ?ignoreDelay=true dispatches immediately even when a delay is set.
func (s *Server) handleRequestConduct(w http.ResponseWriter, r *http.Request) {
	var req conduct.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	ignoreDelay := false
	if raw := r.URL.Query().Get("ignoreDelay"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeBadRequest(w, "ignoreDelay must be a boolean")
			return
		}
		ignoreDelay = v
	}

	if err := s.conducts.RequestConduct(r.Context(), req, ignoreDelay); err != nil {
		switch {
		case errors.Is(err, conduct.ErrInvalidRequest):
			writeError(w, http.StatusBadRequest, ErrCodeValidation, err.Error())
		case errors.Is(err, conduct.ErrPublishFailed):
			writeError(w, http.StatusBadGateway, ErrCodeDispatch, err.Error())
		default:
			s.logger.Error("conduct request failed", "device_id", req.DeviceID, "error", err)
			writeInternalError(w, "failed to request conduct")
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":   "accepted",
		"deviceId": req.DeviceID,
		"delayed":  req.Delay > 0 && !ignoreDelay,
	})
}
