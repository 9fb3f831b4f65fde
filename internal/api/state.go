package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/beacon/internal/device"
)

// maxPathParamLen caps channel, identifier and contact path segments.
const maxPathParamLen = 256

// stateView is one stored value as returned to clients.
type stateView struct {
	Target    device.DeviceTarget `json:"target"`
	Value     any                 `json:"value"`
	UpdatedAt time.Time           `json:"updatedAt"`
}

// targetFromPath reads the target from the route's path parameters.
func targetFromPath(r *http.Request) (device.DeviceTarget, error) {
	t := device.DeviceTarget{
		Channel:    chi.URLParam(r, "channel"),
		Identifier: chi.URLParam(r, "identifier"),
		Contact:    chi.URLParam(r, "contact"),
	}
	if len(t.Channel) > maxPathParamLen || len(t.Identifier) > maxPathParamLen || len(t.Contact) > maxPathParamLen {
		return t, device.ErrInvalidTarget
	}
	return t, t.Validate()
}

// handleListState returns every stored value, optionally filtered by channel
// and identifier query parameters.
func (s *Server) handleListState(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	identifier := r.URL.Query().Get("identifier")

	snapshot := s.states.Snapshot()
	out := make([]stateView, 0, len(snapshot))
	for _, c := range snapshot {
		if channel != "" && c.Target.Channel != channel {
			continue
		}
		if identifier != "" && c.Target.Identifier != identifier {
			continue
		}
		out = append(out, stateView{Target: c.Target, Value: c.Value, UpdatedAt: c.Timestamp})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Target.String() < out[j].Target.String()
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"states": out,
		"count":  len(out),
	})
}

type setStateRequest struct {
	Value json.RawMessage `json:"value"`
}

// handleSetState feeds a value into the state store as if an adapter had
// read it from the device.
func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	target, err := targetFromPath(r)
	if err != nil {
		writeBadRequest(w, "invalid target")
		return
	}

	var req setStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Value == nil {
		writeBadRequest(w, "value is required")
		return
	}
	var value any
	if err := json.Unmarshal(req.Value, &value); err != nil {
		writeBadRequest(w, "invalid value")
		return
	}

	accepted, err := s.states.SetState(r.Context(), target, value)
	if err != nil {
		if errors.Is(err, device.ErrInvalidTarget) {
			writeBadRequest(w, err.Error())
			return
		}
		writeInternalError(w, "failed to set state")
		return
	}

	resp := map[string]any{"accepted": accepted, "target": target}
	if entry, ok := s.states.Entry(target); ok {
		resp["value"] = entry.Value
		resp["updatedAt"] = entry.UpdatedAt
	}
	writeJSON(w, http.StatusOK, resp)
}
