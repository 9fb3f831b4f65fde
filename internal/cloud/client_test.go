package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/beacon/internal/device"
	"github.com/nerrad567/beacon/internal/infrastructure/config"
)

func newTestClient(t *testing.T, handler http.Handler, token string) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := New(config.CloudConfig{
		BaseURL:        srv.URL + "/api/v1",
		Token:          token,
		RequestTimeout: 2,
		Breaker:        config.CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: 60},
	}, "beacon-001", nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New(config.CloudConfig{}, "s", nil); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("New() error = %v, want ErrNotConfigured", err)
	}
}

func TestClient_GetDevices(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/devices", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" || r.Header.Get(stationHeader) != "beacon-001" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"id":"dev-1","alias":"lamp","identifier":"0x01","endpoints":[{"channel":"zigbee2mqtt","contacts":[{"name":"state","dataType":"bool","access":3}]}]}]`) //nolint:errcheck
	})
	c := newTestClient(t, mux, "key")

	devices, err := c.GetDevices(context.Background())
	if err != nil {
		t.Fatalf("GetDevices() error = %v", err)
	}
	if len(devices) != 1 || devices[0].ID != "dev-1" {
		t.Fatalf("devices = %+v", devices)
	}
	contact, ok := devices[0].Contact("zigbee2mqtt", "state")
	if !ok || contact.DataType != device.DataTypeBool || !contact.Access.Has(device.AccessWrite) {
		t.Errorf("contact = %+v", contact)
	}
}

func TestClient_GetProcesses(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/processes", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `[{"id":"p1","triggers":[{"channel":"z","identifier":"1","contact":"a"}],"condition":null,"conducts":[],"delay":500}]`) //nolint:errcheck
	})
	c := newTestClient(t, mux, "key")

	procs, err := c.GetProcesses(context.Background())
	if err != nil {
		t.Fatalf("GetProcesses() error = %v", err)
	}
	if len(procs) != 1 || procs[0].Delay != 500*time.Millisecond || procs[0].Condition != nil {
		t.Errorf("processes = %+v", procs)
	}
}

type warnRecorder struct {
	noopLogger
	mu    sync.Mutex
	warns []string
}

func (l *warnRecorder) Warn(msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, fmt.Sprint(append([]any{msg}, args...)...))
}

func TestClient_GetProcessesSkipsMalformed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/processes", func(w http.ResponseWriter, _ *http.Request) {
		io.WriteString(w, `[`+ //nolint:errcheck
			`{"id":"good","triggers":[{"channel":"z","identifier":"1","contact":"a"}],"condition":null,"conducts":[]},`+
			`{"id":"bad","triggers":[],"condition":{"operator":"between","left":1,"right":2},"conducts":[]}`+
			`]`)
	})
	c := newTestClient(t, mux, "key")
	logger := &warnRecorder{}
	c.logger = logger

	procs, err := c.GetProcesses(context.Background())
	if err != nil {
		t.Fatalf("GetProcesses() error = %v", err)
	}
	if len(procs) != 1 || procs[0].ID != "good" {
		t.Fatalf("processes = %+v, want only good", procs)
	}
	if len(logger.warns) != 1 || !strings.Contains(logger.warns[0], "process bad") {
		t.Errorf("warnings = %q, want one naming process bad", logger.warns)
	}
}

func TestClient_RegisterAndUpdate(t *testing.T) {
	var gotEndpoints []device.Endpoint
	var gotInfo device.DeviceDiscovery

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/devices", func(w http.ResponseWriter, r *http.Request) {
		var d device.DeviceDiscovery
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil || d.Identifier != "0x02" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"id":"dev-2"}`) //nolint:errcheck
	})
	mux.HandleFunc("PATCH /api/v1/devices/{id}", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotInfo) //nolint:errcheck
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("PUT /api/v1/devices/{id}/endpoints", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&gotEndpoints) //nolint:errcheck
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, mux, "key")
	ctx := context.Background()

	id, err := c.RegisterDevice(ctx, device.DeviceDiscovery{Alias: "plug", Identifier: "0x02"})
	if err != nil || id != "dev-2" {
		t.Fatalf("RegisterDevice() = %q, %v", id, err)
	}

	model := "TS011F"
	if err := c.UpdateDeviceInfo(ctx, id, device.DeviceDiscovery{Alias: "plug", Identifier: "0x02", Model: &model}); err != nil {
		t.Fatalf("UpdateDeviceInfo() error = %v", err)
	}
	if gotInfo.Model == nil || *gotInfo.Model != model {
		t.Errorf("info = %+v", gotInfo)
	}

	endpoints := []device.Endpoint{{Channel: "zigbee2mqtt", Contacts: []device.DeviceContact{{Name: "state", DataType: device.DataTypeBool}}}}
	if err := c.UpdateEndpoints(ctx, id, endpoints); err != nil {
		t.Fatalf("UpdateEndpoints() error = %v", err)
	}
	if len(gotEndpoints) != 1 || gotEndpoints[0].Contacts[0].Name != "state" {
		t.Errorf("endpoints = %+v", gotEndpoints)
	}
}

func TestClient_RecordState(t *testing.T) {
	var body map[string]any
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/devices/dev-1/state", func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck
		w.WriteHeader(http.StatusAccepted)
	})
	c := newTestClient(t, mux, "key")

	var sink device.StateSink = c
	change := device.StateChange{
		DeviceID:  "dev-1",
		Target:    device.DeviceTarget{Channel: "zigbee2mqtt", Identifier: "0x01", Contact: "state"},
		Value:     true,
		Timestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := sink.RecordState(context.Background(), change); err != nil {
		t.Fatalf("RecordState() error = %v", err)
	}
	if body["value"] != true || body["timestamp"] != "2026-03-01T12:00:00Z" {
		t.Errorf("body = %v", body)
	}
}

func TestClient_StatusMapping(t *testing.T) {
	tests := []struct {
		code int
		want error
	}{
		{http.StatusUnauthorized, ErrTokenExpired},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusBadRequest, ErrUnexpectedStatus},
		{http.StatusBadGateway, ErrUnexpectedStatus},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "nope", tt.code)
			}), "key")

			_, err := c.GetDevices(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
			var se *StatusError
			if !errors.As(err, &se) || se.Code != tt.code {
				t.Errorf("StatusError = %+v", se)
			}
		})
	}
}

func TestClient_BreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}), "key")
	ctx := context.Background()

	_, _ = c.GetDevices(ctx)
	_, _ = c.GetDevices(ctx)
	_, err := c.GetDevices(ctx)

	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("third call error = %v, want ErrCircuitOpen", err)
	}
	if hits.Load() != 2 {
		t.Errorf("server hits = %d, want 2", hits.Load())
	}
	if c.Breaker().State() != StateOpen {
		t.Errorf("breaker = %s", c.Breaker().State())
	}
}

func TestClient_ClientErrorsDoNotTripBreaker(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}), "key")

	for i := 0; i < 5; i++ {
		_, _ = c.GetDevices(context.Background())
	}
	if c.Breaker().State() != StateClosed {
		t.Errorf("breaker = %s, want closed", c.Breaker().State())
	}
}

func TestClient_ExpiredTokenNotSent(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		hits.Add(1)
	}), signedToken(t, time.Now().Add(-time.Hour)))

	_, err := c.GetDevices(context.Background())
	if !errors.Is(err, ErrTokenExpired) {
		t.Errorf("error = %v, want ErrTokenExpired", err)
	}
	if hits.Load() != 0 {
		t.Error("expired token must not reach the server")
	}
}

func TestClient_HealthCheck(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}), "key")
	ctx := context.Background()

	if err := c.HealthCheck(ctx); err != nil {
		t.Fatalf("HealthCheck() error = %v", err)
	}
	_, _ = c.GetDevices(ctx)
	_, _ = c.GetDevices(ctx)
	if err := c.HealthCheck(ctx); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("HealthCheck() error = %v, want ErrCircuitOpen", err)
	}
}
