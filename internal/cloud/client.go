package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nerrad567/beacon/internal/automation"
	"github.com/nerrad567/beacon/internal/device"
	"github.com/nerrad567/beacon/internal/infrastructure/config"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxErrorBody          = 512
	stationHeader         = "X-Beacon-Station"
)

// Logger defines the logging interface used by the cloud package.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Client talks to the cloud catalog over REST.
//
// It implements device.Catalog, automation.ProcessCatalog and
// device.StateSink. Every call goes through one circuit breaker; only
// transport errors and 5xx responses count against it.
type Client struct {
	baseURL   *url.URL
	stationID string
	http      *http.Client
	tokens    *TokenSource
	breaker   *CircuitBreaker
	logger    Logger
}

// New creates a client from the cloud section of the configuration.
//
// Parameters:
//   - cfg: Cloud configuration (base URL, token, timeouts, breaker)
//   - stationID: Sent with every request so the cloud can scope it
//   - logger: Logger instance, may be nil
//
// Returns:
//   - *Client: Client ready for use
//   - error: ErrNotConfigured or a URL parse error
func New(cfg config.CloudConfig, stationID string, logger Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, ErrNotConfigured
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing cloud base url: %w", err)
	}
	if logger == nil {
		logger = noopLogger{}
	}

	timeout := time.Duration(cfg.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	breakerCfg := DefaultBreakerConfig()
	if cfg.Breaker.FailureThreshold > 0 {
		breakerCfg.FailureThreshold = cfg.Breaker.FailureThreshold
	}
	if cfg.Breaker.SuccessThreshold > 0 {
		breakerCfg.SuccessThreshold = cfg.Breaker.SuccessThreshold
	}
	if cfg.Breaker.OpenTimeout > 0 {
		breakerCfg.OpenTimeout = time.Duration(cfg.Breaker.OpenTimeout) * time.Second
	}

	return &Client{
		baseURL:   base,
		stationID: stationID,
		http:      &http.Client{Timeout: timeout},
		tokens:    NewTokenSource(cfg.Token),
		breaker:   NewCircuitBreaker("cloud", breakerCfg, logger),
		logger:    logger,
	}, nil
}

// Breaker exposes the circuit breaker for health reporting.
func (c *Client) Breaker() *CircuitBreaker {
	return c.breaker
}

// HealthCheck reports ErrCircuitOpen while the breaker is open and
// ErrTokenExpired once the bearer token has expired.
func (c *Client) HealthCheck(_ context.Context) error {
	if _, err := c.tokens.Token(); err != nil {
		return err
	}
	if c.breaker.State() == StateOpen {
		return ErrCircuitOpen
	}
	return nil
}

// GetDevices returns every device registered for this station.
func (c *Client) GetDevices(ctx context.Context) ([]device.DeviceConfiguration, error) {
	var devices []device.DeviceConfiguration
	if err := c.do(ctx, http.MethodGet, "devices", nil, &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

// GetProcesses returns every automation process for this station.
// Malformed processes are skipped with a warning naming them.
func (c *Client) GetProcesses(ctx context.Context) ([]automation.StateTriggerProcess, error) {
	var docs []json.RawMessage
	if err := c.do(ctx, http.MethodGet, "processes", nil, &docs); err != nil {
		return nil, err
	}
	processes, skipped := automation.DecodeProcesses(docs)
	for _, err := range skipped {
		c.logger.Warn("skipping malformed catalog process", "error", err)
	}
	return processes, nil
}

// RegisterDevice creates a catalog entry and returns its ID.
func (c *Client) RegisterDevice(ctx context.Context, discovery device.DeviceDiscovery) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, http.MethodPost, "devices", discovery, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: register response without id", ErrUnexpectedStatus)
	}
	return resp.ID, nil
}

// UpdateDeviceInfo updates alias, manufacturer and model of device id.
func (c *Client) UpdateDeviceInfo(ctx context.Context, id string, discovery device.DeviceDiscovery) error {
	return c.do(ctx, http.MethodPatch, "devices/"+url.PathEscape(id), discovery, nil)
}

// UpdateEndpoints replaces the endpoints of device id.
func (c *Client) UpdateEndpoints(ctx context.Context, id string, endpoints []device.Endpoint) error {
	return c.do(ctx, http.MethodPut, "devices/"+url.PathEscape(id)+"/endpoints", endpoints, nil)
}

type statePayload struct {
	Target    device.DeviceTarget `json:"target"`
	Value     any                 `json:"value"`
	Timestamp time.Time           `json:"timestamp"`
}

// PublishState reports an accepted state change for device id.
func (c *Client) PublishState(ctx context.Context, id string, target device.DeviceTarget, value any, at time.Time) error {
	body := statePayload{Target: target, Value: value, Timestamp: at.UTC()}
	return c.do(ctx, http.MethodPost, "devices/"+url.PathEscape(id)+"/state", body, nil)
}

// Name identifies the client as a state sink.
func (c *Client) Name() string { return "cloud" }

// RecordState forwards an accepted change to the cloud.
func (c *Client) RecordState(ctx context.Context, change device.StateChange) error {
	return c.PublishState(ctx, change.DeviceID, change.Target, change.Value, change.Timestamp)
}

// do performs one JSON request. in and out may be nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.tokens.Token()
	if err != nil {
		return err
	}

	var payload []byte
	if in != nil {
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshalling %s body: %w", path, err)
		}
	}

	target := c.baseURL.JoinPath(path).String()
	var resp *http.Response
	err = c.breaker.Execute(func() error {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, reqErr := http.NewRequestWithContext(ctx, method, target, body)
		if reqErr != nil {
			return reqErr
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.stationID != "" {
			req.Header.Set(stationHeader, c.stationID)
		}

		r, doErr := c.http.Do(req)
		if doErr != nil {
			return doErr
		}
		if r.StatusCode >= http.StatusInternalServerError {
			defer r.Body.Close()
			return statusError(method, path, r)
		}
		resp = r
		return nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(method, path, resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck // Drain for connection reuse
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}

func statusError(method, path string, r *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(r.Body, maxErrorBody)) //nolint:errcheck // Body is diagnostic only
	return &StatusError{Method: method, Path: path, Code: r.StatusCode, Body: strings.TrimSpace(string(raw))}
}
