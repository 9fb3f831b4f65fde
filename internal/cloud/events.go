package cloud

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/beacon/internal/conduct"
)

// Event types pushed by the cloud.
const (
	EventConductRequested = "conduct.requested"
	EventDevicesChanged   = "devices.changed"
	EventProcessesChanged = "processes.changed"
)

const (
	minReconnectDelay     = time.Second
	maxReconnectDelay     = 30 * time.Second
	reconnectJitter       = 0.2
	eventHandshakeTimeout = 10 * time.Second
)

// Event is one message on the cloud event stream.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// EventHandlers receives decoded events. Nil handlers skip their event.
type EventHandlers struct {
	// ConductRequested receives conducts requested from the cloud.
	ConductRequested func(ctx context.Context, r conduct.Request) error
	// CatalogChanged receives EventDevicesChanged or EventProcessesChanged.
	CatalogChanged func(kind string)
}

// EventStream keeps a websocket open to the cloud and dispatches the events
// it receives. It reconnects with exponential backoff until stopped.
type EventStream struct {
	url       string
	stationID string
	tokens    *TokenSource
	handlers  EventHandlers
	dialer    *websocket.Dialer
	logger    Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// NewEventStream creates a stream for eventsURL (ws:// or wss://).
func NewEventStream(eventsURL, stationID, token string, handlers EventHandlers, logger Logger) *EventStream {
	if logger == nil {
		logger = noopLogger{}
	}
	return &EventStream{
		url:       eventsURL,
		stationID: stationID,
		tokens:    NewTokenSource(token),
		handlers:  handlers,
		dialer:    &websocket.Dialer{HandshakeTimeout: eventHandshakeTimeout, Proxy: http.ProxyFromEnvironment},
		logger:    logger,
	}
}

// Start launches the connection loop.
func (s *EventStream) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("cloud: event stream already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go func(done chan struct{}) {
		defer close(done)
		s.run(ctx)
	}(s.done)
	return nil
}

// Stop closes the connection and waits for the loop to exit.
func (s *EventStream) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *EventStream) run(ctx context.Context) {
	retry := newReconnectBackOff()
	for {
		connected, err := s.session(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			retry.Reset()
		}
		delay := retry.NextBackOff()
		if errors.Is(err, ErrTokenExpired) {
			s.logger.Info("event stream token expired, retrying later", "retry_in", delay)
		} else {
			s.logger.Warn("event stream disconnected", "error", err, "retry_in", delay)
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// newReconnectBackOff doubles the reconnect delay from minReconnectDelay up
// to maxReconnectDelay with jitter.
func newReconnectBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minReconnectDelay
	b.MaxInterval = maxReconnectDelay
	b.Multiplier = 2
	b.RandomizationFactor = reconnectJitter
	b.Reset()
	return b
}

// session runs one connection until it fails or ctx ends. connected reports
// whether the handshake succeeded.
func (s *EventStream) session(ctx context.Context) (connected bool, err error) {
	token, err := s.tokens.Token()
	if err != nil {
		return false, err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	if s.stationID != "" {
		header.Set(stationHeader, s.stationID)
	}

	conn, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return false, ErrTokenExpired
		}
		return false, fmt.Errorf("dialing event stream: %w", err)
	}
	defer conn.Close()
	s.logger.Info("event stream connected", "url", s.url)

	// ReadJSON does not take a context; closing the connection unblocks it.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var ev Event
		if err := conn.ReadJSON(&ev); err != nil {
			return true, fmt.Errorf("reading event: %w", err)
		}
		s.dispatch(ctx, ev)
	}
}

func (s *EventStream) dispatch(ctx context.Context, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("event handler panic recovered", "type", ev.Type, "panic", r)
		}
	}()

	switch ev.Type {
	case EventConductRequested:
		if s.handlers.ConductRequested == nil {
			return
		}
		var req conduct.Request
		if err := json.Unmarshal(ev.Data, &req); err != nil {
			s.logger.Warn("malformed conduct request", "error", err)
			return
		}
		if err := s.handlers.ConductRequested(ctx, req); err != nil {
			s.logger.Warn("conduct request failed", "device_id", req.DeviceID, "error", err)
		}
	case EventDevicesChanged, EventProcessesChanged:
		if s.handlers.CatalogChanged != nil {
			s.handlers.CatalogChanged(ev.Type)
		}
	default:
		s.logger.Debug("ignoring cloud event", "type", ev.Type)
	}
}
