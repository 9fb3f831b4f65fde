package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/beacon/internal/device"
	"github.com/nerrad567/beacon/internal/infrastructure/config"
	"github.com/nerrad567/beacon/internal/infrastructure/logging"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// Event types pushed to clients.
const (
	// EventStateChanged is sent for every accepted state change that
	// matches the client's target filters.
	EventStateChanged = "state.changed"

	// EventStateSnapshot carries the current values matching a new
	// subscription when the client asked for them.
	EventStateSnapshot = "state.snapshot"
)

// WSMessage is the envelope of every message in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe messages.
//
// Targets narrows state.changed to the listed contacts. Without targets
// the client receives every change. Snapshot asks for the current values
// matching the subscription before any further change.
type WSSubscribePayload struct {
	Channels []string       `json:"channels"`
	Targets  []TargetFilter `json:"targets,omitempty"`
	Snapshot bool           `json:"snapshot,omitempty"`
}

// TargetFilter selects contacts. Empty fields match anything, so
// {"channel":"zigbee2mqtt"} selects every zigbee contact.
type TargetFilter struct {
	Channel    string `json:"channel,omitempty"`
	Identifier string `json:"identifier,omitempty"`
	Contact    string `json:"contact,omitempty"`
}

// Matches reports whether t is selected by the filter.
func (f TargetFilter) Matches(t device.DeviceTarget) bool {
	return (f.Channel == "" || f.Channel == t.Channel) &&
		(f.Identifier == "" || f.Identifier == t.Identifier) &&
		(f.Contact == "" || f.Contact == t.Contact)
}

// subscription is what a client asked for on one event type. A nil filter
// list means every target.
type subscription struct {
	filters []TargetFilter
}

func (s subscription) matches(t device.DeviceTarget) bool {
	if s.filters == nil {
		return true
	}
	for _, f := range s.filters {
		if f.Matches(t) {
			return true
		}
	}
	return false
}

// Hub fans accepted state changes out to WebSocket clients.
type Hub struct {
	cfg      config.WebSocketConfig
	logger   *logging.Logger
	snapshot func() []device.StateChange

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected WebSocket client.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions map[string]subscription
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// CORS middleware decides on origins.
		return true
	},
}

// NewHub creates a hub. snapshot supplies current values for subscribers
// that ask for them and may be nil.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger, snapshot func() []device.StateChange) *Hub {
	return &Hub{
		cfg:      cfg,
		logger:   logger,
		snapshot: snapshot,
		clients:  make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Register adds a client.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// Unregister removes a client. Only the call that removes it closes its
// send channel.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "clients", h.ClientCount())
}

// BroadcastState sends view to every client whose state.changed
// subscription selects its target.
func (h *Hub) BroadcastState(view stateView) {
	h.broadcast(EventStateChanged, view, func(c *WSClient) bool {
		return c.wants(EventStateChanged, view.Target)
	})
}

// Broadcast sends an untargeted event to every client subscribed to
// eventType.
func (h *Hub) Broadcast(eventType string, payload any) {
	h.broadcast(eventType, payload, func(c *WSClient) bool {
		return c.isSubscribed(eventType)
	})
}

func (h *Hub) broadcast(eventType string, payload any, want func(*WSClient) bool) {
	data, err := encodeEvent(eventType, payload)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "event", eventType, "error", err)
		return
	}

	// Client locks are never taken while the hub lock is held.
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	sent := 0
	for _, client := range clients {
		if want(client) {
			client.trySend(data)
			sent++
		}
	}
	if sent > 0 {
		h.logger.Debug("broadcast sent", "event", eventType, "recipients", sent)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects every client so their write pumps exit.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
		delete(h.clients, client)
	}
}

// matching returns the current values selected by sub, ordered by target.
func (h *Hub) matching(sub subscription) []stateView {
	out := []stateView{}
	if h.snapshot == nil {
		return out
	}
	for _, c := range h.snapshot() {
		if sub.matches(c.Target) {
			out = append(out, stateView{Target: c.Target, Value: c.Value, UpdatedAt: c.Timestamp})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Target.String() < out[j].Target.String()
	})
	return out
}

func encodeEvent(eventType string, payload any) ([]byte, error) {
	return json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
}

// handleWebSocket upgrades the connection and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]subscription),
	}

	s.hub.Register(client)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// keepalive returns the ping interval and pong wait, falling back to
// 30s and 10s for unset values.
func keepalive(cfg config.WebSocketConfig) (ping, pong time.Duration) {
	ping, pong = 30*time.Second, 10*time.Second
	if cfg.PingInterval > 0 {
		ping = time.Duration(cfg.PingInterval) * time.Second
	}
	if cfg.PongTimeout > 0 {
		pong = time.Duration(cfg.PongTimeout) * time.Second
	}
	return ping, pong
}

func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	if cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	}
	pingInterval, pongWait := keepalive(cfg)
	extend := func() error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	}
	extend() //nolint:errcheck // A failed deadline surfaces as a read error
	c.conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Browsers that ignore protocol pings stay alive by talking.
		extend() //nolint:errcheck // A failed deadline surfaces as a read error
		c.handleMessage(message)
	}
}

func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval, pongWait := keepalive(cfg)
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) error {
		//nolint:errcheck // A failed deadline surfaces as a write error
		c.conn.SetWriteDeadline(time.Now().Add(pongWait))
		return c.conn.WriteMessage(kind, data)
	}

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				write(websocket.CloseMessage, nil) //nolint:errcheck // Closing anyway
				return
			}
			if err := write(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg struct {
		Type    string          `json:"type"`
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var sub WSSubscribePayload
		if len(msg.Payload) > 0 {
			if err := json.Unmarshal(msg.Payload, &sub); err != nil {
				c.sendError(msg.ID, "invalid "+msg.Type+" payload")
				return
			}
		}
		if msg.Type == WSTypeSubscribe {
			c.subscribe(msg.ID, sub)
		} else {
			c.unsubscribe(msg.ID, sub)
		}
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// subscribe merges sub into the client's subscriptions. Target filters
// accumulate; a subscription without targets widens to every target.
func (c *WSClient) subscribe(id string, sub WSSubscribePayload) {
	if len(sub.Channels) == 0 {
		c.sendError(id, "no channels to subscribe")
		return
	}

	c.mu.Lock()
	for _, ch := range sub.Channels {
		current, exists := c.subscriptions[ch]
		switch {
		case len(sub.Targets) == 0:
			current.filters = nil
		case !exists || current.filters != nil:
			current.filters = append(current.filters, sub.Targets...)
		}
		c.subscriptions[ch] = current
	}
	state, watchesState := c.subscriptions[EventStateChanged]
	c.mu.Unlock()

	c.hub.logger.Info("websocket client subscribed", "channels", sub.Channels, "targets", len(sub.Targets))
	c.sendResponse(id, WSTypeResponse, map[string]any{"subscribed": sub.Channels})

	if sub.Snapshot && watchesState {
		data, err := encodeEvent(EventStateSnapshot, c.hub.matching(state))
		if err != nil {
			c.hub.logger.Error("failed to marshal state snapshot", "error", err)
			return
		}
		c.trySend(data)
	}
}

// unsubscribe drops whole channels, or only the listed filters when
// targets are given.
func (c *WSClient) unsubscribe(id string, sub WSSubscribePayload) {
	c.mu.Lock()
	for _, ch := range sub.Channels {
		current, ok := c.subscriptions[ch]
		if !ok {
			continue
		}
		if len(sub.Targets) == 0 || current.filters == nil {
			delete(c.subscriptions, ch)
			continue
		}
		kept := make([]TargetFilter, 0, len(current.filters))
		for _, f := range current.filters {
			if !containsFilter(sub.Targets, f) {
				kept = append(kept, f)
			}
		}
		if len(kept) == 0 {
			delete(c.subscriptions, ch)
		} else {
			c.subscriptions[ch] = subscription{filters: kept}
		}
	}
	c.mu.Unlock()

	c.sendResponse(id, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels})
}

func containsFilter(list []TargetFilter, f TargetFilter) bool {
	for _, x := range list {
		if x == f {
			return true
		}
	}
	return false
}

// trySend queues data without blocking. Slow clients miss messages; a
// client closed mid-broadcast is ignored.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Send on a channel closed by Unregister
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) isSubscribed(eventType string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subscriptions[eventType]
	return ok
}

func (c *WSClient) wants(eventType string, target device.DeviceTarget) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sub, ok := c.subscriptions[eventType]
	return ok && sub.matches(target)
}

func (c *WSClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func (c *WSClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
