package zigbee2mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nerrad567/beacon/internal/conduct"
	"github.com/nerrad567/beacon/internal/device"
	"github.com/nerrad567/beacon/internal/infrastructure/mqtt"
	"github.com/nerrad567/beacon/internal/pubsub"
)

// Channel is the device channel served by this adapter.
const Channel = "zigbee2mqtt"

const (
	bridgeSegment         = "bridge"
	deviceTypeCoordinator = "Coordinator"
	bridgeOnline          = "online"
)

// MQTTClient is the subset of the MQTT client the adapter needs.
type MQTTClient interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// DeviceHandlers receives what the adapter learns from zigbee2mqtt.
// Satisfied by *device.Handlers.
type DeviceHandlers interface {
	DeviceStateSet(ctx context.Context, cmd device.DeviceStateSetCommand) error
	DeviceDiscovered(ctx context.Context, cmd device.DeviceDiscoveredCommand) (string, error)
	DeviceContactUpdate(ctx context.Context, cmd device.DeviceContactUpdateCommand) error
}

// ConductSource delivers conducts for a channel. Satisfied by *conduct.Manager.
type ConductSource interface {
	Subscribe(channel string, handler conduct.Handler) *pubsub.Subscription
}

// Logger defines the logging interface used by the adapter.
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

// bridgeDevice is one entry of {base}/bridge/devices.
type bridgeDevice struct {
	IEEEAddress        string      `json:"ieee_address"`
	FriendlyName       string      `json:"friendly_name"`
	Type               string      `json:"type"`
	InterviewCompleted bool        `json:"interview_completed"`
	Definition         *definition `json:"definition"`
}

type definition struct {
	Vendor  string           `json:"vendor"`
	Model   string           `json:"model"`
	Exposes []map[string]any `json:"exposes"`
}

// knownDevice is a device from the last device list.
type knownDevice struct {
	ieee     string
	name     string
	contacts map[string]contactSpec
}

// Adapter translates between zigbee2mqtt topics and the core.
//
// Thread Safety: All methods are safe for concurrent use.
type Adapter struct {
	base     string
	qos      byte
	client   MQTTClient
	handlers DeviceHandlers
	conducts ConductSource

	mu          sync.RWMutex
	byName      map[string]*knownDevice
	byIEEE      map[string]*knownDevice
	ctx         context.Context
	bridgeState string

	runMu   sync.Mutex
	sub     *pubsub.Subscription
	running bool

	logger Logger
}

// New creates an adapter for the zigbee2mqtt instance under baseTopic.
func New(baseTopic string, qos byte, client MQTTClient, handlers DeviceHandlers, conducts ConductSource) *Adapter {
	return &Adapter{
		base:     strings.TrimSuffix(baseTopic, "/"),
		qos:      qos,
		client:   client,
		handlers: handlers,
		conducts: conducts,
		byName:   make(map[string]*knownDevice),
		byIEEE:   make(map[string]*knownDevice),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger.
func (a *Adapter) SetLogger(logger Logger) {
	if logger != nil {
		a.logger = logger
	}
}

func (a *Adapter) devicesTopic() string        { return a.base + "/" + bridgeSegment + "/devices" }
func (a *Adapter) bridgeStateTopic() string    { return a.base + "/" + bridgeSegment + "/state" }
func (a *Adapter) stateTopic() string          { return a.base + "/+" }
func (a *Adapter) setTopic(name string) string { return a.base + "/" + name + "/set" }

// Start subscribes to the bridge topics, device state and conducts. ctx is
// used for every core call made from MQTT callbacks.
func (a *Adapter) Start(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return ErrAlreadyStarted
	}
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	subs := []struct {
		topic   string
		what    string
		handler mqtt.MessageHandler
	}{
		{a.bridgeStateTopic(), "bridge state", a.handleBridgeState},
		{a.devicesTopic(), "device list", a.handleDevices},
		{a.stateTopic(), "device state", a.handleState},
	}
	for i, s := range subs {
		if err := a.client.Subscribe(s.topic, a.qos, s.handler); err != nil {
			for _, done := range subs[:i] {
				_ = a.client.Unsubscribe(done.topic) //nolint:errcheck // Best effort rollback
			}
			return fmt.Errorf("subscribing to %s: %w", s.what, err)
		}
	}
	a.sub = a.conducts.Subscribe(Channel, a.handleConducts)
	a.running = true

	a.logger.Info("zigbee2mqtt adapter started", "base_topic", a.base)
	return nil
}

// Stop removes all subscriptions. Safe to call more than once.
func (a *Adapter) Stop() {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if !a.running {
		return
	}
	a.running = false
	a.sub.Close()

	for _, topic := range []string{a.stateTopic(), a.devicesTopic(), a.bridgeStateTopic()} {
		if err := a.client.Unsubscribe(topic); err != nil {
			a.logger.Warn("unsubscribe failed", "topic", topic, "error", err)
		}
	}
	a.logger.Info("zigbee2mqtt adapter stopped")
}

func (a *Adapter) context() context.Context {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.ctx == nil {
		return context.Background()
	}
	return a.ctx
}

// DeviceCount returns the number of devices in the last device list.
func (a *Adapter) DeviceCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.byIEEE)
}

// HealthCheck reports whether the zigbee2mqtt bridge last announced itself
// online. Returns ErrBridgeOffline otherwise, including before the first
// announcement.
func (a *Adapter) HealthCheck(_ context.Context) error {
	a.mu.RLock()
	state := a.bridgeState
	a.mu.RUnlock()
	if state == bridgeOnline {
		return nil
	}
	if state == "" {
		state = "unknown"
	}
	return fmt.Errorf("%w: state %s", ErrBridgeOffline, state)
}

// handleBridgeState tracks {base}/bridge/state. Current zigbee2mqtt
// publishes {"state":"online"}; older releases publish the bare word.
func (a *Adapter) handleBridgeState(_ string, payload []byte) error {
	state := strings.TrimSpace(string(payload))
	var obj struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(payload, &obj); err == nil && obj.State != "" {
		state = obj.State
	}

	a.mu.Lock()
	previous := a.bridgeState
	a.bridgeState = state
	a.mu.Unlock()

	if state != previous {
		a.logger.Info("zigbee2mqtt bridge state changed", "state", state)
	}
	return nil
}

// handleDevices processes the retained device list. The list is complete,
// so it replaces what was known before.
func (a *Adapter) handleDevices(_ string, payload []byte) error {
	var list []bridgeDevice
	if err := json.Unmarshal(payload, &list); err != nil {
		return fmt.Errorf("%w: device list: %v", ErrInvalidPayload, err)
	}

	ctx := a.context()
	byName := make(map[string]*knownDevice, len(list))
	byIEEE := make(map[string]*knownDevice, len(list))

	for _, d := range list {
		if d.Type == deviceTypeCoordinator || d.IEEEAddress == "" || d.Definition == nil {
			continue
		}
		known, err := a.announce(ctx, d)
		if err != nil {
			a.logger.Warn("device announcement failed", "ieee_address", d.IEEEAddress, "friendly_name", d.FriendlyName, "error", err)
			continue
		}
		byName[known.name] = known
		byIEEE[known.ieee] = known
	}

	a.mu.Lock()
	a.byName, a.byIEEE = byName, byIEEE
	a.mu.Unlock()

	a.logger.Debug("device list processed", "devices", len(byIEEE))
	return nil
}

// announce registers d with the core and pushes its contacts.
func (a *Adapter) announce(ctx context.Context, d bridgeDevice) (*knownDevice, error) {
	contacts, err := contactsFromExposes(d.Definition.Exposes)
	if err != nil {
		return nil, err
	}

	discovery := device.DeviceDiscovery{Alias: d.FriendlyName, Identifier: d.IEEEAddress}
	if d.Definition.Vendor != "" {
		discovery.Manufacturer = &d.Definition.Vendor
	}
	if d.Definition.Model != "" {
		discovery.Model = &d.Definition.Model
	}

	id, err := a.handlers.DeviceDiscovered(ctx, device.DeviceDiscoveredCommand{Discovery: discovery})
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, spec := range contacts {
		cmd := device.DeviceContactUpdateCommand{DeviceID: id, Channel: Channel, Contact: spec.Contact}
		if err := a.handlers.DeviceContactUpdate(ctx, cmd); err != nil {
			errs = append(errs, fmt.Errorf("contact %s: %w", spec.Contact.Name, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("contact update failed", "device_id", id, "error", err)
	}

	return &knownDevice{ieee: d.IEEEAddress, name: d.FriendlyName, contacts: contacts}, nil
}

// handleState turns a device state object into one state set per key.
func (a *Adapter) handleState(topic string, payload []byte) error {
	name := strings.TrimPrefix(topic, a.base+"/")
	if name == bridgeSegment || name == topic {
		return nil
	}

	a.mu.RLock()
	known := a.byName[name]
	a.mu.RUnlock()
	if known == nil {
		a.logger.Debug("state for unannounced device dropped", "friendly_name", name)
		return nil
	}

	var state map[string]any
	if err := json.Unmarshal(payload, &state); err != nil {
		return fmt.Errorf("%w: state of %s: %v", ErrInvalidPayload, name, err)
	}

	ctx := a.context()
	var errs []error
	for key, value := range state {
		if spec, ok := known.contacts[key]; ok {
			value = spec.toCore(value)
		}
		cmd := device.DeviceStateSetCommand{
			Target: device.DeviceTarget{Channel: Channel, Identifier: known.ieee, Contact: key},
			Value:  value,
		}
		if err := a.handlers.DeviceStateSet(ctx, cmd); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// handleConducts publishes one set message per device, merging every
// conduct for that device into a single object.
func (a *Adapter) handleConducts(_ context.Context, _ string, conducts []conduct.Conduct) error {
	type pending struct {
		name    string
		payload map[string]any
	}
	var order []string
	batches := make(map[string]*pending)
	var errs []error

	a.mu.RLock()
	for _, c := range conducts {
		known := a.byIEEE[c.Target.Identifier]
		if known == nil {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownDevice, c.Target.Identifier))
			continue
		}
		b, ok := batches[known.ieee]
		if !ok {
			b = &pending{name: known.name, payload: make(map[string]any)}
			batches[known.ieee] = b
			order = append(order, known.ieee)
		}
		value := c.Value
		if spec, ok := known.contacts[c.Target.Contact]; ok {
			value = spec.toDevice(value)
		}
		b.payload[c.Target.Contact] = value
	}
	a.mu.RUnlock()

	for _, ieee := range order {
		b := batches[ieee]
		body, err := json.Marshal(b.payload)
		if err != nil {
			errs = append(errs, fmt.Errorf("encoding set for %s: %w", b.name, err))
			continue
		}
		if err := a.client.Publish(a.setTopic(b.name), body, a.qos, false); err != nil {
			errs = append(errs, fmt.Errorf("publishing set for %s: %w", b.name, err))
			continue
		}
		a.logger.Debug("set published", "friendly_name", b.name, "payload", string(body))
	}
	return errors.Join(errs...)
}
