package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/beacon/internal/pubsub"
)

// fakeCatalog is an in-memory Catalog that counts fetches.
type fakeCatalog struct {
	mu        sync.Mutex
	devices   []DeviceConfiguration
	fetches   atomic.Int32
	nextID    int
	fetchErr  error
	updated   map[string][]Endpoint
	infoCalls int
}

func newFakeCatalog(devices ...DeviceConfiguration) *fakeCatalog {
	return &fakeCatalog{devices: devices, updated: make(map[string][]Endpoint)}
}

func (c *fakeCatalog) GetDevices(context.Context) ([]DeviceConfiguration, error) {
	c.fetches.Add(1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	out := make([]DeviceConfiguration, len(c.devices))
	for i := range c.devices {
		out[i] = *c.devices[i].DeepCopy()
	}
	return out, nil
}

func (c *fakeCatalog) RegisterDevice(_ context.Context, d DeviceDiscovery) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := fmt.Sprintf("dev-new-%d", c.nextID)
	c.devices = append(c.devices, DeviceConfiguration{ID: id, Alias: d.Alias, Identifier: d.Identifier})
	return id, nil
}

func (c *fakeCatalog) UpdateDeviceInfo(_ context.Context, id string, d DeviceDiscovery) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.infoCalls++
	for i := range c.devices {
		if c.devices[i].ID == id {
			c.devices[i].Alias = d.Alias
			if d.Manufacturer != nil {
				c.devices[i].Manufacturer = *d.Manufacturer
			}
			if d.Model != nil {
				c.devices[i].Model = *d.Model
			}
			return nil
		}
	}
	return ErrDeviceNotFound
}

func (c *fakeCatalog) UpdateEndpoints(_ context.Context, id string, endpoints []Endpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.devices {
		if c.devices[i].ID == id {
			c.devices[i].Endpoints = endpoints
			c.updated[id] = endpoints
			return nil
		}
	}
	return ErrDeviceNotFound
}

func floatPtr(f float64) *float64 { return &f }

// thermostat exposes a noisy temperature, a switch, an action and a label.
func thermostat() DeviceConfiguration {
	return DeviceConfiguration{
		ID:         "dev-1",
		Alias:      "living-room-thermostat",
		Identifier: "0x00158d0001",
		Endpoints: []Endpoint{{
			Channel: "zigbee2mqtt",
			Contacts: []DeviceContact{
				{Name: "temperature", DataType: DataTypeDouble, Access: AccessRead, NoiseReductionDelta: floatPtr(0.5)},
				{Name: "humidity", DataType: DataTypeDouble, Access: AccessRead},
				{Name: "state", DataType: DataTypeBool, Access: AccessRead | AccessWrite},
				{Name: "action", DataType: DataTypeAction, Access: AccessRead},
				{Name: "label", DataType: DataTypeString, Access: AccessRead},
			},
		}},
	}
}

func target(contact string) DeviceTarget {
	return DeviceTarget{Channel: "zigbee2mqtt", Identifier: "0x00158d0001", Contact: contact}
}

// recordingSink captures changes it receives.
type recordingSink struct {
	mu      sync.Mutex
	changes []StateChange
	err     error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) RecordState(_ context.Context, c StateChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.changes = append(s.changes, c)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.changes)
}

// newTestStore returns a store over one thermostat and a counter of
// published targets.
func newTestStore() (*StateStore, *fakeCatalog, *[]DeviceTarget) {
	catalog := newFakeCatalog(thermostat())
	hub := pubsub.NewKeyedHub[DeviceTarget](nil)
	var mu sync.Mutex
	published := &[]DeviceTarget{}
	hub.Subscribe("test", func(_ context.Context, t DeviceTarget) error {
		mu.Lock()
		*published = append(*published, t)
		mu.Unlock()
		return nil
	})
	return NewStateStore(NewRegistry(catalog), hub), catalog, published
}
