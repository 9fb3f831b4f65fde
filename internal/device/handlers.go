package device

import (
	"context"
	"errors"
	"fmt"
)

// DeviceStateSetCommand reports a raw value read from a device.
type DeviceStateSetCommand struct {
	Target DeviceTarget
	Value  any
}

// DeviceDiscoveredCommand reports a device seen by an adapter.
type DeviceDiscoveredCommand struct {
	Discovery DeviceDiscovery
}

// DeviceContactUpdateCommand reports contact metadata for a known device.
type DeviceContactUpdateCommand struct {
	DeviceID string
	Channel  string
	Contact  DeviceContact
}

// Handlers is the entry point adapters use to feed the core.
type Handlers struct {
	store    *StateStore
	registry *Registry
	logger   Logger
}

// NewHandlers creates the adapter command handlers.
func NewHandlers(store *StateStore, registry *Registry) *Handlers {
	return &Handlers{store: store, registry: registry, logger: noopLogger{}}
}

// SetLogger sets the logger for the handlers.
func (h *Handlers) SetLogger(logger Logger) {
	h.logger = logger
}

// DeviceStateSet forwards a reading to the state store.
func (h *Handlers) DeviceStateSet(ctx context.Context, cmd DeviceStateSetCommand) error {
	_, err := h.store.SetState(ctx, cmd.Target, cmd.Value)
	return err
}

// DeviceDiscovered registers an unseen device or refreshes the catalog info
// of a known one, returning the catalog ID either way.
func (h *Handlers) DeviceDiscovered(ctx context.Context, cmd DeviceDiscoveredCommand) (string, error) {
	d := cmd.Discovery
	if d.Alias == "" || d.Identifier == "" {
		return "", ErrInvalidDiscovery
	}

	existing, err := h.registry.ByIdentifier(ctx, d.Identifier)
	if errors.Is(err, ErrDeviceNotFound) {
		return h.registry.Register(ctx, d)
	}
	if err != nil {
		return "", err
	}

	if infoChanged(existing, d) {
		if err := h.registry.UpdateInfo(ctx, existing.ID, d); err != nil {
			return "", err
		}
		h.logger.Info("device info updated", "id", existing.ID, "identifier", d.Identifier)
	}
	return existing.ID, nil
}

func infoChanged(existing *DeviceConfiguration, d DeviceDiscovery) bool {
	if existing.Alias != d.Alias {
		return true
	}
	if d.Manufacturer != nil && *d.Manufacturer != existing.Manufacturer {
		return true
	}
	return d.Model != nil && *d.Model != existing.Model
}

// DeviceContactUpdate merges contact metadata into the device's endpoints
// and pushes the endpoint list to the catalog when it changed.
func (h *Handlers) DeviceContactUpdate(ctx context.Context, cmd DeviceContactUpdateCommand) error {
	if cmd.Channel == "" || cmd.Contact.Name == "" {
		return fmt.Errorf("%w: channel and contact name required", ErrInvalidTarget)
	}

	dev, err := h.registry.ByID(ctx, cmd.DeviceID)
	if err != nil {
		return err
	}
	if !dev.UpsertContact(cmd.Channel, cmd.Contact) {
		return nil
	}
	return h.registry.UpdateEndpoints(ctx, dev.ID, dev.Endpoints)
}
