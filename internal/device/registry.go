package device

import (
	"context"
	"fmt"

	"github.com/nerrad567/beacon/internal/cache"
)

// Logger defines the logging interface used by the device package.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Catalog is the remote source of truth for device configurations.
type Catalog interface {
	GetDevices(ctx context.Context) ([]DeviceConfiguration, error)
	RegisterDevice(ctx context.Context, discovery DeviceDiscovery) (string, error)
	UpdateDeviceInfo(ctx context.Context, id string, discovery DeviceDiscovery) error
	UpdateEndpoints(ctx context.Context, id string, endpoints []Endpoint) error
}

// Registry provides cached device lookups over a Catalog.
//
// The device list is fetched once and shared until Invalidate is called or a
// write goes through the registry. Concurrent cold lookups share one fetch.
//
// All public methods are thread-safe.
type Registry struct {
	catalog Catalog
	devices *cache.Collection[DeviceConfiguration]
	logger  Logger
}

// NewRegistry creates a registry backed by catalog.
func NewRegistry(catalog Catalog) *Registry {
	return &Registry{
		catalog: catalog,
		devices: cache.NewCollection("devices", catalog.GetDevices),
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// All returns deep copies of every known device.
func (r *Registry) All(ctx context.Context) ([]DeviceConfiguration, error) {
	devices, err := r.devices.GetOrFetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading devices: %w", err)
	}
	out := make([]DeviceConfiguration, len(devices))
	for i := range devices {
		out[i] = *devices[i].DeepCopy()
	}
	return out, nil
}

// ByID returns the device with the catalog ID id.
// Returns ErrDeviceNotFound if the device does not exist.
// The returned device is a deep copy; callers can safely modify it.
func (r *Registry) ByID(ctx context.Context, id string) (*DeviceConfiguration, error) {
	return r.find(ctx, func(d *DeviceConfiguration) bool { return d.ID == id })
}

// ByAlias returns the device with the given alias.
func (r *Registry) ByAlias(ctx context.Context, alias string) (*DeviceConfiguration, error) {
	return r.find(ctx, func(d *DeviceConfiguration) bool { return d.Alias == alias })
}

// ByIdentifier returns the device with the given adapter identifier.
func (r *Registry) ByIdentifier(ctx context.Context, identifier string) (*DeviceConfiguration, error) {
	return r.find(ctx, func(d *DeviceConfiguration) bool { return d.Identifier == identifier })
}

// Contact resolves the contact addressed by target.
func (r *Registry) Contact(ctx context.Context, target DeviceTarget) (DeviceContact, error) {
	d, err := r.ByIdentifier(ctx, target.Identifier)
	if err != nil {
		return DeviceContact{}, err
	}
	c, ok := d.Contact(target.Channel, target.Contact)
	if !ok {
		return DeviceContact{}, fmt.Errorf("%w: %s", ErrContactNotFound, target)
	}
	return c, nil
}

func (r *Registry) find(ctx context.Context, match func(*DeviceConfiguration) bool) (*DeviceConfiguration, error) {
	devices, err := r.devices.GetOrFetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading devices: %w", err)
	}
	for i := range devices {
		if match(&devices[i]) {
			return devices[i].DeepCopy(), nil
		}
	}
	return nil, ErrDeviceNotFound
}

// Register adds a newly discovered device to the catalog and returns its ID.
func (r *Registry) Register(ctx context.Context, discovery DeviceDiscovery) (string, error) {
	if discovery.Alias == "" || discovery.Identifier == "" {
		return "", ErrInvalidDiscovery
	}
	id, err := r.catalog.RegisterDevice(ctx, discovery)
	if err != nil {
		return "", fmt.Errorf("registering device %s: %w", discovery.Identifier, err)
	}
	r.devices.Invalidate()
	r.logger.Info("device registered", "id", id, "identifier", discovery.Identifier)
	return id, nil
}

// UpdateInfo pushes changed alias, manufacturer or model to the catalog.
func (r *Registry) UpdateInfo(ctx context.Context, id string, discovery DeviceDiscovery) error {
	if err := r.catalog.UpdateDeviceInfo(ctx, id, discovery); err != nil {
		return fmt.Errorf("updating device %s: %w", id, err)
	}
	r.devices.Invalidate()
	return nil
}

// UpdateEndpoints replaces the endpoint list of device id in the catalog.
func (r *Registry) UpdateEndpoints(ctx context.Context, id string, endpoints []Endpoint) error {
	if err := r.catalog.UpdateEndpoints(ctx, id, endpoints); err != nil {
		return fmt.Errorf("updating endpoints of %s: %w", id, err)
	}
	r.devices.Invalidate()
	return nil
}

// Invalidate drops the cached device list.
func (r *Registry) Invalidate() {
	r.devices.Invalidate()
	r.logger.Debug("device cache invalidated")
}
