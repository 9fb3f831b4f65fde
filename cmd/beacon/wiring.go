package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/beacon/internal/automation"
	"github.com/nerrad567/beacon/internal/cloud"
	"github.com/nerrad567/beacon/internal/conduct"
	"github.com/nerrad567/beacon/internal/device"
	"github.com/nerrad567/beacon/internal/infrastructure/influxdb"
	"github.com/nerrad567/beacon/internal/infrastructure/logging"
	"github.com/nerrad567/beacon/internal/infrastructure/mqtt"
)

// offlineCatalog stands in for the cloud when it is disabled. Every call
// fails, so the device registry stays empty and processes come from the
// local mirror.
type offlineCatalog struct{}

func (offlineCatalog) GetDevices(context.Context) ([]device.DeviceConfiguration, error) {
	return nil, cloud.ErrNotConfigured
}

func (offlineCatalog) RegisterDevice(context.Context, device.DeviceDiscovery) (string, error) {
	return "", cloud.ErrNotConfigured
}

func (offlineCatalog) UpdateDeviceInfo(context.Context, string, device.DeviceDiscovery) error {
	return cloud.ErrNotConfigured
}

func (offlineCatalog) UpdateEndpoints(context.Context, string, []device.Endpoint) error {
	return cloud.ErrNotConfigured
}

func (offlineCatalog) GetProcesses(context.Context) ([]automation.StateTriggerProcess, error) {
	return nil, cloud.ErrNotConfigured
}

// influxSink adapts the InfluxDB client to device.StateSink.
type influxSink struct {
	client *influxdb.Client
}

func (influxSink) Name() string { return "influxdb" }

// RecordState queues a point. Write errors surface through the client's
// error callback.
func (s influxSink) RecordState(_ context.Context, change device.StateChange) error {
	s.client.WriteState(change.Target.Channel, change.Target.Identifier, change.Target.Contact, change.Value, change.Timestamp)
	return nil
}

// catalogRefresher reloads the device and process catalogs. It backs the
// API refresh endpoint, the scheduled refresh and cloud change events.
type catalogRefresher struct {
	registry  *device.Registry
	processes *automation.ProcessSource
	logger    *logging.Logger
}

// RefreshCatalog drops both caches and fetches them again.
func (c *catalogRefresher) RefreshCatalog(ctx context.Context) error {
	c.registry.Invalidate()
	devices, devErr := c.registry.All(ctx)
	if devErr != nil {
		devErr = fmt.Errorf("devices: %w", devErr)
	}

	n, procErr := c.processes.Refresh(ctx)
	if procErr != nil {
		procErr = fmt.Errorf("processes: %w", procErr)
	}

	if err := errors.Join(devErr, procErr); err != nil {
		return err
	}
	c.logger.Info("catalog refreshed", "devices", len(devices), "processes", n)
	return nil
}

// invalidate drops the cache named by a cloud change event. The next read
// fetches it again.
func (c *catalogRefresher) invalidate(kind string) {
	switch kind {
	case cloud.EventDevicesChanged:
		c.registry.Invalidate()
	case cloud.EventProcessesChanged:
		c.processes.Invalidate()
	default:
		return
	}
	c.logger.Info("catalog invalidated by cloud", "kind", kind)
}

// conductMirror republishes dispatched conducts on the station's MQTT
// conduct topic for external observers.
type conductMirror struct {
	client    *mqtt.Client
	stationID string
	logger    *logging.Logger
}

func (m conductMirror) publish(_ context.Context, channel string, conducts []conduct.Conduct) error {
	if err := m.client.PublishJSON(mqtt.ConductTopic(m.stationID, channel), conducts, false); err != nil {
		m.logger.Warn("conduct mirror publish failed", "channel", channel, "error", err)
	}
	return nil
}
