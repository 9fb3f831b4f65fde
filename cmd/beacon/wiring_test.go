package main

import (
	"context"
	"errors"
	"testing"

	"github.com/nerrad567/beacon/internal/automation"
	"github.com/nerrad567/beacon/internal/cloud"
	"github.com/nerrad567/beacon/internal/device"
	"github.com/nerrad567/beacon/internal/infrastructure/config"
	"github.com/nerrad567/beacon/internal/infrastructure/logging"
)

// countingCatalog serves a fixed catalog and counts fetches.
type countingCatalog struct {
	offlineCatalog
	deviceFetches  int
	processFetches int
}

func (c *countingCatalog) GetDevices(context.Context) ([]device.DeviceConfiguration, error) {
	c.deviceFetches++
	return []device.DeviceConfiguration{{ID: "dev-1", Identifier: "0x01"}}, nil
}

func (c *countingCatalog) GetProcesses(context.Context) ([]automation.StateTriggerProcess, error) {
	c.processFetches++
	return []automation.StateTriggerProcess{{ID: "p1"}, {ID: "p2"}}, nil
}

func newTestRefresher(catalog interface {
	device.Catalog
	automation.ProcessCatalog
}) *catalogRefresher {
	log := logging.New(config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"}, "test")
	return &catalogRefresher{
		registry:  device.NewRegistry(catalog),
		processes: automation.NewProcessSource(catalog, nil, nil),
		logger:    log,
	}
}

func TestCatalogRefresher_Refresh(t *testing.T) {
	catalog := &countingCatalog{}
	r := newTestRefresher(catalog)
	ctx := context.Background()

	if err := r.RefreshCatalog(ctx); err != nil {
		t.Fatalf("RefreshCatalog() error = %v", err)
	}
	if err := r.RefreshCatalog(ctx); err != nil {
		t.Fatalf("RefreshCatalog() error = %v", err)
	}
	if catalog.deviceFetches != 2 || catalog.processFetches != 2 {
		t.Errorf("fetches = %d devices, %d processes; want 2 each", catalog.deviceFetches, catalog.processFetches)
	}

	procs, _ := r.processes.Processes(ctx)
	if len(procs) != 2 || catalog.processFetches != 2 {
		t.Errorf("refreshed processes should be served from cache, got %d (fetches %d)", len(procs), catalog.processFetches)
	}
}

func TestCatalogRefresher_Offline(t *testing.T) {
	r := newTestRefresher(offlineCatalog{})

	err := r.RefreshCatalog(context.Background())
	if !errors.Is(err, cloud.ErrNotConfigured) {
		t.Errorf("error = %v, want ErrNotConfigured", err)
	}
}

func TestCatalogRefresher_Invalidate(t *testing.T) {
	catalog := &countingCatalog{}
	r := newTestRefresher(catalog)
	ctx := context.Background()
	_ = r.RefreshCatalog(ctx)

	r.invalidate(cloud.EventProcessesChanged)
	_, _ = r.processes.Processes(ctx)
	_, _ = r.registry.All(ctx)
	if catalog.processFetches != 2 || catalog.deviceFetches != 1 {
		t.Errorf("after processes.changed: %d processes, %d devices fetches", catalog.processFetches, catalog.deviceFetches)
	}

	r.invalidate(cloud.EventDevicesChanged)
	_, _ = r.registry.All(ctx)
	if catalog.deviceFetches != 2 {
		t.Errorf("after devices.changed: %d device fetches, want 2", catalog.deviceFetches)
	}

	r.invalidate("something.else")
	_, _ = r.registry.All(ctx)
	if catalog.deviceFetches != 2 {
		t.Error("unknown kinds must not invalidate")
	}
}
