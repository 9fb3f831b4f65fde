package conduct

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/beacon/internal/device"
	"github.com/nerrad567/beacon/internal/dispatch"
	"github.com/nerrad567/beacon/internal/pubsub"
)

// Logger defines the logging interface used by the Manager.
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

// Metrics receives conduct counters. *metrics.Metrics satisfies it.
type Metrics interface {
	ConductsPublished(channel string, n int)
}

type noopMetrics struct{}

func (noopMetrics) ConductsPublished(string, int) {}

// Resolver finds a catalog device by ID. *device.Registry satisfies it.
type Resolver interface {
	ByID(ctx context.Context, id string) (*device.DeviceConfiguration, error)
}

// Handler receives the conducts published to one channel.
type Handler func(ctx context.Context, channel string, conducts []Conduct) error

// Manager is the single ingress and egress point for conducts. Adapters
// subscribe per channel; automation and the cloud publish through it.
type Manager struct {
	hub      *pubsub.TopicHub[Conduct]
	resolver Resolver
	queue    *dispatch.DelayQueue[Request]
	worker   *dispatch.Worker[Request]
	metrics  Metrics
	logger   Logger
}

// NewManager creates a manager. logger may be nil.
func NewManager(hub *pubsub.TopicHub[Conduct], resolver Resolver, logger Logger) *Manager {
	if logger == nil {
		logger = noopLogger{}
	}
	m := &Manager{
		hub:      hub,
		resolver: resolver,
		queue:    dispatch.NewDelayQueue[Request](),
		metrics:  noopMetrics{},
		logger:   logger,
	}
	m.worker = dispatch.NewWorker("delayed-requests", m.queue, func(ctx context.Context, r Request) error {
		return m.RequestConduct(ctx, r, true)
	}, logger)
	return m
}

// SetMetrics sets the metrics receiver.
func (m *Manager) SetMetrics(metrics Metrics) {
	m.metrics = metrics
}

// Start launches the delayed request worker.
func (m *Manager) Start(ctx context.Context) error {
	return m.worker.Start(ctx)
}

// Stop stops the delayed request worker and waits for it.
func (m *Manager) Stop() {
	m.worker.Stop()
}

// Pending returns the number of delayed requests not yet due.
func (m *Manager) Pending() int {
	return m.queue.Len()
}

// Subscribe registers handler for conducts addressed to channel.
func (m *Manager) Subscribe(channel string, handler Handler) *pubsub.Subscription {
	return m.hub.Subscribe([]string{channel}, func(ctx context.Context, topic string, items []Conduct) error {
		return handler(ctx, topic, items)
	})
}

// PublishAsync delivers conducts grouped by channel. Groups are published
// concurrently and the call returns when every channel's handlers have
// finished. Handler failures are logged by the hub and reported as
// ErrPublishFailed after all groups complete.
func (m *Manager) PublishAsync(ctx context.Context, conducts []Conduct) error {
	if len(conducts) == 0 {
		return nil
	}

	var order []string
	groups := make(map[string][]Conduct)
	for _, c := range conducts {
		m.logger.Info("publishing conduct", "id", c.ID, "target", c.Target.String(), "value", c.Value)
		ch := c.Target.Channel
		if _, ok := groups[ch]; !ok {
			order = append(order, ch)
		}
		groups[ch] = append(groups[ch], c)
	}

	var g errgroup.Group
	for _, ch := range order {
		batch := groups[ch]
		g.Go(func() error {
			failed := m.hub.Publish(ctx, ch, batch)
			m.metrics.ConductsPublished(ch, len(batch))
			if failed > 0 {
				return fmt.Errorf("%w: %d handler(s) on channel %s", ErrPublishFailed, failed, ch)
			}
			return nil
		})
	}
	return g.Wait()
}

// RequestConduct normalises an external request. Unknown devices are
// dropped without error. When the request has a delay and ignoreDelay is
// false it is queued and re-submitted once due.
func (m *Manager) RequestConduct(ctx context.Context, r Request, ignoreDelay bool) error {
	if r.DeviceID == "" || r.Channel == "" || r.Contact == "" {
		return fmt.Errorf("%w: device %q channel %q contact %q", ErrInvalidRequest, r.DeviceID, r.Channel, r.Contact)
	}

	dev, err := m.resolver.ByID(ctx, r.DeviceID)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			m.logger.Debug("conduct request for unknown device dropped", "device_id", r.DeviceID)
		} else {
			m.logger.Warn("conduct request device lookup failed", "device_id", r.DeviceID, "error", err)
		}
		return nil
	}

	delay := Millis(r.Delay)
	if delay > 0 && !ignoreDelay {
		m.queue.Enqueue(r, delay)
		m.logger.Debug("conduct request delayed", "device_id", r.DeviceID, "delay", delay)
		return nil
	}

	target := device.DeviceTarget{Channel: r.Channel, Identifier: dev.Identifier, Contact: r.Contact}
	return m.PublishAsync(ctx, []Conduct{New(target, r.Value, 0)})
}
