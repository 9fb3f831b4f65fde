package device

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/nerrad567/beacon/internal/pubsub"
)

const sinkTimeout = 10 * time.Second

// Metrics receives state store counters. *metrics.Metrics satisfies it.
type Metrics interface {
	StateAccepted(channel string)
	StateSuppressed(reason string)
}

// Suppression reasons reported to Metrics.
const (
	ReasonUnknownDevice  = "unknown_device"
	ReasonUnknownContact = "unknown_contact"
	ReasonNull           = "null"
	ReasonDuplicate      = "duplicate"
	ReasonNoise          = "noise"
)

type noopMetrics struct{}

func (noopMetrics) StateAccepted(string)   {}
func (noopMetrics) StateSuppressed(string) {}

// Resolver finds the catalog configuration for an adapter identifier.
// *Registry satisfies it.
type Resolver interface {
	ByIdentifier(ctx context.Context, identifier string) (*DeviceConfiguration, error)
}

// StateChange is an accepted state update as handed to sinks.
type StateChange struct {
	DeviceID  string       `json:"deviceId"`
	Target    DeviceTarget `json:"target"`
	Value     any          `json:"value"`
	Timestamp time.Time    `json:"timestamp"`
}

// StateSink receives every accepted change after subscribers have been
// notified. Failures are logged and never reach the writer.
type StateSink interface {
	Name() string
	RecordState(ctx context.Context, change StateChange) error
}

// StateEntry is the stored value of one target.
type StateEntry struct {
	Value     any       `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StateStore is the authoritative in-memory map of target to last value.
//
// Reads never block: values live in a sync.Map of immutable entries and
// writers swap entries with compare-and-swap, so two concurrent writers of
// the same target cannot both pass the duplicate check.
type StateStore struct {
	resolver Resolver
	hub      *pubsub.KeyedHub[DeviceTarget]
	states   sync.Map // DeviceTarget -> *StateEntry

	sinks   []StateSink
	sinksWG sync.WaitGroup

	metrics Metrics
	logger  Logger
	now     func() time.Time
}

// NewStateStore creates a store that resolves devices through resolver and
// announces changed targets on hub.
func NewStateStore(resolver Resolver, hub *pubsub.KeyedHub[DeviceTarget]) *StateStore {
	return &StateStore{
		resolver: resolver,
		hub:      hub,
		metrics:  noopMetrics{},
		logger:   noopLogger{},
		now:      time.Now,
	}
}

// SetLogger sets the logger for the store.
func (s *StateStore) SetLogger(logger Logger) {
	s.logger = logger
}

// SetMetrics sets the metrics receiver for the store.
func (s *StateStore) SetMetrics(m Metrics) {
	s.metrics = m
}

// AddSink registers a sink. Sinks must be added before the first SetState.
func (s *StateStore) AddSink(sink StateSink) {
	s.sinks = append(s.sinks, sink)
}

// SetState applies a raw value reported by an adapter.
//
// The value is dropped when the device or contact is unknown, when both the
// stored and the new value are null, when it equals the stored value (except
// for action and string contacts), or when a double contact with a noise
// delta moved by no more than that delta. Otherwise it is stored, the target
// is published synchronously, and sinks are fed in the background.
//
// Returns:
//   - bool: true when the value was accepted and published
//   - error: only for an invalid target; lookups failures are drops
func (s *StateStore) SetState(ctx context.Context, target DeviceTarget, raw any) (bool, error) {
	if err := target.Validate(); err != nil {
		return false, err
	}
	value := ParseValue(raw)

	dev, err := s.resolver.ByIdentifier(ctx, target.Identifier)
	if err != nil {
		if !errors.Is(err, ErrDeviceNotFound) {
			s.logger.Warn("device lookup failed, state dropped", "target", target.String(), "error", err)
		} else {
			s.logger.Debug("state for unknown device dropped", "target", target.String())
		}
		s.metrics.StateSuppressed(ReasonUnknownDevice)
		return false, nil
	}

	contact, ok := dev.Contact(target.Channel, target.Contact)
	if !ok {
		s.logger.Debug("state for unknown contact dropped", "target", target.String())
		s.metrics.StateSuppressed(ReasonUnknownContact)
		return false, nil
	}

	entry := &StateEntry{Value: value, UpdatedAt: s.now()}
	for {
		current, loaded := s.states.Load(target)
		var old any
		if loaded {
			old = current.(*StateEntry).Value
		}

		if reason := suppress(contact, old, value); reason != "" {
			s.logger.Debug("state suppressed", "target", target.String(), "reason", reason)
			s.metrics.StateSuppressed(reason)
			return false, nil
		}

		if !loaded {
			if _, raced := s.states.LoadOrStore(target, entry); raced {
				continue
			}
			break
		}
		if s.states.CompareAndSwap(target, current, entry) {
			break
		}
	}

	s.metrics.StateAccepted(target.Channel)
	s.hub.Publish(ctx, target)
	s.forward(ctx, StateChange{DeviceID: dev.ID, Target: target, Value: value, Timestamp: entry.UpdatedAt})
	return true, nil
}

// suppress returns the reason a change from old to value is dropped, or "".
func suppress(contact DeviceContact, old, value any) string {
	if old == nil && value == nil {
		return ReasonNull
	}
	if contact.DataType.SuppressesDuplicates() && ValuesEqual(old, value) {
		return ReasonDuplicate
	}
	if contact.DataType == DataTypeDouble && contact.NoiseReductionDelta != nil {
		oldF, okOld := old.(float64)
		newF, okNew := value.(float64)
		if okOld && okNew && math.Abs(newF-oldF) <= *contact.NoiseReductionDelta {
			return ReasonNoise
		}
	}
	return ""
}

// forward hands change to every sink. The write path only waits for the
// goroutine to be scheduled; sink latency never reaches the writer.
func (s *StateStore) forward(ctx context.Context, change StateChange) {
	if len(s.sinks) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)

	s.sinksWG.Add(1)
	go func() {
		defer s.sinksWG.Done()
		for _, sink := range s.sinks {
			s.recordTo(detached, sink, change)
		}
	}()
}

func (s *StateStore) recordTo(ctx context.Context, sink StateSink, change StateChange) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("state sink panic recovered", "sink", sink.Name(), "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()

	err := sink.RecordState(ctx, change)
	switch {
	case err == nil:
	case errors.Is(err, ErrSinkUnauthorized):
		s.logger.Info("state sink token expired", "sink", sink.Name(), "target", change.Target.String())
	default:
		s.logger.Warn("state sink failed", "sink", sink.Name(), "target", change.Target.String(), "error", err)
	}
}

// GetState returns the stored value of target.
func (s *StateStore) GetState(target DeviceTarget) (any, bool) {
	e, ok := s.Entry(target)
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// Entry returns the stored value of target together with its timestamp.
func (s *StateStore) Entry(target DeviceTarget) (StateEntry, bool) {
	v, ok := s.states.Load(target)
	if !ok {
		return StateEntry{}, false
	}
	return *v.(*StateEntry), true
}

// SetLocalState stores a value without checks, publishing or sinks. Restore
// uses it to seed the last known values at startup.
func (s *StateStore) SetLocalState(target DeviceTarget, raw any) {
	s.seed(target, raw, s.now())
}

func (s *StateStore) seed(target DeviceTarget, raw any, at time.Time) {
	s.states.Store(target, &StateEntry{Value: ParseValue(raw), UpdatedAt: at})
}

// StateHistory yields the last recorded value of every target.
type StateHistory interface {
	Latest(ctx context.Context) ([]HistoryEntry, error)
}

// Restore seeds the store with the last recorded value of every target so
// that conditions read sensible values before devices report again. Seeded
// values are not published and do not reach the sinks. Targets that
// already hold a value are left alone.
//
// Returns:
//   - int: Number of targets seeded
//   - error: nil on success, otherwise the history read error
func (s *StateStore) Restore(ctx context.Context, history StateHistory) (int, error) {
	entries, err := history.Latest(ctx)
	if err != nil {
		return 0, fmt.Errorf("reading last known states: %w", err)
	}
	n := 0
	for _, e := range entries {
		if _, ok := s.states.Load(e.Target); ok {
			continue
		}
		s.seed(e.Target, e.Value, e.RecordedAt)
		n++
	}
	s.logger.Debug("restored device states", "targets", n)
	return n, nil
}

// Snapshot returns every stored target and value.
func (s *StateStore) Snapshot() []StateChange {
	var out []StateChange
	s.states.Range(func(k, v any) bool {
		e := v.(*StateEntry)
		out = append(out, StateChange{Target: k.(DeviceTarget), Value: e.Value, Timestamp: e.UpdatedAt})
		return true
	})
	return out
}

// Wait blocks until all in-flight sink deliveries have finished.
func (s *StateStore) Wait() {
	s.sinksWG.Wait()
}
