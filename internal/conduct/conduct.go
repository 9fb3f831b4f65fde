package conduct

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/beacon/internal/device"
)

// Conduct is a request to write Value to Target, optionally after Delay.
//
// On the wire the delay is a number of milliseconds.
type Conduct struct {
	ID     string
	Target device.DeviceTarget
	Value  any
	Delay  time.Duration
}

// New creates a conduct with a fresh ID.
func New(target device.DeviceTarget, value any, delay time.Duration) Conduct {
	return Conduct{ID: uuid.NewString(), Target: target, Value: value, Delay: delay}
}

// String renders the conduct for logs.
func (c Conduct) String() string {
	return fmt.Sprintf("%s=%v", c.Target, c.Value)
}

type conductJSON struct {
	ID     string             `json:"id,omitempty"`
	Target device.DeviceTarget `json:"target"`
	Value  any                `json:"value"`
	Delay  float64            `json:"delay"`
}

// MarshalJSON encodes Delay as milliseconds.
func (c Conduct) MarshalJSON() ([]byte, error) {
	return json.Marshal(conductJSON{
		ID:     c.ID,
		Target: c.Target,
		Value:  c.Value,
		Delay:  ToMillis(c.Delay),
	})
}

// UnmarshalJSON decodes Delay from milliseconds. An absent delay is zero.
func (c *Conduct) UnmarshalJSON(data []byte) error {
	var raw conductJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if err := raw.Target.Validate(); err != nil {
		return fmt.Errorf("conduct target: %w", err)
	}
	*c = Conduct{
		ID:     raw.ID,
		Target: raw.Target,
		Value:  raw.Value,
		Delay:  Millis(raw.Delay),
	}
	return nil
}

// Millis converts a millisecond count from configuration to a Duration.
// Negative and non-finite values become zero.
func Millis(ms float64) time.Duration {
	if ms <= 0 || math.IsNaN(ms) || math.IsInf(ms, 0) {
		return 0
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// ToMillis converts a Duration to a fractional millisecond count, the
// inverse of Millis.
func ToMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Request is an externally originated conduct addressed by catalog device ID.
type Request struct {
	DeviceID string  `json:"deviceId"`
	Channel  string  `json:"channel"`
	Contact  string  `json:"contact"`
	Value    any     `json:"value"`
	Delay    float64 `json:"delay"`
}
