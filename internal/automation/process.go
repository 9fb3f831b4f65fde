package automation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/nerrad567/beacon/internal/conduct"
	"github.com/nerrad567/beacon/internal/device"
)

// StateTriggerProcess is an automation rule fired by state changes on any
// of its triggers. When Condition holds, its Conducts are published.
type StateTriggerProcess struct {
	ID         string
	Alias      string
	IsDisabled bool

	// Delay postpones condition evaluation after the trigger fires.
	Delay time.Duration

	Triggers  []device.DeviceTarget
	Condition Node // nil means always met
	Conducts  []conduct.Conduct
}

// Matches reports whether the process is enabled and triggered by target.
func (p *StateTriggerProcess) Matches(target device.DeviceTarget) bool {
	return !p.IsDisabled && slices.Contains(p.Triggers, target)
}

// Name identifies the process in logs and metrics.
func (p *StateTriggerProcess) Name() string {
	if p.Alias != "" {
		return p.Alias
	}
	return p.ID
}

type processJSON struct {
	ID         string                `json:"id"`
	Alias      string                `json:"alias,omitempty"`
	IsDisabled bool                  `json:"isDisabled"`
	Delay      float64               `json:"delay"`
	Triggers   []device.DeviceTarget `json:"triggers"`
	Condition  json.RawMessage       `json:"condition"`
	Conducts   []conduct.Conduct     `json:"conducts"`
}

// MarshalJSON writes the process with delay in milliseconds and a tagged
// condition tree. A nil condition is written as null.
func (p StateTriggerProcess) MarshalJSON() ([]byte, error) {
	cond := json.RawMessage("null")
	if p.Condition != nil {
		b, err := json.Marshal(p.Condition)
		if err != nil {
			return nil, fmt.Errorf("marshalling condition: %w", err)
		}
		cond = b
	}
	triggers := p.Triggers
	if triggers == nil {
		triggers = []device.DeviceTarget{}
	}
	conducts := p.Conducts
	if conducts == nil {
		conducts = []conduct.Conduct{}
	}
	return json.Marshal(processJSON{
		ID:         p.ID,
		Alias:      p.Alias,
		IsDisabled: p.IsDisabled,
		Delay:      conduct.ToMillis(p.Delay),
		Triggers:   triggers,
		Condition:  cond,
		Conducts:   conducts,
	})
}

// DecodeProcesses decodes catalog documents one at a time. A malformed
// document is left out and reported in skipped, wrapped with its id when
// one can be read, so a single bad rule never costs the rest of the catalog.
func DecodeProcesses(docs []json.RawMessage) (processes []StateTriggerProcess, skipped []error) {
	processes = make([]StateTriggerProcess, 0, len(docs))
	for i, doc := range docs {
		var p StateTriggerProcess
		if err := json.Unmarshal(doc, &p); err != nil {
			skipped = append(skipped, fmt.Errorf("process %s: %w", documentID(doc, i), err))
			continue
		}
		processes = append(processes, p)
	}
	return processes, skipped
}

// documentID returns the id of a process document, or its position when
// the id cannot be read.
func documentID(doc json.RawMessage, index int) string {
	var head struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(doc, &head); err == nil && head.ID != "" {
		return head.ID
	}
	return fmt.Sprintf("#%d", index)
}

// UnmarshalJSON decodes a catalog process document. Absent and null
// conditions are both "no condition"; absent delay and isDisabled take their
// zero values. Every trigger must name a full target.
func (p *StateTriggerProcess) UnmarshalJSON(data []byte) error {
	var raw processJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProcess, err)
	}
	for i, t := range raw.Triggers {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: trigger %d: %v", ErrInvalidProcess, i, err)
		}
	}

	var cond Node
	if trimmed := bytes.TrimSpace(raw.Condition); len(trimmed) > 0 {
		n, err := UnmarshalNode(trimmed)
		if err != nil {
			return fmt.Errorf("%w: condition: %w", ErrInvalidProcess, err)
		}
		cond = n
	}

	*p = StateTriggerProcess{
		ID:         raw.ID,
		Alias:      raw.Alias,
		IsDisabled: raw.IsDisabled,
		Delay:      conduct.Millis(raw.Delay),
		Triggers:   raw.Triggers,
		Condition:  cond,
		Conducts:   raw.Conducts,
	}
	return nil
}
