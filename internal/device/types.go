package device

import (
	"fmt"
	"strings"
)

// DeviceTarget identifies one contact of one device on one channel. It is
// the key for all state and conducts and is comparable, so it can be used
// directly as a map key.
type DeviceTarget struct {
	Channel    string `json:"channel"`
	Identifier string `json:"identifier"`
	Contact    string `json:"contact"`
}

// String renders the target as channel/identifier/contact.
func (t DeviceTarget) String() string {
	return t.Channel + "/" + t.Identifier + "/" + t.Contact
}

// Validate checks that all three parts are present.
func (t DeviceTarget) Validate() error {
	if t.Channel == "" || t.Identifier == "" || t.Contact == "" {
		return fmt.Errorf("%w: %q", ErrInvalidTarget, t.String())
	}
	return nil
}

// DataType is the value type carried by a contact.
type DataType string

// Contact data types.
const (
	DataTypeBool      DataType = "bool"
	DataTypeDouble    DataType = "double"
	DataTypeString    DataType = "string"
	DataTypeEnum      DataType = "enum"
	DataTypeAction    DataType = "action"
	DataTypeColorTemp DataType = "colortemp"
	DataTypeColorRGB  DataType = "colorrgb"
)

// Valid reports whether d is a known data type.
func (d DataType) Valid() bool {
	switch d {
	case DataTypeBool, DataTypeDouble, DataTypeString, DataTypeEnum,
		DataTypeAction, DataTypeColorTemp, DataTypeColorRGB:
		return true
	}
	return false
}

// SuppressesDuplicates reports whether repeated identical values of this
// type are dropped. Actions and free text always propagate, since sending
// the same action twice is meaningful.
func (d DataType) SuppressesDuplicates() bool {
	return d != DataTypeAction && d != DataTypeString
}

// Access is a bitmask of what can be done with a contact.
type Access uint8

// Access flags.
const (
	AccessRead  Access = 1 << iota // value is reported by the device
	AccessWrite                    // value can be set by a conduct
	AccessGet                      // value can be polled on demand
)

// Has reports whether all bits of flag are set.
func (a Access) Has(flag Access) bool {
	return a&flag == flag
}

// String renders the mask as e.g. "read|write".
func (a Access) String() string {
	var parts []string
	if a.Has(AccessRead) {
		parts = append(parts, "read")
	}
	if a.Has(AccessWrite) {
		parts = append(parts, "write")
	}
	if a.Has(AccessGet) {
		parts = append(parts, "get")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// DataValue is one allowed value of an enum-like contact with an optional
// display label.
type DataValue struct {
	Value string `json:"value"`
	Label string `json:"label,omitempty"`
}

// MergeDataValues unions incoming into existing by Value. Existing order is
// kept and new values are appended. A label from incoming replaces the
// existing one only when it is non-empty.
func MergeDataValues(existing, incoming []DataValue) []DataValue {
	merged := make([]DataValue, len(existing), len(existing)+len(incoming))
	copy(merged, existing)

	index := make(map[string]int, len(merged))
	for i, v := range merged {
		index[v.Value] = i
	}

	for _, v := range incoming {
		if i, ok := index[v.Value]; ok {
			if v.Label != "" {
				merged[i].Label = v.Label
			}
			continue
		}
		index[v.Value] = len(merged)
		merged = append(merged, v)
	}
	return merged
}

// DeviceContact describes one addressable property of a device.
type DeviceContact struct {
	Name     string   `json:"name"`
	DataType DataType `json:"dataType"`
	Access   Access   `json:"access"`

	// NoiseReductionDelta suppresses double changes whose magnitude is at
	// most the delta. Ignored for other data types.
	NoiseReductionDelta *float64 `json:"noiseReductionDelta,omitempty"`

	DataValues []DataValue `json:"dataValues,omitempty"`
}

// Merge returns c updated with the metadata in update. Data values are
// merged; the noise delta is only replaced when update carries one.
func (c DeviceContact) Merge(update DeviceContact) DeviceContact {
	out := c
	if update.DataType != "" {
		out.DataType = update.DataType
	}
	if update.Access != 0 {
		out.Access = update.Access
	}
	if update.NoiseReductionDelta != nil {
		delta := *update.NoiseReductionDelta
		out.NoiseReductionDelta = &delta
	}
	out.DataValues = MergeDataValues(c.DataValues, update.DataValues)
	return out
}

// Endpoint groups the contacts a device exposes on one channel.
type Endpoint struct {
	Channel  string          `json:"channel"`
	Contacts []DeviceContact `json:"contacts"`
}

// DeviceConfiguration is a device as known to the remote catalog.
type DeviceConfiguration struct {
	// ID is assigned by the catalog on registration.
	ID string `json:"id"`

	Alias string `json:"alias"`

	// Identifier is the adapter's stable local key (e.g. an IEEE address).
	Identifier string `json:"identifier"`

	Manufacturer string     `json:"manufacturer,omitempty"`
	Model        string     `json:"model,omitempty"`
	Endpoints    []Endpoint `json:"endpoints"`
}

// Contact finds the contact named name on channel.
func (d *DeviceConfiguration) Contact(channel, name string) (DeviceContact, bool) {
	for _, ep := range d.Endpoints {
		if ep.Channel != channel {
			continue
		}
		for _, c := range ep.Contacts {
			if c.Name == name {
				return c, true
			}
		}
	}
	return DeviceContact{}, false
}

// DeepCopy returns an independent copy, so cached configurations cannot be
// mutated through returned pointers.
func (d *DeviceConfiguration) DeepCopy() *DeviceConfiguration {
	if d == nil {
		return nil
	}
	cp := *d
	cp.Endpoints = make([]Endpoint, len(d.Endpoints))
	for i, ep := range d.Endpoints {
		cp.Endpoints[i] = Endpoint{Channel: ep.Channel, Contacts: make([]DeviceContact, len(ep.Contacts))}
		for j, c := range ep.Contacts {
			cc := c
			if c.NoiseReductionDelta != nil {
				delta := *c.NoiseReductionDelta
				cc.NoiseReductionDelta = &delta
			}
			cc.DataValues = append([]DataValue(nil), c.DataValues...)
			cp.Endpoints[i].Contacts[j] = cc
		}
	}
	return &cp
}

// UpsertContact merges contact into the endpoint for channel, creating the
// endpoint or contact when missing. It reports whether anything changed.
func (d *DeviceConfiguration) UpsertContact(channel string, contact DeviceContact) bool {
	for i := range d.Endpoints {
		ep := &d.Endpoints[i]
		if ep.Channel != channel {
			continue
		}
		for j := range ep.Contacts {
			if ep.Contacts[j].Name != contact.Name {
				continue
			}
			merged := ep.Contacts[j].Merge(contact)
			if contactsEqual(ep.Contacts[j], merged) {
				return false
			}
			ep.Contacts[j] = merged
			return true
		}
		ep.Contacts = append(ep.Contacts, contact)
		return true
	}
	d.Endpoints = append(d.Endpoints, Endpoint{Channel: channel, Contacts: []DeviceContact{contact}})
	return true
}

func contactsEqual(a, b DeviceContact) bool {
	if a.Name != b.Name || a.DataType != b.DataType || a.Access != b.Access {
		return false
	}
	if (a.NoiseReductionDelta == nil) != (b.NoiseReductionDelta == nil) {
		return false
	}
	if a.NoiseReductionDelta != nil && *a.NoiseReductionDelta != *b.NoiseReductionDelta {
		return false
	}
	if len(a.DataValues) != len(b.DataValues) {
		return false
	}
	for i := range a.DataValues {
		if a.DataValues[i] != b.DataValues[i] {
			return false
		}
	}
	return true
}

// DeviceDiscovery is what an adapter knows about a newly seen device.
type DeviceDiscovery struct {
	Alias        string  `json:"alias"`
	Identifier   string  `json:"identifier"`
	Manufacturer *string `json:"manufacturer,omitempty"`
	Model        *string `json:"model,omitempty"`
}
