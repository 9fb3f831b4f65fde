package zigbee2mqtt

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/nerrad567/beacon/internal/device"
)

// Expose types published by zigbee2mqtt.
const (
	exposeBinary    = "binary"
	exposeNumeric   = "numeric"
	exposeEnum      = "enum"
	exposeText      = "text"
	exposeComposite = "composite"
)

// expose is one entry of a device definition's exposes list. Specific
// exposes (light, switch, climate...) only carry features.
type expose struct {
	Type     string           `mapstructure:"type"`
	Name     string           `mapstructure:"name"`
	Property string           `mapstructure:"property"`
	Access   int              `mapstructure:"access"`
	ValueOn  any              `mapstructure:"value_on"`
	ValueOff any              `mapstructure:"value_off"`
	Values   []any            `mapstructure:"values"`
	Features []map[string]any `mapstructure:"features"`
}

// contactSpec is a contact plus what is needed to translate its values.
type contactSpec struct {
	Contact  device.DeviceContact
	ValueOn  any
	ValueOff any
}

// toCore maps a raw binary value onto a boolean. Other values pass through.
func (s contactSpec) toCore(v any) any {
	if s.Contact.DataType != device.DataTypeBool {
		return v
	}
	switch {
	case s.ValueOn != nil && v == s.ValueOn:
		return true
	case s.ValueOff != nil && v == s.ValueOff:
		return false
	}
	return v
}

// toDevice maps a boolean onto the device's value_on/value_off.
func (s contactSpec) toDevice(v any) any {
	b, ok := v.(bool)
	if !ok || s.Contact.DataType != device.DataTypeBool {
		return v
	}
	if b && s.ValueOn != nil {
		return s.ValueOn
	}
	if !b && s.ValueOff != nil {
		return s.ValueOff
	}
	return v
}

func decodeExpose(raw map[string]any) (expose, error) {
	var e expose
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &e,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return e, err
	}
	if err := dec.Decode(raw); err != nil {
		return e, fmt.Errorf("%w: expose: %v", ErrInvalidPayload, err)
	}
	return e, nil
}

// contactsFromExposes flattens a definition's exposes into contacts keyed by
// property. Later duplicates of a property are ignored.
func contactsFromExposes(raw []map[string]any) (map[string]contactSpec, error) {
	specs := make(map[string]contactSpec)
	if err := collectContacts(raw, specs); err != nil {
		return nil, err
	}
	return specs, nil
}

func collectContacts(raw []map[string]any, specs map[string]contactSpec) error {
	for _, r := range raw {
		e, err := decodeExpose(r)
		if err != nil {
			return err
		}
		spec, ok := contactFor(e)
		if !ok {
			if len(e.Features) > 0 {
				if err := collectContacts(e.Features, specs); err != nil {
					return err
				}
			}
			continue
		}
		if _, dup := specs[spec.Contact.Name]; !dup {
			specs[spec.Contact.Name] = spec
		}
	}
	return nil
}

// contactFor maps a single expose. ok is false for exposes that only group
// features, or that have no property to address.
func contactFor(e expose) (contactSpec, bool) {
	property := e.Property
	if property == "" {
		property = e.Name
	}
	if property == "" {
		return contactSpec{}, false
	}

	spec := contactSpec{Contact: device.DeviceContact{
		Name:   property,
		Access: device.Access(e.Access) & (device.AccessRead | device.AccessWrite | device.AccessGet),
	}}

	switch e.Type {
	case exposeBinary:
		spec.Contact.DataType = device.DataTypeBool
		spec.ValueOn, spec.ValueOff = e.ValueOn, e.ValueOff
	case exposeNumeric:
		spec.Contact.DataType = device.DataTypeDouble
		if property == "color_temp" {
			spec.Contact.DataType = device.DataTypeColorTemp
		}
	case exposeEnum:
		spec.Contact.DataType = device.DataTypeEnum
		if property == "action" {
			spec.Contact.DataType = device.DataTypeAction
		}
		for _, v := range e.Values {
			s := fmt.Sprint(v)
			spec.Contact.DataValues = append(spec.Contact.DataValues, device.DataValue{Value: s, Label: s})
		}
	case exposeText:
		spec.Contact.DataType = device.DataTypeString
	case exposeComposite:
		if property != "color" {
			return contactSpec{}, false
		}
		spec.Contact.DataType = device.DataTypeColorRGB
	default:
		return contactSpec{}, false
	}
	return spec, true
}
