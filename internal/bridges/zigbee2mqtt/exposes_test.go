package zigbee2mqtt

import (
	"testing"

	"github.com/nerrad567/beacon/internal/device"
)

func TestContactsFromExposes(t *testing.T) {
	exposes := []map[string]any{
		{"type": "light", "features": []any{
			map[string]any{"type": "binary", "property": "state", "access": float64(7), "value_on": "ON", "value_off": "OFF"},
			map[string]any{"type": "numeric", "property": "brightness", "access": float64(7)},
			map[string]any{"type": "numeric", "property": "color_temp", "access": float64(7)},
			map[string]any{"type": "composite", "property": "color", "access": float64(7), "features": []any{
				map[string]any{"type": "numeric", "property": "x"},
			}},
		}},
		{"type": "enum", "property": "effect", "access": float64(2), "values": []any{"blink", "breathe"}},
		{"type": "text", "name": "label", "access": float64(1)},
		{"type": "composite", "property": "level_config", "features": []any{
			map[string]any{"type": "numeric", "property": "on_level", "access": float64(3)},
		}},
		{"type": "numeric", "property": "brightness", "access": float64(1)},
	}

	specs, err := contactsFromExposes(exposes)
	if err != nil {
		t.Fatalf("contactsFromExposes() error = %v", err)
	}

	tests := []struct {
		name string
		want device.DataType
	}{
		{"state", device.DataTypeBool},
		{"brightness", device.DataTypeDouble},
		{"color_temp", device.DataTypeColorTemp},
		{"color", device.DataTypeColorRGB},
		{"effect", device.DataTypeEnum},
		{"label", device.DataTypeString},
		{"on_level", device.DataTypeDouble},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, ok := specs[tt.name]
			if !ok {
				t.Fatalf("contact %q missing", tt.name)
			}
			if spec.Contact.DataType != tt.want {
				t.Errorf("DataType = %s, want %s", spec.Contact.DataType, tt.want)
			}
		})
	}

	if _, ok := specs["x"]; ok {
		t.Error("colour composite features must not become contacts")
	}
	if len(specs) != len(tests) {
		t.Errorf("contacts = %d, want %d", len(specs), len(tests))
	}
	if !specs["brightness"].Contact.Access.Has(device.AccessWrite) {
		t.Error("first brightness expose should win")
	}
	if got := specs["effect"].Contact.DataValues; len(got) != 2 || got[0].Value != "blink" {
		t.Errorf("effect values = %+v", got)
	}
}

func TestContactSpec_BinaryTranslation(t *testing.T) {
	spec := contactSpec{
		Contact:  device.DeviceContact{Name: "state", DataType: device.DataTypeBool},
		ValueOn:  "ON",
		ValueOff: "OFF",
	}

	if spec.toCore("ON") != true || spec.toCore("OFF") != false {
		t.Error("toCore should map value_on/value_off to booleans")
	}
	if spec.toCore("TOGGLE") != "TOGGLE" {
		t.Error("toCore should pass unknown values through")
	}
	if spec.toDevice(true) != "ON" || spec.toDevice(false) != "OFF" {
		t.Error("toDevice should map booleans to value_on/value_off")
	}

	numeric := contactSpec{Contact: device.DeviceContact{Name: "power", DataType: device.DataTypeDouble}}
	if numeric.toDevice(true) != true {
		t.Error("non-binary contacts pass through")
	}
}

func TestContactsFromExposes_Invalid(t *testing.T) {
	_, err := contactsFromExposes([]map[string]any{{"type": "binary", "property": "state", "access": "lots"}})
	if err == nil {
		t.Error("expected decode error for non-numeric access")
	}
}
