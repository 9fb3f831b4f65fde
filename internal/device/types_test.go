package device

import (
	"errors"
	"testing"
)

func TestDeviceTarget_Validate(t *testing.T) {
	if err := target("state").Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	err := DeviceTarget{Channel: "zigbee2mqtt", Contact: "state"}.Validate()
	if !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("Validate() error = %v, want ErrInvalidTarget", err)
	}
	if got := target("state").String(); got != "zigbee2mqtt/0x00158d0001/state" {
		t.Errorf("String() = %q", got)
	}
}

func TestAccess(t *testing.T) {
	a := AccessRead | AccessWrite
	if !a.Has(AccessRead) || !a.Has(AccessWrite) || a.Has(AccessGet) {
		t.Errorf("unexpected flags for %v", a)
	}
	if a.String() != "read|write" {
		t.Errorf("String() = %q", a.String())
	}
	if Access(0).String() != "none" {
		t.Errorf("zero access String() = %q", Access(0).String())
	}
}

func TestDataType(t *testing.T) {
	if !DataTypeColorRGB.Valid() || DataType("blob").Valid() {
		t.Error("Valid() mismatch")
	}
	if DataTypeAction.SuppressesDuplicates() || DataTypeString.SuppressesDuplicates() {
		t.Error("action and string must not suppress duplicates")
	}
	if !DataTypeDouble.SuppressesDuplicates() {
		t.Error("double must suppress duplicates")
	}
}

func TestMergeDataValues(t *testing.T) {
	existing := []DataValue{{Value: "single"}, {Value: "double", Label: "Double"}}
	incoming := []DataValue{{Value: "single", Label: "Single"}, {Value: "hold"}, {Value: "double"}}

	got := MergeDataValues(existing, incoming)
	want := []DataValue{{Value: "single", Label: "Single"}, {Value: "double", Label: "Double"}, {Value: "hold"}}

	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d (%v)", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
	if existing[0].Label != "" {
		t.Error("existing slice must not be modified")
	}
}

func TestDeviceConfiguration_UpsertContact(t *testing.T) {
	d := thermostat()

	if d.UpsertContact("zigbee2mqtt", DeviceContact{Name: "state", DataType: DataTypeBool, Access: AccessRead | AccessWrite}) {
		t.Error("identical contact should report no change")
	}
	if !d.UpsertContact("zigbee2mqtt", DeviceContact{Name: "temperature", NoiseReductionDelta: floatPtr(0.2)}) {
		t.Error("delta change should report change")
	}
	c, _ := d.Contact("zigbee2mqtt", "temperature")
	if *c.NoiseReductionDelta != 0.2 || c.DataType != DataTypeDouble {
		t.Errorf("merged contact = %+v", c)
	}
	if !d.UpsertContact("zigbee2mqtt", DeviceContact{Name: "battery", DataType: DataTypeDouble}) {
		t.Error("new contact should report change")
	}
	if !d.UpsertContact("other", DeviceContact{Name: "x", DataType: DataTypeBool}) {
		t.Error("new endpoint should report change")
	}
	if len(d.Endpoints) != 2 {
		t.Errorf("endpoints = %d, want 2", len(d.Endpoints))
	}
}

func TestDeviceConfiguration_DeepCopy(t *testing.T) {
	d := thermostat()
	cp := d.DeepCopy()
	*cp.Endpoints[0].Contacts[0].NoiseReductionDelta = 9
	cp.Endpoints[0].Contacts[1].Name = "changed"

	if *d.Endpoints[0].Contacts[0].NoiseReductionDelta != 0.5 {
		t.Error("delta shared with copy")
	}
	if d.Endpoints[0].Contacts[1].Name != "humidity" {
		t.Error("contacts shared with copy")
	}
}
