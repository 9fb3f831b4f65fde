package automation

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/beacon/internal/device"
)

const fanProcessJSON = `{
	"id": "proc-fan",
	"alias": "fan-when-hot",
	"triggers": [{"channel": "zigbee2mqtt", "identifier": "sensor-1", "contact": "temp"}],
	"condition": {
		"operator": "greater",
		"left": {"target": {"channel": "zigbee2mqtt", "identifier": "sensor-1", "contact": "temp"}},
		"right": {"value": 30}
	},
	"conducts": [{"target": {"channel": "fan", "identifier": "fan-1", "contact": "on"}, "value": true, "delay": 0}],
	"delay": 0,
	"isDisabled": false
}`

func TestStateTriggerProcess_Unmarshal(t *testing.T) {
	var p StateTriggerProcess
	if err := json.Unmarshal([]byte(fanProcessJSON), &p); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if p.ID != "proc-fan" || p.Name() != "fan-when-hot" {
		t.Errorf("identity = %q / %q", p.ID, p.Name())
	}
	if len(p.Triggers) != 1 || p.Triggers[0] != tempTarget {
		t.Errorf("triggers = %v", p.Triggers)
	}
	if _, ok := p.Condition.(Comparison); !ok {
		t.Errorf("condition = %#v, want Comparison", p.Condition)
	}
	if len(p.Conducts) != 1 || p.Conducts[0].Target.Channel != "fan" {
		t.Errorf("conducts = %v", p.Conducts)
	}
}

func TestStateTriggerProcess_Defaults(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"absent condition", `{"id":"p","triggers":[]}`},
		{"null condition", `{"id":"p","triggers":[],"condition":null}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var p StateTriggerProcess
			if err := json.Unmarshal([]byte(tt.doc), &p); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if p.Condition != nil || p.Delay != 0 || p.IsDisabled {
				t.Errorf("process = %+v, want zero defaults", p)
			}
		})
	}
}

func TestStateTriggerProcess_UnmarshalRejects(t *testing.T) {
	for name, doc := range map[string]string{
		"bad trigger":   `{"id":"p","triggers":[{"channel":"c"}]}`,
		"bad condition": `{"id":"p","triggers":[],"condition":{"colour":"red"}}`,
		"not an object": `[]`,
	} {
		var p StateTriggerProcess
		if err := json.Unmarshal([]byte(doc), &p); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}

	var p StateTriggerProcess
	err := json.Unmarshal([]byte(`{"id":"p","triggers":[{"channel":"c"}]}`), &p)
	if !errors.Is(err, ErrInvalidProcess) {
		t.Errorf("error = %v, want ErrInvalidProcess", err)
	}
}

func TestStateTriggerProcess_MarshalRoundTrip(t *testing.T) {
	var p StateTriggerProcess
	if err := json.Unmarshal([]byte(fanProcessJSON), &p); err != nil {
		t.Fatal(err)
	}
	p.Delay = 2 * time.Second

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var back StateTriggerProcess
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back.Delay != 2*time.Second {
		t.Errorf("Delay = %v", back.Delay)
	}
	if back.Condition.Kind() != KindComparison {
		t.Errorf("condition kind = %s", back.Condition.Kind())
	}
}

func TestStateTriggerProcess_SubMillisecondDelaysSurviveRoundTrip(t *testing.T) {
	doc := `{"id":"p","triggers":[],"delay":0.5,"conducts":[` +
		`{"target":{"channel":"c","identifier":"1","contact":"x"},"value":1,"delay":1500.75}]}`
	var p StateTriggerProcess
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		t.Fatal(err)
	}
	if p.Delay != 500*time.Microsecond || p.Conducts[0].Delay != 1500750*time.Microsecond {
		t.Fatalf("decoded delay = %v, conduct delay = %v", p.Delay, p.Conducts[0].Delay)
	}

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var back StateTriggerProcess
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back.Delay != p.Delay || back.Conducts[0].Delay != p.Conducts[0].Delay {
		t.Errorf("after round trip delay = %v, conduct delay = %v", back.Delay, back.Conducts[0].Delay)
	}
}

func TestStateTriggerProcess_Matches(t *testing.T) {
	a := device.DeviceTarget{Channel: "z", Identifier: "1", Contact: "a"}
	b := device.DeviceTarget{Channel: "z", Identifier: "1", Contact: "b"}
	c := device.DeviceTarget{Channel: "z", Identifier: "1", Contact: "c"}

	p := StateTriggerProcess{ID: "p", Triggers: []device.DeviceTarget{a, b}}
	if !p.Matches(a) || !p.Matches(b) || p.Matches(c) {
		t.Error("trigger matching mismatch")
	}
	p.IsDisabled = true
	if p.Matches(a) {
		t.Error("disabled process must not match")
	}
}
