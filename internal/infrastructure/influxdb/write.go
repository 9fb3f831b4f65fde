package influxdb

import (
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementDeviceState is the measurement holding contact value changes.
const MeasurementDeviceState = "device_state"

// WriteState records one accepted contact value change. The write is
// queued and returns immediately; nothing is written while disconnected.
//
// Parameters:
//   - channel, identifier, contact: The contact's target, stored as tags
//   - value: Parsed contact value (float64, bool, string or nil)
//   - at: Time the change was accepted
func (c *Client) WriteState(channel, identifier, contact string, value any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(statePoint(channel, identifier, contact, value, at))
}

// statePoint builds the point for a state change. Numbers go into the
// "value" field so they can be aggregated; booleans and text keep their own
// fields to avoid field type conflicts within the measurement.
func statePoint(channel, identifier, contact string, value any, at time.Time) *write.Point {
	fields := make(map[string]any, 1)
	switch v := value.(type) {
	case float64:
		fields["value"] = v
	case bool:
		fields["state"] = v
	case nil:
		fields["text"] = ""
	case string:
		fields["text"] = v
	default:
		fields["text"] = fmt.Sprint(v)
	}

	return write.NewPoint(
		MeasurementDeviceState,
		map[string]string{
			"channel":    channel,
			"identifier": identifier,
			"contact":    contact,
		},
		fields,
		at,
	)
}
