// Package influxdb records device state changes as InfluxDB v2 points.
//
// Every change accepted by the device state store becomes one point in the
// device_state measurement, tagged by channel, identifier and contact:
//
//	device_state,channel=zigbee2mqtt,identifier=0x00158d0001,contact=temperature value=21.5
//
// Writes are batched and asynchronous. InfluxDB is optional; when it is
// disabled or unreachable the station runs without time-series output.
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    logger.Warn("influxdb unavailable", "error", err)
//	}
//	defer client.Close()
package influxdb
