// Package mqtt provides the station's MQTT broker connection.
//
// The broker is the transport for MQTT-speaking device adapters such as
// zigbee2mqtt. The station subscribes to adapter topics, publishes
// commands back, and keeps a retained status message:
//
//	beacon/{station_id}/status   {"status":"online",...}
//
// A Last Will marks the station offline if it disconnects uncleanly.
// Subscriptions are tracked and restored after every reconnect.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, cfg.Station.ID)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("zigbee2mqtt/+", 1, func(topic string, payload []byte) error {
//	    return handle(topic, payload)
//	})
package mqtt
