// Package zigbee2mqtt connects a zigbee2mqtt instance to the beacon core.
//
// zigbee2mqtt already speaks MQTT, so the adapter is a translator between
// its topic layout and the core's device commands:
//
//	{base}/bridge/devices     device list   -> DeviceDiscovered + DeviceContactUpdate
//	{base}/{friendly_name}    state object  -> one DeviceStateSet per key
//	conduct channel           conducts      -> {base}/{friendly_name}/set
//
// Devices are identified by their IEEE address; friendly names are only
// used for topics and as the device alias. State for a friendly name that
// has not yet appeared in the device list is dropped.
//
// Exposes are flattened into contacts. Generic features (binary, numeric,
// enum, text) map onto the matching data types; composite colour features
// become a single colorrgb contact. Binary values are translated between
// the device's value_on/value_off and booleans in both directions.
package zigbee2mqtt
