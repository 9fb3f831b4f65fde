package zigbee2mqtt

import "errors"

// Domain errors for the zigbee2mqtt adapter.
var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("zigbee2mqtt: adapter already started")

	// ErrUnknownDevice is returned when a conduct addresses an IEEE address
	// that is not in the current device list.
	ErrUnknownDevice = errors.New("zigbee2mqtt: unknown device")

	// ErrBridgeOffline is returned by HealthCheck while the bridge is not
	// reporting itself online.
	ErrBridgeOffline = errors.New("zigbee2mqtt: bridge offline")

	// ErrInvalidPayload is returned for messages that are not valid JSON of
	// the expected shape.
	ErrInvalidPayload = errors.New("zigbee2mqtt: invalid payload")
)
