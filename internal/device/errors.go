package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when no catalog device matches a lookup.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrContactNotFound is returned when a device has no such contact on the channel.
	ErrContactNotFound = errors.New("device: contact not found")

	// ErrInvalidTarget is returned when a target is missing a part.
	ErrInvalidTarget = errors.New("device: invalid target")

	// ErrInvalidDiscovery is returned when a discovery lacks alias or identifier.
	ErrInvalidDiscovery = errors.New("device: invalid discovery")

	// ErrSinkUnauthorized marks a sink failure caused by expired credentials.
	// Sinks wrap it so the state store can log the condition at a lower severity.
	ErrSinkUnauthorized = errors.New("device: sink authorisation expired")
)
