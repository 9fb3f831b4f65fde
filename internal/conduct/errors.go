package conduct

import "errors"

var (
	// ErrPublishFailed is returned when at least one channel handler failed.
	ErrPublishFailed = errors.New("conduct: publish failed")

	// ErrInvalidRequest is returned for a request missing device, channel or contact.
	ErrInvalidRequest = errors.New("conduct: invalid request")
)
