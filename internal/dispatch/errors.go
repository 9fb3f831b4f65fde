package dispatch

import "errors"

// ErrAlreadyStarted is returned when Start is called on a running worker.
var ErrAlreadyStarted = errors.New("dispatch: worker already started")
