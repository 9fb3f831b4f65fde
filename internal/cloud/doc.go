// Package cloud connects the station to its cloud catalog.
//
// Client is the REST side: it reads devices and processes, registers and
// updates devices, and reports state changes. It sits behind a
// CircuitBreaker so an unreachable cloud fails fast, and a TokenSource that
// refuses an expired bearer token before it is sent.
//
// EventStream is the push side: a websocket over which the cloud requests
// conducts and announces catalog changes.
//
// Cloud failures never propagate into local automation. Callers log them
// and carry on; ErrTokenExpired is logged at info level since it needs an
// operator, not a retry.
package cloud
