package automation

import "errors"

// Domain errors for the automation package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, automation.ErrInvalidCondition) {
//	    // malformed process configuration
//	}
var (
	// ErrInvalidCondition is returned when a condition document matches no node kind.
	ErrInvalidCondition = errors.New("automation: invalid condition")

	// ErrUnknownOperator is returned for an operator outside the node's operator set.
	ErrUnknownOperator = errors.New("automation: unknown operator")

	// ErrNotBoolean is returned when a value node sits where a boolean is required.
	ErrNotBoolean = errors.New("automation: value is not boolean")

	// ErrNotComparable is returned when ordering non-numeric values.
	ErrNotComparable = errors.New("automation: values not comparable")

	// ErrInvalidProcess is returned when a process document is malformed.
	ErrInvalidProcess = errors.New("automation: invalid process")
)
