package models

import "errors"

// Sentinel errors returned by popgate operations. Callers match with errors.Is.
var (
	// ErrInvalidArgument reports a missing identifier or an unrecognized value.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnknownRule reports a rule kind outside the fixed set.
	ErrUnknownRule = errors.New("unknown rule kind")
)
