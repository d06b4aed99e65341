package alarm

import "errors"

var (
	// ErrMalformed is returned for input records that cannot be processed.
	ErrMalformed = errors.New("malformed record")
	// ErrNotFound is returned when an alarm has no effective state yet.
	ErrNotFound = errors.New("alarm not found")
)
