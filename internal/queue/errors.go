package queue

import "errors"

var (
	// ErrSchemaMismatch indicates the database schema version doesn't match the expected version.
	ErrSchemaMismatch = errors.New("schema version mismatch")
	// ErrInvalidTransition is returned when UpdateStatus is asked to write a
	// status that only the store itself may set (Queued or Processing).
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrMissingDestination is returned when a job is marked Processed
	// without the destination id it was delivered to.
	ErrMissingDestination = errors.New("processed job requires a destination id")
	// ErrUnsupportedDriver is returned by Open for an unknown store driver.
	ErrUnsupportedDriver = errors.New("unsupported queue store driver")
)

// errLostUpdate rolls back a transaction whose conditional update did not
// affect exactly one row.
var errLostUpdate = errors.New("lost update")
