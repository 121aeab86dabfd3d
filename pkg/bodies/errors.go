package bodies

import "errors"

var (
	// ErrEngineStopped is returned by Write once Stop has been requested.
	ErrEngineStopped = errors.New("body writer is stopped")

	// ErrInvalidItem is returned when a write request cannot form a WriteItem.
	ErrInvalidItem = errors.New("invalid body write")

	// ErrRetriesExhausted wraps the last attempt's error when every flush
	// attempt failed.
	ErrRetriesExhausted = errors.New("flush retries exhausted")

	// ErrAlreadyStarted is returned by Start when called more than once.
	ErrAlreadyStarted = errors.New("body writer already started")
)
