package entity

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrStaleTransition is returned when a conditional status update matched
	// no row because the job already moved past the expected state.
	ErrStaleTransition = errors.New("job state changed concurrently")
)
