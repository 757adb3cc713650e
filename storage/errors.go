package storage

import "errors"

// Common storage errors.
var (
	// ErrNotFound is returned when a record or object is not found.
	ErrNotFound = errors.New("record not found")
)
