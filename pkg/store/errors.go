package store

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned when a write loses to an existing row it may
	// not overwrite.
	ErrConflict = errors.New("conflict")
)
