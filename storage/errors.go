package storage

import "errors"

var (
	// ErrNotFound is returned when a task id does not exist.
	ErrNotFound = errors.New("task not found")
	// ErrConcurrencyConflict is returned when a conditional write kept losing
	// to concurrent writers.
	ErrConcurrencyConflict = errors.New("concurrent modification")
)
