package store

import "errors"

var (
	ErrNotFound = errors.New("entity not found")

	// ErrStaleWrite is returned when a write does not supersede the stored
	// revision of the same entity.
	ErrStaleWrite = errors.New("stale write")

	// ErrPersistence wraps every failure of the underlying database.
	ErrPersistence = errors.New("persistence failure")
)
