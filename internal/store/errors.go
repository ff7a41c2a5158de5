package store

import "errors"

var (
	// ErrConflict is returned when the storage layer itself rejects an
	// overlapping active booking for a provider.
	ErrConflict            = errors.New("conflict")
	ErrNotFound            = errors.New("not found")
	ErrIdempotencyConflict = errors.New("idempotency key conflict")
)
