package domain

import (
	"errors"
	"fmt"
	"strings"
)

var ErrForbidden = errors.New("forbidden")

type ValidationError struct {
	Field string
	msg   string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func NewValidationError(field, msg string) error {
	return &ValidationError{Field: field, msg: msg}
}

// ConflictError rejects a write whose interval cannot be booked. It carries
// either a single structural conflict or every overlapping booking.
type ConflictError struct {
	Conflicts []Conflict
}

func (e *ConflictError) Error() string {
	if len(e.Conflicts) == 0 {
		return "conflict"
	}
	parts := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		parts = append(parts, c.Type.String())
	}
	return fmt.Sprintf("conflict: %s: %s", strings.Join(parts, ","), e.Conflicts[0].Detail)
}

func (e *ConflictError) Kind() ConflictType {
	if len(e.Conflicts) == 0 {
		return 0
	}
	return e.Conflicts[0].Type
}

// IsDoubleBooking reports whether the only obstacle is other bookings, which
// makes the request a waitlist candidate.
func (e *ConflictError) IsDoubleBooking() bool {
	if len(e.Conflicts) == 0 {
		return false
	}
	for _, c := range e.Conflicts {
		if c.Type != ConflictDoubleBooking {
			return false
		}
	}
	return true
}

func AsConflict(err error) (*ConflictError, bool) {
	var cErr *ConflictError
	if errors.As(err, &cErr) {
		return cErr, true
	}
	return nil, false
}
