package domain

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")

var (
	ErrBookingNotFound = fmt.Errorf("booking %w", ErrNotFound)
	ErrRoomNotFound    = fmt.Errorf("room %w", ErrNotFound)
)

var (
	ErrInvalidRange      = errors.New("start time must be before end time")
	ErrConflict          = errors.New("room is not available for the selected time range")
	ErrInvalidTransition = errors.New("booking status transition is not allowed")
	ErrTimeout           = errors.New("booking could not be completed in time, retry later")
)

var (
	ErrUnauthenticated = errors.New("caller identity is required")
	ErrForbidden       = errors.New("forbidden")
	ErrValidation      = errors.New("validation error")
)

// IsClientError reports whether err is caused by the caller rather than by
// storage or transport.
func IsClientError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrInvalidRange),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrUnauthenticated),
		errors.Is(err, ErrForbidden),
		errors.Is(err, ErrValidation):
		return true
	default:
		return false
	}
}

// IsRetryable reports whether the same request may succeed if repeated later.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTimeout)
}
