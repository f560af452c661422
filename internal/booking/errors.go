package booking

import "errors"

// Domain-level error values returned by the booking service.
var (
	ErrInvalidInput            = errors.New("invalid booking input")
	ErrBookingNotFound         = errors.New("booking not found")
	ErrInvalidStatusTransition = errors.New("invalid booking status transition")
	ErrInvalidServiceConfig    = errors.New("invalid service config")
)
