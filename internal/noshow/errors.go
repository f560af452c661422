package noshow

import "errors"

// Domain-level error values returned by the scheduler.
var (
	ErrInvalidSchedulerConfig = errors.New("invalid scheduler config")
	ErrInvalidBookingID       = errors.New("invalid booking id")
	ErrDeadlinePassed         = errors.New("deadline already passed")
	ErrBookingNotFound        = errors.New("booking not found")
)
