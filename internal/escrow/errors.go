package escrow

import "errors"

// Domain-level error values returned by the escrow service.
var (
	ErrSplitMismatch          = errors.New("escrow split does not sum to total")
	ErrInvalidStateTransition = errors.New("invalid escrow state transition")
	ErrAccountExists          = errors.New("escrow account already exists")
	ErrAccountNotFound        = errors.New("escrow account not found")
	ErrRefundExceedsTotal     = errors.New("refund exceeds escrow total")
	ErrInvalidAmountCents     = errors.New("invalid amount cents")
	ErrInvalidChargeType      = errors.New("invalid charge type")
	ErrInvalidStatus          = errors.New("invalid escrow status")
	ErrInvalidBookingID       = errors.New("invalid booking id")
	ErrInvalidBeneficiary     = errors.New("invalid beneficiary id")
	ErrInvalidServiceConfig   = errors.New("invalid service config")
)
