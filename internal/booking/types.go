package booking

import (
	"context"
	"time"

	"github.com/parqhub/parqcore/internal/escrow"
	"github.com/parqhub/parqcore/internal/noshow"
)

// PricingQuote is the split supplied by the pricing collaborator at booking
// creation. The core validates and stores it; it never computes prices.
type PricingQuote struct {
	TotalCents    escrow.AmountCents
	PayeeShare    escrow.PayeeShare
	PlatformShare escrow.PlatformShare
}

// CreateInput describes a new booking.
type CreateInput struct {
	BookingID       string
	DriverID        string
	HostID          string
	SpaceID         string
	Quote           PricingQuote
	ArrivalDeadline time.Time
}

// Record is the booking as the money core sees it.
type Record struct {
	BookingID       string
	DriverID        string
	HostID          string
	SpaceID         string
	Status          noshow.BookingStatus
	TotalCents      int64
	HoldRef         string
	ArrivalDeadline time.Time
	CreatedUnixUTC  int64
}

// Store is the booking persistence contract. UpdateStatus must be a
// compare-and-swap: it fails with ErrInvalidStatusTransition when the stored
// status no longer matches from.
type Store interface {
	CreateBooking(ctx context.Context, record Record) error
	GetBooking(ctx context.Context, bookingID string) (Record, error)
	UpdateStatus(ctx context.Context, bookingID string, from noshow.BookingStatus, to noshow.BookingStatus) error
	UpdateArrivalDeadline(ctx context.Context, bookingID string, deadline time.Time) error
	SetApproachZone(ctx context.Context, bookingID string, atUnixUTC int64) error
	CountNoShows(ctx context.Context, driverID string) (int, error)
}

// ViolationPolicy decides what fraction of a no-show booking is refunded.
// Implementations return a percentage in [0, 100].
type ViolationPolicy interface {
	RefundPercent(ctx context.Context, driverID string, minutesLate int64) (int, error)
}

// Notifier receives settlement outcomes for user-facing messaging. Calls are
// fire-and-forget: failures are logged, never propagated.
type Notifier interface {
	NotifyEscrowReleased(ctx context.Context, bookingID string)
	NotifyEscrowRefunded(ctx context.Context, bookingID string, amountCents int64)
	NotifyNoShow(ctx context.Context, bookingID string, minutesLate int64, refundCents int64)
}
