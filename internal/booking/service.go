package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/parqhub/parqcore/internal/escrow"
	"github.com/parqhub/parqcore/internal/noshow"
	"github.com/parqhub/parqcore/pkg/ledger"
)

const defaultPlatformOwnerID = "platform"

// Service orchestrates the money core around a booking: ledger holds, escrow
// custody, and the no-show evaluation window.
type Service struct {
	store     Store
	ledger    *ledger.Service
	escrow    *escrow.Service
	scheduler *noshow.Scheduler
	policy    ViolationPolicy
	notifier  Notifier
	logger    *zap.Logger
	nowFn     func() time.Time

	platformOwnerID string
}

// Option configures a Service instance.
type Option func(*Service)

// WithPlatformOwner overrides the ledger account that collects platform fees.
func WithPlatformOwner(ownerID string) Option {
	return func(service *Service) {
		service.platformOwnerID = ownerID
	}
}

// WithNotifier wires the messaging collaborator.
func WithNotifier(notifier Notifier) Option {
	return func(service *Service) {
		service.notifier = notifier
	}
}

// NewService wires a Service. The scheduler is attached separately via
// AttachScheduler because the scheduler's outcome handler is this service.
func NewService(store Store, ledgerService *ledger.Service, escrowService *escrow.Service, policy ViolationPolicy, logger *zap.Logger, now func() time.Time, options ...Option) (*Service, error) {
	if store == nil || ledgerService == nil || escrowService == nil || policy == nil {
		return nil, fmt.Errorf("%w: missing dependency", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	service := &Service{
		store:           store,
		ledger:          ledgerService,
		escrow:          escrowService,
		policy:          policy,
		notifier:        NopNotifier{},
		logger:          logger,
		nowFn:           now,
		platformOwnerID: defaultPlatformOwnerID,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// AttachScheduler completes the cycle between the booking service and the
// no-show scheduler.
func (service *Service) AttachScheduler(scheduler *noshow.Scheduler) {
	service.scheduler = scheduler
}

// Create authorizes payment, opens escrow custody, and arms the no-show
// window. Insufficient driver balance surfaces here, at the booking boundary.
func (service *Service) Create(ctx context.Context, input CreateInput) (Record, error) {
	if strings.TrimSpace(input.DriverID) == "" || strings.TrimSpace(input.HostID) == "" {
		return Record{}, fmt.Errorf("%w: driver and host are required", ErrInvalidInput)
	}
	if input.Quote.TotalCents <= 0 {
		return Record{}, fmt.Errorf("%w: quote total must be positive", ErrInvalidInput)
	}
	if err := escrow.ValidateSplit(input.Quote.TotalCents, input.Quote.PayeeShare, input.Quote.PlatformShare); err != nil {
		return Record{}, err
	}
	bookingID := input.BookingID
	if bookingID == "" {
		bookingID = uuid.NewString()
	} else {
		// reject duplicates before any money is held
		_, err := service.store.GetBooking(ctx, bookingID)
		if err == nil {
			return Record{}, fmt.Errorf("%w: booking %s already exists", ErrInvalidInput, bookingID)
		}
		if !errors.Is(err, ErrBookingNotFound) {
			return Record{}, err
		}
	}

	driverID, err := ledger.NewOwnerID(input.DriverID)
	if err != nil {
		return Record{}, err
	}
	ledgerBookingID, err := ledger.NewBookingID(bookingID)
	if err != nil {
		return Record{}, err
	}
	metadata, err := ledger.NewMetadataJSON(fmt.Sprintf(`{"space_id":%q}`, input.SpaceID))
	if err != nil {
		return Record{}, err
	}
	holdRef, err := service.ledger.Hold(ctx, driverID, ledger.AmountCents(input.Quote.TotalCents), ledgerBookingID, "parking authorization", metadata)
	if err != nil {
		return Record{}, err
	}

	record := Record{
		BookingID:       bookingID,
		DriverID:        input.DriverID,
		HostID:          input.HostID,
		SpaceID:         input.SpaceID,
		Status:          noshow.BookingArrivalPending,
		TotalCents:      input.Quote.TotalCents.Int64(),
		HoldRef:         holdRef.String(),
		ArrivalDeadline: input.ArrivalDeadline,
		CreatedUnixUTC:  service.nowFn().Unix(),
	}
	if err := service.store.CreateBooking(ctx, record); err != nil {
		service.compensateHold(ctx, driverID, holdRef, "booking create failed")
		return Record{}, err
	}

	if _, err := service.escrow.Create(ctx, escrow.CreateInput{
		BookingID:            bookingID,
		PayerID:              input.DriverID,
		PayeeID:              input.HostID,
		TotalCents:           input.Quote.TotalCents,
		PayeeShare:           input.Quote.PayeeShare,
		PlatformShare:        input.Quote.PlatformShare,
		PaymentTransactionID: holdRef.String(),
	}); err != nil {
		service.compensateHold(ctx, driverID, holdRef, "escrow open failed")
		if statusErr := service.store.UpdateStatus(ctx, bookingID, noshow.BookingArrivalPending, noshow.BookingCancelled); statusErr != nil {
			service.logger.Error("orphaned booking cleanup failed",
				zap.String("booking_id", bookingID),
				zap.Error(statusErr))
		}
		return Record{}, err
	}

	if service.scheduler != nil {
		if _, err := service.scheduler.Schedule(ctx, bookingID, input.ArrivalDeadline, noshow.ScheduleOptions{}); err != nil {
			// the booking and custody exist; a sweep or retry re-arms the window
			service.logger.Error("failed to arm no-show window",
				zap.String("booking_id", bookingID),
				zap.Error(err))
			return record, err
		}
	}
	return record, nil
}

// compensateHold releases a hold taken by a create flow that failed before
// custody opened. A failed release is logged rather than returned; the funds
// stay traceable under the hold ref for manual resolution.
func (service *Service) compensateHold(ctx context.Context, driverID ledger.OwnerID, holdRef ledger.HoldRef, reason string) {
	metadata, err := ledger.NewMetadataJSON("")
	if err != nil {
		return
	}
	if err := service.ledger.Release(ctx, driverID, holdRef, nil, reason, metadata); err != nil {
		service.logger.Error("hold compensation failed",
			zap.String("hold_ref", holdRef.String()),
			zap.Error(err))
	}
}

// MarkApproachZone records that the driver entered the approach zone. The
// arrival collaborator calls this; the scheduler reads it at evaluation time.
func (service *Service) MarkApproachZone(ctx context.Context, bookingID string) error {
	return service.store.SetApproachZone(ctx, bookingID, service.nowFn().Unix())
}

// MarkParked transitions an arrival-pending booking to parked and drops its
// no-show window.
func (service *Service) MarkParked(ctx context.Context, bookingID string) error {
	if err := service.store.UpdateStatus(ctx, bookingID, noshow.BookingArrivalPending, noshow.BookingParked); err != nil {
		return err
	}
	if service.scheduler != nil {
		return service.scheduler.Cancel(ctx, bookingID)
	}
	return nil
}

// ExtendArrivalWindow moves the arrival deadline (re-ETA) and supersedes the
// scheduled evaluation with a fresh job.
func (service *Service) ExtendArrivalWindow(ctx context.Context, bookingID string, newDeadline time.Time, reason string) error {
	if err := service.store.UpdateArrivalDeadline(ctx, bookingID, newDeadline); err != nil {
		return err
	}
	if service.scheduler != nil {
		if _, err := service.scheduler.Reschedule(ctx, bookingID, newDeadline, reason); err != nil {
			return err
		}
	}
	return nil
}

// RecordOvertime grows the escrow custody for time parked beyond the booked
// window. The extra is collected from the driver at checkout.
func (service *Service) RecordOvertime(ctx context.Context, bookingID string, amount int64, description string) error {
	_, err := service.escrow.AddAdditionalCharge(ctx, bookingID, escrow.ChargeOvertime, escrow.AmountCents(amount), description)
	return err
}

// Checkout settles a finished booking: one atomic ledger settlement captures
// the hold, collects any overtime beyond it, and credits both beneficiaries,
// then the escrow records the release. Safe to retry after a partial failure:
// a closed hold with custody still held means the money already moved, so the
// retry skips straight to recording the release.
func (service *Service) Checkout(ctx context.Context, bookingID string) error {
	record, err := service.store.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	if record.Status == noshow.BookingCompleted {
		return nil
	}
	custody, err := service.escrow.Get(ctx, bookingID)
	if err != nil {
		return err
	}

	driverID, err := ledger.NewOwnerID(record.DriverID)
	if err != nil {
		return err
	}
	hostID, err := ledger.NewOwnerID(record.HostID)
	if err != nil {
		return err
	}
	platformID, err := ledger.NewOwnerID(service.platformOwnerID)
	if err != nil {
		return err
	}
	ledgerBookingID, err := ledger.NewBookingID(bookingID)
	if err != nil {
		return err
	}
	holdRef, err := ledger.NewHoldRef(record.HoldRef)
	if err != nil {
		return err
	}
	metadata, err := ledger.NewMetadataJSON("")
	if err != nil {
		return err
	}

	if custody.Status == escrow.StatusHeld {
		state, err := service.ledger.HoldState(ctx, driverID, holdRef)
		if err != nil {
			return err
		}
		var payeeTransferID, platformTransferID string
		if state.CapturedCents == 0 {
			payoutIDs, err := service.ledger.Settle(ctx, driverID, holdRef, ledgerBookingID, ledger.AmountCents(custody.TotalCents), []ledger.Payout{
				{OwnerID: hostID, AmountCents: ledger.AmountCents(custody.PayeeShare.TotalCents), Description: "parking payout"},
				{OwnerID: platformID, AmountCents: ledger.AmountCents(custody.PlatformShare.TotalCents), Description: "platform fees"},
			}, "parking checkout", metadata)
			if err != nil {
				return err
			}
			payeeTransferID, platformTransferID = payoutIDs[0], payoutIDs[1]
		}
		if _, err := service.escrow.Release(ctx, bookingID, payeeTransferID, platformTransferID); err != nil {
			return err
		}
	}

	if err := service.store.UpdateStatus(ctx, bookingID, record.Status, noshow.BookingCompleted); err != nil {
		return err
	}
	if service.scheduler != nil {
		if err := service.scheduler.Cancel(ctx, bookingID); err != nil {
			return err
		}
	}
	service.notifier.NotifyEscrowReleased(ctx, bookingID)
	return nil
}

// Cancel voids an arrival-pending booking: the hold is released untouched and
// the full custody refunds to the driver. Retryable after a partial failure;
// an already-released hold is skipped, not re-released.
func (service *Service) Cancel(ctx context.Context, bookingID string, reason string, actorID string) error {
	record, err := service.store.GetBooking(ctx, bookingID)
	if err != nil {
		return err
	}
	driverID, err := ledger.NewOwnerID(record.DriverID)
	if err != nil {
		return err
	}
	holdRef, err := ledger.NewHoldRef(record.HoldRef)
	if err != nil {
		return err
	}
	metadata, err := ledger.NewMetadataJSON("")
	if err != nil {
		return err
	}

	state, err := service.ledger.HoldState(ctx, driverID, holdRef)
	if err != nil {
		return err
	}
	if state.ReleasedCents == 0 {
		if err := service.ledger.Release(ctx, driverID, holdRef, nil, reason, metadata); err != nil {
			return err
		}
	}
	custody, err := service.escrow.Refund(ctx, bookingID, escrow.AmountCents(record.TotalCents), reason, actorID, record.HoldRef)
	if err != nil {
		return err
	}
	if err := service.store.UpdateStatus(ctx, bookingID, noshow.BookingArrivalPending, noshow.BookingCancelled); err != nil {
		return err
	}
	if service.scheduler != nil {
		if err := service.scheduler.Cancel(ctx, bookingID); err != nil {
			return err
		}
	}
	service.notifier.NotifyEscrowRefunded(ctx, bookingID, custody.Refund.AmountCents.Int64())
	return nil
}

// HandleNoShow implements noshow.OutcomeHandler. The scheduler has decided
// no_show; this asks the violation policy how much to give back, settles hold
// and escrow accordingly, and only then flips the booking status. A failed
// attempt leaves the booking arrival_pending so the sweep and restart paths
// retry it; the retry consults HoldState and the escrow status to skip
// movements that already committed. The penalty compensates the host for the
// lost slot.
func (service *Service) HandleNoShow(ctx context.Context, evaluated noshow.Booking, minutesLate int64) error {
	record, err := service.store.GetBooking(ctx, evaluated.BookingID)
	if err != nil {
		return err
	}
	if record.Status == noshow.BookingNoShow {
		return nil
	}
	if record.Status != noshow.BookingArrivalPending {
		return fmt.Errorf("%w: booking %s is %s", ErrInvalidStatusTransition, record.BookingID, record.Status)
	}

	refundPercent, err := service.policy.RefundPercent(ctx, record.DriverID, minutesLate)
	if err != nil {
		return err
	}
	if refundPercent < 0 {
		refundPercent = 0
	}
	if refundPercent > 100 {
		refundPercent = 100
	}
	refundCents := record.TotalCents * int64(refundPercent) / 100
	penaltyCents := record.TotalCents - refundCents

	driverID, err := ledger.NewOwnerID(record.DriverID)
	if err != nil {
		return err
	}
	hostID, err := ledger.NewOwnerID(record.HostID)
	if err != nil {
		return err
	}
	ledgerBookingID, err := ledger.NewBookingID(record.BookingID)
	if err != nil {
		return err
	}
	holdRef, err := ledger.NewHoldRef(record.HoldRef)
	if err != nil {
		return err
	}
	metadata, err := ledger.NewMetadataJSON("")
	if err != nil {
		return err
	}

	custody, err := service.escrow.Get(ctx, record.BookingID)
	if err != nil {
		return err
	}
	reason := fmt.Sprintf("no-show, %d minutes late, %d%% refund", minutesLate, refundPercent)
	if custody.Status == escrow.StatusHeld {
		state, err := service.ledger.HoldState(ctx, driverID, holdRef)
		if err != nil {
			return err
		}
		if refundCents > 0 && state.ReleasedCents == 0 {
			releaseAmount := ledger.AmountCents(refundCents)
			if err := service.ledger.Release(ctx, driverID, holdRef, &releaseAmount, reason, metadata); err != nil {
				return err
			}
		}
		if penaltyCents > 0 && state.CapturedCents == 0 {
			if _, err := service.ledger.Settle(ctx, driverID, holdRef, ledgerBookingID, ledger.AmountCents(penaltyCents), []ledger.Payout{
				{OwnerID: hostID, AmountCents: ledger.AmountCents(penaltyCents), Description: "no-show compensation"},
			}, "no-show penalty", metadata); err != nil {
				return err
			}
		}
		if _, err := service.escrow.Refund(ctx, record.BookingID, escrow.AmountCents(refundCents), reason, "no-show-scheduler", record.HoldRef); err != nil {
			return err
		}
	}

	if err := service.store.UpdateStatus(ctx, record.BookingID, noshow.BookingArrivalPending, noshow.BookingNoShow); err != nil {
		return err
	}

	service.logger.Info("no-show settled",
		zap.String("booking_id", record.BookingID),
		zap.Int64("minutes_late", minutesLate),
		zap.Int64("refund_cents", refundCents),
		zap.Int64("penalty_cents", penaltyCents))
	service.notifier.NotifyNoShow(ctx, record.BookingID, minutesLate, refundCents)
	return nil
}
