package noshow

import (
	"context"
	"time"
)

// BookingStatus is the slice of the booking lifecycle the scheduler reads.
type BookingStatus string

const (
	BookingArrivalPending BookingStatus = "arrival_pending"
	BookingParked         BookingStatus = "parked"
	BookingCheckedIn      BookingStatus = "checked_in"
	BookingCompleted      BookingStatus = "completed"
	BookingCancelled      BookingStatus = "cancelled"
	BookingNoShow         BookingStatus = "no_show"
)

// Outcome is the verdict of one deferred evaluation.
type Outcome string

const (
	OutcomeCleared     Outcome = "cleared"
	OutcomeNoShow      Outcome = "no_show"
	OutcomeRescheduled Outcome = "rescheduled"
	// OutcomeStale marks a superseded timer firing; it is discarded, never persisted.
	OutcomeStale Outcome = "stale"
)

// Evaluation is one persisted line of a booking's evaluation history.
type Evaluation struct {
	JobID            string
	Outcome          Outcome
	Detail           string
	MinutesLate      int64
	EvaluatedUnixUTC int64
}

// Booking is the scheduler's read model of a booking record.
type Booking struct {
	BookingID           string
	Status              BookingStatus
	ArrivalDeadline     time.Time
	EnteredApproachZone bool
	ApproachZoneUnixUTC int64
	JobID               string
	ScheduledRunAt      *time.Time
	// NoShowStatus is empty while the evaluation is unresolved.
	NoShowStatus Outcome
}

// BookingStore is the persistence contract the scheduler drives. Job metadata
// written through SaveJob must survive process restart; RecordEvaluation
// appends to the booking's evaluation history and, for cleared/no_show,
// resolves its no-show status.
type BookingStore interface {
	GetBooking(ctx context.Context, bookingID string) (Booking, error)
	SaveJob(ctx context.Context, bookingID string, jobID string, runAt time.Time) error
	ClearJob(ctx context.Context, bookingID string) error
	RecordEvaluation(ctx context.Context, bookingID string, evaluation Evaluation) error
	ListArrivalPendingWithJobs(ctx context.Context) ([]Booking, error)
	ListOverduePending(ctx context.Context, now time.Time) ([]Booking, error)
}

// OutcomeHandler is the violation/refund collaborator. It cancels the booking
// and settles the escrow according to policy; the scheduler only decides.
type OutcomeHandler interface {
	HandleNoShow(ctx context.Context, booking Booking, minutesLate int64) error
}

// ScheduleOptions tunes a single scheduling attempt.
type ScheduleOptions struct {
	// ReuseJobID re-arms an existing persisted job instead of minting a new id.
	ReuseJobID string
	// AllowPastDeadline schedules an almost-immediate evaluation for deadlines
	// already in the past instead of failing. The evaluation still runs on its
	// own goroutine, never synchronously inside the caller.
	AllowPastDeadline bool
}
