package noshow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// pastDeadlineBuffer delays overdue evaluations a beat instead of firing
	// synchronously, so in-flight state writes from the caller settle first.
	pastDeadlineBuffer = 2 * time.Second
	// executeTimeout bounds a single timer-driven evaluation.
	executeTimeout = 30 * time.Second
)

type scheduledJob struct {
	timer    *time.Timer
	jobID    string
	deadline time.Time
}

// Scheduler owns one deferred no-show evaluation per booking. Timers live in
// memory; the (jobID, runAt) pair persisted on the booking record is what
// survives restarts. The design assumes a single active scheduler instance.
type Scheduler struct {
	mu   sync.Mutex
	jobs map[string]*scheduledJob

	store    BookingStore
	outcomes OutcomeHandler
	logger   *zap.Logger
	nowFn    func() time.Time
}

// NewScheduler wires a Scheduler.
func NewScheduler(store BookingStore, outcomes OutcomeHandler, logger *zap.Logger, now func() time.Time) (*Scheduler, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: booking store dependency is nil", ErrInvalidSchedulerConfig)
	}
	if outcomes == nil {
		return nil, fmt.Errorf("%w: outcome handler dependency is nil", ErrInvalidSchedulerConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidSchedulerConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		jobs:     map[string]*scheduledJob{},
		store:    store,
		outcomes: outcomes,
		logger:   logger,
		nowFn:    now,
	}, nil
}

// Schedule arms (or re-arms) the evaluation timer for a booking and persists
// the job metadata so a restart can recover it. Any previous timer for the
// booking is cancelled; the returned job id supersedes all earlier ones.
func (scheduler *Scheduler) Schedule(ctx context.Context, bookingID string, deadline time.Time, options ScheduleOptions) (string, error) {
	if strings.TrimSpace(bookingID) == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidBookingID)
	}
	jobID := options.ReuseJobID
	if jobID == "" {
		jobID = uuid.NewString()
	}
	delay := deadline.Sub(scheduler.nowFn())
	if delay <= 0 {
		if !options.AllowPastDeadline {
			return "", fmt.Errorf("%w: deadline %s", ErrDeadlinePassed, deadline.UTC().Format(time.RFC3339))
		}
		delay = pastDeadlineBuffer
	}
	if err := scheduler.store.SaveJob(ctx, bookingID, jobID, deadline); err != nil {
		return "", err
	}

	scheduler.mu.Lock()
	if existing, ok := scheduler.jobs[bookingID]; ok {
		existing.timer.Stop()
	}
	scheduler.jobs[bookingID] = &scheduledJob{
		timer:    time.AfterFunc(delay, func() { scheduler.fire(bookingID, jobID) }),
		jobID:    jobID,
		deadline: deadline,
	}
	scheduler.mu.Unlock()

	scheduler.logger.Info("no-show evaluation scheduled",
		zap.String("booking_id", bookingID),
		zap.String("job_id", jobID),
		zap.Time("deadline", deadline),
		zap.Duration("delay", delay))
	return jobID, nil
}

// Cancel stops the local timer and clears the persisted job metadata.
// Idempotent: cancelling a booking with no job is a no-op.
func (scheduler *Scheduler) Cancel(ctx context.Context, bookingID string) error {
	scheduler.mu.Lock()
	if existing, ok := scheduler.jobs[bookingID]; ok {
		existing.timer.Stop()
		delete(scheduler.jobs, bookingID)
	}
	scheduler.mu.Unlock()
	if err := scheduler.store.ClearJob(ctx, bookingID); err != nil {
		return err
	}
	scheduler.logger.Info("no-show evaluation cancelled", zap.String("booking_id", bookingID))
	return nil
}

// Reschedule replaces the booking's job with a fresh identifier, which
// implicitly invalidates any stale in-flight timer for the old one.
func (scheduler *Scheduler) Reschedule(ctx context.Context, bookingID string, newDeadline time.Time, reason string) (string, error) {
	scheduler.logger.Info("no-show evaluation rescheduled",
		zap.String("booking_id", bookingID),
		zap.Time("new_deadline", newDeadline),
		zap.String("reason", reason))
	return scheduler.Schedule(ctx, bookingID, newDeadline, ScheduleOptions{AllowPastDeadline: true})
}

// RestoreOnStartup re-arms persisted jobs for bookings still awaiting
// arrival. Overdue deadlines run almost immediately instead of being lost.
func (scheduler *Scheduler) RestoreOnStartup(ctx context.Context) (int, error) {
	bookings, err := scheduler.store.ListArrivalPendingWithJobs(ctx)
	if err != nil {
		return 0, err
	}
	restored := 0
	for _, booking := range bookings {
		if booking.JobID == "" || booking.ScheduledRunAt == nil {
			continue
		}
		_, err := scheduler.Schedule(ctx, booking.BookingID, *booking.ScheduledRunAt, ScheduleOptions{
			ReuseJobID:        booking.JobID,
			AllowPastDeadline: true,
		})
		if err != nil {
			scheduler.logger.Error("restore failed",
				zap.String("booking_id", booking.BookingID),
				zap.Error(err))
			continue
		}
		restored++
	}
	scheduler.logger.Info("no-show jobs restored", zap.Int("count", restored))
	return restored, nil
}

// ManualSweep force-evaluates every booking whose deadline has passed but
// whose evaluation is still pending. Safety net for missed timers and clock
// drift; it does not consult the in-memory timer map.
func (scheduler *Scheduler) ManualSweep(ctx context.Context) (int, error) {
	overdue, err := scheduler.store.ListOverduePending(ctx, scheduler.nowFn())
	if err != nil {
		return 0, err
	}
	evaluated := 0
	for _, booking := range overdue {
		if _, err := scheduler.Execute(ctx, booking.BookingID, booking.JobID, true); err != nil {
			scheduler.logger.Error("sweep evaluation failed",
				zap.String("booking_id", booking.BookingID),
				zap.Error(err))
			continue
		}
		evaluated++
	}
	if evaluated > 0 {
		scheduler.logger.Info("manual sweep completed", zap.Int("evaluated", evaluated))
	}
	return evaluated, nil
}

// Execute runs one evaluation. A firing timer whose job id no longer matches
// the booking's current job is stale and discards itself; force bypasses that
// guard for sweeps.
func (scheduler *Scheduler) Execute(ctx context.Context, bookingID string, jobID string, force bool) (Outcome, error) {
	if !force && scheduler.isStale(bookingID, jobID) {
		scheduler.logger.Debug("stale evaluation discarded",
			zap.String("booking_id", bookingID),
			zap.String("job_id", jobID))
		return OutcomeStale, nil
	}

	booking, err := scheduler.store.GetBooking(ctx, bookingID)
	if err != nil {
		return "", err
	}
	now := scheduler.nowFn()

	switch booking.Status {
	case BookingParked, BookingCheckedIn, BookingCompleted, BookingCancelled:
		return scheduler.resolve(ctx, bookingID, Evaluation{
			JobID:            jobID,
			Outcome:          OutcomeCleared,
			Detail:           fmt.Sprintf("booking already %s", booking.Status),
			EvaluatedUnixUTC: now.Unix(),
		})
	case BookingNoShow:
		// already resolved; append the re-entry for the audit trail only
		scheduler.dropJob(bookingID)
		if err := scheduler.store.RecordEvaluation(ctx, bookingID, Evaluation{
			JobID:            jobID,
			Outcome:          OutcomeNoShow,
			Detail:           "already marked no_show",
			EvaluatedUnixUTC: now.Unix(),
		}); err != nil {
			return "", err
		}
		return OutcomeNoShow, nil
	}

	if booking.EnteredApproachZone && (booking.ApproachZoneUnixUTC == 0 || booking.ApproachZoneUnixUTC <= booking.ArrivalDeadline.Unix()) {
		return scheduler.resolve(ctx, bookingID, Evaluation{
			JobID:            jobID,
			Outcome:          OutcomeCleared,
			Detail:           "approach zone entered before deadline",
			EvaluatedUnixUTC: now.Unix(),
		})
	}

	if now.Before(booking.ArrivalDeadline) {
		// fired early (clock skew or a reused overdue buffer); try again at the
		// real deadline under a fresh job id
		if err := scheduler.store.RecordEvaluation(ctx, bookingID, Evaluation{
			JobID:            jobID,
			Outcome:          OutcomeRescheduled,
			Detail:           "evaluation fired before deadline",
			EvaluatedUnixUTC: now.Unix(),
		}); err != nil {
			return "", err
		}
		if _, err := scheduler.Schedule(ctx, bookingID, booking.ArrivalDeadline, ScheduleOptions{AllowPastDeadline: true}); err != nil {
			return "", err
		}
		return OutcomeRescheduled, nil
	}

	minutesLate := int64(now.Sub(booking.ArrivalDeadline) / time.Minute)
	if err := scheduler.outcomes.HandleNoShow(ctx, booking, minutesLate); err != nil {
		// leave the persisted job untouched so a sweep or restart retries
		return "", err
	}
	outcome, err := scheduler.resolve(ctx, bookingID, Evaluation{
		JobID:            jobID,
		Outcome:          OutcomeNoShow,
		Detail:           "arrival deadline passed without approach-zone entry",
		MinutesLate:      minutesLate,
		EvaluatedUnixUTC: now.Unix(),
	})
	if err != nil {
		return "", err
	}
	scheduler.logger.Info("no-show recorded",
		zap.String("booking_id", bookingID),
		zap.Int64("minutes_late", minutesLate))
	return outcome, nil
}

func (scheduler *Scheduler) resolve(ctx context.Context, bookingID string, evaluation Evaluation) (Outcome, error) {
	scheduler.dropJob(bookingID)
	if err := scheduler.store.RecordEvaluation(ctx, bookingID, evaluation); err != nil {
		return "", err
	}
	if err := scheduler.store.ClearJob(ctx, bookingID); err != nil {
		return "", err
	}
	return evaluation.Outcome, nil
}

func (scheduler *Scheduler) isStale(bookingID string, jobID string) bool {
	scheduler.mu.Lock()
	defer scheduler.mu.Unlock()
	current, ok := scheduler.jobs[bookingID]
	return ok && current.jobID != jobID
}

func (scheduler *Scheduler) dropJob(bookingID string) {
	scheduler.mu.Lock()
	if existing, ok := scheduler.jobs[bookingID]; ok {
		existing.timer.Stop()
		delete(scheduler.jobs, bookingID)
	}
	scheduler.mu.Unlock()
}

func (scheduler *Scheduler) fire(bookingID string, jobID string) {
	ctx, cancel := context.WithTimeout(context.Background(), executeTimeout)
	defer cancel()
	if _, err := scheduler.Execute(ctx, bookingID, jobID, false); err != nil {
		scheduler.logger.Error("no-show evaluation failed",
			zap.String("booking_id", bookingID),
			zap.String("job_id", jobID),
			zap.Error(err))
	}
}
