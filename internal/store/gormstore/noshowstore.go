package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/parqhub/parqcore/internal/noshow"
)

// NoShowStore implements noshow.BookingStore over the bookings table. It and
// BookingStore share the same rows; this type exposes only the slice the
// scheduler needs.
type NoShowStore struct {
	db *gorm.DB
}

// NewNoShowStore returns a NoShowStore backed by gorm.DB.
func NewNoShowStore(db *gorm.DB) *NoShowStore {
	return &NoShowStore{db: db}
}

type evaluationJSON struct {
	JobID            string `json:"job_id"`
	Outcome          string `json:"outcome"`
	Detail           string `json:"detail,omitempty"`
	MinutesLate      int64  `json:"minutes_late,omitempty"`
	EvaluatedUnixUTC int64  `json:"evaluated_unix_utc"`
}

func (store *NoShowStore) GetBooking(ctx context.Context, bookingID string) (noshow.Booking, error) {
	var row Booking
	err := store.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return noshow.Booking{}, noshow.ErrBookingNotFound
		}
		return noshow.Booking{}, fmt.Errorf("get booking: %w", err)
	}
	return mapNoShowBooking(row), nil
}

func (store *NoShowStore) SaveJob(ctx context.Context, bookingID string, jobID string, runAt time.Time) error {
	runAtUTC := runAt.UTC()
	result := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("booking_id = ?", bookingID).
		Updates(map[string]interface{}{
			"no_show_job_id":          &jobID,
			"scheduled_evaluation_at": &runAtUTC,
			"updated_at":              time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("save no-show job: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return noshow.ErrBookingNotFound
	}
	return nil
}

func (store *NoShowStore) ClearJob(ctx context.Context, bookingID string) error {
	result := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("booking_id = ?", bookingID).
		Updates(map[string]interface{}{
			"no_show_job_id":          nil,
			"scheduled_evaluation_at": nil,
			"updated_at":              time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("clear no-show job: %w", result.Error)
	}
	return nil
}

// RecordEvaluation appends one line to the booking's evaluation history. The
// cleared and no_show outcomes also resolve the booking's no-show status;
// rescheduled lines are history only.
func (store *NoShowStore) RecordEvaluation(ctx context.Context, bookingID string, evaluation noshow.Evaluation) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		var row Booking
		err := transaction.
			Where("booking_id = ?", bookingID).
			First(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return noshow.ErrBookingNotFound
			}
			return fmt.Errorf("get booking: %w", err)
		}

		var history []evaluationJSON
		if len(row.NoShowEvaluations) > 0 {
			if err := json.Unmarshal(row.NoShowEvaluations, &history); err != nil {
				return fmt.Errorf("decode evaluation history: %w", err)
			}
		}
		history = append(history, evaluationJSON{
			JobID:            evaluation.JobID,
			Outcome:          string(evaluation.Outcome),
			Detail:           evaluation.Detail,
			MinutesLate:      evaluation.MinutesLate,
			EvaluatedUnixUTC: evaluation.EvaluatedUnixUTC,
		})
		encoded, err := json.Marshal(history)
		if err != nil {
			return fmt.Errorf("encode evaluation history: %w", err)
		}

		updates := map[string]interface{}{
			"no_show_evaluations": encoded,
			"updated_at":          time.Now().UTC(),
		}
		switch evaluation.Outcome {
		case noshow.OutcomeCleared, noshow.OutcomeNoShow:
			status := string(evaluation.Outcome)
			updates["no_show_status"] = &status
		}

		result := transaction.
			Model(&Booking{}).
			Where("booking_id = ?", bookingID).
			Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("record evaluation: %w", result.Error)
		}
		return nil
	})
}

func (store *NoShowStore) ListArrivalPendingWithJobs(ctx context.Context) ([]noshow.Booking, error) {
	var rows []Booking
	err := store.db.WithContext(ctx).
		Where("status = ? AND no_show_job_id IS NOT NULL", string(noshow.BookingArrivalPending)).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	return mapNoShowBookings(rows), nil
}

func (store *NoShowStore) ListOverduePending(ctx context.Context, now time.Time) ([]noshow.Booking, error) {
	var rows []Booking
	err := store.db.WithContext(ctx).
		Where("status = ? AND no_show_status IS NULL AND arrival_deadline < ?", string(noshow.BookingArrivalPending), now.UTC()).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list overdue bookings: %w", err)
	}
	return mapNoShowBookings(rows), nil
}

func mapNoShowBookings(rows []Booking) []noshow.Booking {
	bookings := make([]noshow.Booking, 0, len(rows))
	for _, row := range rows {
		bookings = append(bookings, mapNoShowBooking(row))
	}
	return bookings
}

func mapNoShowBooking(row Booking) noshow.Booking {
	booking := noshow.Booking{
		BookingID:           row.BookingID,
		Status:              noshow.BookingStatus(row.Status),
		ArrivalDeadline:     row.ArrivalDeadline,
		EnteredApproachZone: row.EnteredApproachZone,
		JobID:               stringOrEmpty(row.NoShowJobID),
		ScheduledRunAt:      row.ScheduledEvaluationAt,
	}
	if row.ApproachZoneAt != nil {
		booking.ApproachZoneUnixUTC = row.ApproachZoneAt.Unix()
	}
	if row.NoShowStatus != nil {
		booking.NoShowStatus = noshow.Outcome(*row.NoShowStatus)
	}
	return booking
}
