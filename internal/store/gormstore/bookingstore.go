package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/parqhub/parqcore/internal/booking"
	"github.com/parqhub/parqcore/internal/noshow"
)

const emptyEvaluationsJSON = "[]"

// BookingStore implements booking.Store using GORM.
type BookingStore struct {
	db *gorm.DB
}

// NewBookingStore returns a BookingStore backed by gorm.DB.
func NewBookingStore(db *gorm.DB) *BookingStore {
	return &BookingStore{db: db}
}

func (store *BookingStore) CreateBooking(ctx context.Context, record booking.Record) error {
	row := Booking{
		BookingID:         record.BookingID,
		DriverID:          record.DriverID,
		HostID:            record.HostID,
		SpaceID:           record.SpaceID,
		Status:            string(record.Status),
		TotalCents:        record.TotalCents,
		HoldRef:           record.HoldRef,
		ArrivalDeadline:   record.ArrivalDeadline.UTC(),
		NoShowEvaluations: []byte(emptyEvaluationsJSON),
		CreatedAt:         time.Unix(record.CreatedUnixUTC, 0).UTC(),
	}
	if record.CreatedUnixUTC == 0 {
		row.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: booking %s already exists", booking.ErrInvalidInput, record.BookingID)
		}
		return fmt.Errorf("create booking: %w", err)
	}
	return nil
}

func (store *BookingStore) GetBooking(ctx context.Context, bookingID string) (booking.Record, error) {
	var row Booking
	err := store.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return booking.Record{}, booking.ErrBookingNotFound
		}
		return booking.Record{}, fmt.Errorf("get booking: %w", err)
	}
	return booking.Record{
		BookingID:       row.BookingID,
		DriverID:        row.DriverID,
		HostID:          row.HostID,
		SpaceID:         row.SpaceID,
		Status:          noshow.BookingStatus(row.Status),
		TotalCents:      row.TotalCents,
		HoldRef:         row.HoldRef,
		ArrivalDeadline: row.ArrivalDeadline,
		CreatedUnixUTC:  row.CreatedAt.Unix(),
	}, nil
}

// UpdateStatus moves a booking from one status to another. The from predicate
// makes the write a compare-and-swap so concurrent settlements cannot both
// transition the same booking.
func (store *BookingStore) UpdateStatus(ctx context.Context, bookingID string, from noshow.BookingStatus, to noshow.BookingStatus) error {
	result := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("booking_id = ? AND status = ?", bookingID, string(from)).
		Updates(map[string]interface{}{
			"status":     string(to),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("update booking status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return booking.ErrInvalidStatusTransition
	}
	return nil
}

func (store *BookingStore) UpdateArrivalDeadline(ctx context.Context, bookingID string, deadline time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("booking_id = ?", bookingID).
		Updates(map[string]interface{}{
			"arrival_deadline": deadline.UTC(),
			"updated_at":       time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("update arrival deadline: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return booking.ErrBookingNotFound
	}
	return nil
}

func (store *BookingStore) SetApproachZone(ctx context.Context, bookingID string, atUnixUTC int64) error {
	at := time.Unix(atUnixUTC, 0).UTC()
	result := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("booking_id = ?", bookingID).
		Updates(map[string]interface{}{
			"entered_approach_zone": true,
			"approach_zone_at":      &at,
			"updated_at":            time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("set approach zone: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return booking.ErrBookingNotFound
	}
	return nil
}

func (store *BookingStore) CountNoShows(ctx context.Context, driverID string) (int, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Booking{}).
		Where("driver_id = ? AND status = ?", driverID, string(noshow.BookingNoShow)).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("count no-shows: %w", err)
	}
	return int(count), nil
}
