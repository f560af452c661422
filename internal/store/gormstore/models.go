package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the ledger accounts table.
type Account struct {
	AccountID string    `gorm:"type:uuid;primaryKey"`
	OwnerID   string    `gorm:"not null;uniqueIndex:idx_accounts_owner"`
	CreatedAt time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// LedgerTransaction mirrors the ledger_transactions table. Rows are append
// only: no code path updates or deletes them.
type LedgerTransaction struct {
	TransactionID string         `gorm:"type:uuid;primaryKey"`
	AccountID     string         `gorm:"type:uuid;not null;index:idx_txn_account_created,priority:1"`
	Kind          string         `gorm:"not null"`
	AmountCents   int64          `gorm:"not null"`
	Status        string         `gorm:"not null"`
	HoldRef       *string        `gorm:"index:idx_txn_hold_ref"`
	RelatedID     *string        `gorm:""`
	BookingID     *string        `gorm:"index:idx_txn_booking"`
	Description   string         `gorm:""`
	Metadata      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_txn_account_created,priority:2"`
}

func (LedgerTransaction) TableName() string { return "ledger_transactions" }

func (transaction *LedgerTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// EscrowAccount mirrors the escrow_accounts table, one row per booking.
type EscrowAccount struct {
	EscrowID   string `gorm:"type:uuid;primaryKey"`
	BookingID  string `gorm:"not null;uniqueIndex:uniq_escrow_booking"`
	PayerID    string `gorm:"not null"`
	PayeeID    string `gorm:"not null"`
	TotalCents int64  `gorm:"not null"`

	PayeeBaseCents     int64 `gorm:"not null"`
	PayeeBonusCents    int64 `gorm:"not null"`
	PayeeOvertimeCents int64 `gorm:"not null"`
	PayeeTotalCents    int64 `gorm:"not null"`

	PlatformDynamicCutCents int64 `gorm:"not null"`
	PlatformServiceFeeCents int64 `gorm:"not null"`
	PlatformFeeCents        int64 `gorm:"not null"`
	PlatformTotalCents      int64 `gorm:"not null"`

	Status               string `gorm:"not null;index:idx_escrow_status"`
	PaymentTransactionID string `gorm:""`
	PayeeTransferID      string `gorm:""`
	PlatformTransferID   string `gorm:""`
	WithheldCents        int64  `gorm:"not null;default:0"`

	RefundAmountCents   int64      `gorm:"not null;default:0"`
	RefundReason        string     `gorm:""`
	RefundActorID       string     `gorm:""`
	RefundTransactionID string     `gorm:""`
	RefundedAt          *time.Time `gorm:""`

	Audit      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt  time.Time      `gorm:"not null"`
	ReleasedAt *time.Time     `gorm:""`
	UpdatedAt  time.Time      `gorm:"not null"`
}

func (EscrowAccount) TableName() string { return "escrow_accounts" }

func (account *EscrowAccount) BeforeCreate(tx *gorm.DB) error {
	if account.EscrowID == "" {
		account.EscrowID = uuid.NewString()
	}
	return nil
}

// Booking mirrors the bookings table. The no-show job metadata and the
// evaluation history live here so scheduler state survives restart and is
// observable without the in-memory timer map.
type Booking struct {
	BookingID       string    `gorm:"primaryKey"`
	DriverID        string    `gorm:"not null;index:idx_bookings_driver"`
	HostID          string    `gorm:"not null"`
	SpaceID         string    `gorm:""`
	Status          string    `gorm:"not null;index:idx_bookings_status"`
	TotalCents      int64     `gorm:"not null"`
	HoldRef         string    `gorm:""`
	ArrivalDeadline time.Time `gorm:"not null"`

	EnteredApproachZone bool       `gorm:"not null;default:false"`
	ApproachZoneAt      *time.Time `gorm:""`

	NoShowJobID           *string        `gorm:""`
	ScheduledEvaluationAt *time.Time     `gorm:""`
	NoShowStatus          *string        `gorm:""`
	NoShowEvaluations     datatypes.JSON `gorm:"type:jsonb;not null"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Booking) TableName() string { return "bookings" }
