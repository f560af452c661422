package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// AmountCents is an integer currency amount in centavos. Ledger amounts are
// always non-negative; the transaction kind determines the sign in the fold.
type AmountCents int64

// Int64 returns the raw amount.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// OwnerID identifies an account owner.
type OwnerID struct {
	value string
}

// HoldRef groups a hold transaction with its eventual releases and captures.
type HoldRef struct {
	value string
}

// BookingID ties a transaction to a booking.
type BookingID struct {
	value string
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// TransactionKind enumerates ledger transaction kinds.
type TransactionKind string

const (
	KindHold        TransactionKind = "hold"
	KindRelease     TransactionKind = "release"
	KindCapture     TransactionKind = "capture"
	KindCredit      TransactionKind = "credit"
	KindDebit       TransactionKind = "debit"
	KindRefund      TransactionKind = "refund"
	KindTransferIn  TransactionKind = "transfer_in"
	KindTransferOut TransactionKind = "transfer_out"
)

// String returns the kind as stored.
func (kind TransactionKind) String() string {
	return string(kind)
}

// ParseTransactionKind validates a stored kind value.
func ParseTransactionKind(raw string) (TransactionKind, error) {
	kind := TransactionKind(raw)
	switch kind {
	case KindHold, KindRelease, KindCapture, KindCredit, KindDebit, KindRefund, KindTransferIn, KindTransferOut:
		return kind, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionKind, raw)
}

// TransactionStatus defines the transaction lifecycle.
type TransactionStatus string

const (
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// String returns the status as stored.
func (status TransactionStatus) String() string {
	return string(status)
}

// ParseTransactionStatus validates a stored status value.
func ParseTransactionStatus(raw string) (TransactionStatus, error) {
	status := TransactionStatus(raw)
	switch status {
	case StatusCompleted, StatusFailed:
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidTransactionStatus, raw)
}

// A single immutable line in the ledger. Committed transactions are never
// updated or deleted; balances are folds over them.
type Transaction struct {
	TransactionID  string
	AccountID      string
	Kind           TransactionKind
	AmountCents    AmountCents
	Status         TransactionStatus
	HoldRef        string
	RelatedID      string
	BookingID      string
	Description    string
	MetadataJSON   string
	CreatedUnixUTC int64
}

// Summary is the derived balance view for an account. None of these fields
// are authoritative; they are recomputed from the transaction log.
type Summary struct {
	BalanceCents   AmountCents
	HeldCents      AmountCents
	AvailableCents AmountCents
}

// NewOwnerID validates and normalizes an owner id.
func NewOwnerID(raw string) (OwnerID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return OwnerID{}, fmt.Errorf("%w: empty value", ErrInvalidOwnerID)
	}
	return OwnerID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id OwnerID) String() string {
	return id.value
}

// NewHoldRef validates and normalizes a hold reference.
func NewHoldRef(raw string) (HoldRef, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return HoldRef{}, fmt.Errorf("%w: empty value", ErrInvalidHoldRef)
	}
	return HoldRef{value: trimmed}, nil
}

// String returns the normalized reference.
func (ref HoldRef) String() string {
	return ref.value
}

// NewBookingID validates and normalizes a booking id.
func NewBookingID(raw string) (BookingID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BookingID{}, fmt.Errorf("%w: empty value", ErrInvalidBookingID)
	}
	return BookingID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id BookingID) String() string {
	return id.value
}

// NewMetadataJSON validates metadata (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// NewAmountCents validates a non-negative amount.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// NewPositiveAmountCents validates a strictly positive amount.
func NewPositiveAmountCents(raw int64) (AmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// Store is the persistence contract used by Service. Implementations must
// make WithTx atomic: either every insert inside fn commits or none do.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateAccountID(ctx context.Context, ownerID OwnerID) (string, error)
	InsertTransaction(ctx context.Context, transaction Transaction) (string, error)
	ListCompleted(ctx context.Context, accountID string) ([]Transaction, error)
	ListTransactions(ctx context.Context, accountID string, beforeUnixUTC int64, limit int) ([]Transaction, error)
}
