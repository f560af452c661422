package escrow

import "context"

// AmountCents is an integer currency amount in centavos.
type AmountCents int64

// Int64 returns the raw amount.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// Status defines the escrow custody lifecycle. Transitions are
// one-directional: held is the only mutable state and no record re-enters it.
type Status string

const (
	StatusHeld              Status = "held"
	StatusReleased          Status = "released"
	StatusRefunded          Status = "refunded"
	StatusDisputed          Status = "disputed"
	StatusPartiallyReleased Status = "partially_released"
)

// String returns the status as stored.
func (status Status) String() string {
	return string(status)
}

// ParseStatus validates a stored status value.
func ParseStatus(raw string) (Status, error) {
	status := Status(raw)
	switch status {
	case StatusHeld, StatusReleased, StatusRefunded, StatusDisputed, StatusPartiallyReleased:
		return status, nil
	}
	return "", ErrInvalidStatus
}

// ChargeType enumerates additional-charge kinds accepted while held.
type ChargeType string

const (
	ChargeOvertime   ChargeType = "overtime"
	ChargeServiceFee ChargeType = "service_fee"
)

// PayeeShare is the space-owner side of the custody split.
type PayeeShare struct {
	BaseCents     AmountCents
	BonusCents    AmountCents
	OvertimeCents AmountCents
	TotalCents    AmountCents
}

// PlatformShare is the marketplace side of the custody split.
type PlatformShare struct {
	DynamicCutCents  AmountCents
	ServiceFeeCents  AmountCents
	PlatformFeeCents AmountCents
	TotalCents       AmountCents
}

// RefundInfo records how a refund was decided and settled.
type RefundInfo struct {
	AmountCents     AmountCents
	Reason          string
	ActorID         string
	TransactionID   string
	RefundedUnixUTC int64
}

// AuditEntry is one line of the append-only escrow audit log.
type AuditEntry struct {
	Event     string
	Detail    string
	ActorID   string
	AtUnixUTC int64
}

// Account is the custody record for a single booking. It tracks how the
// payment splits between the two beneficiaries; it never moves money itself.
type Account struct {
	BookingID            string
	PayerID              string
	PayeeID              string
	TotalCents           AmountCents
	PayeeShare           PayeeShare
	PlatformShare        PlatformShare
	Status               Status
	PaymentTransactionID string
	PayeeTransferID      string
	PlatformTransferID   string
	WithheldCents        AmountCents
	Refund               *RefundInfo
	Audit                []AuditEntry
	CreatedUnixUTC       int64
	ReleasedUnixUTC      int64
	RefundedUnixUTC      int64
}

// CreateInput carries the pricing split supplied at booking creation.
type CreateInput struct {
	BookingID            string
	PayerID              string
	PayeeID              string
	TotalCents           AmountCents
	PayeeShare           PayeeShare
	PlatformShare        PlatformShare
	PaymentTransactionID string
}

// Store is the persistence contract used by Service.
//
// UpdateFromHeld must persist the account only if the stored status is still
// held (compare-and-swap on status) and return ErrInvalidStateTransition when
// the row already left held, so two concurrent settlements cannot both win.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	CreateAccount(ctx context.Context, account Account) error
	GetAccount(ctx context.Context, bookingID string) (Account, error)
	UpdateFromHeld(ctx context.Context, account Account) error
}
