package escrow

import (
	"context"
	"fmt"
	"strings"
)

const (
	auditEventCreated           = "created"
	auditEventAdditionalCharge  = "additional_charge"
	auditEventReleased          = "released"
	auditEventPartiallyReleased = "partially_released"
	auditEventRefunded          = "refunded"
	auditEventDisputed          = "disputed"
)

// Service contains the escrow custody logic over a Store. It records how a
// booking's payment splits and settles; moving the money itself is the
// caller's job via the ledger.
type Service struct {
	store Store
	nowFn func() int64
}

// NewService wires a Service.
func NewService(store Store, now func() int64) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	return &Service{store: store, nowFn: now}, nil
}

// Create persists a new custody record in held status. The split must sum
// exactly: amounts are integer centavos, so there is no rounding slack.
func (service *Service) Create(ctx context.Context, input CreateInput) (Account, error) {
	if strings.TrimSpace(input.BookingID) == "" {
		return Account{}, fmt.Errorf("%w: empty booking id", ErrInvalidBookingID)
	}
	if strings.TrimSpace(input.PayerID) == "" || strings.TrimSpace(input.PayeeID) == "" {
		return Account{}, fmt.Errorf("%w: payer and payee are required", ErrInvalidBeneficiary)
	}
	if err := ValidateSplit(input.TotalCents, input.PayeeShare, input.PlatformShare); err != nil {
		return Account{}, err
	}
	nowUnixUTC := service.nowFn()
	account := Account{
		BookingID:            input.BookingID,
		PayerID:              input.PayerID,
		PayeeID:              input.PayeeID,
		TotalCents:           input.TotalCents,
		PayeeShare:           input.PayeeShare,
		PlatformShare:        input.PlatformShare,
		Status:               StatusHeld,
		PaymentTransactionID: input.PaymentTransactionID,
		CreatedUnixUTC:       nowUnixUTC,
		Audit: []AuditEntry{{
			Event:     auditEventCreated,
			Detail:    fmt.Sprintf("held %d centavos", input.TotalCents),
			AtUnixUTC: nowUnixUTC,
		}},
	}
	if err := service.store.CreateAccount(ctx, account); err != nil {
		return Account{}, err
	}
	return account, nil
}

// Get loads the custody record for a booking.
func (service *Service) Get(ctx context.Context, bookingID string) (Account, error) {
	return service.store.GetAccount(ctx, bookingID)
}

// AddAdditionalCharge grows the custody total while still held. Overtime
// charges land in the payee's overtime bucket; service fees land on the
// platform side.
func (service *Service) AddAdditionalCharge(ctx context.Context, bookingID string, chargeType ChargeType, amount AmountCents, description string) (Account, error) {
	if amount <= 0 {
		return Account{}, fmt.Errorf("%w: charge must be greater than zero", ErrInvalidAmountCents)
	}
	return service.mutateHeld(ctx, bookingID, func(account *Account) error {
		switch chargeType {
		case ChargeOvertime:
			account.PayeeShare.OvertimeCents += amount
			account.PayeeShare.TotalCents += amount
		case ChargeServiceFee:
			account.PlatformShare.ServiceFeeCents += amount
			account.PlatformShare.TotalCents += amount
		default:
			return fmt.Errorf("%w: %q", ErrInvalidChargeType, chargeType)
		}
		account.TotalCents += amount
		account.Audit = append(account.Audit, AuditEntry{
			Event:     auditEventAdditionalCharge,
			Detail:    fmt.Sprintf("%s +%d: %s", chargeType, amount, description),
			AtUnixUTC: service.nowFn(),
		})
		return nil
	})
}

// Release settles the full custody to both beneficiaries. The caller has
// already moved funds via the ledger; this records the transfer ids and
// closes the record.
func (service *Service) Release(ctx context.Context, bookingID string, payeeTransferID string, platformTransferID string) (Account, error) {
	return service.mutateHeld(ctx, bookingID, func(account *Account) error {
		nowUnixUTC := service.nowFn()
		account.Status = StatusReleased
		account.PayeeTransferID = payeeTransferID
		account.PlatformTransferID = platformTransferID
		account.ReleasedUnixUTC = nowUnixUTC
		account.Audit = append(account.Audit, AuditEntry{
			Event:     auditEventReleased,
			Detail:    fmt.Sprintf("payee txn %s, platform txn %s", payeeTransferID, platformTransferID),
			AtUnixUTC: nowUnixUTC,
		})
		return nil
	})
}

// ReleasePartial settles custody with part of the total withheld, e.g. a
// dispute resolved in the payer's favor for the withheld portion.
func (service *Service) ReleasePartial(ctx context.Context, bookingID string, payeeTransferID string, platformTransferID string, withheld AmountCents) (Account, error) {
	if withheld <= 0 {
		return Account{}, fmt.Errorf("%w: withheld amount must be greater than zero", ErrInvalidAmountCents)
	}
	return service.mutateHeld(ctx, bookingID, func(account *Account) error {
		if withheld >= account.TotalCents {
			return fmt.Errorf("%w: withheld %d of total %d", ErrRefundExceedsTotal, withheld, account.TotalCents)
		}
		nowUnixUTC := service.nowFn()
		account.Status = StatusPartiallyReleased
		account.PayeeTransferID = payeeTransferID
		account.PlatformTransferID = platformTransferID
		account.WithheldCents = withheld
		account.ReleasedUnixUTC = nowUnixUTC
		account.Audit = append(account.Audit, AuditEntry{
			Event:     auditEventPartiallyReleased,
			Detail:    fmt.Sprintf("withheld %d centavos", withheld),
			AtUnixUTC: nowUnixUTC,
		})
		return nil
	})
}

// Refund closes the custody back toward the payer. Partial refunds are
// allowed: a violation policy may reduce the refunded amount below total.
func (service *Service) Refund(ctx context.Context, bookingID string, amount AmountCents, reason string, actorID string, refundTransactionID string) (Account, error) {
	if amount < 0 {
		return Account{}, fmt.Errorf("%w: refund must not be negative", ErrInvalidAmountCents)
	}
	return service.mutateHeld(ctx, bookingID, func(account *Account) error {
		if amount > account.TotalCents {
			return fmt.Errorf("%w: refund %d of total %d", ErrRefundExceedsTotal, amount, account.TotalCents)
		}
		nowUnixUTC := service.nowFn()
		account.Status = StatusRefunded
		account.RefundedUnixUTC = nowUnixUTC
		account.Refund = &RefundInfo{
			AmountCents:     amount,
			Reason:          reason,
			ActorID:         actorID,
			TransactionID:   refundTransactionID,
			RefundedUnixUTC: nowUnixUTC,
		}
		account.Audit = append(account.Audit, AuditEntry{
			Event:     auditEventRefunded,
			Detail:    fmt.Sprintf("refunded %d centavos: %s", amount, reason),
			ActorID:   actorID,
			AtUnixUTC: nowUnixUTC,
		})
		return nil
	})
}

// Dispute freezes the custody pending manual resolution.
func (service *Service) Dispute(ctx context.Context, bookingID string, reason string, actorID string) (Account, error) {
	return service.mutateHeld(ctx, bookingID, func(account *Account) error {
		account.Status = StatusDisputed
		account.Audit = append(account.Audit, AuditEntry{
			Event:     auditEventDisputed,
			Detail:    reason,
			ActorID:   actorID,
			AtUnixUTC: service.nowFn(),
		})
		return nil
	})
}

// mutateHeld applies fn to the stored account only while it is still held.
// The store-side CAS on status is the authoritative guard against two
// concurrent settlements; the early status check just fails fast.
func (service *Service) mutateHeld(ctx context.Context, bookingID string, fn func(account *Account) error) (Account, error) {
	var updated Account
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.GetAccount(ctx, bookingID)
		if err != nil {
			return err
		}
		if account.Status != StatusHeld {
			return fmt.Errorf("%w: escrow for booking %s is %s", ErrInvalidStateTransition, bookingID, account.Status)
		}
		if err := fn(&account); err != nil {
			return err
		}
		if err := transactionStore.UpdateFromHeld(ctx, account); err != nil {
			return err
		}
		updated = account
		return nil
	})
	if err != nil {
		return Account{}, err
	}
	return updated, nil
}

// ValidateSplit checks that the share buckets sum to their totals and the
// share totals sum to the custody total, exactly. Callers about to move money
// can run it before committing anything.
func ValidateSplit(total AmountCents, payeeShare PayeeShare, platformShare PlatformShare) error {
	for _, amount := range []AmountCents{
		total,
		payeeShare.BaseCents, payeeShare.BonusCents, payeeShare.OvertimeCents, payeeShare.TotalCents,
		platformShare.DynamicCutCents, platformShare.ServiceFeeCents, platformShare.PlatformFeeCents, platformShare.TotalCents,
	} {
		if amount < 0 {
			return fmt.Errorf("%w: negative split component", ErrInvalidAmountCents)
		}
	}
	if payeeShare.BaseCents+payeeShare.BonusCents+payeeShare.OvertimeCents != payeeShare.TotalCents {
		return fmt.Errorf("%w: payee share buckets do not sum to payee total", ErrSplitMismatch)
	}
	if platformShare.DynamicCutCents+platformShare.ServiceFeeCents+platformShare.PlatformFeeCents != platformShare.TotalCents {
		return fmt.Errorf("%w: platform share buckets do not sum to platform total", ErrSplitMismatch)
	}
	if payeeShare.TotalCents+platformShare.TotalCents != total {
		return fmt.Errorf("%w: payee %d + platform %d != total %d", ErrSplitMismatch, payeeShare.TotalCents, platformShare.TotalCents, total)
	}
	return nil
}
