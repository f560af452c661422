package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// Service contains the domain logic over a Store.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Summary returns balance, held, and available derived from the log.
func (service *Service) Summary(ctx context.Context, ownerID OwnerID) (Summary, error) {
	accountID, err := service.store.GetOrCreateAccountID(ctx, ownerID)
	if err != nil {
		return Summary{}, err
	}
	transactions, err := service.store.ListCompleted(ctx, accountID)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(transactions), nil
}

// Hold reserves funds without moving them. Admission re-runs the balance fold
// inside the store transaction, so concurrent holds cannot overdraw.
func (service *Service) Hold(ctx context.Context, ownerID OwnerID, amount AmountCents, bookingID BookingID, description string, metadata MetadataJSON) (HoldRef, error) {
	holdRef := HoldRef{value: uuid.NewString()}
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		accountID, err := transactionStore.GetOrCreateAccountID(ctx, ownerID)
		if err != nil {
			return err
		}
		transactions, err := transactionStore.ListCompleted(ctx, accountID)
		if err != nil {
			return err
		}
		summary := Summarize(transactions)
		if summary.AvailableCents < amount {
			return ErrInsufficientFunds
		}
		_, err = transactionStore.InsertTransaction(ctx, Transaction{
			AccountID:      accountID,
			Kind:           KindHold,
			AmountCents:    amount,
			Status:         StatusCompleted,
			HoldRef:        holdRef.String(),
			BookingID:      bookingID.String(),
			Description:    description,
			MetadataJSON:   metadata.String(),
			CreatedUnixUTC: service.nowFn(),
		})
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationHold,
		OwnerID:   ownerID,
		HoldRef:   &holdRef,
		BookingID: &bookingID,
		Amount:    amount,
		Error:     operationError,
	})
	if operationError != nil {
		return HoldRef{}, operationError
	}
	return holdRef, nil
}

// Capture converts the open remainder of a hold into an actual debit. It
// appends a capture transaction (money leaves the account) and a matching
// release of the same amount (the held counter returns to zero for this
// hold). Returns the captured amount.
func (service *Service) Capture(ctx context.Context, ownerID OwnerID, holdRef HoldRef, bookingID BookingID, description string, metadata MetadataJSON) (AmountCents, error) {
	var captured AmountCents
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		accountID, err := transactionStore.GetOrCreateAccountID(ctx, ownerID)
		if err != nil {
			return err
		}
		transactions, err := transactionStore.ListCompleted(ctx, accountID)
		if err != nil {
			return err
		}
		holdCents, releasedCents, _, found := holdActivity(transactions, holdRef)
		if !found {
			return ErrHoldNotFound
		}
		remaining := holdCents - releasedCents
		if remaining <= 0 {
			return ErrHoldClosed
		}
		captured = remaining
		nowUnixUTC := service.nowFn()
		captureID, err := transactionStore.InsertTransaction(ctx, Transaction{
			AccountID:      accountID,
			Kind:           KindCapture,
			AmountCents:    remaining,
			Status:         StatusCompleted,
			HoldRef:        holdRef.String(),
			BookingID:      bookingID.String(),
			Description:    description,
			MetadataJSON:   metadata.String(),
			CreatedUnixUTC: nowUnixUTC,
		})
		if err != nil {
			return err
		}
		_, err = transactionStore.InsertTransaction(ctx, Transaction{
			AccountID:      accountID,
			Kind:           KindRelease,
			AmountCents:    remaining,
			Status:         StatusCompleted,
			HoldRef:        holdRef.String(),
			RelatedID:      captureID,
			BookingID:      bookingID.String(),
			Description:    description,
			MetadataJSON:   metadata.String(),
			CreatedUnixUTC: nowUnixUTC,
		})
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCapture,
		OwnerID:   ownerID,
		HoldRef:   &holdRef,
		BookingID: &bookingID,
		Amount:    captured,
		Error:     operationError,
	})
	if operationError != nil {
		return 0, operationError
	}
	return captured, nil
}

// Release cancels all or part of a hold without debiting. Balance is
// untouched; only the held counter shrinks. A nil amount releases the full
// original hold amount.
func (service *Service) Release(ctx context.Context, ownerID OwnerID, holdRef HoldRef, amount *AmountCents, reason string, metadata MetadataJSON) error {
	var releasedAmount AmountCents
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		accountID, err := transactionStore.GetOrCreateAccountID(ctx, ownerID)
		if err != nil {
			return err
		}
		transactions, err := transactionStore.ListCompleted(ctx, accountID)
		if err != nil {
			return err
		}
		holdCents, releasedCents, _, found := holdActivity(transactions, holdRef)
		if !found {
			return ErrHoldNotFound
		}
		releaseCents := holdCents
		if amount != nil {
			releaseCents = *amount
		}
		if releaseCents <= 0 {
			return fmt.Errorf("%w: release amount must be positive", ErrInvalidAmountCents)
		}
		if releasedCents+releaseCents > holdCents {
			return ErrOverRelease
		}
		releasedAmount = releaseCents
		_, err = transactionStore.InsertTransaction(ctx, Transaction{
			AccountID:      accountID,
			Kind:           KindRelease,
			AmountCents:    releaseCents,
			Status:         StatusCompleted,
			HoldRef:        holdRef.String(),
			Description:    reason,
			MetadataJSON:   metadata.String(),
			CreatedUnixUTC: service.nowFn(),
		})
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationRelease,
		OwnerID:   ownerID,
		HoldRef:   &holdRef,
		Amount:    releasedAmount,
		Error:     operationError,
	})
	return operationError
}

// Credit appends funds to an account.
func (service *Service) Credit(ctx context.Context, ownerID OwnerID, amount AmountCents, bookingID BookingID, description string, metadata MetadataJSON) (string, error) {
	transactionID, operationError := service.appendSimple(ctx, ownerID, KindCredit, amount, bookingID, description, metadata)
	service.logOperation(ctx, OperationLog{
		Operation: operationCredit,
		OwnerID:   ownerID,
		BookingID: &bookingID,
		Amount:    amount,
		Error:     operationError,
	})
	return transactionID, operationError
}

// Refund appends a refund credit to an account.
func (service *Service) Refund(ctx context.Context, ownerID OwnerID, amount AmountCents, bookingID BookingID, description string, metadata MetadataJSON) (string, error) {
	transactionID, operationError := service.appendSimple(ctx, ownerID, KindRefund, amount, bookingID, description, metadata)
	service.logOperation(ctx, OperationLog{
		Operation: operationRefund,
		OwnerID:   ownerID,
		BookingID: &bookingID,
		Amount:    amount,
		Error:     operationError,
	})
	return transactionID, operationError
}

func (service *Service) appendSimple(ctx context.Context, ownerID OwnerID, kind TransactionKind, amount AmountCents, bookingID BookingID, description string, metadata MetadataJSON) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	var transactionID string
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		accountID, err := transactionStore.GetOrCreateAccountID(ctx, ownerID)
		if err != nil {
			return err
		}
		transactionID, err = transactionStore.InsertTransaction(ctx, Transaction{
			AccountID:      accountID,
			Kind:           kind,
			AmountCents:    amount,
			Status:         StatusCompleted,
			BookingID:      bookingID.String(),
			Description:    description,
			MetadataJSON:   metadata.String(),
			CreatedUnixUTC: service.nowFn(),
		})
		return err
	})
	if err != nil {
		return "", err
	}
	return transactionID, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
