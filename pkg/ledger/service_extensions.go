package ledger

import (
	"context"
	"fmt"
)

// Debit removes funds from the available balance immediately (no hold).
func (service *Service) Debit(ctx context.Context, ownerID OwnerID, amount AmountCents, bookingID BookingID, description string, metadata MetadataJSON) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	var transactionID string
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
		transactionID, err = transactionStore.InsertTransaction(ctx, Transaction{
			AccountID:      accountID,
			Kind:           KindDebit,
			AmountCents:    amount,
			Status:         StatusCompleted,
			BookingID:      bookingID.String(),
			Description:    description,
			MetadataJSON:   metadata.String(),
			CreatedUnixUTC: service.nowFn(),
		})
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationDebit,
		OwnerID:   ownerID,
		BookingID: &bookingID,
		Amount:    amount,
		Error:     operationError,
	})
	if operationError != nil {
		return "", operationError
	}
	return transactionID, nil
}

// Transfer moves funds between two accounts as a paired
// transfer_out/transfer_in, committed in one store transaction. Returns the
// transfer_in transaction id credited to the recipient.
func (service *Service) Transfer(ctx context.Context, fromOwnerID OwnerID, toOwnerID OwnerID, amount AmountCents, bookingID BookingID, description string, metadata MetadataJSON) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("%w: must be greater than zero", ErrInvalidAmountCents)
	}
	var transferInID string
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		fromAccountID, err := transactionStore.GetOrCreateAccountID(ctx, fromOwnerID)
		if err != nil {
			return err
		}
		toAccountID, err := transactionStore.GetOrCreateAccountID(ctx, toOwnerID)
		if err != nil {
			return err
		}
		transactions, err := transactionStore.ListCompleted(ctx, fromAccountID)
		if err != nil {
			return err
		}
		summary := Summarize(transactions)
		if summary.AvailableCents < amount {
			return ErrInsufficientFunds
		}
		nowUnixUTC := service.nowFn()
		transferOutID, err := transactionStore.InsertTransaction(ctx, Transaction{
			AccountID:      fromAccountID,
			Kind:           KindTransferOut,
			AmountCents:    amount,
			Status:         StatusCompleted,
			BookingID:      bookingID.String(),
			Description:    description,
			MetadataJSON:   metadata.String(),
			CreatedUnixUTC: nowUnixUTC,
		})
		if err != nil {
			return err
		}
		transferInID, err = transactionStore.InsertTransaction(ctx, Transaction{
			AccountID:      toAccountID,
			Kind:           KindTransferIn,
			AmountCents:    amount,
			Status:         StatusCompleted,
			RelatedID:      transferOutID,
			BookingID:      bookingID.String(),
			Description:    description,
			MetadataJSON:   metadata.String(),
			CreatedUnixUTC: nowUnixUTC,
		})
		return err
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationTransfer,
		OwnerID:   fromOwnerID,
		BookingID: &bookingID,
		Amount:    amount,
		Error:     operationError,
	})
	if operationError != nil {
		return "", operationError
	}
	return transferInID, nil
}

// Payout directs part of a settlement to a beneficiary account.
type Payout struct {
	OwnerID     OwnerID
	AmountCents AmountCents
	Description string
}

// HoldState is the settlement already applied against a single hold.
// ReleasedCents includes the matching release a capture appends, so
// HoldCents - ReleasedCents is the open remainder.
type HoldState struct {
	HoldCents     AmountCents
	ReleasedCents AmountCents
	CapturedCents AmountCents
}

// HoldState folds the account log for the activity against one hold. Callers
// resuming an interrupted settlement use it to skip steps that already
// committed.
func (service *Service) HoldState(ctx context.Context, ownerID OwnerID, holdRef HoldRef) (HoldState, error) {
	accountID, err := service.store.GetOrCreateAccountID(ctx, ownerID)
	if err != nil {
		return HoldState{}, err
	}
	transactions, err := service.store.ListCompleted(ctx, accountID)
	if err != nil {
		return HoldState{}, err
	}
	holdCents, releasedCents, capturedCents, found := holdActivity(transactions, holdRef)
	if !found {
		return HoldState{}, ErrHoldNotFound
	}
	return HoldState{
		HoldCents:     holdCents,
		ReleasedCents: releasedCents,
		CapturedCents: capturedCents,
	}, nil
}

// Settle captures the open remainder of a hold, debits any amount owed beyond
// it, and credits each payout, all in one store transaction. totalCents is
// the full amount being collected from the payer; it must cover the hold
// remainder and equal the sum of the payouts, so either every movement
// commits or none do. Returns the payout transaction ids in input order.
func (service *Service) Settle(ctx context.Context, ownerID OwnerID, holdRef HoldRef, bookingID BookingID, totalCents AmountCents, payouts []Payout, description string, metadata MetadataJSON) ([]string, error) {
	if totalCents <= 0 {
		return nil, fmt.Errorf("%w: settlement total must be greater than zero", ErrInvalidAmountCents)
	}
	if len(payouts) == 0 {
		return nil, fmt.Errorf("%w: settlement requires at least one payout", ErrInvalidAmountCents)
	}
	var payoutSum AmountCents
	for _, payout := range payouts {
		if payout.AmountCents <= 0 {
			return nil, fmt.Errorf("%w: payout must be greater than zero", ErrInvalidAmountCents)
		}
		payoutSum += payout.AmountCents
	}
	if payoutSum != totalCents {
		return nil, fmt.Errorf("%w: payouts sum to %d, settlement total is %d", ErrInvalidAmountCents, payoutSum, totalCents)
	}

	payoutIDs := make([]string, len(payouts))
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		payerAccountID, err := transactionStore.GetOrCreateAccountID(ctx, ownerID)
		if err != nil {
			return err
		}
		transactions, err := transactionStore.ListCompleted(ctx, payerAccountID)
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
		extraCents := totalCents - remaining
		if extraCents < 0 {
			return fmt.Errorf("%w: settlement total %d below hold remainder %d", ErrInvalidAmountCents, totalCents, remaining)
		}
		summary := Summarize(transactions)
		if extraCents > 0 && summary.AvailableCents < extraCents {
			return ErrInsufficientFunds
		}

		nowUnixUTC := service.nowFn()
		captureID, err := transactionStore.InsertTransaction(ctx, Transaction{
			AccountID:      payerAccountID,
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
		if _, err := transactionStore.InsertTransaction(ctx, Transaction{
			AccountID:      payerAccountID,
			Kind:           KindRelease,
			AmountCents:    remaining,
			Status:         StatusCompleted,
			HoldRef:        holdRef.String(),
			RelatedID:      captureID,
			BookingID:      bookingID.String(),
			Description:    description,
			MetadataJSON:   metadata.String(),
			CreatedUnixUTC: nowUnixUTC,
		}); err != nil {
			return err
		}
		if extraCents > 0 {
			if _, err := transactionStore.InsertTransaction(ctx, Transaction{
				AccountID:      payerAccountID,
				Kind:           KindDebit,
				AmountCents:    extraCents,
				Status:         StatusCompleted,
				RelatedID:      captureID,
				BookingID:      bookingID.String(),
				Description:    description,
				MetadataJSON:   metadata.String(),
				CreatedUnixUTC: nowUnixUTC,
			}); err != nil {
				return err
			}
		}
		for index, payout := range payouts {
			payoutAccountID, err := transactionStore.GetOrCreateAccountID(ctx, payout.OwnerID)
			if err != nil {
				return err
			}
			payoutIDs[index], err = transactionStore.InsertTransaction(ctx, Transaction{
				AccountID:      payoutAccountID,
				Kind:           KindCredit,
				AmountCents:    payout.AmountCents,
				Status:         StatusCompleted,
				RelatedID:      captureID,
				BookingID:      bookingID.String(),
				Description:    payout.Description,
				MetadataJSON:   metadata.String(),
				CreatedUnixUTC: nowUnixUTC,
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationSettle,
		OwnerID:   ownerID,
		HoldRef:   &holdRef,
		BookingID: &bookingID,
		Amount:    totalCents,
		Error:     operationError,
	})
	if operationError != nil {
		return nil, operationError
	}
	return payoutIDs, nil
}

// ListTransactions lists ledger transactions for an owner before a cutoff time.
func (service *Service) ListTransactions(ctx context.Context, ownerID OwnerID, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	accountID, err := service.store.GetOrCreateAccountID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return service.store.ListTransactions(ctx, accountID, beforeUnixUTC, limit)
}
