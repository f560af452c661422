package ledger

// Summarize folds a transaction log into the derived balance view. Only
// completed transactions count. The stored summary is never authoritative;
// callers recompute this fold before every admission decision.
//
// balance  = credit + refund + transfer_in − debit − transfer_out − capture
// held     = hold − release
// available = max(0, balance − held)
func Summarize(transactions []Transaction) Summary {
	var balance int64
	var held int64
	for _, transaction := range transactions {
		if transaction.Status != StatusCompleted {
			continue
		}
		amount := transaction.AmountCents.Int64()
		switch transaction.Kind {
		case KindCredit, KindRefund, KindTransferIn:
			balance += amount
		case KindDebit, KindTransferOut, KindCapture:
			balance -= amount
		case KindHold:
			held += amount
		case KindRelease:
			held -= amount
		}
	}
	available := balance - held
	if available < 0 {
		available = 0
	}
	return Summary{
		BalanceCents:   AmountCents(balance),
		HeldCents:      AmountCents(held),
		AvailableCents: AmountCents(available),
	}
}

// holdActivity locates a hold by reference and folds the settlement applied
// against it. releasedCents includes the matching release a capture appends,
// so holdAmount − releasedCents is the open remainder of the hold.
func holdActivity(transactions []Transaction, holdRef HoldRef) (holdCents AmountCents, releasedCents AmountCents, capturedCents AmountCents, found bool) {
	reference := holdRef.String()
	for _, transaction := range transactions {
		if transaction.Status != StatusCompleted || transaction.HoldRef != reference {
			continue
		}
		switch transaction.Kind {
		case KindHold:
			holdCents = transaction.AmountCents
			found = true
		case KindRelease:
			releasedCents += transaction.AmountCents
		case KindCapture:
			capturedCents += transaction.AmountCents
		}
	}
	return holdCents, releasedCents, capturedCents, found
}
