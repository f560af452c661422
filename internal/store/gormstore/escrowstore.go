package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/parqhub/parqcore/internal/escrow"
)

// EscrowStore implements escrow.Store using GORM.
type EscrowStore struct {
	db *gorm.DB
}

// NewEscrowStore returns an EscrowStore backed by gorm.DB.
func NewEscrowStore(db *gorm.DB) *EscrowStore {
	return &EscrowStore{db: db}
}

// WithTx executes fn within a transaction.
func (store *EscrowStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore escrow.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &EscrowStore{db: transaction})
	})
}

func (store *EscrowStore) CreateAccount(ctx context.Context, account escrow.Account) error {
	row, err := escrowRow(account)
	if err != nil {
		return fmt.Errorf("encode escrow account: %w", err)
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isUniqueViolation(err) {
			return escrow.ErrAccountExists
		}
		return fmt.Errorf("create escrow account: %w", err)
	}
	return nil
}

func (store *EscrowStore) GetAccount(ctx context.Context, bookingID string) (escrow.Account, error) {
	var row EscrowAccount
	err := store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("booking_id = ?", bookingID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return escrow.Account{}, escrow.ErrAccountNotFound
		}
		return escrow.Account{}, fmt.Errorf("get escrow account: %w", err)
	}
	return mapEscrowAccount(row)
}

// UpdateFromHeld persists account only when the stored row is still held. The
// status predicate in the WHERE clause is the concurrency guard: a losing
// writer sees zero rows affected and gets ErrInvalidStateTransition.
func (store *EscrowStore) UpdateFromHeld(ctx context.Context, account escrow.Account) error {
	row, err := escrowRow(account)
	if err != nil {
		return fmt.Errorf("encode escrow account: %w", err)
	}
	result := store.db.WithContext(ctx).
		Model(&EscrowAccount{}).
		Where("booking_id = ? AND status = ?", account.BookingID, escrow.StatusHeld.String()).
		Updates(map[string]interface{}{
			"total_cents":                row.TotalCents,
			"payee_base_cents":           row.PayeeBaseCents,
			"payee_bonus_cents":          row.PayeeBonusCents,
			"payee_overtime_cents":       row.PayeeOvertimeCents,
			"payee_total_cents":          row.PayeeTotalCents,
			"platform_dynamic_cut_cents": row.PlatformDynamicCutCents,
			"platform_service_fee_cents": row.PlatformServiceFeeCents,
			"platform_fee_cents":         row.PlatformFeeCents,
			"platform_total_cents":       row.PlatformTotalCents,
			"status":                     row.Status,
			"payee_transfer_id":          row.PayeeTransferID,
			"platform_transfer_id":       row.PlatformTransferID,
			"withheld_cents":             row.WithheldCents,
			"refund_amount_cents":        row.RefundAmountCents,
			"refund_reason":              row.RefundReason,
			"refund_actor_id":            row.RefundActorID,
			"refund_transaction_id":      row.RefundTransactionID,
			"refunded_at":                row.RefundedAt,
			"audit":                      row.Audit,
			"released_at":                row.ReleasedAt,
			"updated_at":                 time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("update escrow account: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return escrow.ErrInvalidStateTransition
	}
	return nil
}

type escrowRefundJSON struct {
	AmountCents     int64  `json:"amount_cents"`
	Reason          string `json:"reason"`
	ActorID         string `json:"actor_id"`
	TransactionID   string `json:"transaction_id"`
	RefundedUnixUTC int64  `json:"refunded_unix_utc"`
}

type escrowAuditJSON struct {
	Event     string `json:"event"`
	Detail    string `json:"detail,omitempty"`
	ActorID   string `json:"actor_id,omitempty"`
	AtUnixUTC int64  `json:"at_unix_utc"`
}

func escrowRow(account escrow.Account) (EscrowAccount, error) {
	auditEntries := make([]escrowAuditJSON, 0, len(account.Audit))
	for _, entry := range account.Audit {
		auditEntries = append(auditEntries, escrowAuditJSON{
			Event:     entry.Event,
			Detail:    entry.Detail,
			ActorID:   entry.ActorID,
			AtUnixUTC: entry.AtUnixUTC,
		})
	}
	auditRaw, err := json.Marshal(auditEntries)
	if err != nil {
		return EscrowAccount{}, err
	}

	row := EscrowAccount{
		BookingID:  account.BookingID,
		PayerID:    account.PayerID,
		PayeeID:    account.PayeeID,
		TotalCents: account.TotalCents.Int64(),

		PayeeBaseCents:     account.PayeeShare.BaseCents.Int64(),
		PayeeBonusCents:    account.PayeeShare.BonusCents.Int64(),
		PayeeOvertimeCents: account.PayeeShare.OvertimeCents.Int64(),
		PayeeTotalCents:    account.PayeeShare.TotalCents.Int64(),

		PlatformDynamicCutCents: account.PlatformShare.DynamicCutCents.Int64(),
		PlatformServiceFeeCents: account.PlatformShare.ServiceFeeCents.Int64(),
		PlatformFeeCents:        account.PlatformShare.PlatformFeeCents.Int64(),
		PlatformTotalCents:      account.PlatformShare.TotalCents.Int64(),

		Status:               account.Status.String(),
		PaymentTransactionID: account.PaymentTransactionID,
		PayeeTransferID:      account.PayeeTransferID,
		PlatformTransferID:   account.PlatformTransferID,
		WithheldCents:        account.WithheldCents.Int64(),

		Audit:     auditRaw,
		CreatedAt: time.Unix(account.CreatedUnixUTC, 0).UTC(),
	}
	if account.Refund != nil {
		row.RefundAmountCents = account.Refund.AmountCents.Int64()
		row.RefundReason = account.Refund.Reason
		row.RefundActorID = account.Refund.ActorID
		row.RefundTransactionID = account.Refund.TransactionID
		refundedAt := time.Unix(account.Refund.RefundedUnixUTC, 0).UTC()
		row.RefundedAt = &refundedAt
	}
	if account.ReleasedUnixUTC != 0 {
		releasedAt := time.Unix(account.ReleasedUnixUTC, 0).UTC()
		row.ReleasedAt = &releasedAt
	}
	return row, nil
}

func mapEscrowAccount(row EscrowAccount) (escrow.Account, error) {
	status, err := escrow.ParseStatus(row.Status)
	if err != nil {
		return escrow.Account{}, err
	}

	var auditEntries []escrowAuditJSON
	if len(row.Audit) > 0 {
		if err := json.Unmarshal(row.Audit, &auditEntries); err != nil {
			return escrow.Account{}, fmt.Errorf("decode escrow audit: %w", err)
		}
	}
	audit := make([]escrow.AuditEntry, 0, len(auditEntries))
	for _, entry := range auditEntries {
		audit = append(audit, escrow.AuditEntry{
			Event:     entry.Event,
			Detail:    entry.Detail,
			ActorID:   entry.ActorID,
			AtUnixUTC: entry.AtUnixUTC,
		})
	}

	account := escrow.Account{
		BookingID:  row.BookingID,
		PayerID:    row.PayerID,
		PayeeID:    row.PayeeID,
		TotalCents: escrow.AmountCents(row.TotalCents),
		PayeeShare: escrow.PayeeShare{
			BaseCents:     escrow.AmountCents(row.PayeeBaseCents),
			BonusCents:    escrow.AmountCents(row.PayeeBonusCents),
			OvertimeCents: escrow.AmountCents(row.PayeeOvertimeCents),
			TotalCents:    escrow.AmountCents(row.PayeeTotalCents),
		},
		PlatformShare: escrow.PlatformShare{
			DynamicCutCents:  escrow.AmountCents(row.PlatformDynamicCutCents),
			ServiceFeeCents:  escrow.AmountCents(row.PlatformServiceFeeCents),
			PlatformFeeCents: escrow.AmountCents(row.PlatformFeeCents),
			TotalCents:       escrow.AmountCents(row.PlatformTotalCents),
		},
		Status:               status,
		PaymentTransactionID: row.PaymentTransactionID,
		PayeeTransferID:      row.PayeeTransferID,
		PlatformTransferID:   row.PlatformTransferID,
		WithheldCents:        escrow.AmountCents(row.WithheldCents),
		Audit:                audit,
		CreatedUnixUTC:       row.CreatedAt.Unix(),
	}
	if row.RefundedAt != nil {
		account.Refund = &escrow.RefundInfo{
			AmountCents:     escrow.AmountCents(row.RefundAmountCents),
			Reason:          row.RefundReason,
			ActorID:         row.RefundActorID,
			TransactionID:   row.RefundTransactionID,
			RefundedUnixUTC: row.RefundedAt.Unix(),
		}
		account.RefundedUnixUTC = row.RefundedAt.Unix()
	}
	if row.ReleasedAt != nil {
		account.ReleasedUnixUTC = row.ReleasedAt.Unix()
	}
	return account, nil
}
