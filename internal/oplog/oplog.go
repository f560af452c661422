// Package oplog adapts a zap logger to the ledger operation callback.
package oplog

import (
	"context"

	"go.uber.org/zap"

	"github.com/parqhub/parqcore/pkg/ledger"
)

// ZapOperationLogger forwards ledger operation callbacks to a zap logger.
type ZapOperationLogger struct {
	logger *zap.Logger
}

// NewZapOperationLogger wires the adapter. A nil logger falls back to a no-op.
func NewZapOperationLogger(logger *zap.Logger) *ZapOperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapOperationLogger{logger: logger}
}

// LogOperation writes one structured line per state-changing ledger operation.
func (adapter *ZapOperationLogger) LogOperation(_ context.Context, entry ledger.OperationLog) {
	fields := []zap.Field{
		zap.String("operation", entry.Operation),
		zap.String("owner_id", entry.OwnerID.String()),
		zap.Int64("amount_cents", entry.Amount.Int64()),
		zap.String("status", entry.Status),
	}
	if entry.HoldRef != nil {
		fields = append(fields, zap.String("hold_ref", entry.HoldRef.String()))
	}
	if entry.BookingID != nil {
		fields = append(fields, zap.String("booking_id", entry.BookingID.String()))
	}
	if entry.Error != nil {
		fields = append(fields, zap.Error(entry.Error))
		adapter.logger.Warn("ledger operation failed", fields...)
		return
	}
	adapter.logger.Info("ledger operation", fields...)
}
