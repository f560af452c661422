package ledger

const (
	operationHold     = "hold"
	operationCapture  = "capture"
	operationRelease  = "release"
	operationCredit   = "credit"
	operationDebit    = "debit"
	operationRefund   = "refund"
	operationTransfer = "transfer"
	operationSettle   = "settle"

	operationStatusOK    = "ok"
	operationStatusError = "error"
)
