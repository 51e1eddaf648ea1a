package types

// TransactionStatus is the externally visible state of a projected entity
// relative to its in-flight ledger transactions. It is always derived from
// {enabled, confirmed, pending-set-empty} and never stored independently.
type TransactionStatus string

const (
	StatusInProgress TransactionStatus = "IN_PROGRESS"
	StatusValidated  TransactionStatus = "VALIDATED"
	StatusError      TransactionStatus = "ERROR"
)

// DeriveTransactionStatus computes the transaction status from the three
// authoritative projection flags.
func DeriveTransactionStatus(enabled, confirmed, pendingEmpty bool) TransactionStatus {
	switch {
	case !enabled:
		return StatusError
	case !pendingEmpty:
		return StatusInProgress
	case confirmed:
		return StatusValidated
	default:
		return StatusInProgress
	}
}

// ConfirmationStatus distinguishes "entity truly absent" from "entity exists
// but not yet written to the ledger".
type ConfirmationStatus string

const (
	ConfirmationAbsent      ConfirmationStatus = "ABSENT"
	ConfirmationUnconfirmed ConfirmationStatus = "UNCONFIRMED"
	ConfirmationConfirmed   ConfirmationStatus = "CONFIRMED"
)
