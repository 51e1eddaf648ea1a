// Package errors defines the tagged failure taxonomy shared by the
// reconciliation engines. Every failure carries a Kind the REST boundary maps
// to a status code and a stable machine-readable wom.* code string so callers
// never have to compare message text.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind classifies a reconciliation failure.
type Kind string

const (
	// KindNotFound signals a referenced offer, lease, hub or asset is absent.
	KindNotFound Kind = "not_found"
	// KindUnauthorized signals the caller lacks the required on-chain role.
	KindUnauthorized Kind = "unauthorized"
	// KindAuthentication signals a bad, missing or replayed signature/token.
	KindAuthentication Kind = "authentication"
	// KindRejected signals a business precondition failed.
	KindRejected Kind = "rejected"
	// KindTransport signals the ledger gateway or projection store is
	// unreachable. Never retried inside the engines.
	KindTransport Kind = "transport"
)

// Stable wire codes. The misspelling in CodeUnsupportedRewardContract is part
// of the wire contract and must not be corrected.
const (
	CodeEmptyToken              = "wom.emptyTokenForSignedMessage"
	CodeInvalidToken            = "wom.invalidTokenForSignedMessage"
	CodeEmptySignedMessage      = "wom.emptySignedMessage"
	CodeInvalidSignedMessage    = "wom.invalidSignedMessage"
	CodeInvalidManagerSignature = "wom.invalidDeedManagerSignedMessage"
	CodeWrongSignatureHash      = "wom.wrongSignatureHash"
	CodeHubNotConnected         = "wom.hubNotConnectedToWoM"
	CodeHubManagerChanged       = "wom.hubManagerChangedNoReportReceived"
	CodeReportBeforeConnection  = "wom.sentRewardReportEndDateIsBeforeWoMConnection"
	CodeUnsupportedContract     = "wom.unsupporedRewardContract"
	CodeDuplicateReport         = "wom.rewardReportAlreadyReceived"
	CodeLeaseNotFound           = "wom.leaseNotFound"
	CodeOfferNotFound           = "wom.offerNotFound"
	CodeHubNotFound             = "wom.hubNotFound"
	CodeReportNotFound          = "wom.reportNotFound"
	CodeUnauthorized            = "wom.unauthorizedAccess"
	CodeLedgerUnavailable       = "wom.ledgerUnavailable"
	CodeStoreUnavailable        = "wom.storeUnavailable"
)

// Error is the tagged failure type raised by the reconciliation core.
type Error struct {
	Knd  Kind
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	default:
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a tagged error. The variadic tail accepts an optional message
// string followed by an optional wrapped cause.
func E(kind Kind, code string, args ...interface{}) *Error {
	e := &Error{Knd: kind, Code: code}
	for _, arg := range args {
		switch v := arg.(type) {
		case string:
			if e.Msg == "" {
				e.Msg = v
			} else {
				e.Msg += ": " + v
			}
		case error:
			e.Err = v
		}
	}
	return e
}

// NotFound tags a missing-entity failure.
func NotFound(code string, args ...interface{}) *Error { return E(KindNotFound, code, args...) }

// Unauthorized tags a missing on-chain role failure.
func Unauthorized(args ...interface{}) *Error {
	return E(KindUnauthorized, CodeUnauthorized, args...)
}

// Authentication tags a signature/token failure with its stable code.
func Authentication(code string, args ...interface{}) *Error {
	return E(KindAuthentication, code, args...)
}

// Rejected tags a failed business precondition.
func Rejected(code string, args ...interface{}) *Error { return E(KindRejected, code, args...) }

// Transport wraps an unreachable collaborator failure.
func Transport(code string, cause error) *Error {
	return &Error{Knd: KindTransport, Code: code, Err: cause}
}

// KindOf extracts the Kind of err, or "" when err carries no taxonomy tag.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Knd
	}
	return ""
}

// CodeOf extracts the stable wire code of err, or "" for untagged errors.
func CodeOf(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err is tagged with the given kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }
