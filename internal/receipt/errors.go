package receipt

import "fmt"

// ErrorKind is the stable taxonomy from spec §7. Each kind maps to one
// JSON-RPC error code and one HTTP status hint in package rpc.
type ErrorKind string

const (
	KindValidationFailed       ErrorKind = "ValidationFailed"
	KindReceiptConflict        ErrorKind = "ReceiptConflict"
	KindParentMissing          ErrorKind = "ParentMissing"
	KindParentNotAcceptedPhase ErrorKind = "ParentNotAcceptedPhase"
	KindAlreadyTerminated      ErrorKind = "AlreadyTerminated"
	KindNotFound               ErrorKind = "NotFound"
	KindUnauthorized           ErrorKind = "Unauthorized"
	KindTimeout                ErrorKind = "Timeout"
	KindBackend                ErrorKind = "Backend"
	KindInternal               ErrorKind = "Internal"
)

// Error is the error type every ledger and derivation operation returns.
// It mirrors the teacher's AppError{Code, Message, Cause} shape, renamed to
// the kind/field vocabulary spec §7 specifies.
type Error struct {
	Kind    ErrorKind
	Message string
	Field   string // offending field, when applicable (§7 "enumerated in error.data")
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func New(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func NewField(kind ErrorKind, field, message string) *Error {
	return &Error{Kind: kind, Field: field, Message: message}
}

func Wrap(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// AsLedgerError extracts an *Error from err, or classifies an unclassified
// error as Internal. Used at the rpc boundary so every path surfaces a
// typed error.
func AsLedgerError(err error) *Error {
	if err == nil {
		return nil
	}
	if le, ok := err.(*Error); ok {
		return le
	}
	return Wrap(KindInternal, "unclassified error", err)
}
