package ledger

import "github.com/hazyhaar/receiptgate/internal/receipt"

// ErrorKind, Error, and the Kind* constants live in package receipt so that
// both package validate and package ledger can depend on them without an
// import cycle. These aliases keep the ledger.* spelling working for every
// existing caller.
type ErrorKind = receipt.ErrorKind

const (
	KindValidationFailed       = receipt.KindValidationFailed
	KindReceiptConflict        = receipt.KindReceiptConflict
	KindParentMissing          = receipt.KindParentMissing
	KindParentNotAcceptedPhase = receipt.KindParentNotAcceptedPhase
	KindAlreadyTerminated      = receipt.KindAlreadyTerminated
	KindNotFound               = receipt.KindNotFound
	KindUnauthorized           = receipt.KindUnauthorized
	KindTimeout                = receipt.KindTimeout
	KindBackend                = receipt.KindBackend
	KindInternal               = receipt.KindInternal
)

type Error = receipt.Error

var (
	New           = receipt.New
	NewField      = receipt.NewField
	Wrap          = receipt.Wrap
	AsLedgerError = receipt.AsLedgerError
)
