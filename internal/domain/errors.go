package domain

import "errors"

var (
	ErrInvalidTerms      = errors.New("invalid terms")
	ErrState             = errors.New("invalid state for this operation")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrAmountMismatch    = errors.New("amount mismatch")
	ErrLedgerFailure     = errors.New("ledger transfer failed")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAccount    = errors.New("invalid account")
	ErrDuplicateOutcome  = errors.New("duplicate outcome")
	ErrNotFound          = errors.New("not found")
)
