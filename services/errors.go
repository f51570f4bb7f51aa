package services

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a disbursement failure.
type ErrorKind string

const (
	KindMalformedBody       ErrorKind = "MALFORMED_BODY"
	KindMissingField        ErrorKind = "MISSING_FIELD"
	KindInvalidAddress      ErrorKind = "INVALID_ADDRESS"
	KindInvalidAmount       ErrorKind = "INVALID_AMOUNT"
	KindInsufficientBalance ErrorKind = "INSUFFICIENT_BALANCE"
	KindLedger              ErrorKind = "LEDGER_ERROR"
	KindConfirmationTimeout ErrorKind = "CONFIRMATION_TIMEOUT"
)

// Error is returned by the validator and the disbursement service.
type Error struct {
	Kind    ErrorKind
	Message string
	// Reason is the ledger client's machine-readable code, if any.
	Reason string
	// TxHash is set once a transaction has been submitted.
	TxHash string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsClientError reports whether the caller caused the failure. Client errors
// are never retried and map to 400.
func (e *Error) IsClientError() bool {
	switch e.Kind {
	case KindMalformedBody, KindMissingField, KindInvalidAddress, KindInvalidAmount, KindInsufficientBalance:
		return true
	}
	return false
}

// KindOf returns the kind of err, or "" when err is not an *Error.
func KindOf(err error) ErrorKind {
	var serr *Error
	if errors.As(err, &serr) {
		return serr.Kind
	}
	return ""
}

func validationError(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}
