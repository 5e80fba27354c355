// Package apperr defines the stable error taxonomy shared by every
// service. Each error carries a machine-readable code so the transport
// layer can map it to a status uniformly instead of per-endpoint.
package apperr

import (
	"errors"
	"fmt"
)

// Code is a stable machine-readable error class.
type Code string

const (
	CodeValidation           Code = "VALIDATION"
	CodeInsufficientFunds    Code = "INSUFFICIENT_FUNDS"
	CodeAlreadyProcessed     Code = "ALREADY_PROCESSED"
	CodeDoubleSpend          Code = "DOUBLE_SPEND"
	CodeVerificationFailed   Code = "VERIFICATION_FAILED"
	CodeVerificationNotReady Code = "VERIFICATION_NOT_APPROVED"
	CodeNotFound             Code = "NOT_FOUND"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeConflict             Code = "CONFLICT"
	CodeInternal             Code = "INTERNAL"
)

// Error couples a taxonomy code with a caller-safe message. The message
// never carries balances or other users' data.
type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// New builds an Error with a fixed caller-safe message.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// CodeOf extracts the taxonomy code, defaulting to INTERNAL for
// anything that is not an *Error (storage failures and the like).
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// Shared sentinels. Handlers and tests compare with errors.Is.
var (
	ErrInvalidAmount      = New(CodeValidation, "amount must be positive")
	ErrBelowMinimum       = New(CodeValidation, "amount below configured minimum")
	ErrAboveMaximum       = New(CodeValidation, "amount above configured maximum")
	ErrInsufficientFunds  = New(CodeInsufficientFunds, "insufficient funds")
	ErrAlreadyProcessed   = New(CodeAlreadyProcessed, "event already processed")
	ErrDoubleSpend        = New(CodeDoubleSpend, "verification already consumed")
	ErrVerificationFailed = New(CodeVerificationFailed, "verification failed")
	ErrNotApproved        = New(CodeVerificationNotReady, "verification not approved")
	ErrAmountMismatch     = New(CodeVerificationNotReady, "amount does not match verification")
	ErrNotFound           = New(CodeNotFound, "not found")
	ErrRateLimited        = New(CodeRateLimited, "too many attempts, try later")
	ErrActiveVerification = New(CodeConflict, "an active verification already exists")
	ErrLotteryNotActive   = New(CodeConflict, "lottery is not active")
	ErrForbidden          = New(CodeNotFound, "not found")
)
