package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

type ErrorCode string

const (
	UserNotFound           ErrorCode = "user_not_found"
	AccountNotFound        ErrorCode = "account_not_found"
	InvalidInput           ErrorCode = "invalid_input"
	InvalidAccountID       ErrorCode = "invalid_account_id"
	InvalidAmount          ErrorCode = "invalid_amount"
	SelfTransfer           ErrorCode = "self_transfer"
	DuplicateAccountNumber ErrorCode = "duplicate_account_number"
	DuplicateEmail         ErrorCode = "duplicate_email"
	InsufficientFunds      ErrorCode = "insufficient_funds"
	Conflict               ErrorCode = "conflict"
	Aborted                ErrorCode = "aborted"
	DuplicateTransaction   ErrorCode = "duplicate_transaction"
	RequestTimeout         ErrorCode = "request_timeout"
	InternalError          ErrorCode = "internal_error"
)

type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details string    `json:"details,omitempty"`
}

func (e AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports whether target carries the same code, so a copy returned by
// WithDetails still matches its predefined error.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

func NewAppErrorf(code ErrorCode, format string, args ...interface{}) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// WithDetails returns a copy of e carrying details. Predefined errors are
// shared, so they are never mutated in place.
func (e *AppError) WithDetails(details string) *AppError {
	cp := *e
	cp.Details = details
	return &cp
}

// HTTPStatus maps the error code to the status written by the handlers.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case UserNotFound, AccountNotFound:
		return http.StatusNotFound
	case InvalidInput, InvalidAccountID, InvalidAmount, SelfTransfer, InsufficientFunds:
		return http.StatusBadRequest
	case DuplicateAccountNumber, DuplicateEmail, DuplicateTransaction, Conflict, Aborted:
		return http.StatusConflict
	case RequestTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the ledger may run the operation again.
func (e *AppError) Retryable() bool {
	return e.Code == Aborted
}

// AsAppError converts any error into an *AppError. Context errors become
// RequestTimeout and anything unknown becomes InternalError.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return ErrRequestTimeout.WithDetails(err.Error())
	}
	return NewAppError(InternalError, "an unexpected error occurred").WithDetails(err.Error())
}

// Predefined errors for common cases
var (
	ErrUserNotFound           = NewAppError(UserNotFound, "user not found")
	ErrAccountNotFound        = NewAppError(AccountNotFound, "account not found")
	ErrInvalidInput           = NewAppError(InvalidInput, "invalid input")
	ErrInvalidAccountID       = NewAppError(InvalidAccountID, "invalid account id")
	ErrInvalidAmount          = NewAppError(InvalidAmount, "amount must be positive with at most 2 decimal places")
	ErrSelfTransfer           = NewAppError(SelfTransfer, "source and target account must differ")
	ErrDuplicateAccountNumber = NewAppError(DuplicateAccountNumber, "account number already exists")
	ErrDuplicateEmail         = NewAppError(DuplicateEmail, "email already registered")
	ErrInsufficientFunds      = NewAppError(InsufficientFunds, "insufficient funds")
	ErrConflict               = NewAppError(Conflict, "concurrent modification, retry budget exhausted")
	ErrAborted                = NewAppError(Aborted, "ledger transaction aborted")
	ErrDuplicateTransaction   = NewAppError(DuplicateTransaction, "transaction already processed")
	ErrRequestTimeout         = NewAppError(RequestTimeout, "request cancelled or timed out")
)
